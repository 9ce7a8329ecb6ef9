package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"zvonbot/internal/config"
	"zvonbot/internal/runtime/supervisor"
	"zvonbot/internal/transport"
	logx "zvonbot/pkg/logx"
)

type Command struct {
	// Name is the command word without the leading slash, e.g. "remind".
	Name        string
	Aliases     []string
	Description string
	Usage       string

	Feature string
	Timeout time.Duration // optional per-command override
	Handle  HandlerFunc
}

type Request struct {
	Msg     transport.Message
	Chat    transport.ChatTarget
	FromID  int64
	Command string
	Args    []string // positionals after flag extraction

	// Parsed arguments
	RawArgs   []string
	Flags     map[string]string
	BoolFlags map[string]bool
	ReqID     string

	Adapter transport.Adapter
	Config  *config.Config
	Logger  logx.Logger
}

type Router struct {
	mu    sync.RWMutex
	cmds  map[string]*Command // canonical name -> command
	alias map[string]string   // alias -> canonical name
	order []string            // registration order, for help/menu

	log     logx.Logger
	adapter transport.Adapter
	cfgm    *config.ConfigManager

	runMu   sync.Mutex
	running bool
	sup     *supervisor.Supervisor

	jobs chan func()
}

func New(log logx.Logger, adapter transport.Adapter, cfgm *config.ConfigManager) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		cmds:    map[string]*Command{},
		alias:   map[string]string{},
		log:     log,
		adapter: adapter,
		cfgm:    cfgm,
		jobs:    make(chan func(), 256),
	}
}

// tryEnqueue is a panic-safe enqueue helper (handles the jobs channel being closed).
func (r *Router) tryEnqueue(fn func()) (ok bool) {
	if fn == nil {
		return false
	}
	defer func() {
		if rec := recover(); rec != nil {
			ok = false
		}
	}()
	select {
	case r.jobs <- fn:
		return true
	default:
		return false
	}
}

// Register replaces the whole command registry. A /help command is always
// injected. Safe to call again during hot-reload.
func (r *Router) Register(cmds []Command) {
	helper := Command{
		Name:        "help",
		Aliases:     []string{"h", "start"},
		Description: "show available commands",
		Usage:       "/help [cmd]",
		Handle: func(ctx context.Context, req *Request) error {
			text := r.helpText(req.Args)
			_, _ = req.Adapter.SendText(ctx, req.Chat, text, &transport.SendOptions{DisablePreview: true, ParseMode: "HTML"})
			return nil
		},
	}
	cmds = append(cmds, helper)

	byName := map[string]*Command{}
	alias := map[string]string{}
	order := make([]string, 0, len(cmds))

	for i := range cmds {
		c := cmds[i]
		name := sanitizeTelegramCommand(c.Name)
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		byName[name] = &c
		order = append(order, name)
		for _, a := range c.Aliases {
			a = sanitizeTelegramCommand(a)
			if a == "" || a == name {
				continue
			}
			if _, exists := alias[a]; !exists {
				alias[a] = name
			}
		}
	}

	r.mu.Lock()
	r.cmds = byName
	r.alias = alias
	r.order = order
	r.mu.Unlock()

	// Best-effort Telegram /menu autocomplete update (non-blocking).
	if up, ok := r.adapter.(transport.CommandMenuUpdater); ok {
		menu := r.menuCommands()
		run := func(parent context.Context) {
			ctx, cancel := context.WithTimeout(parent, 5*time.Second)
			defer cancel()
			_ = up.UpdateMenuCommands(ctx, menu)
		}

		r.runMu.Lock()
		sup := r.sup
		running := r.running
		r.runMu.Unlock()
		if running && sup != nil {
			sup.Go("telegram.menu.update", func(ctx context.Context) error {
				run(ctx)
				return nil
			})
		} else {
			go run(context.Background())
		}
	}
}

func (r *Router) setSupervisor(sup *supervisor.Supervisor, running bool) {
	r.runMu.Lock()
	r.sup = sup
	r.running = running
	r.runMu.Unlock()
}

// DispatchLoop consumes inbound messages until ctx is canceled or the channel
// closes. Handlers run on a bounded worker pool.
func (r *Router) DispatchLoop(ctx context.Context, msgs <-chan transport.Message) error {
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}

	sup := supervisor.New(ctx,
		supervisor.WithLogger(r.log.With(logx.String("comp", "router"))),
		supervisor.WithCancelOnError(false),
	)
	r.setSupervisor(sup, true)

	if !r.log.IsZero() {
		r.log.Info("command dispatcher started", logx.Int("workers", workers), logx.Int("job_queue_cap", cap(r.jobs)))
	}

	var closeOnce sync.Once
	closeJobs := func() {
		closeOnce.Do(func() {
			// Mark as not running before closing so enqueue can degrade gracefully.
			r.setSupervisor(sup, false)
			close(r.jobs)
		})
	}

	for i := 0; i < workers; i++ {
		idx := i
		name := "command.worker." + strconv.Itoa(idx)
		sup.GoRestart(name, 200*time.Millisecond, 5*time.Second, func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-r.jobs:
					if !ok {
						return nil
					}
					if job == nil {
						continue
					}
					// A job should never panic (middleware already catches),
					// but keep workers alive if it happens.
					func() {
						defer func() {
							if rec := recover(); rec != nil {
								r.log.Error("panic in command job", logx.Int("worker", idx), logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		})
	}

	defer func() {
		closeJobs()
		// Wait briefly for workers to drain.
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.setSupervisor(nil, false)
		if !r.log.IsZero() {
			r.log.Info("command dispatcher stopped")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				if !r.log.IsZero() {
					r.log.Info("command dispatcher stopped (messages channel closed)")
				}
				return nil
			}
			r.routeMessage(ctx, msg)
		}
	}
}

func (r *Router) routeMessage(root context.Context, msg transport.Message) {
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}

	parts := tokenizeCommandLine(text)
	if len(parts) == 0 {
		return
	}
	word := strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	word = strings.ToLower(word)
	args := []string{}
	if len(parts) > 1 {
		args = parts[1:]
	}

	r.mu.RLock()
	cmd, ok := r.cmds[word]
	if !ok {
		if canonical, aok := r.alias[word]; aok {
			cmd, ok = r.cmds[canonical]
		}
	}
	r.mu.RUnlock()

	if !ok || cmd == nil {
		// Unknown slash words are common in groups (other bots' commands);
		// only answer in direct chats.
		if !msg.IsGroup {
			_, _ = r.adapter.SendText(root, transport.ChatTarget{ChatID: msg.ChatID}, "unknown command, try /help", nil)
		}
		return
	}

	r.enqueueCommand(root, msg, *cmd, args)
}

func (r *Router) enqueueCommand(root context.Context, msg transport.Message, cmd Command, raw []string) {
	pos, flags, bools := parseFlags(raw)

	rid := newReqID()
	reqLog := r.log.With(
		logx.String("rid", rid),
		logx.Int64("chat_id", msg.ChatID),
		logx.Int64("from_id", msg.FromID),
		logx.String("cmd", cmd.Name),
	)

	req := &Request{
		Msg:       msg,
		Chat:      transport.ChatTarget{ChatID: msg.ChatID},
		FromID:    msg.FromID,
		Command:   cmd.Name,
		Args:      pos,
		RawArgs:   raw,
		Flags:     flags,
		BoolFlags: bools,
		ReqID:     rid,
		Adapter:   r.adapter,
		Config:    r.cfgm.Get(),
		Logger:    reqLog,
	}

	final := Chain(
		cmd.Handle,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(cmd.Timeout),
	)

	if !r.tryEnqueue(func() { _ = final(root, req) }) {
		_, _ = r.adapter.SendText(root, req.Chat, "busy, try again", nil)
	}
}

package router

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"zvonbot/internal/config"
	"zvonbot/internal/transport"
	logx "zvonbot/pkg/logx"
)

type fakeAdapter struct {
	mu   sync.Mutex
	sent []string
	ch   chan string
}

func newFakeAdapter() *fakeAdapter { return &fakeAdapter{ch: make(chan string, 16)} }

func (a *fakeAdapter) Start(context.Context, chan<- transport.Message) error { return nil }
func (a *fakeAdapter) Stop(context.Context) error                            { return nil }

func (a *fakeAdapter) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	a.mu.Lock()
	a.sent = append(a.sent, text)
	a.mu.Unlock()
	select {
	case a.ch <- text:
	default:
	}
	return transport.MessageRef{ChatID: to.ChatID, MessageID: 1}, nil
}

func newTestRouter(t *testing.T, cmds []Command) (*Router, *fakeAdapter, chan transport.Message) {
	t.Helper()
	ad := newFakeAdapter()
	cfgm := config.NewConfigManager("unused")
	cfgm.Commit(&config.Config{})

	r := New(logx.Nop(), ad, cfgm)
	r.Register(cmds)

	msgs := make(chan transport.Message, 16)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.DispatchLoop(ctx, msgs)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("dispatch loop did not stop")
		}
	})
	return r, ad, msgs
}

func waitReply(t *testing.T, ad *fakeAdapter) string {
	t.Helper()
	select {
	case s := <-ad.ch:
		return s
	case <-time.After(3 * time.Second):
		t.Fatal("no reply")
		return ""
	}
}

func TestDispatchRunsHandler(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	var got *Request
	cmds := []Command{{
		Name:        "ping",
		Description: "ping",
		Handle: func(ctx context.Context, req *Request) error {
			mu.Lock()
			got = req
			mu.Unlock()
			_, err := req.Adapter.SendText(ctx, req.Chat, "pong", nil)
			return err
		},
	}}
	_, ad, msgs := newTestRouter(t, cmds)

	msgs <- transport.Message{ChatID: 100, FromID: 7, Text: "/ping one --key=v"}
	if reply := waitReply(t, ad); reply != "pong" {
		t.Fatalf("reply = %q", reply)
	}

	mu.Lock()
	defer mu.Unlock()
	if got == nil {
		t.Fatal("handler never saw a request")
	}
	if got.Command != "ping" || got.FromID != 7 || got.Chat.ChatID != 100 {
		t.Fatalf("request = %+v", got)
	}
	if len(got.Args) != 1 || got.Args[0] != "one" || got.Flags["key"] != "v" {
		t.Fatalf("args/flags = %#v %#v", got.Args, got.Flags)
	}
	if got.ReqID == "" || got.Config == nil {
		t.Fatal("request missing rid or config")
	}
}

func TestDispatchResolvesAliasAndBotSuffix(t *testing.T) {
	t.Parallel()
	cmds := []Command{{
		Name:    "remind",
		Aliases: []string{"r"},
		Handle: func(ctx context.Context, req *Request) error {
			_, err := req.Adapter.SendText(ctx, req.Chat, "ok:"+req.Command, nil)
			return err
		},
	}}
	_, ad, msgs := newTestRouter(t, cmds)

	msgs <- transport.Message{ChatID: 1, Text: "/r 10m tea"}
	if reply := waitReply(t, ad); reply != "ok:remind" {
		t.Fatalf("alias reply = %q", reply)
	}
	msgs <- transport.Message{ChatID: 1, Text: "/REMIND@zvon_bot now"}
	if reply := waitReply(t, ad); reply != "ok:remind" {
		t.Fatalf("@bot suffix reply = %q", reply)
	}
}

func TestUnknownCommandOnlyAnsweredInPrivateChat(t *testing.T) {
	t.Parallel()
	_, ad, msgs := newTestRouter(t, nil)

	msgs <- transport.Message{ChatID: 1, Text: "/nosuch", IsGroup: true}
	msgs <- transport.Message{ChatID: 1, Text: "/nosuch"}

	reply := waitReply(t, ad)
	if !strings.Contains(reply, "unknown command") {
		t.Fatalf("reply = %q", reply)
	}
	// Only the private chat got an answer.
	time.Sleep(50 * time.Millisecond)
	ad.mu.Lock()
	defer ad.mu.Unlock()
	if len(ad.sent) != 1 {
		t.Fatalf("sent %d replies, want 1", len(ad.sent))
	}
}

func TestNonCommandTextIgnored(t *testing.T) {
	t.Parallel()
	_, ad, msgs := newTestRouter(t, nil)
	msgs <- transport.Message{ChatID: 1, Text: "just chatting"}
	time.Sleep(50 * time.Millisecond)
	ad.mu.Lock()
	defer ad.mu.Unlock()
	if len(ad.sent) != 0 {
		t.Fatalf("replied to plain text: %#v", ad.sent)
	}
}

func TestHelpListsCommands(t *testing.T) {
	t.Parallel()
	cmds := []Command{{
		Name:        "track",
		Description: "track a product",
		Usage:       "/track <link>",
		Handle:      func(context.Context, *Request) error { return nil },
	}}
	_, ad, msgs := newTestRouter(t, cmds)

	msgs <- transport.Message{ChatID: 1, Text: "/help"}
	reply := waitReply(t, ad)
	if !strings.Contains(reply, "/track") || !strings.Contains(reply, "track a product") {
		t.Fatalf("help output missing command: %q", reply)
	}
	if !strings.Contains(reply, "/help") {
		t.Fatalf("help output missing injected /help: %q", reply)
	}

	msgs <- transport.Message{ChatID: 1, Text: "/help track"}
	reply = waitReply(t, ad)
	if !strings.Contains(reply, "/track &lt;link&gt;") {
		t.Fatalf("per-command help missing usage: %q", reply)
	}
}

func TestPanicInHandlerDoesNotKillDispatcher(t *testing.T) {
	t.Parallel()
	cmds := []Command{
		{Name: "boom", Handle: func(context.Context, *Request) error { panic("handler bug") }},
		{Name: "ok", Handle: func(ctx context.Context, req *Request) error {
			_, err := req.Adapter.SendText(ctx, req.Chat, "alive", nil)
			return err
		}},
	}
	_, ad, msgs := newTestRouter(t, cmds)

	msgs <- transport.Message{ChatID: 1, Text: "/boom"}
	msgs <- transport.Message{ChatID: 1, Text: "/ok"}
	if reply := waitReply(t, ad); reply != "alive" {
		t.Fatalf("dispatcher dead after panic, reply = %q", reply)
	}
}

func TestMenuCommandsSanitized(t *testing.T) {
	t.Parallel()
	ad := newFakeAdapter()
	cfgm := config.NewConfigManager("unused")
	cfgm.Commit(&config.Config{})
	r := New(logx.Nop(), ad, cfgm)
	r.Register([]Command{
		{Name: "Weather Now", Description: "first\nsecond", Handle: func(context.Context, *Request) error { return nil }},
	})

	menu := r.menuCommands()
	var found bool
	for _, c := range menu {
		if c.Command == "weather_now" {
			found = true
			if strings.Contains(c.Description, "\n") {
				t.Fatalf("newline left in menu description: %q", c.Description)
			}
		}
	}
	if !found {
		t.Fatalf("sanitized command missing from menu: %+v", menu)
	}
}

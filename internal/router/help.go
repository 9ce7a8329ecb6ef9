package router

import (
	"sort"
	"strings"
	"unicode"

	"zvonbot/internal/transport"
	"zvonbot/pkg/tgui"
)

// helpText renders Telegram-friendly help in HTML parse mode.
func (r *Router) helpText(args []string) string {
	r.mu.RLock()
	cmds := r.cmds
	alias := r.alias
	order := append([]string(nil), r.order...)
	r.mu.RUnlock()

	if len(args) > 0 {
		word := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(args[0]), "/"))
		c, ok := cmds[word]
		if !ok {
			if canonical, aok := alias[word]; aok {
				c, ok = cmds[canonical]
			}
		}
		if !ok || c == nil {
			return tgui.Lines(
				"❓ "+tgui.B("Unknown command"),
				"Type "+tgui.Code("/help")+" to see the command list.",
			).String()
		}
		return helpCommandHTML(c, alias)
	}

	sort.Strings(order)
	lines := []tgui.H{
		"📚 " + tgui.B("Commands"),
		tgui.Raw("Type <code>/help &lt;cmd&gt;</code> for details."),
		" ",
	}
	for _, name := range order {
		c := cmds[name]
		if c == nil {
			continue
		}
		line := "• " + tgui.Code("/"+name)
		if d := strings.TrimSpace(c.Description); d != "" {
			line += " — " + tgui.Esc(d)
		}
		lines = append(lines, line)
	}
	return joinBlocks(lines)
}

func helpCommandHTML(c *Command, alias map[string]string) string {
	lines := []tgui.H{"📚 " + tgui.B("Help") + " " + tgui.Code("/"+c.Name)}
	if d := strings.TrimSpace(c.Description); d != "" {
		lines = append(lines, tgui.Esc(d))
	}
	if u := strings.TrimSpace(c.Usage); u != "" {
		lines = append(lines, " ", tgui.B("Usage"), tgui.Code(u))
	}

	short := make([]string, 0, len(alias))
	for a, canonical := range alias {
		if canonical == c.Name {
			short = append(short, a)
		}
	}
	if len(short) > 0 {
		sort.Strings(short)
		lines = append(lines, " ", tgui.B("Shortcut"))
		for _, s := range short {
			lines = append(lines, "• "+tgui.Code("/"+s))
		}
	}
	return joinBlocks(lines)
}

// joinBlocks renders lines with single-space entries acting as blank
// separators, collapsing consecutive blanks.
func joinBlocks(in []tgui.H) string {
	out := make([]string, 0, len(in))
	prevEmpty := false
	for _, h := range in {
		s := h.String()
		empty := strings.TrimSpace(s) == ""
		if empty {
			s = ""
		}
		if empty && prevEmpty {
			continue
		}
		out = append(out, s)
		prevEmpty = empty
	}
	return strings.Join(out, "\n")
}

// menuCommands builds the Telegram /menu autocomplete list.
func (r *Router) menuCommands() []transport.BotCommand {
	r.mu.RLock()
	cmds := r.cmds
	order := append([]string(nil), r.order...)
	r.mu.RUnlock()

	sort.Strings(order)
	out := make([]transport.BotCommand, 0, len(order))
	for _, name := range order {
		c := cmds[name]
		if c == nil {
			continue
		}
		desc := strings.TrimSpace(c.Description)
		desc = strings.ReplaceAll(desc, "\n", " ")
		if desc == "" {
			desc = name
		}
		desc = tgui.TruncRunes(desc, 256)
		out = append(out, transport.BotCommand{Command: name, Description: desc})
		if len(out) >= 100 {
			break
		}
	}
	return out
}

// sanitizeTelegramCommand converts an arbitrary command name or alias into a
// Telegram-safe bot command name. Telegram restricts these to [a-z0-9_]{1,32}.
func sanitizeTelegramCommand(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(s))
	lastUnderscore := false
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if r == '_' {
			if !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
			continue
		}
		// Common separators become underscores.
		if r == '-' || unicode.IsSpace(r) || r == '/' {
			if b.Len() > 0 && !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
			continue
		}
		// drop anything else
	}

	out := strings.Trim(b.String(), "_")
	if out == "" {
		return ""
	}
	if len(out) > 32 {
		out = strings.TrimRight(out[:32], "_")
	}
	if out == "" {
		return ""
	}
	// Telegram clients generally expect commands to start with a letter.
	if out[0] >= '0' && out[0] <= '9' {
		out = "cmd_" + out
		if len(out) > 32 {
			out = strings.TrimRight(out[:32], "_")
		}
	}
	return out
}

package reminder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"zvonbot/internal/engine"
	"zvonbot/internal/router"
	"zvonbot/internal/transport"
	"zvonbot/pkg/tgui"
)

func (f *Feature) Commands() []router.Command {
	return []router.Command{
		{
			Name:        "remind",
			Aliases:     []string{"r"},
			Description: "schedule a reminder",
			Usage:       "/remind <10m|2h|1d|HH:MM|tomorrow [HH:MM]|daily HH:MM|weekly <day> HH:MM> <text>",
			Feature:     "reminder",
			Timeout:     10 * time.Second,
			Handle:      f.cmdRemind,
		},
		{
			Name:        "reminders",
			Aliases:     []string{"rl"},
			Description: "list your reminders",
			Usage:       "/reminders",
			Feature:     "reminder",
			Timeout:     10 * time.Second,
			Handle:      f.cmdList,
		},
		{
			Name:        "remind_del",
			Aliases:     []string{"rd"},
			Description: "delete a reminder by id",
			Usage:       "/remind_del <id>",
			Feature:     "reminder",
			Timeout:     10 * time.Second,
			Handle:      f.cmdDelete,
		},
	}
}

func (f *Feature) cmdRemind(ctx context.Context, req *router.Request) error {
	sched, rest, err := parseSchedule(f.now(), req.RawArgs)
	if err != nil {
		return reply(ctx, req, "I did not understand the time.\nUsage: "+tgui.Code(
			"/remind 10m buy milk | /remind tomorrow 09:30 standup | /remind daily 08:00 pills").String())
	}
	text := strings.TrimSpace(strings.Join(rest, " "))
	if text == "" {
		return reply(ctx, req, "Reminder text is empty. What should I remind you about?")
	}

	raw, err := json.Marshal(payload{Text: text})
	if err != nil {
		return err
	}
	target := strconv.FormatInt(req.Chat.ChatID, 10)
	t, err := f.eng.Create(ctx, req.FromID, target, Kind, raw, sched.DueAt, sched.Every)
	switch {
	case errors.Is(err, engine.ErrCapacityExceeded):
		return reply(ctx, req, "You already have too many reminders. Delete some with /remind_del first.")
	case errors.Is(err, engine.ErrInvalidSchedule):
		return reply(ctx, req, "That time does not work: "+tgui.Esc(err.Error()).String())
	case err != nil:
		return err
	}

	msg := fmt.Sprintf("✅ Reminder <b>#%d</b> set for <b>%s</b>", t.ID, t.DueAt.Format("Mon 02 Jan 15:04"))
	if t.Recurring() {
		msg += fmt.Sprintf(", repeating every %s", formatEvery(t.Every))
	}
	return reply(ctx, req, msg)
}

func (f *Feature) cmdList(ctx context.Context, req *router.Request) error {
	var mine []engine.Task
	for _, t := range f.eng.List(req.FromID) {
		if t.Kind == Kind {
			mine = append(mine, t)
		}
	}
	if len(mine) == 0 {
		return reply(ctx, req, "No reminders. Set one with /remind.")
	}

	lines := []string{"⏰ <b>Your reminders</b>"}
	for _, t := range mine {
		var p payload
		_ = json.Unmarshal(t.Payload, &p)
		line := fmt.Sprintf("• <b>#%d</b> %s — %s", t.ID, t.DueAt.Format("Mon 02 Jan 15:04"), tgui.Esc(p.Text))
		if t.Recurring() {
			line += " <i>(every " + formatEvery(t.Every) + ")</i>"
		}
		lines = append(lines, line)
	}
	return reply(ctx, req, strings.Join(lines, "\n"))
}

func (f *Feature) cmdDelete(ctx context.Context, req *router.Request) error {
	if len(req.Args) < 1 {
		return reply(ctx, req, "Usage: <code>/remind_del &lt;id&gt;</code>")
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(req.Args[0], "#"), 10, 64)
	if err != nil {
		return reply(ctx, req, "That does not look like a reminder id.")
	}

	t, err := f.eng.Get(req.FromID, id)
	if err != nil || t.Kind != Kind {
		return reply(ctx, req, fmt.Sprintf("Reminder #%d not found.", id))
	}
	if err := f.eng.Cancel(ctx, req.FromID, id); err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			return reply(ctx, req, fmt.Sprintf("Reminder #%d not found.", id))
		}
		return err
	}
	return reply(ctx, req, fmt.Sprintf("🗑 Reminder #%d deleted.", id))
}

func formatEvery(d time.Duration) string {
	switch {
	case d%(7*24*time.Hour) == 0:
		n := int(d / (7 * 24 * time.Hour))
		if n == 1 {
			return "week"
		}
		return fmt.Sprintf("%d weeks", n)
	case d%(24*time.Hour) == 0:
		n := int(d / (24 * time.Hour))
		if n == 1 {
			return "day"
		}
		return fmt.Sprintf("%d days", n)
	default:
		return d.String()
	}
}

func reply(ctx context.Context, req *router.Request, text string) error {
	_, err := req.Adapter.SendText(ctx, req.Chat, text, &transport.SendOptions{ParseMode: "HTML", DisablePreview: true})
	return err
}

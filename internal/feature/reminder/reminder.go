// Package reminder is the /remind front-end: free-text notes delivered back
// to the chat at a parsed future time, one-shot or recurring.
package reminder

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"zvonbot/internal/engine"
	logx "zvonbot/pkg/logx"
)

const Kind engine.Kind = "reminder"

const defaultMaxPerOwner = 50

type payload struct {
	Text string `json:"text"`
}

type Feature struct {
	eng *engine.Service
	log logx.Logger
	now func() time.Time
}

func New(eng *engine.Service, maxPerOwner int, log logx.Logger) *Feature {
	if log.IsZero() {
		log = logx.Nop()
	}
	if maxPerOwner <= 0 {
		maxPerOwner = defaultMaxPerOwner
	}
	f := &Feature{eng: eng, log: log, now: time.Now}
	eng.RegisterKind(Kind, maxPerOwner, f.work)
	return f
}

// work renders the delivery text for one fire. The payload passes through
// unchanged, so recurring reminders keep their text.
func (f *Feature) work(ctx context.Context, t engine.Task) (engine.Outcome, error) {
	var p payload
	if err := json.Unmarshal(t.Payload, &p); err != nil {
		return engine.Outcome{}, fmt.Errorf("reminder payload: %w", err)
	}
	return engine.Outcome{Text: "⏰ " + p.Text}, nil
}

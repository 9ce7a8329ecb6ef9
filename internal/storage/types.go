package storage

import (
	"encoding/json"
	"time"
)

// Config configures task persistence.
//
// Driver values:
//   - "file": dependency-free single-document JSON backend (atomic rewrite)
//   - "sqlite": SQLite database file (build with -tags sqlite)
//
// If Driver is empty, "file" is assumed.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// TaskRecord is the durable shape of one scheduled task.
//
// Loading must stay forward-compatible: unknown fields are ignored and a
// missing "every" means a one-shot task. Keep it compact and schema-stable.
type TaskRecord struct {
	ID      int64           `json:"id"`
	OwnerID int64           `json:"owner_id"`
	Target  string          `json:"target"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
	DueAt   time.Time       `json:"due_at"`
	Every   string          `json:"every,omitempty"` // Go duration string; empty = one-shot
}

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"zvonbot/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// The whole task set lives in one JSON document keyed by owner. Save rewrites
// it via write-to-temp-then-rename so a crash mid-write can never corrupt the
// previously durable state. Load fails softly: a missing or corrupt file
// degrades to an empty task set instead of aborting startup.
type fileStore struct {
	log  logx.Logger
	path string

	mu sync.Mutex
}

// fileDoc is the on-disk document. Owner keys are decimal strings because JSON
// object keys are strings.
type fileDoc struct {
	Owners map[string][]TaskRecord `json:"owners"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := cfg.Path
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &fileStore{log: log, path: path}, nil
}

func (s *fileStore) Close() error { return nil }

func (s *fileStore) Load(ctx context.Context) ([]TaskRecord, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("task file unreadable; starting empty", logx.String("path", s.path), logx.Err(err))
		}
		return nil, nil
	}

	var doc fileDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		s.log.Warn("task file corrupt; starting empty", logx.String("path", s.path), logx.Err(err))
		return nil, nil
	}

	var out []TaskRecord
	for key, recs := range doc.Owners {
		owner, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			s.log.Warn("skipping task records with invalid owner key", logx.String("owner", key))
			continue
		}
		for _, r := range recs {
			if r.OwnerID == 0 {
				r.OwnerID = owner
			}
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OwnerID != out[j].OwnerID {
			return out[i].OwnerID < out[j].OwnerID
		}
		return out[i].DueAt.Before(out[j].DueAt)
	})
	return out, nil
}

func (s *fileStore) Save(ctx context.Context, recs []TaskRecord) error {
	_ = ctx
	doc := fileDoc{Owners: map[string][]TaskRecord{}}
	for _, r := range recs {
		key := strconv.FormatInt(r.OwnerID, 10)
		doc.Owners[key] = append(doc.Owners[key], r)
	}
	for _, owned := range doc.Owners {
		sort.Slice(owned, func(i, j int) bool { return owned[i].DueAt.Before(owned[j].DueAt) })
	}

	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

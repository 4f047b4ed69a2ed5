// Package checkpoint persists per-turn conversation snapshots so a crashed
// or killed process can pick a session back up.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"helixmind/internal/provider"
)

type Snapshot struct {
	SessionID string             `json:"sessionId"`
	Turn      int                `json:"turn"`
	Step      int                `json:"step"`
	History   []provider.Message `json:"history"`
	SavedAt   time.Time          `json:"savedAt"`
}

type Store interface {
	Save(ctx context.Context, snap Snapshot) error
	Latest(ctx context.Context, sessionID string) (Snapshot, bool, error)
}

// FileStore writes one JSON file per snapshot under
// <dir>/<session>/<turn>-<step>.json. Zero-padded names keep lexical order
// equal to chronological order.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) Save(_ context.Context, snap Snapshot) error {
	if snap.SessionID == "" {
		return fmt.Errorf("checkpoint: empty session id")
	}
	dir := filepath.Join(s.dir, snap.SessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if snap.SavedAt.IsZero() {
		snap.SavedAt = time.Now()
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	name := fmt.Sprintf("%06d-%03d.json", snap.Turn, snap.Step)
	tmp := filepath.Join(dir, name+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(dir, name))
}

func (s *FileStore) Latest(_ context.Context, sessionID string) (Snapshot, bool, error) {
	dir := filepath.Join(s.dir, sessionID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return Snapshot{}, false, nil
	}
	sort.Strings(names)
	data, err := os.ReadFile(filepath.Join(dir, names[len(names)-1]))
	if err != nil {
		return Snapshot{}, false, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, false, err
	}
	return snap, true, nil
}

package checkpoint

import (
	"context"
	"testing"

	"helixmind/internal/provider"
)

func TestSaveAndLatest(t *testing.T) {
	s := NewFileStore(t.TempDir())
	ctx := context.Background()

	for turn := 1; turn <= 2; turn++ {
		for step := 0; step <= 1; step++ {
			snap := Snapshot{
				SessionID: "s1",
				Turn:      turn,
				Step:      step,
				History:   []provider.Message{{Role: provider.RoleUser, Content: "hi"}},
			}
			if err := s.Save(ctx, snap); err != nil {
				t.Fatalf("Save turn %d step %d: %v", turn, step, err)
			}
		}
	}

	snap, ok, err := s.Latest(ctx, "s1")
	if err != nil || !ok {
		t.Fatalf("Latest = (%v, %v)", ok, err)
	}
	if snap.Turn != 2 || snap.Step != 1 {
		t.Fatalf("latest = turn %d step %d, want 2/1", snap.Turn, snap.Step)
	}
	if len(snap.History) != 1 || snap.History[0].Content != "hi" {
		t.Fatalf("history = %+v", snap.History)
	}
}

func TestLatestMissingSession(t *testing.T) {
	s := NewFileStore(t.TempDir())
	_, ok, err := s.Latest(context.Background(), "nope")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected ok=false for unknown session")
	}
}

func TestSaveRejectsEmptySession(t *testing.T) {
	s := NewFileStore(t.TempDir())
	if err := s.Save(context.Background(), Snapshot{}); err == nil {
		t.Fatal("expected error for empty session id")
	}
}

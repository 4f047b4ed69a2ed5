package session

import (
	"context"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"helixmind/internal/provider"
)

func TestGetOrCreateIsAtomic(t *testing.T) {
	r := NewRegistry(nil)

	const n = 32
	var wg sync.WaitGroup
	results := make([]*Session, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.GetOrCreate("shared")
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if results[i] != results[0] {
			t.Fatal("concurrent GetOrCreate returned different sessions for one id")
		}
	}
}

func TestBeginTurnSerializes(t *testing.T) {
	s := NewRegistry(nil).GetOrCreate("s1")

	_, done, turn, err := s.BeginTurn(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if turn != 1 {
		t.Fatalf("turn = %d, want 1", turn)
	}

	if _, _, _, err := s.BeginTurn(context.Background()); err != ErrTurnActive {
		t.Fatalf("second BeginTurn err = %v, want ErrTurnActive", err)
	}

	done()
	_, done2, turn2, err := s.BeginTurn(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer done2()
	if turn2 != 2 {
		t.Fatalf("turn = %d, want 2", turn2)
	}
}

func TestAbortCancelsTurnContext(t *testing.T) {
	r := NewRegistry(nil)
	s := r.GetOrCreate("s1")

	ctx, done, _, err := s.BeginTurn(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer done()

	if !r.Abort("s1") {
		t.Fatal("Abort returned false for active session")
	}
	select {
	case <-ctx.Done():
	default:
		t.Fatal("turn context not cancelled after abort")
	}

	// Aborting again changes nothing.
	r.Abort("s1")
	select {
	case <-ctx.Done():
	default:
		t.Fatal("context state changed by second abort")
	}
}

func TestAbortIdleSession(t *testing.T) {
	r := NewRegistry(nil)
	r.GetOrCreate("idle")
	if r.Abort("idle") {
		t.Fatal("Abort returned true for idle session")
	}
	if r.Abort("ghost") {
		t.Fatal("Abort returned true for unknown session")
	}
	if _, ok := r.Get("ghost"); ok {
		t.Fatal("Abort created a session")
	}
}

func TestSetHistoryReplacesWholesale(t *testing.T) {
	s := NewRegistry(nil).GetOrCreate("s1")
	s.SetHistory([]provider.Message{{Role: provider.RoleUser, Content: "one"}})
	s.SetHistory([]provider.Message{
		{Role: provider.RoleUser, Content: "two"},
		{Role: provider.RoleAssistant, Content: "reply"},
	})

	h := s.History()
	if len(h) != 2 || h[0].Content != "two" {
		t.Fatalf("history = %+v", h)
	}

	// The returned slice is a copy.
	h[0].Content = "mutated"
	if s.History()[0].Content != "two" {
		t.Fatal("History leaked internal state")
	}
}

func TestSummaryBufferWindow(t *testing.T) {
	b := NewSummaryBuffer(2)
	b.NoteTurn("first question", "first answer")
	b.NoteTurn("second question", "second answer")
	b.NoteTurn("third question", "third answer")

	got := b.Render()
	if strings.Contains(got, "first question") {
		t.Fatalf("oldest turn should have fallen off:\n%s", got)
	}
	if !strings.Contains(got, "second question") || !strings.Contains(got, "third question") {
		t.Fatalf("recent turns missing:\n%s", got)
	}
}

func TestDigestKeepsRunesWhole(t *testing.T) {
	got := digest(strings.Repeat("é", 100), 121)
	if !utf8.ValidString(got) {
		t.Fatalf("digest split a rune: %q", got)
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("digest = %q", got)
	}

	b := NewSummaryBuffer(2)
	b.NoteTurn(strings.Repeat("ü", 200), strings.Repeat("ß", 200))
	if got := b.Render(); !utf8.ValidString(got) {
		t.Fatalf("summary digest split a rune: %q", got)
	}
}

func TestListSortedSnapshot(t *testing.T) {
	r := NewRegistry(nil)
	r.GetOrCreate("b")
	r.GetOrCreate("a")
	s := r.GetOrCreate("c")

	_, done, _, err := s.BeginTurn(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer done()

	infos := r.List()
	if len(infos) != 3 {
		t.Fatalf("len = %d", len(infos))
	}
	if infos[0].ID != "a" || infos[1].ID != "b" || infos[2].ID != "c" {
		t.Fatalf("order = %v", []string{infos[0].ID, infos[1].ID, infos[2].ID})
	}
	if !infos[2].Active {
		t.Fatal("session c should report active")
	}
}

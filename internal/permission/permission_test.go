package permission

import "testing"

func countingAsker(decision Decision, count *int) Asker {
	return func(tool, input string) Decision {
		*count++
		return decision
	}
}

func TestSkipAllPassesNonDangerous(t *testing.T) {
	asks := 0
	g := NewGate([]string{"exec"}, countingAsker(Deny, &asks))
	g.SetSkipAll(true)

	if !g.IsAllowed("read_file", "{}") {
		t.Fatal("non-dangerous tool denied under skip-all")
	}
	if asks != 0 {
		t.Fatalf("asker called %d times, want 0", asks)
	}
}

func TestDangerousAlwaysPrompts(t *testing.T) {
	asks := 0
	g := NewGate([]string{"exec"}, countingAsker(AllowOnce, &asks))
	g.SetSkipAll(true)

	for i := 0; i < 3; i++ {
		if !g.IsAllowed("exec", `{"command":"ls"}`) {
			t.Fatal("exec denied despite approving asker")
		}
	}
	if asks != 3 {
		t.Fatalf("asker called %d times, want 3", asks)
	}
}

func TestDangerousDeniedWithoutAsker(t *testing.T) {
	g := NewGate([]string{"exec"}, nil)
	g.SetSkipAll(true)
	if g.IsAllowed("exec", "{}") {
		t.Fatal("dangerous tool allowed with no asker")
	}
}

func TestDefaultModePromptsEverything(t *testing.T) {
	asks := 0
	g := NewGate(nil, countingAsker(AllowOnce, &asks))

	if !g.IsAllowed("read_file", "{}") {
		t.Fatal("denied despite approving asker")
	}
	if asks != 1 {
		t.Fatalf("asker called %d times, want 1", asks)
	}
}

func TestAllowAlwaysSticksForNonDangerous(t *testing.T) {
	asks := 0
	g := NewGate([]string{"exec"}, countingAsker(AllowAlways, &asks))

	g.IsAllowed("read_file", "{}")
	g.IsAllowed("read_file", "{}")
	if asks != 1 {
		t.Fatalf("asker called %d times, want 1 after always-allow", asks)
	}

	g.IsAllowed("exec", "{}")
	g.IsAllowed("exec", "{}")
	if asks != 3 {
		t.Fatalf("asker called %d times, want 3 (dangerous never sticks)", asks)
	}
}

func TestDenyDenies(t *testing.T) {
	g := NewGate(nil, func(string, string) Decision { return Deny })
	if g.IsAllowed("read_file", "{}") {
		t.Fatal("allowed despite denying asker")
	}
}

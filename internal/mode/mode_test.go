package mode

import (
	"os"
	"strings"
	"testing"
)

func TestComposePlanReminder(t *testing.T) {
	m := NewManager(t.TempDir())

	out := m.Compose("s1", "add a cache", Plan, false)
	if !strings.HasPrefix(out, "add a cache\n\n<system-reminder>") {
		t.Fatalf("unexpected output: %q", out)
	}
	path := m.PlanFile("s1")
	if !strings.Contains(out, path) {
		t.Errorf("reminder does not name plan file %s", path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("plan file not created: %v", err)
	}
	if m.Previous() != Plan {
		t.Errorf("previous = %q, want plan", m.Previous())
	}
}

func TestComposeBuildSwitchOnce(t *testing.T) {
	m := NewManager(t.TempDir())
	m.Compose("s1", "plan it", Plan, false)

	out := m.Compose("s1", "go", Build, true)
	if !strings.Contains(out, "switched to build mode") {
		t.Fatalf("expected build switch reminder, got %q", out)
	}

	out = m.Compose("s1", "again", Build, true)
	if out != "again" {
		t.Errorf("reminder repeated: %q", out)
	}
}

func TestComposeNoSwitchFlag(t *testing.T) {
	m := NewManager(t.TempDir())
	m.Compose("s1", "plan it", Plan, false)

	if out := m.Compose("s1", "hello", Build, false); out != "hello" {
		t.Errorf("unexpected reminder without modeSwitch: %q", out)
	}
}

func TestEnsurePlanFileKeepsContent(t *testing.T) {
	m := NewManager(t.TempDir())
	path, err := m.EnsurePlanFile("s2")
	if err != nil {
		t.Fatalf("EnsurePlanFile: %v", err)
	}
	if err := os.WriteFile(path, []byte("my plan"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := m.EnsurePlanFile("s2"); err != nil {
		t.Fatalf("EnsurePlanFile again: %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "my plan" {
		t.Errorf("plan file overwritten: %q", data)
	}
}

func TestParse(t *testing.T) {
	if Parse("PLAN") != Plan || Parse("build") != Build || Parse("") != Build {
		t.Error("Parse mismatch")
	}
}

package prompt

import (
	"strings"
	"testing"
	"time"

	"github.com/stratuscode/stratus/internal/mode"
)

func TestSystem(t *testing.T) {
	now := time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)

	t.Run("build mode", func(t *testing.T) {
		result := system("/work/app", mode.Build, "", now)
		if !strings.Contains(result, "Working Directory: /work/app") {
			t.Error("missing working directory")
		}
		if !strings.Contains(result, "Date: 2025-03-04") {
			t.Error("missing date")
		}
		if strings.Contains(result, "plan mode") {
			t.Error("build prompt should not mention plan mode")
		}
	})

	t.Run("plan mode", func(t *testing.T) {
		result := system("/work/app", mode.Plan, "", now)
		if !strings.Contains(result, "call plan_exit") {
			t.Error("missing plan mode rule")
		}
	})

	t.Run("instructions appended", func(t *testing.T) {
		result := system("/work/app", mode.Build, "  Always answer in French.\n", now)
		if !strings.HasSuffix(result, "\n\nAlways answer in French.") {
			t.Errorf("instructions not appended: %q", result)
		}
	})
}

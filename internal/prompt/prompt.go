// Package prompt builds the system prompt sent with every turn.
package prompt

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/stratuscode/stratus/internal/mode"
)

// System returns the system prompt for a turn in the given mode.
// instructions are appended verbatim when configured.
func System(projectDir string, m mode.Mode, instructions string) string {
	return system(projectDir, m, instructions, time.Now())
}

func system(projectDir string, m mode.Mode, instructions string, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, `You are Stratus, a coding assistant working inside the user's project.

Context:
- Operating System: %s
- Architecture: %s
- Working Directory: %s
- Date: %s`, runtime.GOOS, runtime.GOARCH, projectDir, now.Format("2006-01-02"))

	b.WriteString(`

Rules:
1. Read files before changing them and keep edits minimal
2. Paths passed to tools are relative to the working directory
3. Prefer glob and grep to find code instead of guessing paths
4. Keep answers short; show code only when it helps`)

	if m == mode.Plan {
		b.WriteString(`
5. You are in plan mode. Do not modify project files. Write the plan to the plan file, then call plan_exit`)
	}

	if instructions = strings.TrimSpace(instructions); instructions != "" {
		b.WriteString("\n\n")
		b.WriteString(instructions)
	}
	return b.String()
}

package usage

import "strings"

// DefaultContextLimit is used for models missing from the table.
const DefaultContextLimit = 128_000

// contextLimits maps model id prefixes to input-token budgets. The longest
// matching prefix wins, so dated ids like claude-sonnet-4-5-20250929 resolve.
var contextLimits = map[string]int{
	"claude-":        200_000,
	"gpt-4o":         128_000,
	"gpt-4.1":        1_047_576,
	"gpt-5":          400_000,
	"o3":             200_000,
	"o4-mini":        200_000,
	"gemini-2.5":     1_048_576,
	"gemini-3":       1_048_576,
	"deepseek":       128_000,
	"glm-4":          128_000,
	"grok-code-fast": 256_000,
	"qwen3-coder":    262_144,
	"kimi-k2":        262_144,
	"mistral-large":  128_000,
	"codestral":      256_000,
	"llama-4":        1_048_576,
	"gpt-oss":        131_072,
	"minimax-m2":     204_800,
}

// ContextLimit returns the context window for model. overrides take
// precedence over the built-in table and are matched the same way.
func ContextLimit(model string, overrides map[string]int) int {
	id := strings.ToLower(strings.TrimSpace(model))
	// "openrouter/anthropic/claude-..." -> "claude-..."
	if i := strings.LastIndex(id, "/"); i >= 0 {
		id = id[i+1:]
	}
	if id == "" {
		return DefaultContextLimit
	}
	if limit, ok := longestPrefix(id, overrides); ok {
		return limit
	}
	if limit, ok := longestPrefix(id, contextLimits); ok {
		return limit
	}
	return DefaultContextLimit
}

func longestPrefix(id string, table map[string]int) (int, bool) {
	best, limit := -1, 0
	for prefix, l := range table {
		p := strings.ToLower(prefix)
		if strings.HasPrefix(id, p) && len(p) > best && l > 0 {
			best, limit = len(p), l
		}
	}
	return limit, best >= 0
}

package tools

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// decodeArgs unmarshals args into v. Keys that v does not know about are
// returned as a warning to prefix the tool output with, so the model learns
// the parameter was ignored.
func decodeArgs(args json.RawMessage, v any, knownKeys ...string) (string, *ToolError) {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	if err := json.Unmarshal(args, v); err != nil {
		return "", NewToolError(ErrInvalidParams, err.Error())
	}
	return warnUnknownParams(args, knownKeys), nil
}

func warnUnknownParams(args json.RawMessage, knownKeys []string) string {
	var m map[string]interface{}
	if err := json.Unmarshal(args, &m); err != nil {
		return ""
	}
	known := make(map[string]bool, len(knownKeys))
	for _, k := range knownKeys {
		known[k] = true
	}
	var unknown []string
	for k := range m {
		if !known[k] {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) == 0 {
		return ""
	}
	sort.Strings(unknown)
	var sb strings.Builder
	for _, k := range unknown {
		sb.WriteString(fmt.Sprintf("Unknown parameter '%s' was ignored\n", k))
	}
	return sb.String()
}

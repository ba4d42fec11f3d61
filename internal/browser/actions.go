// File: internal/browser/actions.go
package browser

import (
	"fmt"
	"strings"
)

// toolKind tags the two tool families the facade intercepts. Everything
// else goes through the uniform dispatch path.
type toolKind int

const (
	kindAction toolKind = iota
	// kindInspect tools are read-only and do not advance the step counter.
	kindInspect
	// kindTerminate tools end the session without being forwarded.
	kindTerminate
)

func (k toolKind) String() string {
	switch k {
	case kindInspect:
		return "inspect"
	case kindTerminate:
		return "terminate"
	default:
		return "action"
	}
}

var interceptedTools = map[string]toolKind{
	"browser_snapshot": kindInspect,
	"snapshot":         kindInspect,
	"browser_close":    kindTerminate,
	"close":            kindTerminate,
	"browser_quit":     kindTerminate,
	"quit":             kindTerminate,
}

func classifyTool(name string) toolKind {
	return interceptedTools[strings.ToLower(strings.TrimSpace(name))]
}

// IsTermination reports whether name is a close-style tool.
func IsTermination(name string) bool { return classifyTool(name) == kindTerminate }

// ActionRecord is one entry of the action history.
type ActionRecord struct {
	Line string `json:"line"`
	// Counted is false for read-only inspection calls.
	Counted bool `json:"counted"`
}

// FormatAction renders a tool call as "<element> -> VERB[: value]".
func FormatAction(tool string, params map[string]interface{}) string {
	lower := strings.ToLower(tool)
	element := firstString(params, "element", "ref", "selector", "description")
	if element == "" {
		element = "unknown"
	}

	switch {
	case strings.Contains(lower, "close") || strings.Contains(lower, "quit"):
		return "<unknown> -> BROWSER_CLOSE"
	case strings.Contains(lower, "click"):
		return fmt.Sprintf("<%s> -> CLICK", element)
	case strings.Contains(lower, "type") || strings.Contains(lower, "fill"):
		return fmt.Sprintf("<%s> -> TYPE: %s", element, firstString(params, "text", "value"))
	case strings.Contains(lower, "select"):
		return fmt.Sprintf("<%s> -> SELECT: %s", element, selectValue(params))
	case strings.Contains(lower, "scroll"):
		direction := firstString(params, "direction")
		if direction == "" {
			direction = "down"
		}
		return fmt.Sprintf("<%s> -> SCROLL: %s", element, direction)
	case strings.Contains(lower, "hover"):
		return fmt.Sprintf("<%s> -> HOVER", element)
	case strings.Contains(lower, "navigate") || strings.Contains(lower, "goto"):
		return fmt.Sprintf("<navigation> -> GOTO: %s", firstString(params, "url"))
	default:
		return fmt.Sprintf("<%s> -> %s", element, strings.ToUpper(tool))
	}
}

func isNavigation(tool string) bool {
	lower := strings.ToLower(tool)
	return strings.Contains(lower, "navigate") || strings.Contains(lower, "goto")
}

// firstString returns the first non-empty value among keys, stringified.
func firstString(params map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		v, ok := params[k]
		if !ok || v == nil {
			continue
		}
		if s := stringify(v); s != "" {
			return s
		}
	}
	return ""
}

func selectValue(params map[string]interface{}) string {
	if v := firstString(params, "value"); v != "" {
		return v
	}
	switch values := params["values"].(type) {
	case []interface{}:
		if len(values) > 0 {
			return stringify(values[0])
		}
	case []string:
		if len(values) > 0 {
			return values[0]
		}
	case nil:
	default:
		return stringify(values)
	}
	return ""
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprint(t)
	}
}

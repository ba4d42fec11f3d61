// internal/parser/strategies.go
package parser

import (
	"regexp"
	"strings"

	json "github.com/json-iterator/go"
)

var (
	// Backticks are written as \x60 because raw strings cannot contain them.
	fencedObjectRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json)?\\s*({.*?})\\s*\x60\x60\x60")
	taggedJSONRegex   = regexp.MustCompile(`(?s)<json>\s*(.*?)\s*</json>`)
)

// parseTaggedJSON handles <json>{...}</json>.
func parseTaggedJSON(text string) (Decision, bool) {
	m := taggedJSONRegex.FindStringSubmatch(text)
	if len(m) < 2 {
		return Decision{}, false
	}
	return decodeDecision(m[1])
}

// parseFencedJSON handles a markdown fenced object, or an object embedded
// in prose that carries a tool key.
func parseFencedJSON(text string) (Decision, bool) {
	trimmed := strings.TrimSpace(text)
	if m := fencedObjectRegex.FindStringSubmatch(trimmed); len(m) > 1 {
		if d, ok := decodeDecision(m[1]); ok {
			return d, true
		}
	}
	first := strings.Index(trimmed, "{")
	last := strings.LastIndex(trimmed, "}")
	if first == -1 || last <= first {
		return Decision{}, false
	}
	return decodeDecision(trimmed[first : last+1])
}

// parseLineFormat handles THOUGHT:/ACTION:/PARAMS: lines. TOOL: is accepted
// for ACTION:. An action line is required and PARAMS must be a JSON object.
func parseLineFormat(text string) (Decision, bool) {
	var d Decision
	sawTool := false
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		switch {
		case strings.HasPrefix(line, "THOUGHT:"):
			d.Thought = strings.TrimSpace(strings.TrimPrefix(line, "THOUGHT:"))
		case strings.HasPrefix(line, "ACTION:"):
			d.Tool = strings.TrimSpace(strings.TrimPrefix(line, "ACTION:"))
			sawTool = true
		case strings.HasPrefix(line, "TOOL:"):
			d.Tool = strings.TrimSpace(strings.TrimPrefix(line, "TOOL:"))
			sawTool = true
		case strings.HasPrefix(line, "PARAMS:"):
			params, ok := decodeParams(strings.TrimSpace(strings.TrimPrefix(line, "PARAMS:")))
			if !ok {
				return Decision{}, false
			}
			d.Params = params
		}
	}
	if !sawTool || d.Tool == "" {
		return Decision{}, false
	}
	if d.Params == nil {
		d.Params = map[string]interface{}{}
	}
	return d, true
}

// decodeDecision accepts a JSON object with a non-empty string tool. A
// missing or null params becomes an empty map; any other non-object params
// is rejected.
func decodeDecision(raw string) (Decision, bool) {
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return Decision{}, false
	}
	tool, _ := obj["tool"].(string)
	tool = strings.TrimSpace(tool)
	if tool == "" {
		return Decision{}, false
	}
	thought, _ := obj["thought"].(string)

	params := map[string]interface{}{}
	switch p := obj["params"].(type) {
	case nil:
	case map[string]interface{}:
		params = p
	default:
		return Decision{}, false
	}
	return Decision{Thought: thought, Tool: tool, Params: params}, true
}

func decodeParams(raw string) (map[string]interface{}, bool) {
	if raw == "" {
		return map[string]interface{}{}, true
	}
	var params map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return nil, false
	}
	if params == nil {
		params = map[string]interface{}{}
	}
	return params, true
}

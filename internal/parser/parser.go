// internal/parser/parser.go
package parser

import (
	"fmt"

	"go.uber.org/zap"
)

const (
	// ToolFinish ends a task successfully.
	ToolFinish = "finish"
	// ToolError is the sentinel tool returned when no strategy understood the reply.
	ToolError = "error"

	// ErrorTypeParseFailure tags sentinel decisions produced by the parser.
	ErrorTypeParseFailure = "parse_failure"

	thoughtPreviewRunes = 200
	rawResponseRunes    = 1000
)

// Decision is one unit of agent intent.
type Decision struct {
	Thought string                 `json:"thought"`
	Tool    string                 `json:"tool"`
	Params  map[string]interface{} `json:"params"`
}

// IsError reports whether d is the parse-failure sentinel.
func (d Decision) IsError() bool { return d.Tool == ToolError }

// IsFinish reports whether the agent declared the task complete.
func (d Decision) IsFinish() bool { return d.Tool == ToolFinish }

// ErrorType returns the error_type tag of a sentinel decision.
func (d Decision) ErrorType() string {
	if s, ok := d.Params["error_type"].(string); ok {
		return s
	}
	return ""
}

// Strategy turns raw text into a decision or reports no match.
type Strategy struct {
	Name  string
	Parse func(text string) (Decision, bool)
}

// Parser applies strategies in order; the first match wins.
type Parser struct {
	strategies []Strategy
	logger     *zap.Logger
}

// New returns a parser over the given strategies, or the default chain when none are given.
func New(logger *zap.Logger, strategies ...Strategy) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	return &Parser{strategies: strategies, logger: logger.Named("parser")}
}

// DefaultStrategies is tagged JSON, then fenced or bare JSON, then the line format.
func DefaultStrategies() []Strategy {
	return []Strategy{
		{Name: "tagged_json", Parse: parseTaggedJSON},
		{Name: "fenced_json", Parse: parseFencedJSON},
		{Name: "line_format", Parse: parseLineFormat},
	}
}

// Parse never fails: unrecognized text yields the error sentinel.
func (p *Parser) Parse(text string) Decision {
	for _, s := range p.strategies {
		if d, ok := s.Parse(text); ok {
			p.logger.Debug("Parsed agent response", zap.String("strategy", s.Name), zap.String("tool", d.Tool))
			return d
		}
	}
	p.logger.Warn("Could not parse agent response, requesting retry", zap.String("response_preview", truncateRunes(text, 500)))
	return ErrorDecision(text)
}

var defaultParser = New(nil)

// Parse runs the default strategy chain.
func Parse(text string) Decision { return defaultParser.Parse(text) }

// ErrorDecision builds the parse-failure sentinel for text.
func ErrorDecision(text string) Decision {
	return Decision{
		Thought: fmt.Sprintf("PARSE ERROR: Could not understand response format. "+
			"Expected JSON with <json> tags or structured text (THOUGHT:/ACTION:/PARAMS:). Raw response: %s",
			truncateRunes(text, thoughtPreviewRunes)),
		Tool: ToolError,
		Params: map[string]interface{}{
			"error_type":   ErrorTypeParseFailure,
			"raw_response": truncateRunes(text, rawResponseRunes),
		},
	}
}

// truncateRunes cuts s to at most n runes without splitting a code point.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// File: internal/harness/prompts_test.go
package harness

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Dimmmas28/wabe/internal/mcp"
)

func TestToolsSection(t *testing.T) {
	tools := []mcp.ToolSchema{
		{
			Name:        "browser_type",
			Description: "Type text into an element\nMore detail here",
			InputSchema: mcp.InputSchema{
				Required: []string{"ref", "text"},
				Properties: map[string]mcp.PropertySchema{
					"text":   {Type: "string", Description: "Text to type"},
					"ref":    {Type: "string"},
					"submit": {Type: "boolean"},
				},
			},
		},
		{Name: "browser_snapshot"},
		{Name: ""},
	}

	got := ToolsSection(tools)
	want := "AVAILABLE TOOLS:" +
		"\n1. browser_type - Type text into an element" +
		"\n   Parameters:" +
		"\n     - ref: string (required)" +
		"\n     - submit: boolean (optional)" +
		"\n     - text: string (required) Text to type" +
		"\n2. browser_snapshot - No description" +
		"\n   Parameters: none" +
		"\n3. finish - Complete the task (no parameters needed)\n   Parameters: {}"
	assert.Equal(t, want, got)
}

func TestTaskPrompt(t *testing.T) {
	prompt := TaskPrompt(Task{Task: "Book a table", Website: "https://food.example"}, nil)

	assert.Contains(t, prompt, "TASK: Book a table")
	assert.Contains(t, prompt, "You are currently on the website: https://food.example")
	assert.Contains(t, prompt, "1. finish - Complete the task")
	assert.True(t, strings.HasSuffix(prompt, "Do not include any text outside the <json></json> tags"))
}

func TestFollowUpText(t *testing.T) {
	plain := FollowUpText("AVAILABLE TOOLS:", "snap", "")
	assert.Equal(t, "AVAILABLE TOOLS:\n\nCURRENT PAGE SNAPSHOT:\nsnap\n\nWhat should we do next?", plain)

	withFeedback := FollowUpText("AVAILABLE TOOLS:", "snap", "bad reply")
	assert.True(t, strings.HasPrefix(withFeedback, "ERROR IN PREVIOUS RESPONSE:\nbad reply\n\n"))
	assert.True(t, strings.HasSuffix(withFeedback, plain))
}

func TestActionFailureFeedback(t *testing.T) {
	got := ActionFailureFeedback("browser_click", map[string]interface{}{"ref": "e1", "element": "OK"}, "boom")
	assert.Contains(t, got, "Your previous action failed with error:\nboom\n\n")
	assert.Contains(t, got, `Parameters you provided: {"element":"OK","ref":"e1"}`)
	assert.True(t, strings.HasSuffix(got, "Try again with the correct parameters."))
}

func TestTruncateSnapshot(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		max      int
		expected string
	}{
		{"short input unchanged", "abc", 10, "abc"},
		{"exact length unchanged", "abcde", 5, "abcde"},
		{"no limit", "abcdef", 0, "abcdef"},
		{"cut ascii", "abcdef", 3, "abc" + snapshotTruncatedNote},
		{"cut on rune boundary", "ääää", 2, "ää" + snapshotTruncatedNote},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, TruncateSnapshot(tt.in, tt.max))
		})
	}
}

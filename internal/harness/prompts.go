// File: internal/harness/prompts.go
package harness

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	json "github.com/json-iterator/go"

	"github.com/Dimmmas28/wabe/internal/mcp"
)

const snapshotTruncatedNote = "\n\n[Snapshot truncated for length...]"

const responseFormat = `CRITICAL - RESPONSE FORMAT:
You MUST respond with JSON wrapped in <json></json> tags in this EXACT format:

<json>
{
    "thought": "Your reasoning about what to do next",
    "tool": "tool_name",
    "params": {"param_name": "param_value"}
}
</json>

EXAMPLES OF VALID RESPONSES:

Example 1 - Click action:
<json>
{
    "thought": "I need to click the search button to proceed",
    "tool": "browser_click",
    "params": {"element": "Search button", "ref": "e12"}
}
</json>

Example 2 - Type action:
<json>
{
    "thought": "I should enter the search term in the input field",
    "tool": "browser_type",
    "params": {"element": "Search textbox", "ref": "e8", "text": "Las Vegas"}
}
</json>

Example 3 - Finish action:
<json>
{
    "thought": "The task is complete",
    "tool": "finish",
    "params": {}
}
</json>

IMPORTANT NOTES:
- Always wrap your JSON response in <json></json> tags
- The "thought" field should explain your reasoning
- The "tool" field must be one of the AVAILABLE TOOLS or "finish"
- The "params" field must be a valid JSON object (use {} for finish)
- Element refs come from the CURRENT PAGE SNAPSHOT, e.g. [ref=e12]
- Do not include any text outside the <json></json> tags`

// TaskPrompt is the opening message of a task conversation.
func TaskPrompt(task Task, tools []mcp.ToolSchema) string {
	var sb strings.Builder
	sb.WriteString("You are a web automation agent. Your task is:\n\n")
	fmt.Fprintf(&sb, "TASK: %s\n\n", task.Task)
	fmt.Fprintf(&sb, "You are currently on the website: %s\n\n", task.Website)
	sb.WriteString(ToolsSection(tools))
	sb.WriteString("\n\n")
	sb.WriteString(responseFormat)
	return sb.String()
}

// ToolsSection lists the discovered tools with their parameters, followed
// by the harness-level finish tool.
func ToolsSection(tools []mcp.ToolSchema) string {
	var sb strings.Builder
	sb.WriteString("AVAILABLE TOOLS:")
	n := 0
	for _, tool := range tools {
		if tool.Name == "" {
			continue
		}
		n++
		desc := tool.Description
		if desc == "" {
			desc = "No description"
		}
		fmt.Fprintf(&sb, "\n%d. %s - %s", n, tool.Name, firstLine(desc))

		names := make([]string, 0, len(tool.InputSchema.Properties))
		for name := range tool.InputSchema.Properties {
			names = append(names, name)
		}
		sort.Strings(names)
		if len(names) == 0 {
			sb.WriteString("\n   Parameters: none")
			continue
		}
		sb.WriteString("\n   Parameters:")
		required := make(map[string]bool, len(tool.InputSchema.Required))
		for _, r := range tool.InputSchema.Required {
			required[r] = true
		}
		for _, name := range names {
			prop := tool.InputSchema.Properties[name]
			typ := prop.Type
			if typ == "" {
				typ = "any"
			}
			marker := "optional"
			if required[name] {
				marker = "required"
			}
			fmt.Fprintf(&sb, "\n     - %s: %s (%s)", name, typ, marker)
			if prop.Description != "" {
				fmt.Fprintf(&sb, " %s", firstLine(prop.Description))
			}
		}
	}
	fmt.Fprintf(&sb, "\n%d. finish - Complete the task (no parameters needed)\n   Parameters: {}", n+1)
	return sb.String()
}

// FirstStepText attaches the snapshot to the task prompt.
func FirstStepText(taskPrompt, snapshot string) string {
	return taskPrompt + "\n\nCURRENT PAGE SNAPSHOT:\n" + snapshot
}

// FollowUpText is sent on every step after the first. Pending feedback
// about the previous reply is placed ahead of the catalogue.
func FollowUpText(toolsSection, snapshot, feedback string) string {
	body := toolsSection + "\n\nCURRENT PAGE SNAPSHOT:\n" + snapshot + "\n\nWhat should we do next?"
	if feedback == "" {
		return body
	}
	return "ERROR IN PREVIOUS RESPONSE:\n" + feedback +
		"\n\nPlease try again with the correct format. Remember to wrap your JSON in <json></json> tags.\n\n" + body
}

// ParseFailureFeedback asks the agent to retry after an unparseable reply.
func ParseFailureFeedback(errorType string) string {
	return fmt.Sprintf("Your previous response could not be parsed (%s). Try again.", errorType)
}

// ActionFailureFeedback echoes the failed call back to the agent.
func ActionFailureFeedback(tool string, params map[string]interface{}, errText string) string {
	encoded, err := json.ConfigCompatibleWithStandardLibrary.Marshal(params)
	if err != nil {
		encoded = []byte(fmt.Sprint(params))
	}
	return fmt.Sprintf("Your previous action failed with error:\n%s\n\n"+
		"Tool: %s\nParameters you provided: %s\n\n"+
		"Please check the AVAILABLE TOOLS section for the correct required parameters.\n"+
		"Most interactive tools require BOTH:\n"+
		"  - \"element\": Human-readable description (e.g., \"Search textbox\")\n"+
		"  - \"ref\": Snapshot reference (e.g., \"s8\")\n\n"+
		"Try again with the correct parameters.", errText, tool, encoded)
}

// TruncateSnapshot cuts the snapshot to maxChars characters and marks the cut.
func TruncateSnapshot(snapshot string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(snapshot) <= maxChars {
		return snapshot
	}
	n := 0
	for i := range snapshot {
		if n == maxChars {
			return snapshot[:i] + snapshotTruncatedNote
		}
		n++
	}
	return snapshot
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

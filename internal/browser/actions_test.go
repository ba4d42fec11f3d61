// File: internal/browser/actions_test.go
package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatAction(t *testing.T) {
	tests := []struct {
		tool   string
		params map[string]interface{}
		want   string
	}{
		{"browser_click", map[string]interface{}{"element": "Search button", "ref": "e3"}, "<Search button> -> CLICK"},
		{"browser_click", map[string]interface{}{"ref": "e3"}, "<e3> -> CLICK"},
		{"browser_click", nil, "<unknown> -> CLICK"},
		{"browser_type", map[string]interface{}{"element": "City", "text": "Paris"}, "<City> -> TYPE: Paris"},
		{"fill_form", map[string]interface{}{"selector": "#q", "value": "shoes"}, "<#q> -> TYPE: shoes"},
		{"browser_select_option", map[string]interface{}{"element": "Sort", "values": []interface{}{"price", "rating"}}, "<Sort> -> SELECT: price"},
		{"browser_select_option", map[string]interface{}{"element": "Sort", "value": "newest"}, "<Sort> -> SELECT: newest"},
		{"browser_scroll", map[string]interface{}{"description": "results"}, "<results> -> SCROLL: down"},
		{"browser_scroll", map[string]interface{}{"direction": "up"}, "<unknown> -> SCROLL: up"},
		{"browser_hover", map[string]interface{}{"element": "Menu"}, "<Menu> -> HOVER"},
		{"browser_navigate", map[string]interface{}{"url": "https://example.com"}, "<navigation> -> GOTO: https://example.com"},
		{"goto", map[string]interface{}{"url": "https://a.b"}, "<navigation> -> GOTO: https://a.b"},
		{"browser_close", nil, "<unknown> -> BROWSER_CLOSE"},
		{"quit", map[string]interface{}{"element": "ignored"}, "<unknown> -> BROWSER_CLOSE"},
		{"browser_press_key", map[string]interface{}{"key": "Enter"}, "<unknown> -> BROWSER_PRESS_KEY"},
		{"browser_wait_for", map[string]interface{}{"ref": float64(12)}, "<12> -> BROWSER_WAIT_FOR"},
	}
	for _, tt := range tests {
		t.Run(tt.tool+"/"+tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatAction(tt.tool, tt.params))
		})
	}
}

func TestClassifyTool(t *testing.T) {
	assert.Equal(t, kindInspect, classifyTool("browser_snapshot"))
	assert.Equal(t, kindInspect, classifyTool(" Snapshot "))
	assert.Equal(t, kindTerminate, classifyTool("BROWSER_QUIT"))
	assert.Equal(t, kindTerminate, classifyTool("close"))
	assert.Equal(t, kindAction, classifyTool("browser_close_tab"))
	assert.Equal(t, kindAction, classifyTool("browser_click"))
	assert.True(t, IsTermination("browser_close"))
	assert.False(t, IsTermination("finish"))
	assert.Equal(t, "terminate", kindTerminate.String())
}

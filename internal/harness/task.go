// File: internal/harness/task.go
package harness

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	json "github.com/json-iterator/go"
)

// LevelUnknown is reported for tasks that carry no difficulty level.
const LevelUnknown = "unknown"

var requiredTaskKeys = []string{"task_id", "website", "task"}

// Task is one benchmark task: a natural-language goal on a starting website.
type Task struct {
	TaskID   string `json:"task_id"`
	Website  string `json:"website"`
	Task     string `json:"task"`
	Level    string `json:"level,omitempty"`
	MaxSteps int    `json:"max_steps,omitempty"`
	// StepDelay overrides the base backoff delay, in seconds.
	StepDelay *float64 `json:"step_delay,omitempty"`
}

// LevelOrUnknown returns the task level or LevelUnknown.
func (t Task) LevelOrUnknown() string {
	if t.Level == "" {
		return LevelUnknown
	}
	return t.Level
}

// BaseDelay returns the per-task step delay override, if any.
func (t Task) BaseDelay() (time.Duration, bool) {
	if t.StepDelay == nil || *t.StepDelay < 0 {
		return 0, false
	}
	return time.Duration(*t.StepDelay * float64(time.Second)), true
}

// LoadTasks reads a task file. See ParseTasks for the accepted layouts.
func LoadTasks(path string) ([]Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task file: %w", err)
	}
	tasks, err := ParseTasks(data)
	if err != nil {
		return nil, fmt.Errorf("invalid task file %s: %w", path, err)
	}
	return tasks, nil
}

// ParseTasks accepts a JSON array of tasks, a single task object, or an
// object with a "tasks" array whose other keys are shared defaults merged
// under each task.
func ParseTasks(data []byte) ([]Task, error) {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	var base map[string]interface{}
	var entries []interface{}
	switch v := raw.(type) {
	case []interface{}:
		entries = v
	case map[string]interface{}:
		if list, ok := v["tasks"].([]interface{}); ok {
			base = make(map[string]interface{}, len(v))
			for k, val := range v {
				if k != "tasks" {
					base[k] = val
				}
			}
			entries = list
		} else {
			entries = []interface{}{v}
		}
	default:
		return nil, errors.New("expected a task object or an array of tasks")
	}

	tasks := make([]Task, 0, len(entries))
	for i, entry := range entries {
		obj, ok := entry.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("task %d is not an object", i)
		}
		merged := make(map[string]interface{}, len(base)+len(obj))
		for k, v := range base {
			merged[k] = v
		}
		for k, v := range obj {
			merged[k] = v
		}
		if missing := missingKeys(merged); len(missing) > 0 {
			return nil, fmt.Errorf("task %d missing required keys: %s", i, strings.Join(missing, ", "))
		}

		buf, err := json.Marshal(merged)
		if err != nil {
			return nil, err
		}
		var t Task
		if err := json.Unmarshal(buf, &t); err != nil {
			return nil, fmt.Errorf("task %d: %w", i, err)
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func missingKeys(m map[string]interface{}) []string {
	var missing []string
	for _, k := range requiredTaskKeys {
		if s, ok := m[k].(string); !ok || s == "" {
			missing = append(missing, k)
		}
	}
	sort.Strings(missing)
	return missing
}

// FilterTasks keeps tasks of the given level (all when empty) and then
// truncates to limit (no limit when <= 0).
func FilterTasks(tasks []Task, level string, limit int) []Task {
	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if level == "" || t.Level == level {
			out = append(out, t)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// File: internal/harness/task_test.go
package harness

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTasks(t *testing.T) {
	t.Run("should accept an array", func(t *testing.T) {
		tasks, err := ParseTasks([]byte(`[
			{"task_id":"a","website":"https://a.example","task":"Do A","level":"easy"},
			{"task_id":"b","website":"https://b.example","task":"Do B","max_steps":5}
		]`))
		require.NoError(t, err)
		want := []Task{
			{TaskID: "a", Website: "https://a.example", Task: "Do A", Level: "easy"},
			{TaskID: "b", Website: "https://b.example", Task: "Do B", MaxSteps: 5},
		}
		if diff := cmp.Diff(want, tasks); diff != "" {
			t.Errorf("tasks mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("should accept a single object", func(t *testing.T) {
		tasks, err := ParseTasks([]byte(`{"task_id":"a","website":"https://a.example","task":"Do A"}`))
		require.NoError(t, err)
		require.Len(t, tasks, 1)
		assert.Equal(t, "a", tasks[0].TaskID)
		assert.Equal(t, LevelUnknown, tasks[0].LevelOrUnknown())
	})

	t.Run("should merge shared keys under each task", func(t *testing.T) {
		tasks, err := ParseTasks([]byte(`{
			"website":"https://shared.example","max_steps":7,"step_delay":0.5,
			"tasks":[
				{"task_id":"a","task":"Do A"},
				{"task_id":"b","task":"Do B","website":"https://own.example","max_steps":3}
			]
		}`))
		require.NoError(t, err)
		require.Len(t, tasks, 2)

		assert.Equal(t, "https://shared.example", tasks[0].Website)
		assert.Equal(t, 7, tasks[0].MaxSteps)
		delay, ok := tasks[0].BaseDelay()
		assert.True(t, ok)
		assert.Equal(t, 500*time.Millisecond, delay)

		assert.Equal(t, "https://own.example", tasks[1].Website)
		assert.Equal(t, 3, tasks[1].MaxSteps)
	})

	t.Run("should name missing required keys", func(t *testing.T) {
		_, err := ParseTasks([]byte(`[{"task_id":"a","website":"https://a.example","task":"ok"},{"task_id":"b"}]`))
		require.Error(t, err)
		assert.EqualError(t, err, "task 1 missing required keys: task, website")
	})

	t.Run("should reject non-object entries and bad JSON", func(t *testing.T) {
		_, err := ParseTasks([]byte(`["nope"]`))
		assert.Error(t, err)
		_, err = ParseTasks([]byte(`42`))
		assert.Error(t, err)
		_, err = ParseTasks([]byte(`{`))
		assert.Error(t, err)
	})
}

func TestTaskBaseDelay(t *testing.T) {
	_, ok := Task{}.BaseDelay()
	assert.False(t, ok)

	neg := -1.0
	_, ok = Task{StepDelay: &neg}.BaseDelay()
	assert.False(t, ok)

	zero := 0.0
	d, ok := Task{StepDelay: &zero}.BaseDelay()
	assert.True(t, ok)
	assert.Zero(t, d)
}

func TestLoadTasks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"task_id":"a","website":"https://a.example","task":"Do A"}]`), 0o644))

	tasks, err := LoadTasks(path)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)

	_, err = LoadTasks(filepath.Join(dir, "missing.json"))
	assert.ErrorContains(t, err, "failed to read task file")
}

func TestFilterTasks(t *testing.T) {
	tasks := []Task{
		{TaskID: "1", Level: "easy"},
		{TaskID: "2", Level: "hard"},
		{TaskID: "3", Level: "easy"},
		{TaskID: "4", Level: "easy"},
	}

	ids := func(ts []Task) []string {
		out := make([]string, len(ts))
		for i, t := range ts {
			out[i] = t.TaskID
		}
		return out
	}

	assert.Equal(t, []string{"1", "2", "3", "4"}, ids(FilterTasks(tasks, "", 0)))
	assert.Equal(t, []string{"1", "3", "4"}, ids(FilterTasks(tasks, "easy", 0)))
	assert.Equal(t, []string{"1", "3"}, ids(FilterTasks(tasks, "easy", 2)), "level applies before limit")
	assert.Equal(t, []string{"1"}, ids(FilterTasks(tasks, "", 1)))
	assert.Empty(t, FilterTasks(tasks, "medium", 0))
}

package storage

import (
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphmill/graphmill/pkg/types"
)

func TestPropsOf(t *testing.T) {
	m := map[string]any{"name": "alice"}

	assert.Equal(t, m, PropsOf(m))
	assert.Equal(t, m, PropsOf(dbtype.Node{Props: m}))
	assert.Equal(t, m, PropsOf(&dbtype.Node{Props: m}))
	assert.Equal(t, m, PropsOf(dbtype.Relationship{Props: m}))
	assert.Equal(t, m, PropsOf(&dbtype.Relationship{Props: m}))
	assert.Empty(t, PropsOf(nil))
	assert.Empty(t, PropsOf(42))
}

func TestPropAccessors(t *testing.T) {
	now := time.Now().UTC()
	props := map[string]any{
		"s":     "hello",
		"i64":   int64(7),
		"i":     3,
		"f":     2.9,
		"ts":    now,
		"list":  []any{"a", "b", 1},
		"vec":   []any{0.5, int64(2)},
		"wrong": 12,
	}

	assert.Equal(t, "hello", propString(props, "s"))
	assert.Equal(t, "", propString(props, "wrong"))
	assert.Equal(t, "", propString(props, "missing"))

	assert.Equal(t, 7, propInt(props, "i64"))
	assert.Equal(t, 3, propInt(props, "i"))
	assert.Equal(t, 2, propInt(props, "f"))
	assert.Equal(t, 0, propInt(props, "missing"))

	ts, ok := propTime(props, "ts")
	assert.True(t, ok)
	assert.Equal(t, now, ts)
	_, ok = propTime(props, "missing")
	assert.False(t, ok)

	assert.Equal(t, []string{"a", "b"}, propStrings(props, "list"))
	assert.Nil(t, propStrings(props, "missing"))

	assert.Equal(t, []float32{0.5, 2}, propFloats(props, "vec"))
	assert.Nil(t, propFloats(props, "missing"))
}

func TestFloatsToAny(t *testing.T) {
	assert.Nil(t, floatsToAny(nil))
	assert.Equal(t, []any{float64(float32(0.5)), float64(float32(1.5))}, floatsToAny([]float32{0.5, 1.5}))
}

func TestStateFromValue(t *testing.T) {
	now := time.Now().UTC()
	state := stateFromValue(map[string]any{
		"status":               "READY",
		"latest_ready_version": "1700000000000",
		"current_task_id":      nil,
		"updated_at":           now,
	})

	assert.Equal(t, types.StatusReady, state.Status)
	assert.Equal(t, "1700000000000", state.LatestReadyVersion)
	assert.Equal(t, "", state.CurrentTaskID)
	assert.Equal(t, now, state.UpdatedAt)
}

func TestTaskFromValue(t *testing.T) {
	assert.Nil(t, taskFromValue(nil))
	assert.Nil(t, taskFromValue(map[string]any{}))

	started := time.Now().UTC().Add(-time.Minute)
	finished := time.Now().UTC()
	task := taskFromValue(map[string]any{
		"task_id":      "1700000000000",
		"type":         "full_build",
		"version":      "1700000000000",
		"base_version": "1600000000000",
		"progress":     int64(95),
		"message":      "writing to neo4j",
		"error":        nil,
		"started_at":   started,
		"finished_at":  finished,
	})

	require.NotNil(t, task)
	assert.Equal(t, "1700000000000", task.TaskID)
	assert.Equal(t, types.TaskFullBuild, task.Type)
	assert.Equal(t, "1600000000000", task.BaseVersion)
	assert.Equal(t, 95, task.Progress)
	assert.Equal(t, "writing to neo4j", task.Message)
	assert.Equal(t, started, task.StartedAt)
	require.NotNil(t, task.FinishedAt)
	assert.Equal(t, finished, *task.FinishedAt)
}

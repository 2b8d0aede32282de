package storage

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/graphmill/graphmill/pkg/types"
)

// TaskConflictError is returned by TryStartTask when a build or update
// is already running. It carries the state and task that won.
type TaskConflictError struct {
	State       types.KGState
	CurrentTask *types.TaskInfo
}

func (e *TaskConflictError) Error() string {
	return "a build task is already running"
}

// StateStore persists the singleton KGState node and KGTask records.
// Every transition is a single Cypher statement so concurrent callers
// are serialized by the database rather than by process-local locks.
type StateStore struct {
	client    *Client
	graphName string
}

// NewStateStore creates a state store for one logical graph
func NewStateStore(client *Client, graphName string) *StateStore {
	if graphName == "" {
		graphName = types.GraphNameDefault
	}
	return &StateStore{client: client, graphName: graphName}
}

// EnsureSchema creates the uniqueness constraints. Idempotent.
func (s *StateStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		"CREATE CONSTRAINT kgstate_graph_name IF NOT EXISTS FOR (s:KGState) REQUIRE s.graph_name IS UNIQUE",
		"CREATE CONSTRAINT kgtask_task_id IF NOT EXISTS FOR (t:KGTask) REQUIRE t.task_id IS UNIQUE",
		"CREATE CONSTRAINT entity_unique IF NOT EXISTS FOR (e:Entity) REQUIRE (e.kg_version, e.entity_label, e.name) IS UNIQUE",
	}
	for _, stmt := range statements {
		if _, err := s.client.Run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("failed to create constraint: %w", err)
		}
	}
	return nil
}

// RecoverIfInterrupted marks the graph FAILED when the previous process
// died mid-build, annotating the interrupted task. No-op otherwise.
func (s *StateStore) RecoverIfInterrupted(ctx context.Context) error {
	query := `
MERGE (s:KGState {graph_name: $graph_name})
ON CREATE SET
  s.status = 'IDLE',
  s.latest_ready_version = null,
  s.current_task_id = null,
  s.updated_at = datetime()
WITH s
CALL (s) {
  WITH s
  OPTIONAL MATCH (t:KGTask {task_id: s.current_task_id})
  WITH s, t
  WHERE s.status IN ['BUILDING','UPDATING']
  SET s.status = 'FAILED', s.updated_at = datetime(), s.current_task_id = null
  FOREACH (_ IN CASE WHEN t IS NULL THEN [] ELSE [1] END |
    SET t.error = coalesce(t.error, 'server restarted'), t.finished_at = datetime()
  )
  RETURN 1 AS _ignored
}
RETURN 1 AS _ignored
`
	_, err := s.client.Run(ctx, query, map[string]any{"graph_name": s.graphName})
	if err != nil {
		return fmt.Errorf("failed to recover interrupted state: %w", err)
	}
	return nil
}

// GetStateAndTask returns the current state and the running task, if any.
// When the graph is FAILED with no current task, the most recently
// finished failed task is returned so callers can surface the error.
func (s *StateStore) GetStateAndTask(ctx context.Context) (types.KGState, *types.TaskInfo, error) {
	query := `
MERGE (s:KGState {graph_name: $graph_name})
ON CREATE SET
  s.status = 'IDLE',
  s.latest_ready_version = null,
  s.current_task_id = null,
  s.updated_at = datetime()
WITH s
OPTIONAL MATCH (t:KGTask {task_id: s.current_task_id})
RETURN s AS state, t AS task
`
	rows, err := s.client.Run(ctx, query, map[string]any{"graph_name": s.graphName})
	if err != nil {
		return types.KGState{}, nil, fmt.Errorf("failed to read graph state: %w", err)
	}
	if len(rows) == 0 {
		return types.KGState{}, nil, fmt.Errorf("graph state query returned no rows")
	}
	state := stateFromValue(rows[0]["state"])
	task := taskFromValue(rows[0]["task"])

	if state.Status == types.StatusFailed && task == nil {
		failedRows, err := s.client.Run(ctx, `
MATCH (t:KGTask)
WHERE t.finished_at IS NOT NULL AND t.error IS NOT NULL
RETURN t
ORDER BY t.finished_at DESC
LIMIT 1
`, nil)
		if err != nil {
			return types.KGState{}, nil, fmt.Errorf("failed to read last failed task: %w", err)
		}
		if len(failedRows) > 0 {
			task = taskFromValue(failedRows[0]["t"])
		}
	}
	return state, task, nil
}

// TryStartTask atomically claims the graph for a new task. The conflict
// check and the task creation are a single statement inside one write
// transaction, so of two concurrent callers exactly one wins.
func (s *StateStore) TryStartTask(ctx context.Context, taskType types.TaskType, version, baseVersion string) (*types.TaskInfo, error) {
	query := `
MERGE (s:KGState {graph_name: $graph_name})
ON CREATE SET
  s.status = 'IDLE',
  s.latest_ready_version = null,
  s.current_task_id = null,
  s.updated_at = datetime()
WITH s
OPTIONAL MATCH (running:KGTask {task_id: s.current_task_id})
WITH s, running
CALL (s, running) {
  WITH s, running
  WHERE s.status IN ['BUILDING','UPDATING']
  RETURN {conflict: true, state: s, task: running} AS out
  UNION
  WITH s, running
  WHERE NOT s.status IN ['BUILDING','UPDATING']
  MERGE (t:KGTask {task_id: $task_id})
  ON CREATE SET
    t.type = $task_type,
    t.version = $version,
    t.base_version = $base_version,
    t.started_at = datetime(),
    t.finished_at = null,
    t.progress = 0,
    t.error = null
  SET s.status = $target_status, s.current_task_id = $task_id, s.updated_at = datetime()
  RETURN {conflict: false, state: s, task: t} AS out
}
RETURN out
`
	targetStatus := types.StatusBuilding
	if taskType == types.TaskIncrementalUpdate {
		targetStatus = types.StatusUpdating
	}
	var base any
	if baseVersion != "" {
		base = baseVersion
	}

	raw, err := s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, map[string]any{
			"graph_name":    s.graphName,
			"task_id":       version,
			"task_type":     string(taskType),
			"version":       version,
			"base_version":  base,
			"target_status": string(targetStatus),
		})
		if err != nil {
			return nil, err
		}
		rec, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		out, _ := rec.Get("out")
		return out, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start task: %w", err)
	}

	out, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("unexpected start-task result %T", raw)
	}
	state := stateFromValue(out["state"])
	task := taskFromValue(out["task"])
	if conflict, _ := out["conflict"].(bool); conflict {
		return nil, &TaskConflictError{State: state, CurrentTask: task}
	}
	if task == nil {
		return nil, fmt.Errorf("failed to create task record")
	}
	return task, nil
}

// UpdateTaskProgress sets the progress percentage and, when non-empty,
// the progress message of a task.
func (s *StateStore) UpdateTaskProgress(ctx context.Context, taskID string, progress int, message string) error {
	query := `
MATCH (t:KGTask {task_id: $task_id})
SET t.progress = $progress
FOREACH (_ IN CASE WHEN $message IS NULL THEN [] ELSE [1] END | SET t.message = $message)
RETURN 1 AS _ignored
`
	var msg any
	if message != "" {
		msg = message
	}
	_, err := s.client.Run(ctx, query, map[string]any{"task_id": taskID, "progress": progress, "message": msg})
	if err != nil {
		return fmt.Errorf("failed to update task progress: %w", err)
	}
	return nil
}

// MarkTaskSuccess promotes version to latest ready and finishes the task
func (s *StateStore) MarkTaskSuccess(ctx context.Context, taskID, version string) error {
	query := `
MATCH (s:KGState {graph_name: $graph_name})
MATCH (t:KGTask {task_id: $task_id})
SET
  s.status = 'READY',
  s.latest_ready_version = $version,
  s.current_task_id = null,
  s.updated_at = datetime(),
  t.finished_at = datetime(),
  t.progress = 100,
  t.error = null
RETURN 1 AS _ignored
`
	_, err := s.client.Run(ctx, query, map[string]any{
		"graph_name": s.graphName,
		"task_id":    taskID,
		"version":    version,
	})
	if err != nil {
		return fmt.Errorf("failed to mark task success: %w", err)
	}
	return nil
}

// MarkTaskFailed records the error and releases the graph. The previous
// latest ready version is left untouched.
func (s *StateStore) MarkTaskFailed(ctx context.Context, taskID, errMsg string) error {
	query := `
MATCH (s:KGState {graph_name: $graph_name})
MATCH (t:KGTask {task_id: $task_id})
SET
  s.status = 'FAILED',
  s.current_task_id = null,
  s.updated_at = datetime(),
  t.finished_at = datetime(),
  t.error = $error
RETURN 1 AS _ignored
`
	_, err := s.client.Run(ctx, query, map[string]any{
		"graph_name": s.graphName,
		"task_id":    taskID,
		"error":      errMsg,
	})
	if err != nil {
		return fmt.Errorf("failed to mark task failed: %w", err)
	}
	return nil
}

func stateFromValue(v any) types.KGState {
	props := PropsOf(v)
	state := types.KGState{
		Status:             types.KGStatus(propString(props, "status")),
		LatestReadyVersion: propString(props, "latest_ready_version"),
		CurrentTaskID:      propString(props, "current_task_id"),
	}
	if ts, ok := propTime(props, "updated_at"); ok {
		state.UpdatedAt = ts
	}
	return state
}

func taskFromValue(v any) *types.TaskInfo {
	if v == nil {
		return nil
	}
	props := PropsOf(v)
	if len(props) == 0 {
		return nil
	}
	task := &types.TaskInfo{
		TaskID:      propString(props, "task_id"),
		Type:        types.TaskType(propString(props, "type")),
		Version:     propString(props, "version"),
		BaseVersion: propString(props, "base_version"),
		Progress:    propInt(props, "progress"),
		Message:     propString(props, "message"),
		Error:       propString(props, "error"),
	}
	if ts, ok := propTime(props, "started_at"); ok {
		task.StartedAt = ts
	}
	if ts, ok := propTime(props, "finished_at"); ok {
		task.FinishedAt = &ts
	}
	return task
}

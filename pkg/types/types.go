package types

import (
	"time"
)

// GraphNameDefault is the single logical graph this server maintains.
const GraphNameDefault = "default"

// KGStatus represents the lifecycle state of the knowledge graph
type KGStatus string

const (
	StatusIdle     KGStatus = "IDLE"
	StatusBuilding KGStatus = "BUILDING"
	StatusUpdating KGStatus = "UPDATING"
	StatusReady    KGStatus = "READY"
	StatusFailed   KGStatus = "FAILED"
)

// TaskType defines the kind of build task
type TaskType string

const (
	TaskFullBuild         TaskType = "full_build"
	TaskIncrementalUpdate TaskType = "incremental_update"
)

// KGState is the singleton state record for one logical graph.
// Status BUILDING/UPDATING implies CurrentTaskID is set.
type KGState struct {
	Status             KGStatus
	LatestReadyVersion string // empty when no version has been promoted yet
	CurrentTaskID      string
	UpdatedAt          time.Time
}

// TaskInfo is the durable record of one build or update attempt.
// The task id equals the version the task produces.
type TaskInfo struct {
	TaskID      string     `json:"task_id"`
	Type        TaskType   `json:"type"`
	Version     string     `json:"version"`
	BaseVersion string     `json:"base_version,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Progress    int        `json:"progress"`
	Message     string     `json:"message,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// EntityKey identifies an entity within one graph version
type EntityKey struct {
	Label string
	Name  string
}

// Entity is a knowledge graph node
type Entity struct {
	Label     string
	Name      string
	Embedding []float32
}

// Key returns the dedup key of the entity
func (e *Entity) Key() EntityKey {
	return EntityKey{Label: e.Label, Name: e.Name}
}

// Relationship is a directed edge between two entities. Endpoints are
// referenced by pointer; deduplication compares by EntityKey and rewires
// the pointers when entities merge.
type Relationship struct {
	Start       *Entity
	End         *Entity
	Predicate   string
	AtomicFacts []string
	TObs        []string
	TStart      []string
	TEnd        []string
	Embedding   []float32
}

// KnowledgeGraph is an in-memory snapshot of entities and relationships
type KnowledgeGraph struct {
	Entities      []*Entity
	Relationships []*Relationship
}

// IsEmpty reports whether the graph has no entities and no relationships
func (g *KnowledgeGraph) IsEmpty() bool {
	return g == nil || (len(g.Entities) == 0 && len(g.Relationships) == 0)
}

// EntityIndex builds a (label, name) -> entity lookup over the graph
func (g *KnowledgeGraph) EntityIndex() map[EntityKey]*Entity {
	idx := make(map[EntityKey]*Entity, len(g.Entities))
	for _, e := range g.Entities {
		idx[e.Key()] = e
	}
	return idx
}

// GraphStats summarizes one stored version
type GraphStats struct {
	EntityCount   int
	RelationCount int
	NodeTypeCount int
}

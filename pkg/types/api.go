package types

// Stable wire codes for API errors. Codes never change once shipped;
// clients match on them.
const (
	CodeTokenIsNull       = "TOKEN_IS_NULL"
	CodeTokenFailOrExpire = "TOKEN_FAIL_OR_EXPIRE"
	CodeInvalidGraphName  = "KG_INVALID_GRAPH_NAME"
	CodeTaskRunning       = "KG_TASK_RUNNING"
	CodeNoBaseVersion     = "KG_NO_BASE_VERSION"
	CodeNoReadyVersion    = "KG_NO_READY_VERSION"
	CodeBuildFailed       = "KG_BUILD_FAILED"
	CodeUpdateFailed      = "KG_UPDATE_FAILED"
	CodeInternalError     = "ERROR"
)

// APIError carries a stable code plus a human message
type APIError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Detail  interface{} `json:"detail,omitempty"`
}

// APIResponse is the envelope for every JSON response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
}

// TriggerRequest is the optional body of the build/update endpoints
type TriggerRequest struct {
	GraphName     string `json:"graph_name,omitempty"`
	TriggerSource string `json:"trigger_source,omitempty"`
}

// StatusResponse reports the graph state and the current (or last failed) task
type StatusResponse struct {
	Status             KGStatus  `json:"status"`
	LatestReadyVersion string    `json:"latest_ready_version,omitempty"`
	CurrentTask        *TaskInfo `json:"current_task,omitempty"`
}

// TriggerFullBuildResponse acknowledges a full build trigger
type TriggerFullBuildResponse struct {
	TaskID  string   `json:"task_id"`
	Status  KGStatus `json:"status"`
	Version string   `json:"version"`
}

// TriggerIncrementalUpdateResponse acknowledges an incremental update trigger
type TriggerIncrementalUpdateResponse struct {
	TaskID      string   `json:"task_id"`
	Status      KGStatus `json:"status"`
	Version     string   `json:"version"`
	BaseVersion string   `json:"base_version"`
}

// TypesResponse lists distinct entity labels or relation predicates
type TypesResponse struct {
	Version       string   `json:"version"`
	EntityTypes   []string `json:"entity_types,omitempty"`
	RelationTypes []string `json:"relation_types,omitempty"`
}

// QueryNode is one node in a subgraph query result.
// Embedding vectors and the version tag are never projected.
type QueryNode struct {
	ID         string                 `json:"id"`
	Types      []string               `json:"types"`
	Name       string                 `json:"name,omitempty"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// QueryEdge is one edge in a subgraph query result
type QueryEdge struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`
	Source     string                 `json:"source"`
	Target     string                 `json:"target"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// QueryResponse is a bounded subgraph
type QueryResponse struct {
	Version   string      `json:"version"`
	Nodes     []QueryNode `json:"nodes"`
	Edges     []QueryEdge `json:"edges"`
	Truncated bool        `json:"truncated"`
}

// StatsResponse reports counts for the latest ready version
type StatsResponse struct {
	Version       string `json:"version"`
	EntityCount   int    `json:"entity_count"`
	RelationCount int    `json:"relation_count"`
	NodeTypeCount int    `json:"node_type_count"`
}

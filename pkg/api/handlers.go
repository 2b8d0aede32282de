package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/graphmill/graphmill/pkg/log"
	"github.com/graphmill/graphmill/pkg/storage"
	"github.com/graphmill/graphmill/pkg/types"
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeOK(w, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	state, task, err := s.state.GetStateAndTask(r.Context())
	if err != nil {
		s.internalError(w, "failed to read graph status", err)
		return
	}
	writeOK(w, types.StatusResponse{
		Status:             state.Status,
		LatestReadyVersion: state.LatestReadyVersion,
		CurrentTask:        task,
	})
}

func (s *Server) handleBuildFull(w http.ResponseWriter, r *http.Request) {
	if !s.checkGraphName(w, r) {
		return
	}
	result, err := s.builds.TriggerFullBuild(r.Context())
	if err != nil {
		var conflict *storage.TaskConflictError
		if errors.As(err, &conflict) {
			s.writeConflict(w, conflict)
			return
		}
		s.errorWithCode(w, types.CodeBuildFailed, "failed to trigger full build", err)
		return
	}
	writeOK(w, types.TriggerFullBuildResponse{
		TaskID:  result.TaskID,
		Status:  result.Status,
		Version: result.Version,
	})
}

func (s *Server) handleUpdateIncremental(w http.ResponseWriter, r *http.Request) {
	if !s.checkGraphName(w, r) {
		return
	}
	state, _, err := s.state.GetStateAndTask(r.Context())
	if err != nil {
		s.internalError(w, "failed to read graph status", err)
		return
	}
	if state.LatestReadyVersion == "" {
		writeError(w, http.StatusBadRequest, types.CodeNoBaseVersion,
			"no latest_ready_version yet; run a full build first", nil)
		return
	}

	result, err := s.builds.TriggerIncrementalUpdate(r.Context(), state.LatestReadyVersion)
	if err != nil {
		var conflict *storage.TaskConflictError
		if errors.As(err, &conflict) {
			s.writeConflict(w, conflict)
			return
		}
		s.errorWithCode(w, types.CodeUpdateFailed, "failed to trigger incremental update", err)
		return
	}
	writeOK(w, types.TriggerIncrementalUpdateResponse{
		TaskID:      result.TaskID,
		Status:      result.Status,
		Version:     result.Version,
		BaseVersion: result.BaseVersion,
	})
}

func (s *Server) handleEntityTypes(w http.ResponseWriter, r *http.Request) {
	version, ok := s.readyVersion(w, r)
	if !ok {
		return
	}
	entityTypes, err := s.graphs.GetEntityTypes(r.Context(), version)
	if err != nil {
		s.internalError(w, "failed to read entity types", err)
		return
	}
	writeOK(w, types.TypesResponse{Version: version, EntityTypes: entityTypes})
}

func (s *Server) handleRelationTypes(w http.ResponseWriter, r *http.Request) {
	version, ok := s.readyVersion(w, r)
	if !ok {
		return
	}
	relationTypes, err := s.graphs.GetRelationTypes(r.Context(), version)
	if err != nil {
		s.internalError(w, "failed to read relation types", err)
		return
	}
	writeOK(w, types.TypesResponse{Version: version, RelationTypes: relationTypes})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	version, ok := s.readyVersion(w, r)
	if !ok {
		return
	}

	params := r.URL.Query()
	limitNodes, err := intParam(params.Get("limit_nodes"), s.cfg.Query.DefaultLimitNodes, 1, 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, types.CodeInternalError, "invalid limit_nodes", err.Error())
		return
	}
	limitEdges, err := intParam(params.Get("limit_edges"), s.cfg.Query.DefaultLimitEdges, 0, 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, types.CodeInternalError, "invalid limit_edges", err.Error())
		return
	}
	depth, err := intParam(params.Get("depth"), s.cfg.Query.DefaultDepth, 0, s.cfg.Query.MaxDepth)
	if err != nil {
		writeError(w, http.StatusBadRequest, types.CodeInternalError, "invalid depth", err.Error())
		return
	}

	opts := storage.QueryOptions{
		Q:                 strings.TrimSpace(params.Get("q")),
		EntityTypes:       splitCSV(params.Get("entity_types")),
		RelationTypes:     splitCSV(params.Get("relation_types")),
		LimitNodes:        limitNodes,
		LimitEdges:        limitEdges,
		Depth:             depth,
		MaxSeedNodes:      s.cfg.Query.MaxSeedNodes,
		IncludeProperties: params.Get("include_properties") == "true",
	}

	nodes, edges, truncated, err := s.graphs.Query(r.Context(), version, opts)
	if err != nil {
		s.internalError(w, "failed to query graph", err)
		return
	}
	writeOK(w, types.QueryResponse{Version: version, Nodes: nodes, Edges: edges, Truncated: truncated})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	version, ok := s.readyVersion(w, r)
	if !ok {
		return
	}
	stats, err := s.graphs.GetStats(r.Context(), version)
	if err != nil {
		s.internalError(w, "failed to read graph stats", err)
		return
	}
	writeOK(w, types.StatsResponse{
		Version:       version,
		EntityCount:   stats.EntityCount,
		RelationCount: stats.RelationCount,
		NodeTypeCount: stats.NodeTypeCount,
	})
}

// checkGraphName rejects trigger bodies naming any graph but the default
func (s *Server) checkGraphName(w http.ResponseWriter, r *http.Request) bool {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		return true
	}
	var req types.TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// An empty or malformed body is treated as no body
		return true
	}
	name := strings.TrimSpace(req.GraphName)
	if name != "" && name != types.GraphNameDefault {
		writeError(w, http.StatusBadRequest, types.CodeInvalidGraphName,
			"only graph_name="+types.GraphNameDefault+" is supported", nil)
		return false
	}
	return true
}

// readyVersion resolves the latest ready version, answering 404 when the
// graph has never completed a build.
func (s *Server) readyVersion(w http.ResponseWriter, r *http.Request) (string, bool) {
	state, _, err := s.state.GetStateAndTask(r.Context())
	if err != nil {
		s.internalError(w, "failed to read graph status", err)
		return "", false
	}
	if state.LatestReadyVersion == "" {
		writeError(w, http.StatusNotFound, types.CodeNoReadyVersion, "no completed graph version to query", nil)
		return "", false
	}
	return state.LatestReadyVersion, true
}

func (s *Server) writeConflict(w http.ResponseWriter, conflict *storage.TaskConflictError) {
	detail := types.StatusResponse{
		Status:             conflict.State.Status,
		LatestReadyVersion: conflict.State.LatestReadyVersion,
		CurrentTask:        conflict.CurrentTask,
	}
	writeError(w, http.StatusConflict, types.CodeTaskRunning, "a build task is already running", detail)
}

func (s *Server) internalError(w http.ResponseWriter, message string, err error) {
	s.errorWithCode(w, types.CodeInternalError, message, err)
}

func (s *Server) errorWithCode(w http.ResponseWriter, code, message string, err error) {
	logger := log.WithComponent("api")
	logger.Error().Err(err).Msg(message)
	writeError(w, http.StatusInternalServerError, code, message, err.Error())
}

// intParam parses a bounded integer query value. A maxAllowed of 0 means
// no upper bound. Out-of-range values are rejected, not defaulted.
func intParam(raw string, def, minAllowed, maxAllowed int) (int, error) {
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if v < minAllowed {
		return 0, fmt.Errorf("must be at least %d", minAllowed)
	}
	if maxAllowed > 0 && v > maxAllowed {
		return 0, fmt.Errorf("must be at most %d", maxAllowed)
	}
	return v, nil
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

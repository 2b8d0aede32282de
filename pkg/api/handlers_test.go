package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphmill/graphmill/pkg/build"
	"github.com/graphmill/graphmill/pkg/config"
	"github.com/graphmill/graphmill/pkg/log"
	"github.com/graphmill/graphmill/pkg/storage"
	"github.com/graphmill/graphmill/pkg/types"
)

const testAPIKey = "test-api-key"

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true, Output: io.Discard})
	os.Exit(m.Run())
}

type fakeStateReader struct {
	state types.KGState
	task  *types.TaskInfo
	err   error
}

func (f *fakeStateReader) GetStateAndTask(ctx context.Context) (types.KGState, *types.TaskInfo, error) {
	return f.state, f.task, f.err
}

type fakeGraphReader struct {
	entityTypes   []string
	relationTypes []string
	stats         types.GraphStats
	nodes         []types.QueryNode
	edges         []types.QueryEdge
	truncated     bool
	err           error
	lastOpts      storage.QueryOptions
}

func (f *fakeGraphReader) GetEntityTypes(ctx context.Context, version string) ([]string, error) {
	return f.entityTypes, f.err
}

func (f *fakeGraphReader) GetRelationTypes(ctx context.Context, version string) ([]string, error) {
	return f.relationTypes, f.err
}

func (f *fakeGraphReader) GetStats(ctx context.Context, version string) (types.GraphStats, error) {
	return f.stats, f.err
}

func (f *fakeGraphReader) Query(ctx context.Context, version string, opts storage.QueryOptions) ([]types.QueryNode, []types.QueryEdge, bool, error) {
	f.lastOpts = opts
	return f.nodes, f.edges, f.truncated, f.err
}

type fakeTrigger struct {
	result   *build.TriggerResult
	err      error
	called   int
	lastBase string
}

func (f *fakeTrigger) TriggerFullBuild(ctx context.Context) (*build.TriggerResult, error) {
	f.called++
	return f.result, f.err
}

func (f *fakeTrigger) TriggerIncrementalUpdate(ctx context.Context, baseVersion string) (*build.TriggerResult, error) {
	f.called++
	f.lastBase = baseVersion
	return f.result, f.err
}

func testServerConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Server.APIKey = testAPIKey
	cfg.Server.CORSAllowOrigins = []string{"*"}
	cfg.Query.DefaultLimitNodes = 500
	cfg.Query.DefaultLimitEdges = 1000
	cfg.Query.DefaultDepth = 2
	cfg.Query.MaxDepth = 5
	cfg.Query.MaxSeedNodes = 30
	return cfg
}

func newTestServer(state StateReader, graphs GraphReader, builds Trigger) *Server {
	return NewServer(testServerConfig(), state, graphs, builds)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *types.APIError `json:"error"`
}

func doRequest(t *testing.T, srv *Server, method, target string, body []byte, authorized bool) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authorized {
		req.Header.Set("Authorization", "Bearer "+testAPIKey)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return rec, env
}

func TestHealthzNeedsNoAuth(t *testing.T) {
	srv := newTestServer(&fakeStateReader{}, &fakeGraphReader{}, &fakeTrigger{})

	rec, env := doRequest(t, srv, http.MethodGet, "/healthz", nil, false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestAuthRejectsMissingToken(t *testing.T) {
	srv := newTestServer(&fakeStateReader{}, &fakeGraphReader{}, &fakeTrigger{})

	rec, env := doRequest(t, srv, http.MethodGet, "/kg/status", nil, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
	require.NotNil(t, env.Error)
	assert.Equal(t, types.CodeTokenIsNull, env.Error.Code)
}

func TestAuthRejectsNonBearerScheme(t *testing.T) {
	srv := newTestServer(&fakeStateReader{}, &fakeGraphReader{}, &fakeTrigger{})

	req := httptest.NewRequest(http.MethodGet, "/kg/status", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.NotNil(t, env.Error)
	assert.Equal(t, types.CodeTokenIsNull, env.Error.Code)
}

func TestAuthRejectsWrongToken(t *testing.T) {
	srv := newTestServer(&fakeStateReader{}, &fakeGraphReader{}, &fakeTrigger{})

	req := httptest.NewRequest(http.MethodGet, "/kg/status", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.NotNil(t, env.Error)
	assert.Equal(t, types.CodeTokenFailOrExpire, env.Error.Code)
}

func TestStatus(t *testing.T) {
	state := &fakeStateReader{
		state: types.KGState{Status: types.StatusReady, LatestReadyVersion: "1700000000000"},
		task:  nil,
	}
	srv := newTestServer(state, &fakeGraphReader{}, &fakeTrigger{})

	rec, env := doRequest(t, srv, http.MethodGet, "/kg/status", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, env.Success)

	var status types.StatusResponse
	require.NoError(t, json.Unmarshal(env.Data, &status))
	assert.Equal(t, types.StatusReady, status.Status)
	assert.Equal(t, "1700000000000", status.LatestReadyVersion)
	assert.Nil(t, status.CurrentTask)
}

func TestBuildFull(t *testing.T) {
	trigger := &fakeTrigger{result: &build.TriggerResult{TaskID: "1700000000001", Status: types.StatusBuilding, Version: "1700000000001"}}
	srv := newTestServer(&fakeStateReader{}, &fakeGraphReader{}, trigger)

	rec, env := doRequest(t, srv, http.MethodPost, "/kg/build/full", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp types.TriggerFullBuildResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.Equal(t, "1700000000001", resp.TaskID)
	assert.Equal(t, types.StatusBuilding, resp.Status)
	assert.Equal(t, 1, trigger.called)
}

func TestBuildFullConflict(t *testing.T) {
	trigger := &fakeTrigger{err: &storage.TaskConflictError{
		State:       types.KGState{Status: types.StatusBuilding, LatestReadyVersion: "1600000000000"},
		CurrentTask: &types.TaskInfo{TaskID: "1700000000001", Progress: 45},
	}}
	srv := newTestServer(&fakeStateReader{}, &fakeGraphReader{}, trigger)

	rec, env := doRequest(t, srv, http.MethodPost, "/kg/build/full", nil, true)
	assert.Equal(t, http.StatusConflict, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, types.CodeTaskRunning, env.Error.Code)

	detail, err := json.Marshal(env.Error.Detail)
	require.NoError(t, err)
	var status types.StatusResponse
	require.NoError(t, json.Unmarshal(detail, &status))
	assert.Equal(t, types.StatusBuilding, status.Status)
	require.NotNil(t, status.CurrentTask)
	assert.Equal(t, 45, status.CurrentTask.Progress)
}

func TestBuildFullRejectsOtherGraphNames(t *testing.T) {
	trigger := &fakeTrigger{}
	srv := newTestServer(&fakeStateReader{}, &fakeGraphReader{}, trigger)

	body := []byte(`{"graph_name":"other"}`)
	rec, env := doRequest(t, srv, http.MethodPost, "/kg/build/full", body, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, types.CodeInvalidGraphName, env.Error.Code)
	assert.Equal(t, 0, trigger.called)
}

func TestBuildFullAcceptsDefaultGraphName(t *testing.T) {
	trigger := &fakeTrigger{result: &build.TriggerResult{TaskID: "1", Status: types.StatusBuilding, Version: "1"}}
	srv := newTestServer(&fakeStateReader{}, &fakeGraphReader{}, trigger)

	body := []byte(`{"graph_name":"default","trigger_source":"manual"}`)
	rec, _ := doRequest(t, srv, http.MethodPost, "/kg/build/full", body, true)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, trigger.called)
}

func TestUpdateIncrementalRequiresBaseVersion(t *testing.T) {
	trigger := &fakeTrigger{}
	srv := newTestServer(&fakeStateReader{state: types.KGState{Status: types.StatusIdle}}, &fakeGraphReader{}, trigger)

	rec, env := doRequest(t, srv, http.MethodPost, "/kg/update/incremental", nil, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, types.CodeNoBaseVersion, env.Error.Code)
	assert.Equal(t, 0, trigger.called)
}

func TestUpdateIncremental(t *testing.T) {
	state := &fakeStateReader{state: types.KGState{Status: types.StatusReady, LatestReadyVersion: "1600000000000"}}
	trigger := &fakeTrigger{result: &build.TriggerResult{
		TaskID:      "1700000000002",
		Status:      types.StatusUpdating,
		Version:     "1700000000002",
		BaseVersion: "1600000000000",
	}}
	srv := newTestServer(state, &fakeGraphReader{}, trigger)

	rec, env := doRequest(t, srv, http.MethodPost, "/kg/update/incremental", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1600000000000", trigger.lastBase)

	var resp types.TriggerIncrementalUpdateResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.Equal(t, types.StatusUpdating, resp.Status)
	assert.Equal(t, "1600000000000", resp.BaseVersion)
}

func TestReadEndpointsNeedReadyVersion(t *testing.T) {
	srv := newTestServer(&fakeStateReader{state: types.KGState{Status: types.StatusIdle}}, &fakeGraphReader{}, &fakeTrigger{})

	for _, target := range []string{"/kg/types/entities", "/kg/types/relations", "/kg/query", "/kg/stats"} {
		rec, env := doRequest(t, srv, http.MethodGet, target, nil, true)
		assert.Equal(t, http.StatusNotFound, rec.Code, target)
		require.NotNil(t, env.Error, target)
		assert.Equal(t, types.CodeNoReadyVersion, env.Error.Code, target)
	}
}

func TestEntityTypes(t *testing.T) {
	state := &fakeStateReader{state: types.KGState{Status: types.StatusReady, LatestReadyVersion: "1700000000000"}}
	graphs := &fakeGraphReader{entityTypes: []string{"person", "place"}}
	srv := newTestServer(state, graphs, &fakeTrigger{})

	rec, env := doRequest(t, srv, http.MethodGet, "/kg/types/entities", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp types.TypesResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.Equal(t, "1700000000000", resp.Version)
	assert.Equal(t, []string{"person", "place"}, resp.EntityTypes)
}

func TestQueryParamParsing(t *testing.T) {
	state := &fakeStateReader{state: types.KGState{Status: types.StatusReady, LatestReadyVersion: "1700000000000"}}
	graphs := &fakeGraphReader{}
	srv := newTestServer(state, graphs, &fakeTrigger{})

	target := "/kg/query?q=ada&limit_nodes=10&limit_edges=20&depth=4&entity_types=person,%20place&include_properties=true"
	rec, _ := doRequest(t, srv, http.MethodGet, target, nil, true)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "ada", graphs.lastOpts.Q)
	assert.Equal(t, 10, graphs.lastOpts.LimitNodes)
	assert.Equal(t, 20, graphs.lastOpts.LimitEdges)
	assert.Equal(t, 4, graphs.lastOpts.Depth)
	assert.Equal(t, []string{"person", "place"}, graphs.lastOpts.EntityTypes)
	assert.Nil(t, graphs.lastOpts.RelationTypes)
	assert.Equal(t, 30, graphs.lastOpts.MaxSeedNodes)
	assert.True(t, graphs.lastOpts.IncludeProperties)
}

func TestQueryDefaults(t *testing.T) {
	state := &fakeStateReader{state: types.KGState{Status: types.StatusReady, LatestReadyVersion: "1700000000000"}}
	graphs := &fakeGraphReader{}
	srv := newTestServer(state, graphs, &fakeTrigger{})

	rec, _ := doRequest(t, srv, http.MethodGet, "/kg/query", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, 500, graphs.lastOpts.LimitNodes)
	assert.Equal(t, 1000, graphs.lastOpts.LimitEdges)
	assert.Equal(t, 2, graphs.lastOpts.Depth)
	assert.False(t, graphs.lastOpts.IncludeProperties)
}

func TestQueryRejectsBadParams(t *testing.T) {
	state := &fakeStateReader{state: types.KGState{Status: types.StatusReady, LatestReadyVersion: "1700000000000"}}
	srv := newTestServer(state, &fakeGraphReader{}, &fakeTrigger{})

	tests := []struct {
		name   string
		target string
		param  string
	}{
		{"non-numeric limit", "/kg/query?limit_nodes=abc", "limit_nodes"},
		{"zero node limit", "/kg/query?limit_nodes=0", "limit_nodes"},
		{"negative edge limit", "/kg/query?limit_edges=-5", "limit_edges"},
		{"negative depth", "/kg/query?depth=-1", "depth"},
		{"depth above the maximum", "/kg/query?depth=9", "depth"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := doRequest(t, srv, http.MethodGet, tt.target, nil, true)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			require.NotNil(t, env.Error)
			assert.Equal(t, types.CodeInternalError, env.Error.Code)
			assert.Contains(t, env.Error.Message, tt.param)
		})
	}
}

func TestStats(t *testing.T) {
	state := &fakeStateReader{state: types.KGState{Status: types.StatusReady, LatestReadyVersion: "1700000000000"}}
	graphs := &fakeGraphReader{stats: types.GraphStats{EntityCount: 12, RelationCount: 30, NodeTypeCount: 4}}
	srv := newTestServer(state, graphs, &fakeTrigger{})

	rec, env := doRequest(t, srv, http.MethodGet, "/kg/stats", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp types.StatsResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.Equal(t, 12, resp.EntityCount)
	assert.Equal(t, 30, resp.RelationCount)
	assert.Equal(t, 4, resp.NodeTypeCount)
}

func TestStatusErrorsAreEnveloped(t *testing.T) {
	state := &fakeStateReader{err: errors.New("neo4j unavailable")}
	srv := newTestServer(state, &fakeGraphReader{}, &fakeTrigger{})

	rec, env := doRequest(t, srv, http.MethodGet, "/kg/status", nil, true)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Equal(t, types.CodeInternalError, env.Error.Code)
}

func TestClientRateLimit(t *testing.T) {
	cfg := testServerConfig()
	cfg.Server.RateLimit = config.HTTPLimit{RequestsPerSecond: 0.001, Burst: 1}
	srv := NewServer(cfg, &fakeStateReader{}, &fakeGraphReader{}, &fakeTrigger{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Real-IP", "10.0.0.1")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:1234"
	assert.Equal(t, "192.0.2.7", clientIP(req))

	req.Header.Set("X-Real-IP", "198.51.100.2")
	assert.Equal(t, "198.51.100.2", clientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 198.51.100.2")
	assert.Equal(t, "203.0.113.9", clientIP(req))
}

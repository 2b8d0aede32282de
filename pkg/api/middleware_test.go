package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/graphmill/graphmill/pkg/metrics"
	"github.com/graphmill/graphmill/pkg/types"
)

// Request metrics are labeled by route pattern, so arbitrary unmatched
// paths collapse into one label value instead of growing the series set.
func TestInstrumentUsesRoutePattern(t *testing.T) {
	state := &fakeStateReader{state: types.KGState{Status: types.StatusReady, LatestReadyVersion: "1700000000000"}}
	srv := newTestServer(state, &fakeGraphReader{}, &fakeTrigger{})

	send := func(target string) {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		req.Header.Set("Authorization", "Bearer "+testAPIKey)
		srv.Handler().ServeHTTP(httptest.NewRecorder(), req)
	}

	unmatched := testutil.ToFloat64(metrics.APIRequestsTotal.WithLabelValues(http.MethodGet, "unmatched", "404"))
	send("/no/such/route/1")
	send("/no/such/route/2")
	assert.Equal(t, unmatched+2,
		testutil.ToFloat64(metrics.APIRequestsTotal.WithLabelValues(http.MethodGet, "unmatched", "404")))
	assert.Zero(t,
		testutil.ToFloat64(metrics.APIRequestsTotal.WithLabelValues(http.MethodGet, "/no/such/route/1", "404")))

	matched := testutil.ToFloat64(metrics.APIRequestsTotal.WithLabelValues(http.MethodGet, "/kg/status", "200"))
	send("/kg/status")
	assert.Equal(t, matched+1,
		testutil.ToFloat64(metrics.APIRequestsTotal.WithLabelValues(http.MethodGet, "/kg/status", "200")))
}

package api

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/graphmill/graphmill/pkg/config"
	"github.com/graphmill/graphmill/pkg/log"
	"github.com/graphmill/graphmill/pkg/metrics"
	"github.com/graphmill/graphmill/pkg/types"
)

const requestIDHeader = "X-Request-ID"

// requestID assigns every request a UUID, echoed in the response header
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

// requestLogger logs one line per request with status and duration
func requestLogger(next http.Handler) http.Handler {
	logger := log.WithComponent("api")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("request_id", ww.Header().Get(requestIDHeader)).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}

// instrument records request counts and latencies. The path label is the
// chi route pattern, not the raw URL, so unmatched paths cannot grow the
// label space without bound.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		path := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		metrics.APIRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(ww.Status())).Inc()
		metrics.APIRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// clientLimiter rate-limits per client IP. Disabled when the configured
// rate is zero or negative.
type clientLimiter struct {
	cfg      config.HTTPLimit
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newClientLimiter(cfg config.HTTPLimit) *clientLimiter {
	return &clientLimiter{cfg: cfg, limiters: make(map[string]*rate.Limiter)}
}

func (c *clientLimiter) limiterFor(ip string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Bounded reset instead of per-entry expiry
	if len(c.limiters) > 10000 {
		c.limiters = make(map[string]*rate.Limiter)
	}
	limiter, ok := c.limiters[ip]
	if !ok {
		burst := max(1, c.cfg.Burst)
		limiter = rate.NewLimiter(rate.Limit(c.cfg.RequestsPerSecond), burst)
		c.limiters[ip] = limiter
	}
	return limiter
}

func (c *clientLimiter) middleware(next http.Handler) http.Handler {
	if c.cfg.RequestsPerSecond <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !c.limiterFor(ip).Allow() {
			writeError(w, http.StatusTooManyRequests, types.CodeInternalError, "too many requests", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP extracts the client address, preferring forwarded headers
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// bearerAuth enforces the configured API key. Missing and invalid tokens
// are distinguished by error code; both answer 401 with a
// WWW-Authenticate challenge.
func bearerAuth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" || !strings.HasPrefix(header, "Bearer ") {
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeError(w, http.StatusUnauthorized, types.CodeTokenIsNull,
					"missing credentials; provide Authorization: Bearer <token>", nil)
				return
			}
			token := strings.TrimPrefix(header, "Bearer ")
			if subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeError(w, http.StatusUnauthorized, types.CodeTokenFailOrExpire,
					"invalid authentication token", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

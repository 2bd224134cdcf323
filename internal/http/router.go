package httpx

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/csarrepo/csarrepo/internal/repository"
	"github.com/csarrepo/csarrepo/internal/service/auth"
	"github.com/csarrepo/csarrepo/internal/service/csar"
	"github.com/csarrepo/csarrepo/internal/service/deploy"
	"github.com/csarrepo/csarrepo/internal/service/server"
	"github.com/csarrepo/csarrepo/internal/ws"
)

// Services bundles what the router dispatches to.
type Services struct {
	Auth    auth.Service
	Csars   csar.Service
	Servers server.Service
	Deploy  deploy.Service
	Hub     *ws.Hub
}

// Router wires HTTP endpoints to services.
type Router struct {
	mux       *http.ServeMux
	logger    *slog.Logger
	auth      auth.Service
	csars     csar.Service
	servers   server.Service
	deploy    deploy.Service
	hub       *ws.Hub
	upgrader  websocket.Upgrader
	limiter   RateLimiter
	maxUpload int64
	dbHealth  func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
	streamClients      prometheus.Gauge
}

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitSignup    = 5
	rateLimitLogin     = 12
	rateLimitUserWrite = 60
	rateLimitUserRead  = 240
	rateLimitDeploy    = 20
	rateLimitRemote    = 60
	rateLimitStream    = 30
	healthCheckTimeout = 2 * time.Second
	sseHeartbeat       = 25 * time.Second
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, svc Services, limiter RateLimiter, maxUpload int64, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:     http.NewServeMux(),
		logger:  logger,
		auth:    svc.Auth,
		csars:   svc.Csars,
		servers: svc.Servers,
		deploy:  svc.Deploy,
		hub:     svc.Hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:   limiter,
		maxUpload: maxUpload,
		dbHealth:  dbHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.handle("GET /healthz", r.handleHealthz)
	r.mux.Handle("GET /metrics", promhttp.Handler())

	r.handle("POST /auth/signup", r.withRateLimit("/auth/signup", rateLimitSignup, rateWindowDefault, rateLimitKeyIP, r.handleSignup))
	r.handle("POST /auth/login", r.withRateLimit("/auth/login", rateLimitLogin, rateWindowDefault, rateLimitKeyIP, r.handleLogin))

	r.authed("GET /csars", rateLimitUserRead, rateWindowDefault, r.handleListCsars)
	r.authed("POST /csars", rateLimitUserWrite, rateWindowDefault, r.handleCreateCsar)
	r.authed("GET /csars/{id}", rateLimitUserRead, rateWindowDefault, r.handleShowCsar)
	r.authed("DELETE /csars/{id}", rateLimitUserWrite, rateWindowDefault, r.handleDeleteCsar)
	r.authed("POST /csars/{id}", rateLimitUserWrite, rateWindowDefault, r.handleUploadCsarFile)
	r.authed("GET /csars/{id}/{fileID}", rateLimitUserRead, rateWindowDefault, r.handleShowCsarFile)
	r.authed("DELETE /csars/{id}/{fileID}", rateLimitUserWrite, rateWindowDefault, r.handleDeleteCsarFile)
	r.authed("GET /csars/{id}/{fileID}/content", rateLimitUserRead, rateWindowDefault, r.handleDownloadCsarFile)

	r.authed("GET /servers/{kind}", rateLimitUserRead, rateWindowDefault, r.handleListServers)
	r.authed("POST /servers/{kind}", rateLimitUserWrite, rateWindowDefault, r.handleCreateServer)
	r.authed("GET /servers/{kind}/{id}", rateLimitUserRead, rateWindowDefault, r.handleShowServer)
	r.authed("DELETE /servers/{kind}/{id}", rateLimitUserWrite, rateWindowDefault, r.handleDeleteServer)
	r.authed("GET /servers/opentosca/{id}/csars", rateLimitRemote, rateWindowDefault, r.handleRemoteCsars)
	r.authed("GET /servers/opentosca/{id}/instances", rateLimitRemote, rateWindowDefault, r.handleRemoteInstances)

	r.authed("POST /csarfiles/{fileID}/deployments", rateLimitDeploy, rateWindowDefault, r.handleDeploy)
	r.authed("DELETE /csarfiles/{fileID}/deployments/{serverID}", rateLimitDeploy, rateWindowDefault, r.handleUndeploy)

	r.authed("GET /ws/deployments", rateLimitStream, rateWindowRealtime, r.handleDeploymentsWS)
	r.authed("GET /events/deployments", rateLimitStream, rateWindowRealtime, r.handleDeploymentsSSE)
}

func (r *Router) handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, r.audit(routeLabel(pattern), h))
}

func (r *Router) authed(pattern string, limit int, window time.Duration, h http.HandlerFunc) {
	route := routeLabel(pattern)
	r.mux.HandleFunc(pattern, r.audit(route, r.handlerAuthRate(route, limit, window, h)))
}

// routeLabel strips the method from a mux pattern.
func routeLabel(pattern string) string {
	if _, path, ok := strings.Cut(pattern, " "); ok {
		return path
	}
	return pattern
}

func pathID(req *http.Request, name string) (int64, error) {
	raw := req.PathValue(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q: %w", name, raw, repository.ErrInvalidArgument)
	}
	return id, nil
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, route, status, duration)

		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"route", route,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if info, ok := authInfoFromContext(ctx); ok {
			fields = append(fields, "user_id", info.UserID, "actor", info.Name)
		} else {
			fields = append(fields, "actor", "anonymous")
		}

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	if sr.status == 0 {
		sr.status = code
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		sr.status = http.StatusSwitchingProtocols
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

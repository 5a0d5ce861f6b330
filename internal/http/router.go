package httpx

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/splax/localvercel/intake/internal/domain"
	"github.com/splax/localvercel/intake/internal/ratelimit"
	"github.com/splax/localvercel/intake/internal/service/intake"
	"github.com/splax/localvercel/intake/internal/service/remediation"
	"github.com/splax/localvercel/intake/internal/service/webhook"
	"github.com/splax/localvercel/intake/internal/store"
	"github.com/splax/localvercel/intake/internal/ws"
)

const (
	failuresPath       = "/api/deployment-failures"
	streamPath         = "/ws/deployment-failures"
	eventsPath         = "/sse/deployment-failures"
	heartbeatInterval  = 25 * time.Second
	healthCheckTimeout = 2 * time.Second
	historyLimit       = 100
)

// Options carries router dependencies. Remediation, Hub and the health
// checks are optional.
type Options struct {
	Logger      *slog.Logger
	Intake      *intake.Service
	Remediation *remediation.Service
	Verifier    webhook.Verifier
	Limiter     *ratelimit.Limiter
	Auth        *Authenticator
	Hub         *ws.Hub

	MaxBodyBytes       int64
	WebhookRequireAuth bool
	ReadRequireAuth    bool
	TrustProxyHeaders  bool

	StoreHealth func(context.Context) error
	DBHealth    func(context.Context) error

	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

// Router wires HTTP endpoints to services.
type Router struct {
	mux         *http.ServeMux
	logger      *slog.Logger
	intake      *intake.Service
	remediation *remediation.Service
	verifier    webhook.Verifier
	limiter     *ratelimit.Limiter
	validator   *Validator
	hub         *ws.Hub
	upgrader    websocket.Upgrader
	metrics     *routerMetrics
	gatherer    prometheus.Gatherer

	maxBody            int64
	heartbeat          time.Duration
	webhookRequireAuth bool
	readRequireAuth    bool
	trustProxy         bool

	storeHealth func(context.Context) error
	dbHealth    func(context.Context) error
}

// NewRouter assembles routes with dependencies.
func NewRouter(opts Options) *Router {
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	r := &Router{
		mux:         http.NewServeMux(),
		logger:      opts.Logger,
		intake:      opts.Intake,
		remediation: opts.Remediation,
		verifier:    opts.Verifier,
		limiter:     opts.Limiter,
		validator:   NewValidator(opts.Auth, maxBody, opts.Logger),
		hub:         opts.Hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		metrics:            newRouterMetrics(opts.Registerer),
		gatherer:           opts.Gatherer,
		maxBody:            maxBody,
		heartbeat:          heartbeatInterval,
		webhookRequireAuth: opts.WebhookRequireAuth,
		readRequireAuth:    opts.ReadRequireAuth,
		trustProxy:         opts.TrustProxyHeaders,
		storeHealth:        opts.StoreHealth,
		dbHealth:           opts.DBHealth,
	}
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
	r.mux.HandleFunc("/healthz", r.audit("healthz", r.handleHealthz))
	r.mux.HandleFunc(failuresPath, r.audit("failures", r.handleFailures))
	r.mux.HandleFunc(failuresPath+"/", r.audit("failure", r.handleFailureSubroutes))
	r.mux.HandleFunc(streamPath, r.audit("stream", r.handleStream))
	r.mux.HandleFunc(eventsPath, r.audit("events", r.handleEvents))
	if r.gatherer != nil {
		r.mux.Handle("/metrics", promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{}))
	}
}

func (r *Router) handleFailures(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodPost:
		r.handleIngest(w, req)
	case http.MethodGet:
		r.handleList(w, req)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleIngest(w http.ResponseWriter, req *http.Request) {
	if rerr := r.validator.Validate(req, r.webhookRequireAuth); rerr != nil {
		writeRequestError(w, rerr)
		return
	}
	if !r.admit(w, req, "ingest", true) {
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, r.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "could not read body")
		return
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		writeError(w, http.StatusBadRequest, "request body is empty")
		return
	}
	if !r.verifier.Verify(body, webhook.SignatureFromRequest(req)) {
		r.logger.Warn("webhook signature mismatch", "path", req.URL.Path, "ip", r.clientIP(req))
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	rec, err := r.intake.Ingest(req.Context(), body)
	if err != nil {
		var payloadErr *intake.PayloadError
		switch {
		case errors.Is(err, intake.ErrInvalidJSON):
			writeError(w, http.StatusBadRequest, "invalid JSON body")
		case errors.Is(err, intake.ErrUnrecognizedPayload):
			writeError(w, http.StatusBadRequest, "unrecognized payload format")
		case errors.As(err, &payloadErr):
			writeError(w, http.StatusBadRequest, payloadErr.Error())
		default:
			r.logger.Error("failed to record deployment failure", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to record deployment failure")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"errorId": rec.ID,
		"message": "Deployment failure recorded",
	})
}

func (r *Router) handleList(w http.ResponseWriter, req *http.Request) {
	req, ok := r.guardRead(w, req, "list")
	if !ok {
		return
	}
	query := req.URL.Query()
	status := domain.StatusPending
	if raw := strings.TrimSpace(query.Get("status")); raw != "" {
		status = domain.Status(strings.ToLower(raw))
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, "invalid status")
			return
		}
	}
	limit := intake.DefaultListLimit
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	records, err := r.intake.List(req.Context(), status, limit)
	if err != nil {
		r.logger.Error("failed to list deployment failures", "status", status, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list deployment failures")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"errors": records,
		"count":  len(records),
		"status": status,
	})
}

func (r *Router) handleFailureSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(req.URL.Path, failuresPath+"/"), "/")
	if trimmed == "" {
		r.notFound(w)
		return
	}
	parts := strings.Split(trimmed, "/")
	id := parts[0]
	switch {
	case len(parts) == 1:
		if req.Method != http.MethodGet {
			r.methodNotAllowed(w)
			return
		}
		r.handleGet(w, req, id)
	case len(parts) == 2 && parts[1] == "transition":
		if req.Method != http.MethodPost {
			r.methodNotAllowed(w)
			return
		}
		r.handleTransition(w, req, id)
	default:
		r.notFound(w)
	}
}

func (r *Router) handleGet(w http.ResponseWriter, req *http.Request, id string) {
	req, ok := r.guardRead(w, req, "get")
	if !ok {
		return
	}
	rec, err := r.intake.Get(req.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			r.notFound(w)
			return
		}
		r.logger.Error("failed to load deployment failure", "error_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load deployment failure")
		return
	}
	history := []domain.Transition{}
	if r.remediation != nil {
		items, err := r.remediation.History(req.Context(), id, historyLimit)
		if err != nil {
			r.logger.Warn("failed to load transition history", "error_id", id, "error", err)
		} else {
			history = items
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"error":   rec,
		"history": history,
	})
}

func (r *Router) handleTransition(w http.ResponseWriter, req *http.Request, id string) {
	if r.remediation == nil {
		r.notFound(w)
		return
	}
	if rerr := r.validator.Validate(req, true); rerr != nil {
		writeRequestError(w, rerr)
		return
	}
	if info, ok := r.validator.Identify(req); ok {
		req = withAuthInfo(w, req, info)
	}
	if !r.admit(w, req, "transition", false) {
		return
	}

	var payload remediation.TransitionRequest
	if err := decodeJSON(http.MaxBytesReader(w, req.Body, r.maxBody), &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := r.remediation.Transition(req.Context(), id, payload)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			r.notFound(w)
		case remediation.IsConflict(err):
			writeError(w, http.StatusConflict, err.Error())
		default:
			r.logger.Error("failed to transition deployment failure", "error_id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to update deployment failure")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"record":  rec,
	})
}

func (r *Router) handleStream(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	if r.hub == nil {
		r.notFound(w)
		return
	}
	req, ok := r.guardRead(w, req, "stream")
	if !ok {
		return
	}
	topic := strings.TrimSpace(req.URL.Query().Get("project"))
	if topic == "" {
		topic = ws.AllTopics
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(topic, client)
	go func() {
		defer func() {
			r.hub.Unregister(topic, client)
			client.Close()
		}()
		client.ReadPump()
	}()
}

func (r *Router) handleEvents(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	if r.hub == nil {
		r.notFound(w)
		return
	}
	req, ok := r.guardRead(w, req, "events")
	if !ok {
		return
	}
	topic := strings.TrimSpace(req.URL.Query().Get("project"))
	if topic == "" {
		topic = ws.AllTopics
	}
	client, err := ws.NewSSEClient(w, r.logger)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	r.hub.Register(topic, client)
	defer func() {
		r.hub.Unregister(topic, client)
		client.Finish()
	}()

	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-req.Context().Done():
			client.Close()
			return
		case <-client.Done():
			return
		case <-ticker.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}

// guardRead applies read authentication and the api rate budget.
func (r *Router) guardRead(w http.ResponseWriter, req *http.Request, route string) (*http.Request, bool) {
	if rerr := r.validator.Validate(req, r.readRequireAuth); rerr != nil {
		writeRequestError(w, rerr)
		return req, false
	}
	if info, ok := r.validator.Identify(req); ok {
		req = withAuthInfo(w, req, info)
	}
	return req, r.admit(w, req, route, false)
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	check := func(name string, fn func(context.Context) error) {
		if fn == nil {
			return
		}
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			status = "degraded"
			components[name] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
			return
		}
		components[name] = map[string]any{"status": "up"}
	}
	check("store", r.storeHealth)
	check("database", r.dbHealth)

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

		actor := "anonymous"
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := r.clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if info, ok := authInfoFromContext(ctx); ok {
			actor = info.Subject
			fields = append(fields, "auth_method", info.Method)
		} else if req.URL.Path == failuresPath && req.Method == http.MethodPost {
			actor = "webhook"
		}
		fields = append(fields, "actor", actor)

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
	sr.status = code
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

func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}

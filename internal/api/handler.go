package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/felipepmaragno/llm-gateway/internal/auth"
	"github.com/felipepmaragno/llm-gateway/internal/domain"
	"github.com/felipepmaragno/llm-gateway/internal/gateway"
	"github.com/felipepmaragno/llm-gateway/internal/metrics"
	"github.com/felipepmaragno/llm-gateway/internal/ratelimit"
	"github.com/felipepmaragno/llm-gateway/internal/resilience"
)

const maxRequestDeadline = 5 * time.Minute

type HandlerConfig struct {
	Gateway     *gateway.Gateway
	Auth        auth.Store
	RateLimiter ratelimit.RateLimiter
	Breakers    *resilience.Manager
}

type Handler struct {
	gateway     *gateway.Gateway
	auth        auth.Store
	rateLimiter ratelimit.RateLimiter
	breakers    *resilience.Manager
	mux         *http.ServeMux
}

func NewHandler(cfg HandlerConfig) *Handler {
	h := &Handler{
		gateway:     cfg.Gateway,
		auth:        cfg.Auth,
		rateLimiter: cfg.RateLimiter,
		breakers:    cfg.Breakers,
		mux:         http.NewServeMux(),
	}

	h.mux.HandleFunc("POST /v1/completions", h.handleCompletions)
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /health/live", h.handleHealthLive)
	h.mux.HandleFunc("GET /health/ready", h.handleHealthReady)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// completionRequest is the wire shape of POST /v1/completions.
type completionRequest struct {
	Capability        string           `json:"capability"`
	Messages          []domain.Message `json:"messages"`
	MaxTokens         int              `json:"max_tokens,omitempty"`
	Temperature       *float64         `json:"temperature,omitempty"`
	PreferredProvider string           `json:"provider,omitempty"`
	TimeoutMs         int              `json:"timeout_ms,omitempty"`
}

func (h *Handler) handleCompletions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.New().String()
	}

	apiKey := extractAPIKey(r)
	if apiKey == "" {
		writeError(w, http.StatusUnauthorized, "missing API key")
		return
	}

	principal, err := h.auth.Authenticate(ctx, apiKey)
	if err != nil {
		slog.Warn("invalid API key", "request_id", requestID)
		writeError(w, http.StatusUnauthorized, "invalid API key")
		return
	}

	if h.rateLimiter != nil && principal.RateLimitRPM > 0 {
		allowed, remaining, resetAt, err := h.rateLimiter.Allow(ctx, principal.ID, principal.RateLimitRPM)
		if err != nil {
			slog.Error("rate limiter error", "error", err, "request_id", requestID)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(principal.RateLimitRPM))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", resetAt.Format(time.RFC3339))

		if !allowed {
			metrics.RecordRateLimitHit(principal.ID)
			slog.Warn("rate limit exceeded", "principal", principal.ID, "request_id", requestID)
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
	}

	var body completionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if body.TimeoutMs > 0 {
		timeout := time.Duration(body.TimeoutMs) * time.Millisecond
		if timeout > maxRequestDeadline {
			timeout = maxRequestDeadline
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req := domain.Request{
		ID:                requestID,
		Principal:         principal.ID,
		Capability:        domain.Capability(body.Capability),
		Messages:          body.Messages,
		MaxTokens:         body.MaxTokens,
		Temperature:       body.Temperature,
		PreferredProvider: body.PreferredProvider,
	}

	resp, err := h.gateway.Complete(ctx, req)
	if err != nil {
		status, message := statusForError(err)
		slog.Warn("completion failed",
			"request_id", requestID,
			"principal", principal.ID,
			"status", status,
			"error", err,
		)
		writeError(w, status, message)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", requestID)
	if resp.Cached {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	json.NewEncoder(w).Encode(resp)
}

// statusForError maps gateway errors onto HTTP status codes.
func statusForError(err error) (int, string) {
	var allFailed *domain.AllProvidersFailedError
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrBudgetExceeded):
		return http.StatusPaymentRequired, "budget exceeded"
	case errors.Is(err, domain.ErrDeadlineExceeded):
		return http.StatusGatewayTimeout, "request deadline exceeded"
	case errors.Is(err, domain.ErrNoProviderAvailable):
		return http.StatusBadGateway, "no provider available"
	case errors.As(err, &allFailed):
		return http.StatusBadGateway, allFailed.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	breakers := map[string]string{}
	if h.breakers != nil {
		for name, state := range h.breakers.States() {
			breakers[name] = state.String()
			if state == resilience.StateOpen {
				status = "degraded"
			}
		}
	}

	resp := map[string]any{
		"status":           status,
		"circuit_breakers": breakers,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (h *Handler) handleHealthLive(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (h *Handler) handleHealthReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func extractAPIKey(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    "error",
			"code":    status,
		},
	})
}

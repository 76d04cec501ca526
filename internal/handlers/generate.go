package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"gridprompt/internal/core"
	"gridprompt/internal/provider"
	"gridprompt/pkg/logging"
)

// GenerateHandler fronts the orchestration core for the function layer.
type GenerateHandler struct {
	Core *core.Core
}

func NewGenerateHandler(c *core.Core) *GenerateHandler {
	return &GenerateHandler{Core: c}
}

type okResponse struct {
	OK bool `json:"ok"`
	*core.Result
}

type errResponse struct {
	OK         bool   `json:"ok"`
	ErrorCode  string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"http_status,omitempty"` // upstream status, if any
}

// Generate handles POST /v1/generate.
func (h *GenerateHandler) Generate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.L(ctx)

	var req core.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid request body", zap.Error(err))
		writeError(w, provider.NewError(provider.ErrInvalidRequest, "invalid JSON: "+err.Error()))
		return
	}

	res, err := h.Core.Generate(ctx, &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true, Result: res})
}

// Ping handles GET /v1/ping: a fixed trivial prompt with caching disabled,
// for key/connectivity validation.
func (h *GenerateHandler) Ping(w http.ResponseWriter, r *http.Request) {
	opts := core.PingOptions{
		Provider: r.URL.Query().Get("provider"),
		Model:    r.URL.Query().Get("model"),
	}
	if v := r.URL.Query().Get("timeout_ms"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			opts.TimeoutMs = ms
		}
	}

	res, err := h.Core.Ping(r.Context(), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true, Result: res})
}

// Diagnostics handles GET /v1/diagnostics.
func (h *GenerateHandler) Diagnostics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Core.Snapshot())
}

// DiagnosticsReset handles POST /v1/diagnostics/reset.
func (h *GenerateHandler) DiagnosticsReset(w http.ResponseWriter, r *http.Request) {
	h.Core.Reset()
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// statusFor maps the error taxonomy onto HTTP statuses for this surface.
func statusFor(code provider.ErrorCode) int {
	switch code {
	case provider.ErrInvalidRequest:
		return http.StatusBadRequest
	case provider.ErrMissingKey:
		return http.StatusInternalServerError
	case provider.ErrCacheOnlyMiss:
		return http.StatusNotFound
	case provider.ErrTimeout:
		return http.StatusGatewayTimeout
	case provider.ErrRateLimited:
		return http.StatusTooManyRequests
	case provider.ErrPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case provider.ErrBlocked:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

func writeError(w http.ResponseWriter, err error) {
	var perr *provider.Error
	if !errors.As(err, &perr) {
		perr = provider.NewError(provider.ErrUpstream, err.Error())
	}
	writeJSON(w, statusFor(perr.Code), errResponse{
		OK:         false,
		ErrorCode:  string(perr.Code),
		Message:    perr.Message,
		HTTPStatus: perr.HTTPStatus,
	})
}

// writeJSON is a small helper to send JSON responses consistently.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gridprompt/internal/core"
	"gridprompt/internal/provider"
)

// upstream is a minimal chat-completions stub behind the core.
func upstream(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

const okChatBody = `{
	"choices":[{"index":0,"message":{"role":"assistant","content":"Bonjour"},"finish_reason":"stop"}],
	"usage":{"prompt_tokens":10,"completion_tokens":2,"total_tokens":12}
}`

func newTestRouter(t *testing.T, srv *httptest.Server) *chi.Mux {
	t.Helper()
	engine := core.New(core.Config{
		Providers: map[provider.Name]core.ProviderConfig{
			provider.OpenAI: {BaseURL: srv.URL, APIKey: "test-key"},
		},
		HTTPClient: srv.Client(),
	}, nil, zap.NewNop())
	t.Cleanup(func() { engine.Close() })

	h := NewGenerateHandler(engine)
	r := chi.NewRouter()
	r.Post("/v1/generate", h.Generate)
	r.Get("/v1/ping", h.Ping)
	r.Get("/v1/diagnostics", h.Diagnostics)
	r.Post("/v1/diagnostics/reset", h.DiagnosticsReset)
	return r
}

func TestGenerateEndpointSuccess(t *testing.T) {
	r := newTestRouter(t, upstream(t, http.StatusOK, okChatBody))

	body := `{"provider":"openai","model":"gpt-4o-mini","input":"Translate hello"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/generate", strings.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		OK     bool   `json:"ok"`
		Text   string `json:"text"`
		Cached bool   `json:"cached"`
		Digest string `json:"digest"`
		Usage  struct {
			TotalTokens int `json:"total_tokens"`
		} `json:"usage"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.OK)
	assert.Equal(t, "Bonjour", got.Text)
	assert.False(t, got.Cached)
	assert.Len(t, got.Digest, 64)
	assert.Equal(t, 12, got.Usage.TotalTokens)
}

func TestGenerateEndpointInvalidJSON(t *testing.T) {
	r := newTestRouter(t, upstream(t, http.StatusOK, okChatBody))

	req := httptest.NewRequest(http.MethodPost, "/v1/generate", strings.NewReader(`{not json`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)

	var got errResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.False(t, got.OK)
	assert.Equal(t, string(provider.ErrInvalidRequest), got.ErrorCode)
}

func TestGenerateEndpointValidationError(t *testing.T) {
	r := newTestRouter(t, upstream(t, http.StatusOK, okChatBody))

	req := httptest.NewRequest(http.MethodPost, "/v1/generate",
		strings.NewReader(`{"provider":"openai","model":"","input":"x"}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenerateEndpointUpstreamErrorMapping(t *testing.T) {
	cases := []struct {
		name         string
		upStatus     int
		upBody       string
		wantStatus   int
		wantErrCode  string
	}{
		{"rate limited", 429, `{"error":{"message":"slow down"}}`, http.StatusTooManyRequests, "RATE_LIMITED"},
		{"auth", 401, `{"error":{"message":"bad key"}}`, http.StatusBadGateway, "AUTHENTICATION"},
		{"server error", 500, `{"error":{"message":"boom"}}`, http.StatusBadGateway, "UPSTREAM_ERROR"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newTestRouter(t, upstream(t, tc.upStatus, tc.upBody))

			req := httptest.NewRequest(http.MethodPost, "/v1/generate",
				strings.NewReader(`{"provider":"openai","model":"gpt-4o-mini","input":"x","max_retries":0}`))
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			var got errResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			assert.False(t, got.OK)
			assert.Equal(t, tc.wantErrCode, got.ErrorCode)
			assert.Equal(t, tc.wantStatus, rec.Code)
		})
	}
}

func TestGenerateEndpointCacheOnlyMissIs404(t *testing.T) {
	r := newTestRouter(t, upstream(t, http.StatusOK, okChatBody))

	req := httptest.NewRequest(http.MethodPost, "/v1/generate",
		strings.NewReader(`{"provider":"openai","model":"gpt-4o-mini","input":"x","cache_only":true}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)

	var got errResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, string(provider.ErrCacheOnlyMiss), got.ErrorCode)
}

func TestPingEndpoint(t *testing.T) {
	r := newTestRouter(t, upstream(t, http.StatusOK, okChatBody))

	req := httptest.NewRequest(http.MethodGet, "/v1/ping?provider=openai", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		OK     bool   `json:"ok"`
		Text   string `json:"text"`
		Cached bool   `json:"cached"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.OK)
	assert.False(t, got.Cached)
}

func TestDiagnosticsEndpoints(t *testing.T) {
	r := newTestRouter(t, upstream(t, http.StatusOK, okChatBody))

	// One real call so the counters have something to show.
	genReq := httptest.NewRequest(http.MethodPost, "/v1/generate",
		strings.NewReader(`{"provider":"openai","model":"gpt-4o-mini","input":"x"}`))
	r.ServeHTTP(httptest.NewRecorder(), genReq)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/diagnostics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var snap struct {
		Counters struct {
			Requests int64 `json:"requests"`
		} `json:"counters"`
		Totals struct {
			TotalTokens int64 `json:"total_tokens"`
		} `json:"totals"`
		Log []json.RawMessage `json:"log"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, int64(1), snap.Counters.Requests)
	assert.Equal(t, int64(12), snap.Totals.TotalTokens)
	assert.Len(t, snap.Log, 1)

	// Reset zeroes everything.
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/diagnostics/reset", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/diagnostics", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Zero(t, snap.Counters.Requests)
}

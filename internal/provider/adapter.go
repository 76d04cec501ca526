package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Name selects one of the supported vendors.
type Name string

const (
	OpenAI Name = "openai"
	Gemini Name = "gemini"
)

// ParseName validates a provider selector coming from the caller.
func ParseName(s string) (Name, error) {
	switch Name(s) {
	case OpenAI, Gemini:
		return Name(s), nil
	case "":
		return OpenAI, nil
	default:
		return "", fmt.Errorf("unknown provider %q", s)
	}
}

// ToolDecl declares one callable function exposed to the model.
type ToolDecl struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"` // JSON Schema
}

// Request is the provider-agnostic semantic content of one generate call.
// Everything in here participates in the cache key; policy knobs (timeout,
// retries, cache mode) live on the core request instead.
type Request struct {
	Provider        Name            `json:"provider"`
	Model           string          `json:"model"`
	System          string          `json:"system,omitempty"`
	Input           string          `json:"input"`
	Temperature     *float64        `json:"temperature,omitempty"`
	TopP            *float64        `json:"top_p,omitempty"`
	MaxOutputTokens int             `json:"max_output_tokens,omitempty"`
	Stop            []string        `json:"stop,omitempty"`
	CandidateCount  int             `json:"candidate_count,omitempty"`
	Schema          json.RawMessage `json:"schema,omitempty"` // structured-output JSON schema
	Tools           []ToolDecl      `json:"tools,omitempty"`
}

func (r *Request) Validate() error {
	if r == nil {
		return errors.New("request is nil")
	}
	if _, err := ParseName(string(r.Provider)); err != nil {
		return err
	}
	if r.Model == "" {
		return errors.New("model is required")
	}
	if r.Input == "" {
		return errors.New("input is required")
	}
	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 2) {
		return errors.New("temperature must be between 0 and 2")
	}
	if r.TopP != nil && (*r.TopP < 0 || *r.TopP > 1) {
		return errors.New("top_p must be between 0 and 1")
	}
	if r.MaxOutputTokens < 0 {
		return errors.New("max_output_tokens must be >= 0")
	}
	if r.CandidateCount < 0 {
		return errors.New("candidate_count must be >= 0")
	}
	for i, tl := range r.Tools {
		if tl.Name == "" {
			return fmt.Errorf("tools[%d]: name is required", i)
		}
	}
	return nil
}

// Usage is the vendor-reported token accounting for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Result is the common shape every vendor response is mapped to.
// Text concatenates all textual and tool-call segments of the first
// candidate; tool calls are rendered as their JSON arguments.
type Result struct {
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason,omitempty"`
	Usage        Usage  `json:"usage"`
}

// Adapter maps the agnostic Request onto one vendor's wire format and back.
// The orchestration core depends only on this interface.
type Adapter interface {
	Name() Name

	// Endpoint returns the full URL for a non-streaming generate call.
	Endpoint(baseURL, model string) string

	// BuildBody renders the vendor JSON request body.
	BuildBody(req *Request) ([]byte, error)

	// SetHeaders applies the vendor's auth and content-type headers.
	SetHeaders(h http.Header, apiKey string)

	// ParseResponse maps a 2xx body to a Result. A response with no usable
	// text or tool segments returns an EMPTY_RESPONSE error; a response
	// flagged by the vendor's safety metadata returns BLOCKED.
	ParseResponse(body []byte) (*Result, error)

	// ParseError maps a non-2xx status and body to a classified *Error.
	ParseError(status int, body []byte) *Error
}

// classifyStatus is the shared status-to-code mapping; vendors refine the
// message but agree on retryability.
func classifyStatus(status int, msg, vendor string) *Error {
	var code ErrorCode
	retryable := false
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		code = ErrAuthentication
	case status == http.StatusTooManyRequests:
		code = ErrRateLimited
		retryable = true
	case status == http.StatusRequestEntityTooLarge:
		code = ErrPayloadTooLarge
	case status == http.StatusBadRequest, status == http.StatusNotFound,
		status == http.StatusUnprocessableEntity:
		code = ErrInvalidRequest
	case status >= 500 && status <= 599:
		code = ErrUpstream
		retryable = true
	default:
		code = ErrUpstream
	}
	if msg == "" {
		msg = fmt.Sprintf("upstream status %d", status)
	}
	return NewError(code, msg).
		WithHTTPStatus(status).
		WithRetryable(retryable).
		WithProvider(vendor)
}

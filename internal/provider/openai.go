package provider

import (
	"encoding/json"
	"net/http"
	"strings"
)

// OpenAIAdapter speaks the chat completions wire format. It also covers the
// many OpenAI-compatible upstreams, which is why BaseURL stays configurable.
type OpenAIAdapter struct{}

func NewOpenAIAdapter() *OpenAIAdapter { return &OpenAIAdapter{} }

func (a *OpenAIAdapter) Name() Name { return OpenAI }

func (a *OpenAIAdapter) Endpoint(baseURL, _ string) string {
	return strings.TrimRight(baseURL, "/") + "/v1/chat/completions"
}

func (a *OpenAIAdapter) SetHeaders(h http.Header, apiKey string) {
	h.Set("Authorization", "Bearer "+apiKey)
	h.Set("Content-Type", "application/json")
}

type oaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaJSONSchema struct {
	Name   string          `json:"name"`
	Schema json.RawMessage `json:"schema"`
	Strict bool            `json:"strict,omitempty"`
}

type oaResponseFormat struct {
	Type       string        `json:"type"`
	JSONSchema *oaJSONSchema `json:"json_schema,omitempty"`
}

type oaFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type oaTool struct {
	Type     string     `json:"type"`
	Function oaFunction `json:"function"`
}

type oaRequest struct {
	Model          string            `json:"model"`
	Messages       []oaMessage       `json:"messages"`
	Temperature    *float64          `json:"temperature,omitempty"`
	TopP           *float64          `json:"top_p,omitempty"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	Stop           []string          `json:"stop,omitempty"`
	N              int               `json:"n,omitempty"`
	ResponseFormat *oaResponseFormat `json:"response_format,omitempty"`
	Tools          []oaTool          `json:"tools,omitempty"`
	Stream         bool              `json:"stream,omitempty"`
}

type oaToolCall struct {
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type oaChoice struct {
	Index   int `json:"index"`
	Message struct {
		Role string `json:"role"`
		// Pointer so a present-but-empty string stays distinguishable
		// from an absent content field.
		Content   *string      `json:"content"`
		ToolCalls []oaToolCall `json:"tool_calls,omitempty"`
	} `json:"message"`
	FinishReason string `json:"finish_reason,omitempty"`
}

type oaUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type oaResponse struct {
	ID      string     `json:"id"`
	Model   string     `json:"model"`
	Choices []oaChoice `json:"choices"`
	Usage   *oaUsage   `json:"usage,omitempty"`
}

type oaErrorResponse struct {
	Error struct {
		Message string      `json:"message"`
		Type    string      `json:"type"`
		Code    interface{} `json:"code"`
	} `json:"error"`
}

func (a *OpenAIAdapter) BuildBody(req *Request) ([]byte, error) {
	msgs := make([]oaMessage, 0, 2)
	if req.System != "" {
		msgs = append(msgs, oaMessage{Role: "system", Content: req.System})
	}
	msgs = append(msgs, oaMessage{Role: "user", Content: req.Input})

	body := oaRequest{
		Model:       req.Model,
		Messages:    msgs,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxOutputTokens,
		Stop:        req.Stop,
		N:           req.CandidateCount,
	}

	if len(req.Schema) > 0 {
		body.ResponseFormat = &oaResponseFormat{
			Type: "json_schema",
			JSONSchema: &oaJSONSchema{
				Name:   "response",
				Schema: req.Schema,
			},
		}
	}

	for _, tl := range req.Tools {
		body.Tools = append(body.Tools, oaTool{
			Type: "function",
			Function: oaFunction{
				Name:        tl.Name,
				Description: tl.Description,
				Parameters:  tl.Parameters,
			},
		})
	}

	return json.Marshal(body)
}

func (a *OpenAIAdapter) ParseResponse(body []byte) (*Result, error) {
	var resp oaResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, NewError(ErrUnparsable, "decode upstream response").
			WithCause(err).
			WithProvider(string(OpenAI))
	}

	if len(resp.Choices) == 0 {
		return nil, NewError(ErrEmptyResponse, "provider returned no choices").
			WithProvider(string(OpenAI))
	}

	first := resp.Choices[0]
	if first.FinishReason == "content_filter" {
		return nil, NewError(ErrBlocked, "response blocked by content filter").
			WithProvider(string(OpenAI))
	}

	// A well-formed empty string succeeds; only a choice with no text and
	// no tool segments at all is an empty response.
	if first.Message.Content == nil && len(first.Message.ToolCalls) == 0 {
		return nil, NewError(ErrEmptyResponse, "first choice has no text or tool parts").
			WithProvider(string(OpenAI))
	}

	var sb strings.Builder
	if first.Message.Content != nil {
		sb.WriteString(*first.Message.Content)
	}
	for _, tc := range first.Message.ToolCalls {
		sb.WriteString(tc.Function.Arguments)
	}

	out := &Result{
		Text:         sb.String(),
		FinishReason: first.FinishReason,
	}
	if resp.Usage != nil {
		out.Usage = Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return out, nil
}

func (a *OpenAIAdapter) ParseError(status int, body []byte) *Error {
	var perr oaErrorResponse
	msg := ""
	if err := json.Unmarshal(body, &perr); err == nil && perr.Error.Message != "" {
		msg = perr.Error.Message
		if perr.Error.Type != "" {
			msg += " (" + perr.Error.Type + ")"
		}
	}
	// context_length_exceeded comes back as a plain 400; surface it as the
	// payload class so callers can shrink the input instead of giving up.
	if status == http.StatusBadRequest && strings.Contains(strings.ToLower(msg), "context length") {
		return NewError(ErrPayloadTooLarge, msg).
			WithHTTPStatus(status).
			WithProvider(string(OpenAI))
	}
	return classifyStatus(status, msg, string(OpenAI))
}

var _ Adapter = (*OpenAIAdapter)(nil)

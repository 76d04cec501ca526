package provider

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
)

// GeminiAdapter speaks the Google Generative Language generateContent
// format. System text rides in systemInstruction, generation knobs in
// generationConfig, and structured output in responseSchema.
type GeminiAdapter struct{}

func NewGeminiAdapter() *GeminiAdapter { return &GeminiAdapter{} }

func (a *GeminiAdapter) Name() Name { return Gemini }

func (a *GeminiAdapter) Endpoint(baseURL, model string) string {
	return strings.TrimRight(baseURL, "/") +
		"/v1beta/models/" + url.PathEscape(model) + ":generateContent"
}

func (a *GeminiAdapter) SetHeaders(h http.Header, apiKey string) {
	h.Set("x-goog-api-key", apiKey)
	h.Set("Content-Type", "application/json")
}

type gmPart struct {
	Text         string          `json:"text,omitempty"`
	FunctionCall *gmFunctionCall `json:"functionCall,omitempty"`
}

type gmFunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type gmContent struct {
	Role  string   `json:"role,omitempty"`
	Parts []gmPart `json:"parts"`
}

type gmFunctionDeclaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type gmTool struct {
	FunctionDeclarations []gmFunctionDeclaration `json:"functionDeclarations,omitempty"`
}

type gmGenerationConfig struct {
	Temperature      *float64        `json:"temperature,omitempty"`
	TopP             *float64        `json:"topP,omitempty"`
	MaxOutputTokens  int             `json:"maxOutputTokens,omitempty"`
	StopSequences    []string        `json:"stopSequences,omitempty"`
	CandidateCount   int             `json:"candidateCount,omitempty"`
	ResponseMIMEType string          `json:"responseMimeType,omitempty"`
	ResponseSchema   json.RawMessage `json:"responseSchema,omitempty"`
}

type gmRequest struct {
	Contents          []gmContent         `json:"contents"`
	SystemInstruction *gmContent          `json:"systemInstruction,omitempty"`
	Tools             []gmTool            `json:"tools,omitempty"`
	GenerationConfig  *gmGenerationConfig `json:"generationConfig,omitempty"`
}

// Response parts carry text as a pointer so a present-but-empty text part
// still counts as content.
type gmRespPart struct {
	Text         *string         `json:"text,omitempty"`
	FunctionCall *gmFunctionCall `json:"functionCall,omitempty"`
}

type gmRespContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []gmRespPart `json:"parts"`
}

type gmCandidate struct {
	Content      gmRespContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
	Index        int           `json:"index"`
}

type gmUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type gmPromptFeedback struct {
	BlockReason string `json:"blockReason,omitempty"`
}

type gmResponse struct {
	Candidates     []gmCandidate     `json:"candidates"`
	PromptFeedback *gmPromptFeedback `json:"promptFeedback,omitempty"`
	UsageMetadata  *gmUsageMetadata  `json:"usageMetadata,omitempty"`
}

type gmErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (a *GeminiAdapter) BuildBody(req *Request) ([]byte, error) {
	body := gmRequest{
		Contents: []gmContent{
			{Role: "user", Parts: []gmPart{{Text: req.Input}}},
		},
	}

	if req.System != "" {
		body.SystemInstruction = &gmContent{
			Parts: []gmPart{{Text: req.System}},
		}
	}

	cfg := &gmGenerationConfig{
		Temperature:     req.Temperature,
		TopP:            req.TopP,
		MaxOutputTokens: req.MaxOutputTokens,
		StopSequences:   req.Stop,
		CandidateCount:  req.CandidateCount,
	}
	if len(req.Schema) > 0 {
		cfg.ResponseMIMEType = "application/json"
		cfg.ResponseSchema = req.Schema
	}
	body.GenerationConfig = cfg

	if len(req.Tools) > 0 {
		tool := gmTool{}
		for _, tl := range req.Tools {
			tool.FunctionDeclarations = append(tool.FunctionDeclarations, gmFunctionDeclaration{
				Name:        tl.Name,
				Description: tl.Description,
				Parameters:  tl.Parameters,
			})
		}
		body.Tools = []gmTool{tool}
	}

	return json.Marshal(body)
}

func (a *GeminiAdapter) ParseResponse(body []byte) (*Result, error) {
	var resp gmResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, NewError(ErrUnparsable, "decode upstream response").
			WithCause(err).
			WithProvider(string(Gemini))
	}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return nil, NewError(ErrBlocked, "prompt blocked: "+resp.PromptFeedback.BlockReason).
			WithProvider(string(Gemini))
	}

	if len(resp.Candidates) == 0 {
		return nil, NewError(ErrEmptyResponse, "provider returned no candidates").
			WithProvider(string(Gemini))
	}

	first := resp.Candidates[0]
	if strings.EqualFold(first.FinishReason, "SAFETY") {
		return nil, NewError(ErrBlocked, "candidate stopped for safety").
			WithProvider(string(Gemini))
	}

	var sb strings.Builder
	segments := 0
	for _, part := range first.Content.Parts {
		if part.Text != nil {
			sb.WriteString(*part.Text)
			segments++
		}
		if part.FunctionCall != nil {
			sb.WriteString(string(part.FunctionCall.Args))
			segments++
		}
	}
	if segments == 0 {
		return nil, NewError(ErrEmptyResponse, "first candidate has no text or tool parts").
			WithProvider(string(Gemini))
	}

	out := &Result{
		Text:         sb.String(),
		FinishReason: first.FinishReason,
	}
	if resp.UsageMetadata != nil {
		out.Usage = Usage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      resp.UsageMetadata.TotalTokenCount,
		}
	}
	return out, nil
}

func (a *GeminiAdapter) ParseError(status int, body []byte) *Error {
	var perr gmErrorResponse
	msg := ""
	if err := json.Unmarshal(body, &perr); err == nil && perr.Error.Message != "" {
		msg = perr.Error.Message
		if perr.Error.Status != "" {
			msg += " (" + perr.Error.Status + ")"
		}
	}
	// RESOURCE_EXHAUSTED sometimes arrives as 400 with a status string.
	if status == http.StatusBadRequest && perr.Error.Status == "RESOURCE_EXHAUSTED" {
		return NewError(ErrRateLimited, msg).
			WithHTTPStatus(status).
			WithRetryable(true).
			WithProvider(string(Gemini))
	}
	return classifyStatus(status, msg, string(Gemini))
}

var _ Adapter = (*GeminiAdapter)(nil)

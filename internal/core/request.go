package core

import (
	"fmt"

	"gridprompt/internal/cache"
	"gridprompt/internal/provider"
)

// maxRetryCap bounds the caller-supplied retry budget.
const maxRetryCap = 3

// Request is one generate call: the semantic content (which feeds the cache
// key) plus the policy knobs that do not change what answer is "the same
// question" and therefore stay out of the digest.
type Request struct {
	provider.Request

	CacheMode  cache.Mode `json:"cache_mode,omitempty"`
	CacheOnly  bool       `json:"cache_only,omitempty"`
	TimeoutMs  int        `json:"timeout_ms,omitempty"`
	MaxRetries int        `json:"max_retries,omitempty"`
	Label      string     `json:"label,omitempty"` // caller tag for telemetry
}

// Validate checks the whole request and normalizes the cache mode. Policy
// fields are clamped rather than rejected.
func (r *Request) Validate() error {
	if err := r.Request.Validate(); err != nil {
		return err
	}
	mode, err := cache.ParseMode(string(r.CacheMode))
	if err != nil {
		return err
	}
	r.CacheMode = mode
	if r.TimeoutMs < 0 {
		return fmt.Errorf("timeout_ms must be >= 0")
	}
	if r.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0")
	}
	if r.MaxRetries > maxRetryCap {
		r.MaxRetries = maxRetryCap
	}
	return nil
}

// Result is the caller-facing outcome of a successful generate call.
type Result struct {
	Text         string         `json:"text"`
	FinishReason string         `json:"finish_reason,omitempty"`
	Cached       bool           `json:"cached"`
	Deduped      bool           `json:"deduped,omitempty"`
	Digest       string         `json:"digest"`
	LatencyMs    int64          `json:"latency_ms"`
	Retries      int            `json:"retries,omitempty"`
	Usage        provider.Usage `json:"usage"`
}

// PingOptions configure the minimal connectivity probe.
type PingOptions struct {
	Provider  string `json:"provider,omitempty"`
	Model     string `json:"model,omitempty"`
	TimeoutMs int    `json:"timeout_ms,omitempty"`
}

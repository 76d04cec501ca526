// Package diag keeps the process-wide usage and outcome telemetry for
// generate calls: counters, running token/cost totals, and a bounded
// rolling log of recent outcomes.
package diag

import (
	"sync"
	"time"

	"gridprompt/internal/provider"
)

// Outcome is one resolved generate call, as it lands in the rolling log.
type Outcome struct {
	Time         time.Time          `json:"time"`
	OK           bool               `json:"ok"`
	Code         string             `json:"code"` // "ok" or a provider.ErrorCode
	Label        string             `json:"label,omitempty"`
	Provider     string             `json:"provider"`
	Model        string             `json:"model"`
	Key          string             `json:"key,omitempty"` // short digest id
	LatencyMs    int64              `json:"latency_ms"`
	Usage        provider.Usage     `json:"usage"`
	Cached       bool               `json:"cached"`
	// CacheProbed marks outcomes that consulted a cache tier; calls that
	// failed before the probe or ran with caching off never count as misses.
	CacheProbed  bool               `json:"-"`
	Deduped      bool               `json:"deduped,omitempty"`
	Retries      int                `json:"retries,omitempty"`
	HTTPStatus   int                `json:"http_status,omitempty"`
	EstimatedUSD float64            `json:"estimated_usd,omitempty"`
}

// Counters are the process-wide tallies since start or last reset.
type Counters struct {
	Requests    int64 `json:"requests"`
	Successes   int64 `json:"successes"`
	Failures    int64 `json:"failures"`
	Retries     int64 `json:"retries"`
	CacheHits   int64 `json:"cache_hits"`
	CacheMisses int64 `json:"cache_misses"`
	DedupHits   int64 `json:"dedup_hits"`
}

// Totals accumulate tokens and estimated cost for fresh successful calls
// only; cache and dedup hits never double-count spend.
type Totals struct {
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	CostUSD          float64 `json:"cost_usd"`
}

// Snapshot is the externally visible state of the tracker.
type Snapshot struct {
	StartedAt time.Time `json:"started_at"`
	Counters  Counters  `json:"counters"`
	Totals    Totals    `json:"totals"`
	Log       []Outcome `json:"log"` // newest first
}

// Tracker is safe for concurrent use and shared by every caller of the core.
type Tracker struct {
	mu       sync.Mutex
	started  time.Time
	counters Counters
	totals   Totals
	log      []Outcome
	maxLog   int
	now      func() time.Time
}

// NewTracker creates a tracker keeping at most maxLog recent outcomes.
func NewTracker(maxLog int) *Tracker {
	if maxLog <= 0 {
		maxLog = 50
	}
	return &Tracker{
		started: time.Now(),
		maxLog:  maxLog,
		now:     time.Now,
	}
}

// Record appends one resolved call. Cost is computed here from the vendor
// rate table, and only fresh successes move the running totals.
func (t *Tracker) Record(o Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if o.Time.IsZero() {
		o.Time = t.now()
	}

	t.counters.Requests++
	if o.OK {
		t.counters.Successes++
	} else {
		t.counters.Failures++
	}
	t.counters.Retries += int64(o.Retries)
	if o.Cached {
		t.counters.CacheHits++
	} else if o.CacheProbed {
		t.counters.CacheMisses++
	}
	if o.Deduped {
		t.counters.DedupHits++
	}

	if o.OK && !o.Cached && !o.Deduped {
		o.EstimatedUSD = Cost(o.Provider, o.Model, o.Usage)
		t.totals.PromptTokens += int64(o.Usage.PromptTokens)
		t.totals.CompletionTokens += int64(o.Usage.CompletionTokens)
		t.totals.TotalTokens += int64(o.Usage.TotalTokens)
		t.totals.CostUSD += o.EstimatedUSD
	}

	// Newest first, oldest dropped.
	t.log = append([]Outcome{o}, t.log...)
	if len(t.log) > t.maxLog {
		t.log = t.log[:t.maxLog]
	}
}

// Snapshot returns a copy of the current counters, totals and rolling log.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	logCopy := make([]Outcome, len(t.log))
	copy(logCopy, t.log)

	return Snapshot{
		StartedAt: t.started,
		Counters:  t.counters,
		Totals:    t.totals,
		Log:       logCopy,
	}
}

// Reset zeroes counters, totals and the log and re-stamps the start time.
// Cache tiers and the in-flight registry are untouched.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.started = t.now()
	t.counters = Counters{}
	t.totals = Totals{}
	t.log = nil
}

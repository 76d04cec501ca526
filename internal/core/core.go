// Package core is the request orchestration and caching engine: every
// caller-facing generate funnels through digest computation, the two cache
// tiers, in-flight deduplication, the concurrency gate and the retry
// controller before a single HTTP request leaves the process.
package core

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"gridprompt/internal/cache"
	"gridprompt/internal/cachekey"
	"gridprompt/internal/diag"
	"gridprompt/internal/gate"
	"gridprompt/internal/metrics"
	"gridprompt/internal/provider"
)

// ProviderConfig holds per-vendor connection settings.
type ProviderConfig struct {
	BaseURL string
	APIKey  string
}

// Config fixes the process-wide knobs. Per-request policy (mode, cacheOnly,
// timeout, retries) arrives on each Request instead.
type Config struct {
	MaxConcurrent     int           // outbound calls in flight at once
	MemoryCapacity    int           // tier-1 LRU slots
	MemoryTTL         time.Duration // tier-1 freshness window
	DurableTTL        time.Duration // tier-2 freshness window
	DurableMaxEntries int           // tier-2 index cap
	KeyPrefix         string        // durable store namespace
	DefaultTimeout    time.Duration // per-attempt, when the request carries none
	BaseBackoff       time.Duration
	LogMax            int // rolling diagnostics log size

	Providers map[provider.Name]ProviderConfig

	// Custom HTTP client (for testing or special configs)
	HTTPClient *http.Client
}

// WithDefaults returns a copy of Config with sane defaults applied.
func (c *Config) WithDefaults() Config {
	cfg := *c
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 2
	}
	if cfg.MemoryCapacity <= 0 {
		cfg.MemoryCapacity = 500
	}
	if cfg.MemoryTTL <= 0 {
		cfg.MemoryTTL = 10 * time.Minute
	}
	if cfg.DurableTTL <= 0 {
		cfg.DurableTTL = 24 * time.Hour
	}
	if cfg.DurableMaxEntries <= 0 {
		cfg.DurableMaxEntries = 200
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "gridprompt"
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 100 * time.Millisecond
	}
	if cfg.LogMax <= 0 {
		cfg.LogMax = 50
	}
	return cfg
}

// Core owns all singleton state shared by every generate call: the cache
// tiers, the admission gate, the in-flight group and the usage tracker.
// Construct one per process (or one per test) and inject it; there are no
// package globals.
type Core struct {
	cfg        Config
	logger     *zap.Logger
	httpClient *http.Client

	memory  *cache.Memory
	durable *cache.Durable // nil when no durable store is configured
	gate    *gate.Gate
	flight  singleflight.Group
	tracker *diag.Tracker

	adapters map[provider.Name]provider.Adapter
}

// New wires a Core. store may be nil, which disables the persistent tier
// (persistent-mode requests then behave like memory-mode ones).
func New(cfg Config, store cache.Store, logger *zap.Logger) *Core {
	cfg = cfg.WithDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("core")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Transport: defaultTransport()}
	}

	var durable *cache.Durable
	if store != nil {
		durable = cache.NewDurable(store, cfg.DurableTTL, cfg.DurableMaxEntries, cfg.KeyPrefix, logger)
	}

	return &Core{
		cfg:        cfg,
		logger:     logger,
		httpClient: httpClient,
		memory:     cache.NewMemory(cfg.MemoryCapacity, cfg.MemoryTTL),
		durable:    durable,
		gate:       gate.New(cfg.MaxConcurrent),
		tracker:    diag.NewTracker(cfg.LogMax),
		adapters: map[provider.Name]provider.Adapter{
			provider.OpenAI: provider.NewOpenAIAdapter(),
			provider.Gemini: provider.NewGeminiAdapter(),
		},
	}
}

// defaultTransport creates an HTTP transport with connection pooling and
// reasonable timeouts.
func defaultTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// Close releases resources held by the core.
func (c *Core) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// flightOutcome is what the owning execution hands to every dedup waiter.
type flightOutcome struct {
	res     *provider.Result
	retries int
}

// Generate answers one request: digest, cache probes, dedup, gated provider
// call with retries, cache write-back and telemetry. Failures come back as
// a typed *provider.Error; nothing in here panics on I/O.
//
// When concurrent callers coalesce on one digest, the owning execution's
// cache mode decides the write-back; waiters share the answer but not their
// cache policy.
func (c *Core) Generate(ctx context.Context, req *Request) (*Result, error) {
	start := time.Now()

	if err := req.Validate(); err != nil {
		perr := provider.NewError(provider.ErrInvalidRequest, err.Error())
		c.record(req, "", start, nil, perr, false, false, false, 0)
		return nil, perr
	}

	ad, ok := c.adapters[req.Provider]
	if !ok {
		perr := provider.NewError(provider.ErrInvalidRequest, "no adapter for provider "+string(req.Provider))
		c.record(req, "", start, nil, perr, false, false, false, 0)
		return nil, perr
	}
	if c.cfg.Providers[req.Provider].APIKey == "" {
		perr := provider.NewError(provider.ErrMissingKey, "no API key configured for "+string(req.Provider)).
			WithProvider(string(req.Provider))
		c.record(req, "", start, nil, perr, false, false, false, 0)
		return nil, perr
	}

	digest := cachekey.Digest(&req.Request)
	shortID := cachekey.ShortID(digest)
	logger := c.logger.With(
		zap.String("key", shortID),
		zap.String("provider", string(req.Provider)),
		zap.String("model", req.Model),
	)

	// ---- cache probes ----
	probed := req.CacheMode != cache.ModeNone
	if probed {
		if text, hit := c.memory.Get(digest); hit {
			logger.Debug("memory cache hit")
			metrics.GenerateTotal.WithLabelValues("memory", "hit").Inc()
			return c.finishCached(req, digest, shortID, start, text), nil
		}
		if req.CacheMode == cache.ModePersistent && c.durable != nil {
			if text, hit := c.durable.Get(ctx, digest); hit {
				logger.Debug("durable cache hit")
				metrics.GenerateTotal.WithLabelValues("durable", "hit").Inc()
				c.memory.Set(digest, text) // backfill tier 1
				return c.finishCached(req, digest, shortID, start, text), nil
			}
		}
	}

	if req.CacheOnly {
		perr := provider.NewError(provider.ErrCacheOnlyMiss, "no fresh cached value and cache_only is set")
		metrics.GenerateTotal.WithLabelValues("policy", "cache_only_miss").Inc()
		c.record(req, shortID, start, nil, perr, false, false, probed, 0)
		return nil, perr
	}

	// ---- in-flight dedup + gated provider call ----
	timeout := c.cfg.DefaultTimeout
	if req.TimeoutMs > 0 {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}

	owner := false
	v, err, _ := c.flight.Do(digest, func() (interface{}, error) {
		owner = true
		var out flightOutcome
		gerr := c.gate.Do(ctx, func() error {
			res, retries, callErr := c.callWithRetry(ctx, ad, &req.Request, req.MaxRetries, timeout)
			out.res = res
			out.retries = retries
			return callErr
		})
		if gerr != nil {
			// Hand the attempt count back even on failure so exhausted
			// budgets show up in the retry counter.
			return out, gerr
		}

		// The owner writes both tiers once; waiters never re-write.
		switch req.CacheMode {
		case cache.ModeMemory:
			c.memory.Set(digest, out.res.Text)
		case cache.ModePersistent:
			c.memory.Set(digest, out.res.Text)
			if c.durable != nil {
				c.durable.Set(ctx, digest, out.res.Text)
			}
		}
		return out, nil
	})
	deduped := !owner

	tier := "fresh"
	if deduped {
		tier = "dedup"
	}

	if err != nil {
		perr := asProviderError(err, req.Provider)
		metrics.GenerateTotal.WithLabelValues(tier, "error").Inc()
		failedRetries := 0
		if out, ok := v.(flightOutcome); ok && !deduped {
			failedRetries = out.retries
		}
		logger.Warn("generate failed",
			zap.String("code", string(provider.CodeOf(perr))),
			zap.Bool("deduped", deduped),
			zap.Int("retries", failedRetries),
			zap.Error(perr),
		)
		c.record(req, shortID, start, nil, perr, false, deduped, probed, failedRetries)
		return nil, perr
	}

	out := v.(flightOutcome)
	metrics.GenerateTotal.WithLabelValues(tier, "ok").Inc()

	result := &Result{
		Text:         out.res.Text,
		FinishReason: out.res.FinishReason,
		Cached:       false,
		Deduped:      deduped,
		Digest:       digest,
		LatencyMs:    time.Since(start).Milliseconds(),
		Retries:      out.retries,
		Usage:        out.res.Usage,
	}

	logger.Info("generate completed",
		zap.Bool("deduped", deduped),
		zap.Int("retries", out.retries),
		zap.Int("prompt_tokens", out.res.Usage.PromptTokens),
		zap.Int("completion_tokens", out.res.Usage.CompletionTokens),
		zap.Int64("latency_ms", result.LatencyMs),
	)
	// Waiters report zero retries so the counter tallies each upstream
	// retry exactly once, on the owner.
	recordedRetries := out.retries
	if deduped {
		recordedRetries = 0
	}
	c.record(req, shortID, start, out.res, nil, false, deduped, probed, recordedRetries)
	return result, nil
}

// Ping issues a fixed trivial prompt with caching disabled, for key and
// connectivity validation.
func (c *Core) Ping(ctx context.Context, opts PingOptions) (*Result, error) {
	name, err := provider.ParseName(opts.Provider)
	if err != nil {
		return nil, provider.NewError(provider.ErrInvalidRequest, err.Error())
	}
	model := opts.Model
	if model == "" {
		model = defaultPingModel(name)
	}
	req := &Request{
		Request: provider.Request{
			Provider:        name,
			Model:           model,
			Input:           "Reply with the single word OK.",
			MaxOutputTokens: 16,
		},
		CacheMode: cache.ModeNone,
		TimeoutMs: opts.TimeoutMs,
		Label:     "ping",
	}
	return c.Generate(ctx, req)
}

func defaultPingModel(name provider.Name) string {
	switch name {
	case provider.Gemini:
		return "gemini-2.0-flash"
	default:
		return "gpt-4o-mini"
	}
}

// Snapshot returns the diagnostics state: counters, totals and rolling log.
func (c *Core) Snapshot() diag.Snapshot {
	return c.tracker.Snapshot()
}

// Reset clears the diagnostics state. Cache tiers and in-flight calls are
// deliberately left alone.
func (c *Core) Reset() {
	c.tracker.Reset()
}

// finishCached builds the result and telemetry for a cache hit. Cached
// entries store only the response text, so usage stays zero and no cost
// accrues.
func (c *Core) finishCached(req *Request, digest, shortID string, start time.Time, text string) *Result {
	result := &Result{
		Text:      text,
		Cached:    true,
		Digest:    digest,
		LatencyMs: time.Since(start).Milliseconds(),
	}
	c.record(req, shortID, start, nil, nil, true, false, true, 0)
	return result
}

// record funnels every resolved call into the tracker. probed marks calls
// that reached a cache tier, so the miss counter tracks the hit ratio
// instead of every failure mode.
func (c *Core) record(req *Request, shortID string, start time.Time, res *provider.Result, perr *provider.Error, cached, deduped, probed bool, retries int) {
	o := diag.Outcome{
		OK:          perr == nil,
		Code:        "ok",
		Label:       req.Label,
		Provider:    string(req.Provider),
		Model:       req.Model,
		Key:         shortID,
		LatencyMs:   time.Since(start).Milliseconds(),
		Cached:      cached,
		CacheProbed: probed,
		Deduped:     deduped,
		Retries:     retries,
	}
	if res != nil {
		o.Usage = res.Usage
	}
	if perr != nil {
		o.Code = string(perr.Code)
		o.HTTPStatus = perr.HTTPStatus
	}
	c.tracker.Record(o)
}

// asProviderError guarantees callers always see the typed error shape.
func asProviderError(err error, vendor provider.Name) *provider.Error {
	var perr *provider.Error
	if errors.As(err, &perr) {
		return perr
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		e := timeoutOrCancel(err, vendor)
		errors.As(e, &perr)
		return perr
	}
	return provider.NewError(provider.ErrUpstream, err.Error()).
		WithCause(err).
		WithProvider(string(vendor))
}

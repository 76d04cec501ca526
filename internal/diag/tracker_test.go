package diag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridprompt/internal/provider"
)

func freshOutcome() Outcome {
	return Outcome{
		OK:          true,
		Code:        "ok",
		Provider:    "openai",
		Model:       "gpt-4o-mini",
		CacheProbed: true,
		Usage: provider.Usage{
			PromptTokens:     1000,
			CompletionTokens: 500,
			TotalTokens:      1500,
		},
	}
}

func TestTrackerCountsAndTotals(t *testing.T) {
	tr := NewTracker(10)

	fresh := freshOutcome()
	tr.Record(fresh)

	cached := freshOutcome()
	cached.Cached = true
	tr.Record(cached)
	tr.Record(cached)

	snap := tr.Snapshot()
	assert.Equal(t, int64(3), snap.Counters.Requests)
	assert.Equal(t, int64(3), snap.Counters.Successes)
	assert.Equal(t, int64(2), snap.Counters.CacheHits)
	assert.Equal(t, int64(1), snap.Counters.CacheMisses)

	// Only the fresh call accrues tokens and cost; the two cache hits add
	// exactly nothing.
	wantCost := Cost("openai", "gpt-4o-mini", fresh.Usage)
	require.Greater(t, wantCost, 0.0)
	assert.InDelta(t, wantCost, snap.Totals.CostUSD, 1e-12)
	assert.Equal(t, int64(1000), snap.Totals.PromptTokens)
	assert.Equal(t, int64(500), snap.Totals.CompletionTokens)
	assert.Equal(t, int64(1500), snap.Totals.TotalTokens)
}

func TestTrackerDedupNeverDoubleCounts(t *testing.T) {
	tr := NewTracker(10)

	owner := freshOutcome()
	tr.Record(owner)

	waiter := freshOutcome()
	waiter.Deduped = true
	tr.Record(waiter)

	snap := tr.Snapshot()
	assert.Equal(t, int64(1), snap.Counters.DedupHits)
	assert.Equal(t, int64(1500), snap.Totals.TotalTokens)
	assert.InDelta(t, Cost("openai", "gpt-4o-mini", owner.Usage), snap.Totals.CostUSD, 1e-12)
}

func TestTrackerUnprobedOutcomesAreNotMisses(t *testing.T) {
	tr := NewTracker(10)

	// Caching off: neither a hit nor a miss.
	bypass := freshOutcome()
	bypass.CacheProbed = false
	tr.Record(bypass)

	// Failed before any tier was consulted.
	invalid := Outcome{
		OK:       false,
		Code:     string(provider.ErrInvalidRequest),
		Provider: "openai",
	}
	tr.Record(invalid)

	snap := tr.Snapshot()
	assert.Equal(t, int64(2), snap.Counters.Requests)
	assert.Zero(t, snap.Counters.CacheHits)
	assert.Zero(t, snap.Counters.CacheMisses)
}

func TestTrackerFailuresAndRetries(t *testing.T) {
	tr := NewTracker(10)

	fail := Outcome{
		OK:       false,
		Code:     string(provider.ErrRateLimited),
		Provider: "openai",
		Model:    "gpt-4o-mini",
		Retries:  2,
	}
	tr.Record(fail)

	snap := tr.Snapshot()
	assert.Equal(t, int64(1), snap.Counters.Failures)
	assert.Equal(t, int64(2), snap.Counters.Retries)
	assert.Zero(t, snap.Totals.CostUSD)
}

func TestTrackerRollingLogNewestFirst(t *testing.T) {
	tr := NewTracker(3)

	for _, label := range []string{"a", "b", "c", "d", "e"} {
		o := freshOutcome()
		o.Label = label
		tr.Record(o)
	}

	snap := tr.Snapshot()
	require.Len(t, snap.Log, 3)
	assert.Equal(t, "e", snap.Log[0].Label)
	assert.Equal(t, "d", snap.Log[1].Label)
	assert.Equal(t, "c", snap.Log[2].Label)
}

func TestTrackerReset(t *testing.T) {
	tr := NewTracker(10)
	tr.Record(freshOutcome())

	before := tr.Snapshot()
	require.Equal(t, int64(1), before.Counters.Requests)

	tr.Reset()

	after := tr.Snapshot()
	assert.Zero(t, after.Counters.Requests)
	assert.Zero(t, after.Totals.TotalTokens)
	assert.Empty(t, after.Log)
	assert.False(t, after.StartedAt.Before(before.StartedAt))
}

func TestCostPrefixMatching(t *testing.T) {
	usage := provider.Usage{PromptTokens: 1_000_000, CompletionTokens: 1_000_000}

	// Dated snapshot names inherit their family's rate.
	assert.InDelta(t, 0.15+0.60, Cost("openai", "gpt-4o-mini-2024-07-18", usage), 1e-9)

	// gpt-4o-mini must match the mini rate, not the gpt-4o rate.
	assert.InDelta(t, 0.15+0.60, Cost("openai", "gpt-4o-mini", usage), 1e-9)
	assert.InDelta(t, 2.50+10.00, Cost("openai", "gpt-4o", usage), 1e-9)

	// Unknown models cost zero.
	assert.Zero(t, Cost("openai", "some-future-model", usage))
	assert.Zero(t, Cost("unknown", "gpt-4o", usage))
}

package cache

import (
	"context"
	"fmt"
)

// Store is the persistence collaborator behind the durable tier: a plain
// asynchronous key-value surface. Backend choice (Redis vs. a local SQLite
// file) is opaque to everything above it. Values are opaque strings.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// Mode selects which tiers a generate call may touch.
type Mode string

const (
	// ModeNone bypasses both tiers; every call goes upstream.
	ModeNone Mode = "none"
	// ModeMemory uses only the in-process LRU tier.
	ModeMemory Mode = "memory"
	// ModePersistent checks memory then the durable store; writes land in both.
	ModePersistent Mode = "persistent"
)

// ParseMode validates a caller-supplied cache mode. Empty defaults to
// ModePersistent, the behavior spreadsheet recalculation depends on.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeNone, ModeMemory, ModePersistent:
		return Mode(s), nil
	case "":
		return ModePersistent, nil
	default:
		return "", fmt.Errorf("unknown cache mode %q", s)
	}
}

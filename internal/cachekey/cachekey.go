// Package cachekey turns the semantic content of a generate request into a
// stable digest. Two requests that ask the same question hash identically
// regardless of how the caller ordered JSON keys in schema or tool
// declarations; policy fields (timeout, retries, cache mode, label) never
// participate.
package cachekey

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"gridprompt/internal/provider"
)

// canonicalRecord is the semantic subset of a request in a fixed field
// order. It is hashed as marshaled JSON so field boundaries are unambiguous
// no matter what bytes the values contain; raw JSON blobs are carried as
// pre-normalized strings.
type canonicalRecord struct {
	Provider        string          `json:"provider"`
	Model           string          `json:"model"`
	System          string          `json:"system"`
	Input           string          `json:"input"`
	Temperature     *float64        `json:"temperature,omitempty"`
	TopP            *float64        `json:"top_p,omitempty"`
	MaxOutputTokens int             `json:"max_output_tokens,omitempty"`
	Stop            []string        `json:"stop,omitempty"`
	CandidateCount  int             `json:"candidate_count,omitempty"`
	Schema          string          `json:"schema,omitempty"`
	Tools           []canonicalTool `json:"tools,omitempty"`
}

type canonicalTool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  string `json:"parameters,omitempty"`
}

// Canonical serializes the semantic subset of req into a stable byte string:
// JSON of a fixed-field-order record, with nested raw JSON re-encoded
// through map types so object keys sort lexicographically at every nesting
// level. Arrays keep caller order. JSON string escaping keeps field
// boundaries intact even when values contain newlines or separators.
func Canonical(req *provider.Request) []byte {
	rec := canonicalRecord{
		Provider:        string(req.Provider),
		Model:           req.Model,
		System:          req.System,
		Input:           req.Input,
		Temperature:     req.Temperature,
		TopP:            req.TopP,
		MaxOutputTokens: req.MaxOutputTokens,
		Stop:            req.Stop,
		CandidateCount:  req.CandidateCount,
	}
	if len(req.Schema) > 0 {
		rec.Schema = normalizeJSON(req.Schema)
	}
	for _, tl := range req.Tools {
		rec.Tools = append(rec.Tools, canonicalTool{
			Name:        tl.Name,
			Description: tl.Description,
			Parameters:  normalizeJSON(tl.Parameters),
		})
	}

	out, err := json.Marshal(rec)
	if err != nil {
		// Unreachable for these field types; keep the digest total anyway.
		return []byte(rec.Provider + "\x00" + rec.Model + "\x00" + rec.System + "\x00" + rec.Input)
	}
	return out
}

// Digest reduces the canonical form to a hex SHA-256. It has no error
// conditions: malformed raw JSON degrades to byte-for-byte hashing, which
// is still deterministic.
func Digest(req *provider.Request) string {
	sum := sha256.Sum256(Canonical(req))
	return hex.EncodeToString(sum[:])
}

// ShortID reduces a digest to a 16-hex-char xxhash, the compact key used in
// log lines and the diagnostics rolling log.
func ShortID(digest string) string {
	return strconv.FormatUint(xxhash.Sum64String(digest), 16)
}

// normalizeJSON round-trips raw JSON through interface types so that
// encoding/json re-emits object keys in sorted order. Invalid JSON is
// returned verbatim rather than failing the key build.
func normalizeJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return string(raw)
	}
	return string(out)
}

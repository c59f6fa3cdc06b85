package dto

import (
	"encoding/json"
)

///////////////////////
//// Requests
///////////////////////

// EntryRequest carries a value for PUT /api/cache/{kind}/{id}.
// TTL overrides the kind's policy tier when set, Go duration syntax.
type EntryRequest struct {
	Value json.RawMessage `json:"v"`
	TTL   string          `json:"ttl,omitempty"`
	Tags  []string        `json:"tags,omitempty"`
}

// WarmupRequest preloads the given values in one pass.
type WarmupRequest struct {
	Entries []WarmupItem `json:"entries"`
}

type WarmupItem struct {
	Kind  string          `json:"kind"`
	ID    string          `json:"id"`
	Value json.RawMessage `json:"v"`
	TTL   string          `json:"ttl,omitempty"`
	Tags  []string        `json:"tags,omitempty"`
}

///////////////////////
//// Responses
///////////////////////

// EntryResponse is the lookup result. Value is present only on a hit.
type EntryResponse struct {
	Kind  string          `json:"kind"`
	ID    string          `json:"id"`
	Value json.RawMessage `json:"v,omitempty"`
	Found bool            `json:"f"`
}

// StoredResponse confirms a write.
type StoredResponse struct {
	Key string `json:"key"`
	TTL string `json:"ttl"`
}

// InvalidateResponse reports how many entries a removal touched.
type InvalidateResponse struct {
	Removed int64 `json:"removed"`
}

// CleanupResponse reports one maintenance pass.
type CleanupResponse struct {
	PrunedTagSets int64 `json:"prunedTagSets"`
}

// WarmupResponse summarizes a warmup pass.
type WarmupResponse struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// StatsResponse is GET /api/stats. UsedMemory is humanized.
type StatsResponse struct {
	Keys       int64  `json:"keys"`
	UsedMemory string `json:"usedMemory,omitempty"`
	Version    string `json:"version,omitempty"`
}

// ErrorResponse carries a request failure.
type ErrorResponse struct {
	Error string `json:"error"`
}

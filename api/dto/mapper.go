package dto

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"tagcache-service/internal/cache"
	"tagcache-service/internal/keys"
)

// Mapper turns wire identifiers into policy-scoped cache keys and
// service results back into wire shapes.
type Mapper struct {
	policy *keys.Policy
}

func NewMapper(policy *keys.Policy) *Mapper {
	return &Mapper{policy: policy}
}

// EntryKey builds the key behind /api/cache/{kind}/{id}. Extra tags
// join the kind's policy tags on the stored entry.
func (m *Mapper) EntryKey(kind, id string, tags []string) (keys.Key, error) {
	if kind == "" || id == "" {
		return keys.Key{}, fmt.Errorf("kind and id are required")
	}
	if strings.Contains(kind, keys.Separator) {
		return keys.Key{}, fmt.Errorf("kind %q must not contain %q", kind, keys.Separator)
	}
	key := keys.NewIDKey(kind, id)
	extra := make([]keys.Tag, 0, len(tags))
	for _, t := range tags {
		if t != "" {
			extra = append(extra, keys.Tag(t))
		}
	}
	if len(extra) > 0 {
		key = key.WithTags(extra...)
	}
	return key, nil
}

// TTL resolves the effective expiry: the kind's policy tier unless
// overridden by the request.
func (m *Mapper) TTL(kind, override string) (time.Duration, error) {
	if override == "" {
		return m.policy.TTL(kind), nil
	}
	d, err := time.ParseDuration(override)
	if err != nil {
		return 0, fmt.Errorf("ttl %q: %w", override, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("ttl %q must be positive", override)
	}
	return d, nil
}

// Tag validates a wire tag name.
func (m *Mapper) Tag(name string) (keys.Tag, error) {
	if name == "" {
		return "", fmt.Errorf("tag is required")
	}
	return keys.Tag(name), nil
}

// WarmupEntries maps a warmup request onto service entries. Items are
// validated up front with their index, the whole request fails on the
// first bad one.
func (m *Mapper) WarmupEntries(req *WarmupRequest) ([]cache.WarmupEntry, error) {
	entries := make([]cache.WarmupEntry, 0, len(req.Entries))
	for i, item := range req.Entries {
		key, err := m.EntryKey(item.Kind, item.ID, item.Tags)
		if err != nil {
			return nil, fmt.Errorf("entries[%d]: %w", i, err)
		}
		ttl, err := m.TTL(item.Kind, item.TTL)
		if err != nil {
			return nil, fmt.Errorf("entries[%d]: %w", i, err)
		}
		value := []byte(item.Value)
		entries = append(entries, cache.WarmupEntry{
			Key: key,
			TTL: ttl,
			Compute: func(context.Context) ([]byte, error) {
				return value, nil
			},
		})
	}
	return entries, nil
}

// Entry shapes a lookup outcome.
func Entry(kind, id string, value []byte, found bool) *EntryResponse {
	resp := &EntryResponse{Kind: kind, ID: id, Found: found}
	if found {
		resp.Value = value
	}
	return resp
}

// Stored confirms a write of key with the effective ttl.
func Stored(key keys.Key, ttl time.Duration) *StoredResponse {
	return &StoredResponse{Key: key.String(), TTL: ttl.String()}
}

// Stats humanizes service stats for the wire.
func Stats(st *cache.Stats) *StatsResponse {
	resp := &StatsResponse{Keys: st.DBSize, Version: st.Version}
	if st.UsedMemory > 0 {
		resp.UsedMemory = humanize.IBytes(st.UsedMemory)
	}
	return resp
}

// Package keys defines the structured cache key model and the policy
// that maps entity kinds to TTL tiers and invalidation tags.
package keys

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Separator joins key segments in the storage keyspace.
const Separator = ":"

// Query discriminators longer than this are replaced by a fingerprint
// so storage keys stay bounded regardless of filter size.
const maxInlineQueryBytes = 64

// Tag names a group of cache keys that are invalidated together.
type Tag string

// Key identifies a single cache entry. Exactly one of ID or Query is
// set: ID for point lookups, Query for filtered reads. Extra carries
// tags attached by the writer on top of the policy-derived ones.
type Key struct {
	Kind  string
	ID    string
	Query string
	Extra []Tag
}

// NewIDKey builds a point-lookup key, rendered as "<kind>:id:<id>".
func NewIDKey(kind, id string) Key {
	return Key{Kind: kind, ID: id}
}

// NewQueryKey builds a query key from the stable serialization of args,
// rendered as "<kind>:query:<base64>". Two structurally identical args
// values always produce the same key.
func NewQueryKey(kind string, args any) (Key, error) {
	payload, err := json.Marshal(args)
	if err != nil {
		return Key{}, fmt.Errorf("serialize query args: %w", err)
	}
	return Key{Kind: kind, Query: encodeQuery(payload)}, nil
}

// WithTags returns a copy of the key carrying additional tags.
func (k Key) WithTags(tags ...Tag) Key {
	k.Extra = append(append([]Tag(nil), k.Extra...), tags...)
	return k
}

// IsZero reports whether the key identifies nothing.
func (k Key) IsZero() bool {
	return k.Kind == "" || (k.ID == "" && k.Query == "")
}

// String renders the key without the deployment prefix.
func (k Key) String() string {
	if k.Query != "" {
		return k.Kind + Separator + "query" + Separator + k.Query
	}
	return k.Kind + Separator + "id" + Separator + k.ID
}

// Parse recovers a Key from its unprefixed rendered form. It returns
// false for tag, lock and otherwise foreign keys.
func Parse(rendered string) (Key, bool) {
	parts := strings.SplitN(rendered, Separator, 3)
	if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
		return Key{}, false
	}
	switch parts[1] {
	case "id":
		return Key{Kind: parts[0], ID: parts[2]}, true
	case "query":
		return Key{Kind: parts[0], Query: parts[2]}, true
	}
	return Key{}, false
}

func encodeQuery(payload []byte) string {
	if len(payload) <= maxInlineQueryBytes {
		return base64.RawURLEncoding.EncodeToString(payload)
	}
	var sum [8]byte
	binary.BigEndian.PutUint64(sum[:], xxhash.Sum64(payload))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

package keys

import (
	"time"
)

// Tier names a fixed expiry class.
type Tier string

const (
	TierShort     Tier = "short"
	TierMedium    Tier = "medium"
	TierLong      Tier = "long"
	TierExtraLong Tier = "extra_long"
)

// Valid reports whether t is one of the defined tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierShort, TierMedium, TierLong, TierExtraLong:
		return true
	}
	return false
}

// DefaultTiers returns the built-in tier durations.
func DefaultTiers() map[Tier]time.Duration {
	return map[Tier]time.Duration{
		TierShort:     time.Minute,
		TierMedium:    5 * time.Minute,
		TierLong:      time.Hour,
		TierExtraLong: 24 * time.Hour,
	}
}

// Rule assigns an entity kind its tier and the tags invalidated when
// an entity of that kind mutates.
type Rule struct {
	Tier Tier
	Tags []Tag
}

// Policy is the total mapping from entity kinds to tiers and tags, and
// the single place storage keys are rendered with the deployment
// prefix. Kinds without a rule fall back to the medium tier tagged by
// their own name, so no lookup can fail.
type Policy struct {
	prefix string
	tiers  map[Tier]time.Duration
	rules  map[string]Rule
}

// NewPolicy builds a policy. Missing tier durations are filled from
// DefaultTiers; rule tiers outside the defined set decay to medium.
func NewPolicy(prefix string, tiers map[Tier]time.Duration, rules map[string]Rule) *Policy {
	merged := DefaultTiers()
	for tier, d := range tiers {
		if tier.Valid() && d > 0 {
			merged[tier] = d
		}
	}
	byKind := make(map[string]Rule, len(rules))
	for kind, rule := range rules {
		if !rule.Tier.Valid() {
			rule.Tier = TierMedium
		}
		byKind[kind] = rule
	}
	return &Policy{prefix: prefix, tiers: merged, rules: byKind}
}

// Prefix returns the deployment key prefix.
func (p *Policy) Prefix() string { return p.prefix }

// Tier returns the tier assigned to kind, medium when unassigned.
func (p *Policy) Tier(kind string) Tier {
	if rule, ok := p.rules[kind]; ok {
		return rule.Tier
	}
	return TierMedium
}

// TTL returns the expiry duration for kind's tier.
func (p *Policy) TTL(kind string) time.Duration {
	return p.TierTTL(p.Tier(kind))
}

// TierTTL returns the duration behind a tier name.
func (p *Policy) TierTTL(tier Tier) time.Duration {
	if d, ok := p.tiers[tier]; ok {
		return d
	}
	return p.tiers[TierMedium]
}

// Tags returns every tag the key belongs to: the kind itself, the
// kind's rule tags, and any tags carried on the key. Order is
// deterministic, duplicates removed.
func (p *Policy) Tags(key Key) []Tag {
	seen := make(map[Tag]struct{}, 4)
	tags := make([]Tag, 0, 4)
	add := func(t Tag) {
		if t == "" {
			return
		}
		if _, ok := seen[t]; ok {
			return
		}
		seen[t] = struct{}{}
		tags = append(tags, t)
	}
	add(Tag(key.Kind))
	if rule, ok := p.rules[key.Kind]; ok {
		for _, t := range rule.Tags {
			add(t)
		}
	}
	for _, t := range key.Extra {
		add(t)
	}
	return tags
}

// KindTags returns the tags invalidated when an entity of kind
// mutates, without a concrete key in hand.
func (p *Policy) KindTags(kind string) []Tag {
	return p.Tags(Key{Kind: kind})
}

// Storage renders the full storage key for a cache entry.
func (p *Policy) Storage(key Key) string {
	return p.prefix + Separator + key.String()
}

// TagStorage renders the storage key holding a tag's member set.
func (p *Policy) TagStorage(tag Tag) string {
	return p.prefix + Separator + "tag" + Separator + string(tag)
}

// LockStorage renders the storage key backing a named lock.
func (p *Policy) LockStorage(name string) string {
	return p.prefix + Separator + "lock" + Separator + name
}

// Pattern prefixes a caller-relative glob, e.g. "user:*".
func (p *Policy) Pattern(glob string) string {
	return p.prefix + Separator + glob
}

// KindPattern returns the glob matching every entry of a kind.
func (p *Policy) KindPattern(kind string) string {
	return p.Pattern(kind + Separator + "*")
}

// TagPattern returns the glob matching every tag set in the keyspace.
func (p *Policy) TagPattern() string {
	return p.Pattern("tag" + Separator + "*")
}

// Strip removes the deployment prefix from a storage key. The second
// return is false when the key is outside this policy's keyspace.
func (p *Policy) Strip(storage string) (string, bool) {
	head := p.prefix + Separator
	if len(storage) <= len(head) || storage[:len(head)] != head {
		return "", false
	}
	return storage[len(head):], true
}

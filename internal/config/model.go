package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"tagcache-service/internal/keys"
)

// AppConfig is the validated configuration the service runs on.
type AppConfig struct {
	Store    Store
	Cache    Cache
	TTL      TTL
	Entities []Entity
	Lock     Lock
	Cleanup  Cleanup
	Warmup   Warmup
	Server   Server
}

type AppConfigIntermediary struct {
	Store    Store    `yaml:"store"`
	Cache    Cache    `yaml:"cache"`
	TTL      TTL      `yaml:"ttl"`
	Entities []Entity `yaml:"entities"`
	Lock     Lock     `yaml:"lock"`
	Cleanup  Cleanup  `yaml:"cleanup"`
	Warmup   Warmup   `yaml:"warmup"`
	Server   Server   `yaml:"server"`
}

func (c *AppConfigIntermediary) Validate() error {
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateCache(); err != nil {
		return err
	}
	if err := c.validateEntities(); err != nil {
		return err
	}
	if err := c.validateLock(); err != nil {
		return err
	}
	if err := c.validateMaintenance(); err != nil {
		return err
	}
	return c.validateServer()
}

func (c *AppConfigIntermediary) validateStore() error {
	s := c.Store
	if s.Host == "" {
		return fmt.Errorf("store: host is required")
	}
	if s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("store: port must be 1..65535")
	}
	if s.DB < 0 {
		return fmt.Errorf("store: db must be >= 0")
	}
	if s.PoolSize <= 0 {
		return fmt.Errorf("store: poolSize must be > 0")
	}
	if s.MaxRetries < 0 {
		return fmt.Errorf("store: maxRetries must be >= 0")
	}
	if s.DialTimeout <= 0 || s.ReadTimeout <= 0 || s.WriteTimeout <= 0 {
		return fmt.Errorf("store: dialTimeout, readTimeout and writeTimeout must be > 0")
	}
	return nil
}

func (c *AppConfigIntermediary) validateCache() error {
	if c.Cache.KeyPrefix == "" {
		return fmt.Errorf("cache: keyPrefix is required")
	}
	if strings.Contains(c.Cache.KeyPrefix, keys.Separator) {
		return fmt.Errorf("cache: keyPrefix must not contain '%s'", keys.Separator)
	}
	if c.Cache.Codec == CodecUnknown {
		return fmt.Errorf("cache: unknown codec")
	}
	if c.Cache.MaxValueSize != "" {
		if bytes, err := ParseByteSize(c.Cache.MaxValueSize); err != nil || bytes == 0 {
			return fmt.Errorf("cache: invalid maxValueSize '%s'", c.Cache.MaxValueSize)
		}
	}
	if c.Cache.AsyncWriters < 0 {
		return fmt.Errorf("cache: asyncWriters must be >= 0")
	}
	return nil
}

func (c *AppConfigIntermediary) validateEntities() error {
	seen := make(map[string]bool)
	for i, e := range c.Entities {
		if e.Kind == "" {
			return fmt.Errorf("entity[%d]: kind is required", i)
		}
		if seen[e.Kind] {
			return fmt.Errorf("entity[%d]: duplicate kind '%s'", i, e.Kind)
		}
		seen[e.Kind] = true
		if e.Tier != "" && !keys.Tier(e.Tier).Valid() {
			return fmt.Errorf("entity[%d] (%s): unknown tier '%s'", i, e.Kind, e.Tier)
		}
		for j, tag := range e.Tags {
			if tag == "" {
				return fmt.Errorf("entity[%d] (%s): tag[%d] is empty", i, e.Kind, j)
			}
		}
	}
	return nil
}

func (c *AppConfigIntermediary) validateLock() error {
	l := c.Lock
	if l.TTL <= 0 {
		return fmt.Errorf("lock: ttl must be > 0")
	}
	if l.InitialBackoff <= 0 {
		return fmt.Errorf("lock: initialBackoff must be > 0")
	}
	if l.MaxBackoff < l.InitialBackoff {
		return fmt.Errorf("lock: maxBackoff must be >= initialBackoff")
	}
	if l.MaxWait <= 0 {
		return fmt.Errorf("lock: maxWait must be > 0")
	}
	return nil
}

func (c *AppConfigIntermediary) validateMaintenance() error {
	if c.Cleanup.Enabled && c.Cleanup.Interval <= 0 {
		return fmt.Errorf("cleanup: interval must be > 0 when enabled")
	}
	if c.Warmup.Concurrency <= 0 {
		return fmt.Errorf("warmup: concurrency must be > 0")
	}
	return nil
}

func (c *AppConfigIntermediary) validateServer() error {
	if c.Server.APIPort <= 0 || c.Server.APIPort > 65535 {
		return fmt.Errorf("server: apiPort must be 1..65535")
	}
	if c.Server.MetricsPort <= 0 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("server: metricsPort must be 1..65535")
	}
	if c.Server.APIPort == c.Server.MetricsPort {
		return fmt.Errorf("server: apiPort and metricsPort must differ")
	}
	return nil
}

///////////////////////////////////////////////////////////
/// Store
///////////////////////////////////////////////////////////

type Store struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Password        string        `yaml:"password"`
	DB              int           `yaml:"db"`
	PoolSize        int           `yaml:"poolSize"`
	MaxRetries      int           `yaml:"maxRetries"`
	MinRetryBackoff time.Duration `yaml:"minRetryBackoff"`
	MaxRetryBackoff time.Duration `yaml:"maxRetryBackoff"`
	DialTimeout     time.Duration `yaml:"dialTimeout"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	// OfflineQueue keeps commands queued inside the driver while the
	// connection is down. When false a circuit breaker rejects work
	// immediately instead.
	OfflineQueue bool `yaml:"offlineQueue"`
}

///////////////////////////////////////////////////////////
/// Cache
///////////////////////////////////////////////////////////

type Codec string

const (
	CodecJSON    Codec = "json"
	CodecMsgpack Codec = "msgpack"
	CodecUnknown Codec = "unknown"
)

func (c *Codec) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	switch s {
	case string(CodecJSON), string(CodecMsgpack):
		*c = Codec(s)
	default:
		*c = CodecUnknown
	}
	return nil
}

type Cache struct {
	KeyPrefix    string `yaml:"keyPrefix"`
	Codec        Codec  `yaml:"codec"`
	MaxValueSize string `yaml:"maxValueSize"`
	AsyncWriters int    `yaml:"asyncWriters"`
}

// MaxValueBytes converts the humanized size, 0 meaning unlimited.
func (c Cache) MaxValueBytes() (uint64, error) {
	if c.MaxValueSize == "" {
		return 0, nil
	}
	return ParseByteSize(c.MaxValueSize)
}

///////////////////////////////////////////////////////////
/// TTL tiers and entity policy
///////////////////////////////////////////////////////////

type TTL struct {
	Short     time.Duration `yaml:"short"`
	Medium    time.Duration `yaml:"medium"`
	Long      time.Duration `yaml:"long"`
	ExtraLong time.Duration `yaml:"extraLong"`
}

// Tiers maps configured overrides onto the tier names. Zero values are
// left to the policy defaults.
func (t TTL) Tiers() map[keys.Tier]time.Duration {
	return map[keys.Tier]time.Duration{
		keys.TierShort:     t.Short,
		keys.TierMedium:    t.Medium,
		keys.TierLong:      t.Long,
		keys.TierExtraLong: t.ExtraLong,
	}
}

type Entity struct {
	Kind string   `yaml:"kind"`
	Tier string   `yaml:"tier"`
	Tags []string `yaml:"tags"`
}

// Policy assembles the key policy from the validated config.
func (c *AppConfig) Policy() *keys.Policy {
	rules := make(map[string]keys.Rule, len(c.Entities))
	for _, e := range c.Entities {
		tags := make([]keys.Tag, 0, len(e.Tags))
		for _, t := range e.Tags {
			tags = append(tags, keys.Tag(t))
		}
		rules[e.Kind] = keys.Rule{Tier: keys.Tier(e.Tier), Tags: tags}
	}
	return keys.NewPolicy(c.Cache.KeyPrefix, c.TTL.Tiers(), rules)
}

///////////////////////////////////////////////////////////
/// Lock, maintenance, server
///////////////////////////////////////////////////////////

type Lock struct {
	TTL            time.Duration `yaml:"ttl"`
	InitialBackoff time.Duration `yaml:"initialBackoff"`
	MaxBackoff     time.Duration `yaml:"maxBackoff"`
	MaxWait        time.Duration `yaml:"maxWait"`
}

type Cleanup struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

type Warmup struct {
	Concurrency int `yaml:"concurrency"`
}

type Server struct {
	APIPort     int `yaml:"apiPort"`
	MetricsPort int `yaml:"metricsPort"`
}

///////////////////////////////////////////////////////////
/// UTILS
///////////////////////////////////////////////////////////

func ParseByteSize(s string) (uint64, error) {
	return humanize.ParseBytes(strings.TrimSpace(s))
}

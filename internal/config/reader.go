package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads, defaults, env-overrides and validates the config file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read error: %w", err)
	}

	var interm AppConfigIntermediary
	if err := yaml.Unmarshal(data, &interm); err != nil {
		return nil, fmt.Errorf("yaml unmarshal error: %w", err)
	}

	applyDefaults(&interm)
	applyEnv(&interm)

	if err := interm.Validate(); err != nil {
		return nil, fmt.Errorf("config validate error: %w", err)
	}

	return &AppConfig{
		Store:    interm.Store,
		Cache:    interm.Cache,
		TTL:      interm.TTL,
		Entities: interm.Entities,
		Lock:     interm.Lock,
		Cleanup:  interm.Cleanup,
		Warmup:   interm.Warmup,
		Server:   interm.Server,
	}, nil
}

func applyDefaults(c *AppConfigIntermediary) {
	if c.Store.Port == 0 {
		c.Store.Port = 6379
	}
	if c.Store.PoolSize == 0 {
		c.Store.PoolSize = 10
	}
	if c.Store.DialTimeout == 0 {
		c.Store.DialTimeout = 5 * time.Second
	}
	if c.Store.ReadTimeout == 0 {
		c.Store.ReadTimeout = 3 * time.Second
	}
	if c.Store.WriteTimeout == 0 {
		c.Store.WriteTimeout = 3 * time.Second
	}
	if c.Cache.Codec == "" {
		c.Cache.Codec = CodecJSON
	}
	if c.Cache.AsyncWriters == 0 {
		c.Cache.AsyncWriters = 64
	}
	if c.Lock.TTL == 0 {
		c.Lock.TTL = 30 * time.Second
	}
	if c.Lock.InitialBackoff == 0 {
		c.Lock.InitialBackoff = 20 * time.Millisecond
	}
	if c.Lock.MaxBackoff == 0 {
		c.Lock.MaxBackoff = 500 * time.Millisecond
	}
	if c.Lock.MaxWait == 0 {
		c.Lock.MaxWait = 5 * time.Second
	}
	if c.Cleanup.Interval == 0 {
		c.Cleanup.Interval = 10 * time.Minute
	}
	if c.Warmup.Concurrency == 0 {
		c.Warmup.Concurrency = 4
	}
	if c.Server.APIPort == 0 {
		c.Server.APIPort = 8080
	}
	if c.Server.MetricsPort == 0 {
		c.Server.MetricsPort = 9080
	}
}

// applyEnv lets deployment secrets override the file without editing
// it. Only the store connection is overridable.
func applyEnv(c *AppConfigIntermediary) {
	if v := os.Getenv("TAGCACHE_STORE_HOST"); v != "" {
		c.Store.Host = v
	}
	if v := os.Getenv("TAGCACHE_STORE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Store.Port = port
		}
	}
	if v := os.Getenv("TAGCACHE_STORE_PASSWORD"); v != "" {
		c.Store.Password = v
	}
	if v := os.Getenv("TAGCACHE_STORE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			c.Store.DB = db
		}
	}
	if v := os.Getenv("TAGCACHE_KEY_PREFIX"); v != "" {
		c.Cache.KeyPrefix = v
	}
}

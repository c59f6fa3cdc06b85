package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
store:
  host: localhost
  port: 6380
  db: 2
  poolSize: 20
  offlineQueue: true

cache:
  keyPrefix: app
  codec: msgpack
  maxValueSize: 512KB
  asyncWriters: 32

ttl:
  short: 45s
  long: 2h

entities:
  - kind: user
    tier: long
    tags: [account]
  - kind: session
    tier: short

lock:
  ttl: 10s
  maxWait: 2s

cleanup:
  enabled: true
  interval: 5m

server:
  apiPort: 8081
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := t.TempDir() + "/config.yml"
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad_Success(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Store.Host)
	assert.Equal(t, 6380, cfg.Store.Port)
	assert.Equal(t, 2, cfg.Store.DB)
	assert.True(t, cfg.Store.OfflineQueue)

	assert.Equal(t, "app", cfg.Cache.KeyPrefix)
	assert.Equal(t, CodecMsgpack, cfg.Cache.Codec)
	assert.Equal(t, 32, cfg.Cache.AsyncWriters)

	assert.Equal(t, 45*time.Second, cfg.TTL.Short)
	assert.Equal(t, 2*time.Hour, cfg.TTL.Long)
	assert.Len(t, cfg.Entities, 2)

	assert.Equal(t, 10*time.Second, cfg.Lock.TTL)
	assert.Equal(t, 2*time.Second, cfg.Lock.MaxWait)

	assert.Equal(t, 8081, cfg.Server.APIPort)
}

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "store:\n  host: localhost\ncache:\n  keyPrefix: app\n"))
	require.NoError(t, err)

	assert.Equal(t, 6379, cfg.Store.Port)
	assert.Equal(t, 10, cfg.Store.PoolSize)
	assert.Equal(t, CodecJSON, cfg.Cache.Codec)
	assert.Equal(t, 64, cfg.Cache.AsyncWriters)
	assert.Equal(t, 20*time.Millisecond, cfg.Lock.InitialBackoff)
	assert.Equal(t, 500*time.Millisecond, cfg.Lock.MaxBackoff)
	assert.Equal(t, 5*time.Second, cfg.Lock.MaxWait)
	assert.Equal(t, 8080, cfg.Server.APIPort)
	assert.Equal(t, 9080, cfg.Server.MetricsPort)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("TAGCACHE_STORE_HOST", "redis.internal")
	t.Setenv("TAGCACHE_STORE_PORT", "7000")
	t.Setenv("TAGCACHE_STORE_PASSWORD", "secret")
	t.Setenv("TAGCACHE_KEY_PREFIX", "staging")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "redis.internal", cfg.Store.Host)
	assert.Equal(t, 7000, cfg.Store.Port)
	assert.Equal(t, "secret", cfg.Store.Password)
	assert.Equal(t, "staging", cfg.Cache.KeyPrefix)
}

func TestLoad_UnknownCodecRejected(t *testing.T) {
	body := "store:\n  host: localhost\ncache:\n  keyPrefix: app\n  codec: gob\n"
	_, err := Load(writeConfig(t, body))
	assert.ErrorContains(t, err, "unknown codec")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(t.TempDir() + "/absent.yml")
	assert.ErrorContains(t, err, "read error")
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "store: ["))
	assert.ErrorContains(t, err, "yaml unmarshal error")
}

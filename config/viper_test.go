package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoaderLoad(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", `
breakers:
  payment:
    preset: critical_api
alert:
  high_value_threshold: "1000"
  email:
    recipients: ["ops@example.com"]
offer:
  batch_concurrency: 4
`)
	writeFile(t, dir, "config.staging.yaml", `
offer:
  batch_concurrency: 16
`)

	t.Setenv("TRIPGUARD_ENV", "staging")
	t.Setenv("TRIPGUARD_ALERT_HIGH_VALUE_THRESHOLD", "2500")

	loader, err := New(&Config{Paths: []string{dir}})
	require.NoError(t, err)
	require.NoError(t, loader.Load(context.Background()))

	assert.Equal(t, "critical_api", loader.Get("breakers.payment.preset"))
	assert.Equal(t, "2500", loader.Get("alert.high_value_threshold"))

	var offer struct {
		BatchConcurrency int `mapstructure:"batch_concurrency"`
	}
	require.NoError(t, loader.UnmarshalKey("offer", &offer))
	assert.Equal(t, 16, offer.BatchConcurrency)
}

func TestLoaderEmptyConfig(t *testing.T) {
	dir := t.TempDir()

	loader, err := New(&Config{Paths: []string{dir}, EnvPrefix: "TRIPGUARD_EMPTY_TEST"})
	require.NoError(t, err)
	err = loader.Load(context.Background())
	require.Error(t, err)
	assert.True(t, IsInvalidInput(err))

	loader, err = New(&Config{Paths: []string{dir}, EnvPrefix: "TRIPGUARD_EMPTY_TEST"}, WithAllowEmpty())
	require.NoError(t, err)
	require.NoError(t, loader.Load(context.Background()))
}

func TestLoaderDefaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", "admin:\n  addr: \":9000\"\n")

	loader, err := New(&Config{Paths: []string{dir}})
	require.NoError(t, err)
	loader.SetDefault("admin.addr", ":8088")
	loader.SetDefault("admin.read_timeout", "5s")
	require.NoError(t, loader.Load(context.Background()))

	var admin struct {
		Addr        string        `mapstructure:"addr"`
		ReadTimeout time.Duration `mapstructure:"read_timeout"`
	}
	require.NoError(t, loader.UnmarshalKey("admin", &admin))
	assert.Equal(t, ":9000", admin.Addr)
	assert.Equal(t, 5*time.Second, admin.ReadTimeout)
}

func TestLoaderWatch(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", "flags:\n  cache_ttl: 1s\n")

	loader, err := New(&Config{Paths: []string{dir}})
	require.NoError(t, err)
	require.NoError(t, loader.Load(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := loader.Watch(ctx, "flags.cache_ttl")
	require.NoError(t, err)

	cancel()
	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

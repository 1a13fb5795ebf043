package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmatc13/orderless/pkg/errors"
)

func TestDefaults(t *testing.T) {
	cfg, err := LoadWithOptions(LoadOptions{})
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.API.Port)
	assert.Equal(t, []string{"*"}, cfg.API.CORSAllowedOrigins)
	assert.Equal(t, 60*time.Second, cfg.Node.ExpirationWindow)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, "transactions", cfg.Kafka.TransactionTopic)
	assert.Equal(t, uint8(4), cfg.Node.ChainID)
	assert.True(t, cfg.Faucet.Enabled)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("ORDERLESS_REDIS_ADDRESS", "redis:6380")
	t.Setenv("ORDERLESS_NODE_EXPIRATION_WINDOW", "30s")
	t.Setenv("ORDERLESS_STORAGE_BACKEND", "redis")

	cfg, err := LoadWithOptions(LoadOptions{EnvPrefix: "ORDERLESS"})
	require.NoError(t, err)
	assert.Equal(t, "redis:6380", cfg.Redis.Address)
	assert.Equal(t, 30*time.Second, cfg.Node.ExpirationWindow)
	assert.Equal(t, "redis", cfg.Storage.Backend)
}

func TestConfigFileAndFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api:\n  port: \"9000\"\nnode:\n  block_size: 7\n"), 0o600))

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--api.port=9100"}))

	cfg, err := LoadWithOptions(LoadOptions{ConfigFile: path, Flags: fs})
	require.NoError(t, err)
	assert.Equal(t, "9100", cfg.API.Port)
	assert.Equal(t, 7, cfg.Node.BlockSize)
}

func TestEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("ORDERLESS_LOG_LEVEL=debug\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("ORDERLESS_LOG_LEVEL") })

	cfg, err := LoadWithOptions(LoadOptions{EnvFile: path, EnvPrefix: "ORDERLESS"})
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestMissingEnvFileIgnored(t *testing.T) {
	_, err := LoadWithOptions(LoadOptions{EnvFile: filepath.Join(t.TempDir(), "absent.env")})
	require.NoError(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Storage.Backend = "postgres"
	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.IsStorageError(err, errors.StorageErrUnsupportedBackend))

	cfg = Default()
	cfg.Auth.Enabled = true
	cfg.Auth.JWTSecret = "short"
	assert.Error(t, cfg.Validate())

	assert.NoError(t, Default().Validate())
}

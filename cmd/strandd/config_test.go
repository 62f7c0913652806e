package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
listen: ":9000"
issuer: "https://auth.example.com"
secret: "0123456789abcdef0123456789abcdef"
log:
  level: debug
tokens:
  access_token_ttl: 1800
security:
  rotate_refresh_tokens: true
  require_pkce: true
storage:
  backend: redis
  redis:
    addr: "localhost:6379"
    key_prefix: "strand:"
clients:
  - id: web-app
    name: Web App
    redirect_uri: "https://app.example.com/callback"
    scope: "token:authenticate token:refresh openid"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "strandd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, "https://auth.example.com", cfg.Issuer)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, int64(1800), cfg.Tokens.AccessTokenTTL)
	assert.True(t, cfg.Security.RotateRefreshTokens)
	assert.Equal(t, "redis", cfg.Storage.Backend)
	assert.Equal(t, "localhost:6379", cfg.Storage.Redis.Addr)
	require.Len(t, cfg.Clients, 1)
	assert.Equal(t, "web-app", cfg.Clients[0].ID)

	// Defaults fill the gaps.
	assert.Equal(t, int64(10), cfg.HTTP.ReadTimeout)
	assert.Equal(t, int64(10), cfg.HTTP.ShutdownTimeout)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("STRAND_LISTEN", ":7070")
	t.Setenv("STRAND_STORAGE_BACKEND", "memory")
	t.Setenv("STRAND_TOKENS_ACCESS_TOKEN_TTL", "900")

	cfg, err := loadConfig(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Listen)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, int64(900), cfg.Tokens.AccessTokenTTL)
}

func TestLoadConfig_Validation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "missing issuer",
			yaml: "listen: \":8080\"\nsecret: \"0123456789abcdef0123456789abcdef\"\n",
		},
		{
			name: "short secret",
			yaml: "issuer: \"https://a.example.com\"\nsecret: \"short\"\n",
		},
		{
			name: "unknown backend",
			yaml: "issuer: \"https://a.example.com\"\nsecret: \"0123456789abcdef0123456789abcdef\"\nstorage:\n  backend: postgres\n",
		},
		{
			name: "redis backend without addr",
			yaml: "issuer: \"https://a.example.com\"\nsecret: \"0123456789abcdef0123456789abcdef\"\nstorage:\n  backend: redis\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadConfig(writeConfig(t, tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_InvalidClientSeed(t *testing.T) {
	yaml := `
issuer: "https://a.example.com"
secret: "0123456789abcdef0123456789abcdef"
clients:
  - id: broken
    name: Broken
    scope: "token:authenticate"
`
	_, err := loadConfig(writeConfig(t, yaml))
	assert.Error(t, err)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

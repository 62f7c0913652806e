package main

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// envPrefix is the prefix for environment overrides. STRAND_STORAGE_BACKEND
// overrides storage.backend, and so on.
const envPrefix = "STRAND_"

// Config is the daemon configuration, loaded from YAML with environment
// overrides. All durations are seconds, matching server.Config.
type Config struct {
	Listen string `koanf:"listen" validate:"required,hostname_port"`
	Issuer string `koanf:"issuer" validate:"required,url"`

	// Secret is the HS256 signing secret, 32 bytes minimum. Set it via
	// STRAND_SECRET rather than the config file where possible.
	Secret string `koanf:"secret" validate:"required,min=32"`

	Log struct {
		Level string `koanf:"level" validate:"omitempty,oneof=debug info warn error"`
	} `koanf:"log"`

	HTTP struct {
		ReadTimeout       int64 `koanf:"read_timeout"`        // seconds, default 10
		ReadHeaderTimeout int64 `koanf:"read_header_timeout"` // seconds, default 5
		WriteTimeout      int64 `koanf:"write_timeout"`       // seconds, default 20
		IdleTimeout       int64 `koanf:"idle_timeout"`        // seconds, default 60
		ShutdownTimeout   int64 `koanf:"shutdown_timeout"`    // seconds, default 10
	} `koanf:"http"`

	Tokens struct {
		AuthorizationCodeTTL int64 `koanf:"authorization_code_ttl"`
		AccessTokenTTL       int64 `koanf:"access_token_ttl"`
		RefreshTokenTTL      int64 `koanf:"refresh_token_ttl"`
		ClockSkewGrace       int64 `koanf:"clock_skew_grace"`
	} `koanf:"tokens"`

	Security struct {
		RotateRefreshTokens bool `koanf:"rotate_refresh_tokens"`
		RequirePKCE         bool `koanf:"require_pkce"`
		AllowPKCEPlain      bool `koanf:"allow_pkce_plain"`
		AllowPKCENone       bool `koanf:"allow_pkce_none"`
		PromptRateLimit     int  `koanf:"prompt_rate_limit"`
		PromptRateBurst     int  `koanf:"prompt_rate_burst"`
		TrustProxy          bool `koanf:"trust_proxy"`
		TrustedProxyCount   int  `koanf:"trusted_proxy_count"`
	} `koanf:"security"`

	Storage struct {
		Backend string `koanf:"backend" validate:"required,oneof=memory redis"`
		Redis   struct {
			Addr     string `koanf:"addr" validate:"omitempty,hostname_port"`
			Username string `koanf:"username"`
			Password string `koanf:"password"`
			DB       int    `koanf:"db"`

			KeyPrefix string `koanf:"key_prefix"`

			// EncryptionKey is an optional base64-encoded 32-byte key; when
			// set, aggregates are AES-GCM encrypted at rest.
			EncryptionKey string `koanf:"encryption_key" validate:"omitempty,base64"`
		} `koanf:"redis"`
	} `koanf:"storage"`

	Instrumentation struct {
		Enabled        bool   `koanf:"enabled"`
		ServiceName    string `koanf:"service_name"`
		ServiceVersion string `koanf:"service_version"`
	} `koanf:"instrumentation"`

	// Clients are seeded into the store at startup. Registration is
	// config-driven; there is no runtime client registration endpoint.
	Clients []ClientSeed `koanf:"clients" validate:"dive"`
}

// ClientSeed is one client registration from the config file.
type ClientSeed struct {
	ID          string `koanf:"id" validate:"required"`
	Name        string `koanf:"name" validate:"required"`
	RedirectURI string `koanf:"redirect_uri" validate:"required,url"`
	Scope       string `koanf:"scope" validate:"required"`
}

// loadConfig reads the YAML file at path (optional), applies STRAND_*
// environment overrides, fills defaults, and validates the result.
func loadConfig(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	// STRAND_STORAGE_REDIS_ADDR -> storage.redis.addr. Key names with
	// embedded underscores are resolved against the known key set so
	// STRAND_TOKENS_ACCESS_TOKEN_TTL lands on tokens.access_token_ttl.
	err := k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			return resolveEnvKey(strings.TrimPrefix(key, envPrefix)), value
		},
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Storage.Backend == "redis" && cfg.Storage.Redis.Addr == "" {
		return nil, fmt.Errorf("invalid configuration: storage.redis.addr is required for the redis backend")
	}
	return &cfg, nil
}

// knownKeys maps flattened env-style names onto their koanf paths for keys
// whose names themselves contain underscores.
var knownKeys = map[string]string{
	"log_level":                       "log.level",
	"http_read_timeout":               "http.read_timeout",
	"http_read_header_timeout":        "http.read_header_timeout",
	"http_write_timeout":              "http.write_timeout",
	"http_idle_timeout":               "http.idle_timeout",
	"http_shutdown_timeout":           "http.shutdown_timeout",
	"tokens_authorization_code_ttl":   "tokens.authorization_code_ttl",
	"tokens_access_token_ttl":         "tokens.access_token_ttl",
	"tokens_refresh_token_ttl":        "tokens.refresh_token_ttl",
	"tokens_clock_skew_grace":         "tokens.clock_skew_grace",
	"security_rotate_refresh_tokens":  "security.rotate_refresh_tokens",
	"security_require_pkce":           "security.require_pkce",
	"security_allow_pkce_plain":       "security.allow_pkce_plain",
	"security_allow_pkce_none":        "security.allow_pkce_none",
	"security_prompt_rate_limit":      "security.prompt_rate_limit",
	"security_prompt_rate_burst":      "security.prompt_rate_burst",
	"security_trust_proxy":            "security.trust_proxy",
	"security_trusted_proxy_count":    "security.trusted_proxy_count",
	"storage_backend":                 "storage.backend",
	"storage_redis_addr":              "storage.redis.addr",
	"storage_redis_username":          "storage.redis.username",
	"storage_redis_password":          "storage.redis.password",
	"storage_redis_db":                "storage.redis.db",
	"storage_redis_key_prefix":        "storage.redis.key_prefix",
	"storage_redis_encryption_key":    "storage.redis.encryption_key",
	"instrumentation_enabled":         "instrumentation.enabled",
	"instrumentation_service_name":    "instrumentation.service_name",
	"instrumentation_service_version": "instrumentation.service_version",
}

func resolveEnvKey(name string) string {
	flat := strings.ToLower(name)
	if path, ok := knownKeys[flat]; ok {
		return path
	}
	return strings.ReplaceAll(flat, "_", ".")
}

func applyDefaults(cfg *Config) {
	if cfg.Listen == "" {
		cfg.Listen = ":8080"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 10
	}
	if cfg.HTTP.ReadHeaderTimeout == 0 {
		cfg.HTTP.ReadHeaderTimeout = 5
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 20
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60
	}
	if cfg.HTTP.ShutdownTimeout == 0 {
		cfg.HTTP.ShutdownTimeout = 10
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "memory"
	}
}

package server

import (
	"fmt"
	"log/slog"
	"time"
)

// Config holds the protocol engine configuration. Durations are expressed in
// seconds so the zero value of every field is distinguishable from an
// explicit setting and the struct round-trips cleanly through YAML and env.
type Config struct {
	// Issuer is the server's issuer identifier (base URL). It is stamped
	// into every signed token and checked on every verification. Required.
	Issuer string

	// AuthorizationCodeTTL is how long authorization codes are valid.
	AuthorizationCodeTTL int64 // seconds, default: 600 (10 minutes)

	// AccessTokenTTL is how long access tokens are valid.
	AccessTokenTTL int64 // seconds, default: 3600 (1 hour)

	// RefreshTokenTTL is how long refresh tokens are valid.
	RefreshTokenTTL int64 // seconds, default: 7776000 (90 days)

	// RotateRefreshTokens replaces the refresh token on every refresh grant
	// (OAuth 2.1). Default: true.
	RotateRefreshTokens bool

	// RequirePKCE makes code_challenge mandatory on every authorization
	// request. Disabling it significantly weakens the flow and exists only
	// for legacy clients. Default: true.
	RequirePKCE bool

	// AllowPKCEPlain permits the 'plain' code_challenge_method. The plain
	// method is deprecated in OAuth 2.1; only S256 is accepted when this is
	// false. Default: false.
	AllowPKCEPlain bool

	// AllowPKCENone permits requests that skip PKCE entirely. Only
	// meaningful when RequirePKCE is false. Default: false.
	AllowPKCENone bool

	// ClockSkewGracePeriod is the grace applied to token expiry checks to
	// absorb clock drift between systems.
	ClockSkewGracePeriod int64 // seconds, default: 5

	// PromptRateLimit caps password attempts per identifier per second at
	// the authorization prompt, with PromptRateBurst as the bucket size.
	PromptRateLimit int // default: 1
	PromptRateBurst int // default: 5

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers.
	// Only enable behind a trusted reverse proxy. Default: false.
	TrustProxy bool

	// TrustedProxyCount is the number of proxies in front of this server,
	// used with TrustProxy to pick the client IP out of X-Forwarded-For.
	TrustedProxyCount int // default: 1
}

// Duration accessors. TTL fields are stored as seconds; everything past the
// config boundary works in time.Duration.

func (c *Config) AuthorizationCodeLifetime() time.Duration {
	return time.Duration(c.AuthorizationCodeTTL) * time.Second
}

func (c *Config) AccessTokenLifetime() time.Duration {
	return time.Duration(c.AccessTokenTTL) * time.Second
}

func (c *Config) RefreshTokenLifetime() time.Duration {
	return time.Duration(c.RefreshTokenTTL) * time.Second
}

func (c *Config) ClockSkewGrace() time.Duration {
	return time.Duration(c.ClockSkewGracePeriod) * time.Second
}

// applySecureDefaults fills in zero values and resolves the boolean
// security settings. A config with every security bool false is taken to be
// freshly constructed and gets the secure defaults; anything else is an
// explicit choice and only earns warnings.
func applySecureDefaults(config *Config, logger *slog.Logger) *Config {
	applyTimeDefaults(config)
	applySecurityDefaults(config, logger)
	return config
}

func applyTimeDefaults(config *Config) {
	if config.AuthorizationCodeTTL == 0 {
		config.AuthorizationCodeTTL = 600 // 10 minutes
	}
	if config.AccessTokenTTL == 0 {
		config.AccessTokenTTL = 3600 // 1 hour
	}
	if config.RefreshTokenTTL == 0 {
		config.RefreshTokenTTL = 7776000 // 90 days
	}
	if config.ClockSkewGracePeriod == 0 {
		config.ClockSkewGracePeriod = 5
	}
	if config.PromptRateLimit == 0 {
		config.PromptRateLimit = 1
	}
	if config.PromptRateBurst == 0 {
		config.PromptRateBurst = 5
	}
	if config.TrustedProxyCount == 0 {
		config.TrustedProxyCount = 1
	}
}

func applySecurityDefaults(config *Config, logger *slog.Logger) {
	isDefaultConfig := !config.RotateRefreshTokens &&
		!config.RequirePKCE &&
		!config.AllowPKCEPlain &&
		!config.AllowPKCENone &&
		!config.TrustProxy

	if isDefaultConfig {
		config.RotateRefreshTokens = true
		config.RequirePKCE = true
		return
	}

	logSecurityWarnings(config, logger)
}

func logSecurityWarnings(config *Config, logger *slog.Logger) {
	if !config.RequirePKCE {
		logger.Warn("SECURITY WARNING: PKCE is disabled",
			"risk", "authorization code interception",
			"recommendation", "set RequirePKCE=true")
	}
	if config.AllowPKCEPlain {
		logger.Warn("SECURITY WARNING: plain PKCE method is allowed",
			"risk", "weak code challenge protection",
			"recommendation", "set AllowPKCEPlain=false to require S256")
	}
	if config.AllowPKCENone {
		logger.Warn("SECURITY WARNING: PKCE-less authorization requests are allowed",
			"risk", "no proof of possession at code exchange",
			"recommendation", "set AllowPKCENone=false")
	}
	if !config.RotateRefreshTokens {
		logger.Warn("SECURITY NOTICE: refresh token rotation is disabled",
			"risk", "stolen refresh tokens stay valid until expiry",
			"recommendation", "set RotateRefreshTokens=true")
	}
	if config.TrustProxy {
		logger.Warn("SECURITY NOTICE: trusting proxy headers",
			"risk", "IP spoofing if the proxy chain is misconfigured",
			"config", "TrustedProxyCount must match your proxy chain length")
	}
}

// validate rejects configuration the engine cannot run with.
func (c *Config) validate() error {
	if c.Issuer == "" {
		return fmt.Errorf("config: issuer is required")
	}
	return nil
}

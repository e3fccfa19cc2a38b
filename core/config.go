package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	AuthKindOAuth2 = "oauth2"
	AuthKindSigV4  = "aws_sigv4"
	AuthKindAPIKey = "api_key"
)

// RetryConfig is the per-marketplace tuning consumed by the retry package.
// Values are milliseconds so the whole struct stays koanf-friendly.
type RetryConfig struct {
	MaxAttempts      int `koanf:"max_attempts" mapstructure:"max_attempts"`
	InitialDelayMS   int `koanf:"initial_delay_ms" mapstructure:"initial_delay_ms"`
	MaxDelayMS       int `koanf:"max_delay_ms" mapstructure:"max_delay_ms"`
	AttemptTimeoutMS int `koanf:"attempt_timeout_ms" mapstructure:"attempt_timeout_ms"`
}

func (c RetryConfig) InitialDelay() time.Duration {
	return time.Duration(c.InitialDelayMS) * time.Millisecond
}

func (c RetryConfig) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelayMS) * time.Millisecond
}

func (c RetryConfig) AttemptTimeout() time.Duration {
	return time.Duration(c.AttemptTimeoutMS) * time.Millisecond
}

type MarketplaceConfig struct {
	AuthKind       string      `koanf:"auth_kind" mapstructure:"auth_kind"`
	TokenURL       string      `koanf:"token_url" mapstructure:"token_url"`
	TokenHeader    string      `koanf:"token_header" mapstructure:"token_header"`
	RequiredFields []string    `koanf:"required_fields" mapstructure:"required_fields"`
	Scopes         []string    `koanf:"scopes" mapstructure:"scopes"`
	Retry          RetryConfig `koanf:"retry" mapstructure:"retry"`
}

type Config struct {
	ServiceName           string                       `koanf:"service_name" mapstructure:"service_name"`
	DefaultEnvironment    string                       `koanf:"default_environment" mapstructure:"default_environment"`
	StateTokenTTLSeconds  int                          `koanf:"state_token_ttl_seconds" mapstructure:"state_token_ttl_seconds"`
	RefreshMarginSeconds  int                          `koanf:"refresh_margin_seconds" mapstructure:"refresh_margin_seconds"`
	Marketplaces          map[string]MarketplaceConfig `koanf:"marketplaces" mapstructure:"marketplaces"`
}

func (c Config) StateTokenTTL() time.Duration {
	if c.StateTokenTTLSeconds <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.StateTokenTTLSeconds) * time.Second
}

func (c Config) RefreshSafetyMargin() time.Duration {
	if c.RefreshMarginSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.RefreshMarginSeconds) * time.Second
}

func (c Config) Marketplace(marketplaceID string) (MarketplaceConfig, bool) {
	cfg, ok := c.Marketplaces[strings.TrimSpace(strings.ToLower(marketplaceID))]
	return cfg, ok
}

func DefaultConfig() Config {
	return Config{
		ServiceName:          "marketauth",
		DefaultEnvironment:   string(EnvironmentProduction),
		StateTokenTTLSeconds: 600,
		RefreshMarginSeconds: 300,
		Marketplaces: map[string]MarketplaceConfig{
			MarketplaceEbay: {
				AuthKind:       AuthKindOAuth2,
				TokenURL:       "https://api.ebay.com/identity/v1/oauth2/token",
				RequiredFields: []string{"client_id", "client_secret"},
				Scopes:         []string{"https://api.ebay.com/oauth/api_scope/sell.inventory"},
				Retry: RetryConfig{
					MaxAttempts:      3,
					InitialDelayMS:   500,
					MaxDelayMS:       5_000,
					AttemptTimeoutMS: 15_000,
				},
			},
			MarketplaceMercadoLibre: {
				AuthKind:       AuthKindOAuth2,
				TokenURL:       "https://api.mercadolibre.com/oauth/token",
				RequiredFields: []string{"client_id", "client_secret"},
				Retry: RetryConfig{
					MaxAttempts:      3,
					InitialDelayMS:   500,
					MaxDelayMS:       8_000,
					AttemptTimeoutMS: 15_000,
				},
			},
			MarketplaceAmazon: {
				AuthKind:       AuthKindSigV4,
				TokenURL:       "https://api.amazon.com/auth/o2/token",
				TokenHeader:    "x-amz-access-token",
				RequiredFields: []string{"seller_id", "aws_access_key_id", "aws_secret_access_key"},
				// Feed-style API tolerates long waits between attempts.
				Retry: RetryConfig{
					MaxAttempts:      4,
					InitialDelayMS:   2_000,
					MaxDelayMS:       30_000,
					AttemptTimeoutMS: 60_000,
				},
			},
			MarketplaceAliexpress: {
				AuthKind:       AuthKindOAuth2,
				TokenURL:       "https://oauth.aliexpress.com/token",
				RequiredFields: []string{"app_key", "app_secret"},
				Retry: RetryConfig{
					MaxAttempts:      3,
					InitialDelayMS:   1_000,
					MaxDelayMS:       10_000,
					AttemptTimeoutMS: 30_000,
				},
			},
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if _, err := ParseEnvironment(c.DefaultEnvironment); err != nil {
		return fmt.Errorf("core: default_environment: %w", err)
	}
	for id, marketplace := range c.Marketplaces {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("core: marketplace id is required")
		}
		switch strings.TrimSpace(strings.ToLower(marketplace.AuthKind)) {
		case AuthKindOAuth2, AuthKindSigV4, AuthKindAPIKey:
		default:
			return fmt.Errorf("core: marketplace %q has invalid auth_kind %q", id, marketplace.AuthKind)
		}
	}
	return nil
}

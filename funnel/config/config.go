// Package config loads the funnelbot configuration: the reusable core
// settings plus database, redis, HTTP receiver and funnel defaults.
package config

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	coreconfig "github.com/m3rciful/funnelbot/core/config"
	"github.com/m3rciful/funnelbot/core/database"
)

// RedisConfig enables the shared rate limiter when URL is set.
type RedisConfig struct {
	URL    string `yaml:"url" envconfig:"REDIS_URL"`
	Prefix string `yaml:"prefix" envconfig:"REDIS_PREFIX"`
}

// HTTPConfig configures the postback receiver.
type HTTPConfig struct {
	Listen string `yaml:"listen" envconfig:"POSTBACK_HTTP_LISTEN"`
	// Secret is compared to the `secret` parameter; empty disables the check.
	Secret string `yaml:"secret" envconfig:"POSTBACK_HTTP_SECRET"`
	// PublicURL is the externally reachable base used in the partner URL
	// templates shown to admins; defaults to http://<listen>.
	PublicURL string `yaml:"public_url" envconfig:"POSTBACK_PUBLIC_URL"`
	// ShutdownTimeoutSeconds bounds graceful shutdown of the listener.
	ShutdownTimeoutSeconds int `yaml:"shutdown_timeout_seconds"`
}

// FunnelConfig holds defaults for the runtime-overridable funnel settings.
type FunnelConfig struct {
	RequireSubscription bool            `yaml:"require_subscription" envconfig:"REQUIRE_SUBSCRIPTION"`
	RequireDeposit      bool            `yaml:"require_deposit" envconfig:"REQUIRE_DEPOSIT"`
	AccessThreshold     decimal.Decimal `yaml:"access_threshold" envconfig:"ACCESS_THRESHOLD_USD"`
	VIPThreshold        decimal.Decimal `yaml:"vip_threshold" envconfig:"VIP_THRESHOLD_USD"`
	SubChannelID        int64           `yaml:"sub_channel_id" envconfig:"SUB_CHANNEL_ID"`
	SubChannelsURL      string          `yaml:"sub_channels_url" envconfig:"SUB_CHANNELS_URL"`
	RefLink             string          `yaml:"ref_link" envconfig:"REF_LINK"`
	MiniAppRegular      string          `yaml:"miniapp_regular" envconfig:"MINIAPP_LINK_REGULAR"`
	MiniAppVIP          string          `yaml:"miniapp_vip" envconfig:"MINIAPP_LINK_VIP"`
	SupportURL          string          `yaml:"support_url" envconfig:"SUPPORT_URL"`
	PostbackChannelID   int64           `yaml:"postback_channel_id" envconfig:"POSTBACK_CHANNEL_ID"`
	DefaultLang         string          `yaml:"default_lang" envconfig:"DEFAULT_LANG"`
	// ReloadSeconds is how often runtime overrides are re-read; 0 means 30s.
	ReloadSeconds int `yaml:"reload_seconds" envconfig:"SETTINGS_RELOAD_SECONDS"`
}

// Config is the full application configuration.
type Config struct {
	coreconfig.Config `yaml:",inline"`

	Database database.Config `yaml:"database"`
	Redis    RedisConfig     `yaml:"redis"`
	HTTP     HTTPConfig      `yaml:"http"`
	Funnel   FunnelConfig    `yaml:"funnel"`
}

// CoreConfig exposes the embedded core configuration.
func (c *Config) CoreConfig() *coreconfig.Config {
	if c == nil {
		return nil
	}
	return &c.Config
}

// Load reads path, overlays the environment and validates the result.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if err := coreconfig.LoadInto(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Defaults mirrors the values used when a key is absent from the file.
func Defaults() *Config {
	return &Config{
		HTTP: HTTPConfig{Listen: ":8080", ShutdownTimeoutSeconds: 5},
		Funnel: FunnelConfig{
			RequireSubscription: true,
			RequireDeposit:      true,
			AccessThreshold:     decimal.NewFromInt(100),
			VIPThreshold:        decimal.NewFromInt(300),
			DefaultLang:         "en",
		},
	}
}

// PostbackBaseURL is the externally reachable receiver address.
func (h HTTPConfig) PostbackBaseURL() string {
	if u := strings.TrimRight(strings.TrimSpace(h.PublicURL), "/"); u != "" {
		return u
	}
	host := h.Listen
	if strings.HasPrefix(host, ":") {
		host = "localhost" + host
	}
	return "http://" + host
}

// Normalize validates every section.
func (c *Config) Normalize() error {
	if err := coreconfig.Normalize(&c.Config); err != nil {
		return err
	}
	if err := c.Database.Normalize(); err != nil {
		return err
	}
	if strings.TrimSpace(c.HTTP.Listen) == "" {
		return fmt.Errorf("http.listen is required")
	}
	if c.HTTP.ShutdownTimeoutSeconds <= 0 {
		c.HTTP.ShutdownTimeoutSeconds = 5
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "funnelbot:"
	}
	return c.Funnel.Validate()
}

// Validate checks threshold sanity.
func (f *FunnelConfig) Validate() error {
	if !f.AccessThreshold.IsPositive() {
		return fmt.Errorf("funnel.access_threshold must be > 0")
	}
	if !f.VIPThreshold.IsPositive() {
		return fmt.Errorf("funnel.vip_threshold must be > 0")
	}
	f.DefaultLang = strings.ToLower(strings.TrimSpace(f.DefaultLang))
	if f.DefaultLang == "" {
		f.DefaultLang = "en"
	}
	return nil
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
)

const sampleYAML = `
telegram:
  token: "123:abc"
  admin_ids: [10, 0, 20]
logging:
  level: debug
database:
  host: localhost
  name: funnel
http:
  listen: ":9090"
  secret: s3cret
funnel:
  require_deposit: false
  access_threshold: 50
  vip_threshold: "300.5"
  sub_channel_id: -100123
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesYAMLAndDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Telegram.RunMode != "longpoll" {
		t.Fatalf("expected longpoll default, got %q", cfg.Telegram.RunMode)
	}
	if len(cfg.Telegram.AdminIDs) != 2 || !cfg.Telegram.IsAdmin(20) {
		t.Fatalf("unexpected admins: %v", cfg.Telegram.AdminIDs)
	}
	if cfg.Database.Port != "5432" || cfg.Database.MigrationsDir != "migrations" {
		t.Fatalf("database defaults not applied: %+v", cfg.Database)
	}
	if !cfg.Funnel.RequireSubscription || cfg.Funnel.RequireDeposit {
		t.Fatalf("unexpected flags: %+v", cfg.Funnel)
	}
	if !cfg.Funnel.AccessThreshold.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("unexpected access threshold %s", cfg.Funnel.AccessThreshold)
	}
	if !cfg.Funnel.VIPThreshold.Equal(decimal.RequireFromString("300.5")) {
		t.Fatalf("unexpected vip threshold %s", cfg.Funnel.VIPThreshold)
	}
	if cfg.Funnel.SubChannelID != -100123 || cfg.HTTP.Secret != "s3cret" {
		t.Fatalf("unexpected funnel/http: %+v %+v", cfg.Funnel, cfg.HTTP)
	}
	if cfg.Redis.Prefix != "funnelbot:" || cfg.Funnel.DefaultLang != "en" {
		t.Fatalf("defaults missing: %+v %q", cfg.Redis, cfg.Funnel.DefaultLang)
	}
	if cfg.CoreConfig() != &cfg.Config {
		t.Fatalf("CoreConfig must point at the embedded struct")
	}
}

func TestLoadEnvOverridesYAML(t *testing.T) {
	t.Setenv("VIP_THRESHOLD_USD", "500")
	t.Setenv("POSTBACK_HTTP_SECRET", "from-env")

	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Funnel.VIPThreshold.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("env override ignored: %s", cfg.Funnel.VIPThreshold)
	}
	if cfg.HTTP.Secret != "from-env" {
		t.Fatalf("env secret ignored: %q", cfg.HTTP.Secret)
	}
}

func TestNormalizeRejectsNonPositiveThreshold(t *testing.T) {
	f := FunnelConfig{AccessThreshold: decimal.Zero, VIPThreshold: decimal.NewFromInt(300)}
	if err := f.Validate(); err == nil {
		t.Fatalf("expected error for zero access threshold")
	}
	f = FunnelConfig{AccessThreshold: decimal.NewFromInt(10), VIPThreshold: decimal.NewFromInt(-1)}
	if err := f.Validate(); err == nil {
		t.Fatalf("expected error for negative vip threshold")
	}
}

func TestLoadRequiresToken(t *testing.T) {
	t.Setenv("BOT_TOKEN", "")
	body := `
database:
  host: localhost
  name: funnel
`
	if _, err := Load(writeConfig(t, body)); err == nil {
		t.Fatalf("expected error without telegram token")
	}
}

func TestPostbackBaseURL(t *testing.T) {
	cases := []struct {
		http HTTPConfig
		want string
	}{
		{HTTPConfig{Listen: ":8080"}, "http://localhost:8080"},
		{HTTPConfig{Listen: "10.0.0.2:9000"}, "http://10.0.0.2:9000"},
		{HTTPConfig{Listen: ":8080", PublicURL: "https://pb.example.com/ "}, "https://pb.example.com"},
	}
	for _, c := range cases {
		if got := c.http.PostbackBaseURL(); got != c.want {
			t.Fatalf("PostbackBaseURL(%+v) = %q, want %q", c.http, got, c.want)
		}
	}
}

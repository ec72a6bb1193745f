package config

import (
	"strings"
	"testing"
)

func TestNormalizeDefaultsAndFilters(t *testing.T) {
	cfg := &Config{
		Telegram:  TelegramConfig{Token: "t", RunMode: "Polling", AdminIDs: []int64{0, 42, -1, 7}},
		RateLimit: RateLimitConfig{ExcludeUpdates: []string{" Callback ", ""}},
	}
	if err := Normalize(cfg); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if cfg.Telegram.RunMode != RunModeLongpoll {
		t.Fatalf("run mode = %q", cfg.Telegram.RunMode)
	}
	if len(cfg.Telegram.AdminIDs) != 2 || !cfg.Telegram.IsAdmin(42) || !cfg.Telegram.IsAdmin(7) || cfg.Telegram.IsAdmin(0) {
		t.Fatalf("admins = %v", cfg.Telegram.AdminIDs)
	}
	if len(cfg.RateLimit.ExcludeUpdates) != 1 || cfg.RateLimit.ExcludeUpdates[0] != UpdateCallback {
		t.Fatalf("exclusions = %v", cfg.RateLimit.ExcludeUpdates)
	}
}

func TestNormalizeRejects(t *testing.T) {
	cases := map[string]*Config{
		"token":     {},
		"webhook":   {Telegram: TelegramConfig{Token: "t", RunMode: "webhook"}},
		"run_mode":  {Telegram: TelegramConfig{Token: "t", RunMode: "carrier-pigeon"}},
		"exclusion": {Telegram: TelegramConfig{Token: "t"}, RateLimit: RateLimitConfig{ExcludeUpdates: []string{"inline_query"}}},
	}
	for name, cfg := range cases {
		if err := Normalize(cfg); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	err := Normalize(&Config{Telegram: TelegramConfig{Token: "t", RunMode: "webhook"}, Webhook: WebhookConfig{Listen: "0.0.0.0"}})
	if err == nil || !strings.Contains(err.Error(), "webhook.url, webhook.port") {
		t.Fatalf("expected missing webhook fields, got %v", err)
	}
}

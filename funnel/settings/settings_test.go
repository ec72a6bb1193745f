package settings

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/m3rciful/funnelbot/funnel/config"
	"github.com/m3rciful/funnelbot/funnel/repository"
)

func defaults() config.FunnelConfig {
	return config.FunnelConfig{
		RequireSubscription: true,
		RequireDeposit:      true,
		AccessThreshold:     decimal.NewFromInt(100),
		VIPThreshold:        decimal.NewFromInt(300),
		RefLink:             "https://partner.example/r/1",
	}
}

func TestProviderServesDefaultsBeforeLoad(t *testing.T) {
	p := NewProvider(repository.NewMemory(), defaults())
	snap := p.Current()
	if snap.Version != 0 || !snap.AccessThreshold.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	cfg := snap.AccessConfig()
	if !cfg.RequireSubscription || !cfg.VIPThreshold.Equal(decimal.NewFromInt(300)) {
		t.Fatalf("unexpected access config: %+v", cfg)
	}
}

func TestProviderSetOverridesAndBumpsVersion(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemory()
	p := NewProvider(store, defaults())

	snap, err := p.Set(ctx, "VIP_Threshold", "250")
	if err != nil {
		t.Fatalf("set vip: %v", err)
	}
	if !snap.VIPThreshold.Equal(decimal.NewFromInt(250)) || snap.Version != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	snap, err = p.Set(ctx, KeyRequireSubscription, "off")
	if err != nil {
		t.Fatalf("set sub: %v", err)
	}
	if snap.RequireSubscription || snap.Version != 2 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	fresh := NewProvider(store, defaults())
	reloaded, err := fresh.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if reloaded.Version != 2 || reloaded.RequireSubscription || !reloaded.VIPThreshold.Equal(decimal.NewFromInt(250)) {
		t.Fatalf("second instance did not see overrides: %+v", reloaded)
	}
}

func TestProviderSetRejectsInvalidValues(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemory()
	p := NewProvider(store, defaults())

	cases := map[string]string{
		KeyAccessThreshold: "0",
		KeyVIPThreshold:    "abc",
		KeyRequireDeposit:  "maybe",
		KeyRefLink:         "not a url",
		KeySubChannelID:    "channel",
		"unknown_key":      "1",
	}
	for key, value := range cases {
		if _, err := p.Set(ctx, key, value); err == nil {
			t.Fatalf("expected error for %s=%q", key, value)
		}
	}
	rows, _ := store.Settings(ctx)
	if len(rows) != 0 {
		t.Fatalf("invalid values must not be stored, got %d rows", len(rows))
	}
}

func TestLoadSkipsCorruptRows(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemory()
	_ = store.PutSetting(ctx, KeyAccessThreshold, "-5")
	_ = store.PutSetting(ctx, KeyRequireDeposit, "off")

	snap, err := NewProvider(store, defaults()).Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !snap.AccessThreshold.Equal(decimal.NewFromInt(100)) || snap.RequireDeposit {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.Version != 2 {
		t.Fatalf("expected version from valid row, got %d", snap.Version)
	}
}

func TestWatchPicksUpOverridesFromOtherInstances(t *testing.T) {
	store := repository.NewMemory()
	p := NewProvider(store, defaults())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Watch(ctx, 5*time.Millisecond) }()

	if err := store.PutSetting(context.Background(), KeyAccessThreshold, "150"); err != nil {
		t.Fatalf("put: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for !p.Current().AccessThreshold.Equal(decimal.NewFromInt(150)) {
		if time.Now().After(deadline) {
			t.Fatalf("override not picked up: %+v", p.Current())
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("watch returned %v", err)
	}
}

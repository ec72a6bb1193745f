// Package settings layers runtime overrides stored in the database over the
// funnel defaults from the config file.
package settings

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/m3rciful/funnelbot/core/logger"
	"github.com/m3rciful/funnelbot/funnel/access"
	"github.com/m3rciful/funnelbot/funnel/config"
	"github.com/m3rciful/funnelbot/funnel/model"
)

// Override keys accepted by Set.
const (
	KeyRequireSubscription = "require_subscription"
	KeyRequireDeposit      = "require_deposit"
	KeyAccessThreshold     = "access_threshold"
	KeyVIPThreshold        = "vip_threshold"
	KeySubChannelID        = "sub_channel_id"
	KeySubChannelsURL      = "sub_channels_url"
	KeyRefLink             = "ref_link"
	KeyMiniAppRegular      = "miniapp_regular"
	KeyMiniAppVIP          = "miniapp_vip"
	KeySupportURL          = "support_url"
)

// Store is the persistence the provider needs.
type Store interface {
	Settings(ctx context.Context) ([]model.Setting, error)
	PutSetting(ctx context.Context, key, value string) error
}

// Snapshot is an immutable view of the effective settings. Version is the
// highest override revision applied, 0 when only defaults are in effect.
type Snapshot struct {
	Version             int64
	RequireSubscription bool
	RequireDeposit      bool
	AccessThreshold     decimal.Decimal
	VIPThreshold        decimal.Decimal
	SubChannelID        int64
	SubChannelsURL      string
	RefLink             string
	MiniAppRegular      string
	MiniAppVIP          string
	SupportURL          string
}

// AccessConfig projects the snapshot onto the decision engine input.
func (s Snapshot) AccessConfig() access.Config {
	return access.Config{
		RequireSubscription: s.RequireSubscription,
		RequireDeposit:      s.RequireDeposit,
		AccessThreshold:     s.AccessThreshold,
		VIPThreshold:        s.VIPThreshold,
	}
}

// Provider serves the current snapshot and persists admin overrides.
type Provider struct {
	store    Store
	defaults config.FunnelConfig

	mu  sync.RWMutex
	cur Snapshot
}

// NewProvider returns a provider serving defaults until Load is called.
func NewProvider(store Store, defaults config.FunnelConfig) *Provider {
	p := &Provider{store: store, defaults: defaults}
	p.cur = fromDefaults(defaults)
	return p
}

// Current returns the last loaded snapshot.
func (p *Provider) Current() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cur
}

// AccessConfig returns the decision thresholds of the current snapshot.
func (p *Provider) AccessConfig() access.Config {
	return p.Current().AccessConfig()
}

// Load rebuilds the snapshot from defaults and stored overrides. Invalid
// stored values are skipped and logged.
func (p *Provider) Load(ctx context.Context) (Snapshot, error) {
	rows, err := p.store.Settings(ctx)
	if err != nil {
		return p.Current(), fmt.Errorf("load settings: %w", err)
	}
	snap := fromDefaults(p.defaults)
	for _, row := range rows {
		if err := apply(&snap, row.Key, row.Value); err != nil {
			logger.Warn(ctx, "settings", "settings.skip",
				slog.String("key", row.Key),
				slog.String("err", err.Error()),
			)
			continue
		}
		if row.Revision > snap.Version {
			snap.Version = row.Revision
		}
	}

	p.mu.Lock()
	prev := p.cur.Version
	p.cur = snap
	p.mu.Unlock()

	if snap.Version != prev {
		logger.Info(ctx, "settings", "settings.loaded",
			slog.Int64("settings_version", snap.Version),
			slog.Int("count", len(rows)),
		)
	}
	return snap, nil
}

// Set validates and stores one override, then reloads.
func (p *Provider) Set(ctx context.Context, key, value string) (Snapshot, error) {
	key = strings.ToLower(strings.TrimSpace(key))
	value = strings.TrimSpace(value)

	next := p.Current()
	if err := apply(&next, key, value); err != nil {
		return p.Current(), err
	}
	if err := p.store.PutSetting(ctx, key, value); err != nil {
		return p.Current(), fmt.Errorf("store setting: %w", err)
	}
	return p.Load(ctx)
}

// Watch reloads the snapshot every interval until ctx ends, so several
// instances converge on admin changes.
func (p *Provider) Watch(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := p.Load(ctx); err != nil {
				logger.Warn(ctx, "settings", "settings.reload",
					slog.String("err", err.Error()),
				)
			}
		}
	}
}

// Keys lists the accepted override keys.
func Keys() []string {
	keys := make([]string, 0, len(parsers))
	for k := range parsers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func fromDefaults(d config.FunnelConfig) Snapshot {
	return Snapshot{
		RequireSubscription: d.RequireSubscription,
		RequireDeposit:      d.RequireDeposit,
		AccessThreshold:     d.AccessThreshold,
		VIPThreshold:        d.VIPThreshold,
		SubChannelID:        d.SubChannelID,
		SubChannelsURL:      d.SubChannelsURL,
		RefLink:             d.RefLink,
		MiniAppRegular:      d.MiniAppRegular,
		MiniAppVIP:          d.MiniAppVIP,
		SupportURL:          d.SupportURL,
	}
}

var parsers = map[string]func(*Snapshot, string) error{
	KeyRequireSubscription: func(s *Snapshot, v string) (err error) {
		s.RequireSubscription, err = parseBool(v)
		return err
	},
	KeyRequireDeposit: func(s *Snapshot, v string) (err error) {
		s.RequireDeposit, err = parseBool(v)
		return err
	},
	KeyAccessThreshold: func(s *Snapshot, v string) (err error) {
		s.AccessThreshold, err = parseThreshold(v)
		return err
	},
	KeyVIPThreshold: func(s *Snapshot, v string) (err error) {
		s.VIPThreshold, err = parseThreshold(v)
		return err
	},
	KeySubChannelID: func(s *Snapshot, v string) error {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("expected integer chat id")
		}
		s.SubChannelID = id
		return nil
	},
	KeySubChannelsURL: urlSetter(func(s *Snapshot) *string { return &s.SubChannelsURL }),
	KeyRefLink:        urlSetter(func(s *Snapshot) *string { return &s.RefLink }),
	KeyMiniAppRegular: urlSetter(func(s *Snapshot) *string { return &s.MiniAppRegular }),
	KeyMiniAppVIP:     urlSetter(func(s *Snapshot) *string { return &s.MiniAppVIP }),
	KeySupportURL:     urlSetter(func(s *Snapshot) *string { return &s.SupportURL }),
}

func apply(s *Snapshot, key, value string) error {
	fn, ok := parsers[key]
	if !ok {
		return fmt.Errorf("unknown setting %q", key)
	}
	if err := fn(s, value); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return nil
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "1", "true", "on", "yes":
		return true, nil
	case "0", "false", "off", "no":
		return false, nil
	}
	return false, fmt.Errorf("expected on/off")
}

func parseThreshold(v string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.ReplaceAll(v, ",", "."))
	if err != nil {
		return decimal.Zero, fmt.Errorf("expected amount")
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("must be > 0")
	}
	return d, nil
}

func urlSetter(field func(*Snapshot) *string) func(*Snapshot, string) error {
	return func(s *Snapshot, v string) error {
		u, err := url.Parse(v)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("expected absolute URL")
		}
		*field(s) = v
		return nil
	}
}

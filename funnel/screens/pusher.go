package screens

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/funnelbot/core/logger"
	"github.com/m3rciful/funnelbot/funnel/access"
	"github.com/m3rciful/funnelbot/funnel/metrics"
	"github.com/m3rciful/funnelbot/funnel/repository"
	"github.com/m3rciful/funnelbot/funnel/settings"
)

// Messenger is the part of *tele.Bot the pusher uses.
type Messenger interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
	Delete(msg tele.Editable) error
}

// SnapshotSource yields the effective funnel settings.
type SnapshotSource interface {
	Current() settings.Snapshot
}

// Pusher delivers screens, replacing the previous bot message.
type Pusher struct {
	store    repository.Store
	settings SnapshotSource
	msg      Messenger
	render   Renderer
	metrics  *metrics.Metrics
	locks    *userLocks
	newClick func(userID int64) string
}

// NewPusher wires a pusher. m may be nil.
func NewPusher(store repository.Store, src SnapshotSource, msg Messenger, m *metrics.Metrics) *Pusher {
	return &Pusher{
		store:    store,
		settings: src,
		msg:      msg,
		metrics:  m,
		locks:    newUserLocks(),
		newClick: NewClickID,
	}
}

// Push decides the next screen for the user and delivers it. One-shot
// screens set their latch right after a successful delivery.
func (p *Pusher) Push(ctx context.Context, userID int64) (access.Decision, error) {
	unlock := p.locks.lock(userID)
	defer unlock()

	start := time.Now()
	u, err := p.store.GetUser(ctx, userID)
	if err != nil {
		return access.Decision{}, fmt.Errorf("load user %d: %w", userID, err)
	}
	snap := p.settings.Current()
	d := access.Decide(*u, snap.AccessConfig())

	regURL := ""
	if d.Step == access.NeedRegistration || d.Step == access.NeedDeposit {
		clickID, err := p.store.EnsureClickID(ctx, userID, func() string { return p.newClick(userID) })
		if err != nil {
			return d, fmt.Errorf("ensure click id: %w", err)
		}
		regURL = RefLinkWithClick(snap.RefLink, clickID)
	}

	screen := p.render.Decision(d, snap, regURL)
	if err := p.deliver(ctx, userID, u.LastMessageID, screen); err != nil {
		p.observe(string(d.Step), "error")
		return d, err
	}

	switch d.Latch() {
	case access.LatchVIP:
		err = p.store.MarkVIPShown(ctx, userID)
	case access.LatchRegular:
		err = p.store.MarkRegularShown(ctx, userID)
	}
	if err != nil {
		p.observe(string(d.Step), "error")
		return d, fmt.Errorf("set latch: %w", err)
	}

	p.observe(string(d.Step), "ok")
	logger.LogEvent(ctx, logger.SVCScreens, slog.LevelInfo, "screen.pushed",
		slog.Int64("user_id", userID),
		slog.String("step", string(d.Step)),
		slog.Bool("vip", d.VIP),
		slog.Duration("duration", logger.Took(start)),
	)
	return d, nil
}

// Show delivers a fixed screen such as the menu or the guide.
func (p *Pusher) Show(ctx context.Context, userID int64, screen Screen) error {
	unlock := p.locks.lock(userID)
	defer unlock()

	u, err := p.store.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("load user %d: %w", userID, err)
	}
	if err := p.deliver(ctx, userID, u.LastMessageID, screen); err != nil {
		p.observe(screen.Name, "error")
		return err
	}
	p.observe(screen.Name, "ok")
	return nil
}

// Menu shows the main menu.
func (p *Pusher) Menu(ctx context.Context, userID int64) error {
	return p.Show(ctx, userID, p.render.Menu(p.settings.Current()))
}

// Guide shows the instruction screen.
func (p *Pusher) Guide(ctx context.Context, userID int64) error {
	return p.Show(ctx, userID, p.render.Guide())
}

func (p *Pusher) deliver(ctx context.Context, userID int64, prev *int, screen Screen) error {
	if prev != nil {
		stored := tele.StoredMessage{MessageID: strconv.Itoa(*prev), ChatID: userID}
		if err := p.msg.Delete(stored); err != nil {
			logger.Debug(ctx, "service.screens", "screen.delete_prev",
				slog.Int64("user_id", userID),
				slog.String("err", err.Error()),
			)
		}
	}

	sent, err := p.msg.Send(&tele.User{ID: userID}, screen.Text, &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		ReplyMarkup:           screen.Markup,
		DisableWebPagePreview: true,
	})
	if err != nil {
		logger.LogEvent(ctx, logger.SVCScreens, slog.LevelWarn, "screen.send",
			slog.String("outcome", "fail"),
			slog.Int64("user_id", userID),
			slog.String("step", screen.Name),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("send %s screen: %w", screen.Name, err)
	}
	if sent == nil {
		return errors.New("send returned no message")
	}

	id := sent.ID
	if err := p.store.SetLastMessage(ctx, userID, &id); err != nil {
		return fmt.Errorf("store message id: %w", err)
	}
	return nil
}

func (p *Pusher) observe(step, outcome string) {
	if p.metrics != nil {
		p.metrics.Pushes.WithLabelValues(step, outcome).Inc()
	}
}

// NewClickID returns "<tgid>-<8 url-safe chars>".
func NewClickID(userID int64) string {
	var b [6]byte
	_, _ = rand.Read(b[:])
	return strconv.FormatInt(userID, 10) + "-" + base64.RawURLEncoding.EncodeToString(b[:])
}

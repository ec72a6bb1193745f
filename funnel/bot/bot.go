// Package bot binds the funnel services to Telegram updates: the user flow
// (start, menu, access checks) and the admin commands.
package bot

import (
	"context"
	"log/slog"
	"strings"

	"github.com/m3rciful/funnelbot/core/logger"
	tg "github.com/m3rciful/funnelbot/core/telegram"
	"github.com/m3rciful/funnelbot/core/telegram/commands"
	"github.com/m3rciful/funnelbot/core/telegram/middleware"
	"github.com/m3rciful/funnelbot/funnel/model"
	"github.com/m3rciful/funnelbot/funnel/repository"
	"github.com/m3rciful/funnelbot/funnel/screens"
	"github.com/m3rciful/funnelbot/funnel/settings"

	tele "gopkg.in/telebot.v4"
)

// Callback uniques used only by admin views.
const (
	callbackPostbacks = "pb"
)

// Deps are the services the handlers drive.
type Deps struct {
	Store        repository.Store
	Settings     *settings.Provider
	Pusher       *screens.Pusher
	Subscription *screens.SubscriptionChecker
	IsAdmin      func(id int64) bool
	DefaultLang  string
	// PostbackBaseURL prefixes the partner URL templates.
	PostbackBaseURL string
	PostbackSecret  string
}

// Handlers holds the update handlers.
type Handlers struct {
	deps Deps
}

// New builds the handler set.
func New(deps Deps) *Handlers {
	if deps.DefaultLang == "" {
		deps.DefaultLang = "en"
	}
	return &Handlers{deps: deps}
}

// Register adds every command and callback to reg.
func (h *Handlers) Register(reg *tg.Registry) error {
	reg.RegisterCommand("/start", commands.Command{Handler: h.onStart, Description: "Start"})
	reg.RegisterCommand("/menu", commands.Command{Handler: h.onMenu, Description: "Main menu"})
	reg.RegisterCommand("/help", commands.Command{Handler: h.onHelp, Description: "How it works"})

	reg.RegisterCommand("/settings", commands.Command{Handler: h.onSettings, Description: "Show settings", AdminOnly: true})
	reg.RegisterCommand("/set", commands.Command{Handler: h.onSet, Description: "Override a setting", AdminOnly: true})
	reg.RegisterCommand("/stats", commands.Command{Handler: h.onStats, Description: "Funnel statistics", AdminOnly: true})
	reg.RegisterCommand("/postbacks", commands.Command{Handler: h.onPostbacks, Description: "Recent postbacks", AdminOnly: true})
	reg.RegisterCommand("/user", commands.Command{Handler: h.onUser, Description: "Find a user", AdminOnly: true})
	reg.RegisterCommand("/postback_urls", commands.Command{Handler: h.onPostbackURLs, Description: "Partner postback URLs", AdminOnly: true})

	adminOnly := middleware.AdminOnlyMiddleware(middleware.AdminOptions{IsAdmin: h.deps.IsAdmin})
	callbacks := map[string]tele.HandlerFunc{
		screens.CallbackGet:      h.onGet,
		screens.CallbackCheckSub: h.onGet,
		screens.CallbackMenu:     h.onMenu,
		screens.CallbackGuide:    h.onHelp,
		callbackPostbacks:        adminOnly(h.onPostbacksPage),
	}
	for key, fn := range callbacks {
		if err := reg.RegisterCallback(key, fn); err != nil {
			return err
		}
	}
	reg.SetTextFallback(h.onMenu)
	return nil
}

// ensureUser creates the user record on first contact.
func (h *Handlers) ensureUser(ctx context.Context, c tele.Context, refCode string) (*model.User, error) {
	sender := c.Sender()
	u, created, err := h.deps.Store.EnsureUser(ctx, sender.ID, h.langOf(sender), refCode)
	if err != nil {
		return nil, err
	}
	if created {
		attrs := []slog.Attr{slog.Int64("user_id", sender.ID)}
		if refCode != "" {
			attrs = append(attrs, slog.String("ref", refCode))
		}
		logger.LogEvent(ctx, logger.SVCUsers, slog.LevelInfo, "user.created", attrs...)
	}
	return u, nil
}

func (h *Handlers) langOf(u *tele.User) string {
	if u == nil {
		return h.deps.DefaultLang
	}
	lang := strings.ToLower(strings.TrimSpace(u.LanguageCode))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	if lang == "" {
		return h.deps.DefaultLang
	}
	return lang
}

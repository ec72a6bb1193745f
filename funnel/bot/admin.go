package bot

import (
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strconv"
	"strings"

	"github.com/m3rciful/funnelbot/core/logger"
	"github.com/m3rciful/funnelbot/core/telegram/callbacks"
	tghelpers "github.com/m3rciful/funnelbot/core/telegram/helpers"
	"github.com/m3rciful/funnelbot/funnel/access"
	"github.com/m3rciful/funnelbot/funnel/model"
	"github.com/m3rciful/funnelbot/funnel/repository"
	"github.com/m3rciful/funnelbot/funnel/settings"

	tele "gopkg.in/telebot.v4"
)

const postbacksPageSize = 10

func (h *Handlers) onSettings(c tele.Context) error {
	return tghelpers.SendHTML(c, SettingsView(h.deps.Settings.Current()))
}

func (h *Handlers) onSet(c tele.Context) error {
	args := c.Args()
	if len(args) < 2 {
		return tghelpers.SendHTML(c, "Usage: <code>/set &lt;key&gt; &lt;value&gt;</code>\nKeys: "+
			html.EscapeString(strings.Join(settings.Keys(), ", ")))
	}
	ctx := tghelpers.BuildContext(c)
	key, value := args[0], strings.Join(args[1:], " ")
	snap, err := h.deps.Settings.Set(ctx, key, value)
	if err != nil {
		logger.LogEvent(ctx, logger.SVCUsers, slog.LevelWarn, "settings.set",
			slog.String("outcome", "rejected"),
			slog.String("key", key),
			slog.String("err", err.Error()),
		)
		return tghelpers.SendHTML(c, "❌ "+html.EscapeString(err.Error()))
	}
	logger.LogEvent(ctx, logger.SVCUsers, slog.LevelInfo, "settings.set",
		slog.String("key", key),
		slog.Int64("settings_version", snap.Version),
		slog.Int64("admin_id", c.Sender().ID),
	)
	return tghelpers.SendHTML(c, "✅ Saved.\n\n"+SettingsView(snap))
}

func (h *Handlers) onStats(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	st, err := h.deps.Store.Stats(ctx)
	if err != nil {
		return fmt.Errorf("load stats: %w", err)
	}
	return tghelpers.SendHTML(c, StatsView(st))
}

func (h *Handlers) onPostbacks(c tele.Context) error {
	filter, page := parsePostbacksArgs(c.Args())
	text, markup, err := h.postbacksPage(c, filter, page)
	if err != nil {
		return err
	}
	return tghelpers.SendHTML(c, text, markup)
}

func (h *Handlers) onPostbacksPage(c tele.Context) error {
	parts, err := callbacks.PayloadParts(c, "|")
	if err != nil {
		parts = nil
	}
	filter, page := parsePostbacksArgs(parts)
	text, markup, err := h.postbacksPage(c, filter, page)
	if err != nil {
		return err
	}
	return tghelpers.EditOrSendHTML(c, text, markup)
}

func (h *Handlers) postbacksPage(c tele.Context, filter model.PostbackFilter, page int) (string, *tele.ReplyMarkup, error) {
	ctx := tghelpers.BuildContext(c)
	// One extra row tells whether a next page exists.
	rows, err := h.deps.Store.RecentPostbacks(ctx, filter, postbacksPageSize+1, page*postbacksPageSize)
	if err != nil {
		return "", nil, fmt.Errorf("load postbacks: %w", err)
	}
	hasNext := len(rows) > postbacksPageSize
	if hasNext {
		rows = rows[:postbacksPageSize]
	}
	return PostbacksView(rows, filter, page), PostbacksKeyboard(filter, page, hasNext), nil
}

func (h *Handlers) onUser(c tele.Context) error {
	args := c.Args()
	if len(args) == 0 {
		return tghelpers.SendHTML(c, "Usage: <code>/user &lt;tg id|trader id|click id&gt;</code>")
	}
	ctx := tghelpers.BuildContext(c)
	u, err := repository.FindUser(ctx, h.deps.Store, args[0])
	if errors.Is(err, repository.ErrNotFound) {
		return tghelpers.SendHTML(c, "No user matches <code>"+html.EscapeString(args[0])+"</code>.")
	}
	if err != nil {
		return fmt.Errorf("find user: %w", err)
	}
	return tghelpers.SendHTML(c, UserView(*u, access.Decide(*u, h.deps.Settings.AccessConfig())))
}

func (h *Handlers) onPostbackURLs(c tele.Context) error {
	return tghelpers.SendHTML(c, PostbackURLsView(h.deps.PostbackBaseURL, h.deps.PostbackSecret))
}

// parsePostbacksArgs reads "[all|reg|dep] [page]"; pages are 1-based for
// humans and 0-based inside.
func parsePostbacksArgs(args []string) (model.PostbackFilter, int) {
	filter, page := model.FilterAll, 0
	for _, a := range args {
		a = strings.ToLower(strings.TrimSpace(a))
		switch model.PostbackFilter(a) {
		case model.FilterAll, model.FilterRegistrations, model.FilterDeposits:
			filter = model.PostbackFilter(a)
			continue
		}
		if n, err := strconv.Atoi(a); err == nil && n > 0 {
			page = n - 1
		}
	}
	return filter, page
}

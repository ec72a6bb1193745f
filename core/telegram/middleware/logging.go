package middleware

import (
	"log/slog"

	"github.com/m3rciful/funnelbot/core/logger"
	"github.com/m3rciful/funnelbot/core/telegram/callbacks"
	tghelpers "github.com/m3rciful/funnelbot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

const receivedKey = "update_received"

// LoggerMiddleware attaches the request context and writes a sampled
// update.received line. The line is written once per update even when the
// middleware wraps both the global chain and a route.
func LoggerMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		ctx := tghelpers.BuildContext(c)
		if seen, _ := c.Get(receivedKey).(bool); !seen {
			c.Set(receivedKey, true)
			if logger.ShouldSampleDebug() {
				logger.LogEvent(ctx, logger.TG, slog.LevelDebug, "update.received", receiptAttrs(c)...)
			}
		}
		return next(c)
	}
}

func receiptAttrs(c tele.Context) []slog.Attr {
	upd := c.Update()
	attrs := []slog.Attr{slog.String("kind", UpdateKind(upd))}
	if ch := c.Chat(); ch != nil {
		attrs = append(attrs, slog.String("chat_type", string(ch.Type)))
	}
	if u := c.Sender(); u != nil {
		attrs = append(attrs,
			slog.String("username", logger.SanitizeLimit(u.Username, 64)),
			slog.String("lang", u.LanguageCode),
		)
	}
	switch {
	case upd.Callback != nil:
		key, payload := callbacks.ParseCallbackData(upd.Callback)
		attrs = append(attrs,
			slog.String("cb_key", logger.SanitizeLimit(key, 128)),
			slog.String("payload", logger.SanitizeLimit(payload, 256)),
		)
	case upd.Message != nil:
		attrs = append(attrs, slog.String("payload", logger.SanitizeLimit(upd.Message.Text, 256)))
	}
	return attrs
}

package middleware

import (
	"context"
	"log/slog"

	"github.com/m3rciful/funnelbot/core/logger"

	tele "gopkg.in/telebot.v4"
)

// AdminOptions defines how admin-only checks should behave.
type AdminOptions struct {
	// IsAdmin reports whether the sender may run admin handlers. A nil
	// check rejects everyone.
	IsAdmin  func(id int64) bool
	OnReject tele.HandlerFunc
}

// AdminOnlyMiddleware lets only configured admins reach downstream handlers.
func AdminOnlyMiddleware(opts AdminOptions) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			sender := c.Sender()
			if sender != nil && opts.IsAdmin != nil && opts.IsAdmin(sender.ID) {
				return next(c)
			}
			var id int64
			if sender != nil {
				id = sender.ID
			}
			logger.LogEvent(context.Background(), logger.TG, slog.LevelWarn, "admin.reject",
				slog.Int64("user_id", id),
			)
			if opts.OnReject != nil {
				return opts.OnReject(c)
			}
			return nil
		}
	}
}

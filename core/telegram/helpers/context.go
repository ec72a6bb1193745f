package helpers

import (
	"context"

	"github.com/m3rciful/funnelbot/core/logger"

	tele "gopkg.in/telebot.v4"
)

const requestKey = "request_ctx"

// IDs returns the sender and chat ids of the update, 0 when absent.
func IDs(c tele.Context) (userID, chatID int64) {
	if u := c.Sender(); u != nil {
		userID = u.ID
	}
	if ch := c.Chat(); ch != nil {
		chatID = ch.ID
	}
	return userID, chatID
}

// BuildContext returns the request context stored on c. The first call
// derives it from the update: rid, update/user/chat ids and the tg logger.
func BuildContext(c tele.Context) context.Context {
	if ctx, ok := c.Get(requestKey).(context.Context); ok {
		return ctx
	}
	updateID := c.Update().ID
	userID, chatID := IDs(c)

	ctx := logger.WithRID(context.Background(), logger.BuildRID(updateID, chatID, userID))
	ctx = logger.WithUpdateMeta(ctx, updateID, userID, chatID)
	ctx = logger.WithLogger(ctx, logger.TG)
	c.Set(requestKey, ctx)
	return ctx
}

// WithHandler tags the stored request context with the handler name.
func WithHandler(c tele.Context, handler string) context.Context {
	ctx := BuildContext(c)
	if handler != "" {
		ctx = logger.WithHandler(ctx, handler)
		c.Set(requestKey, ctx)
	}
	return ctx
}

package app

import (
	"context"
	"log/slog"

	"github.com/m3rciful/funnelbot/core/logger"
	"github.com/m3rciful/funnelbot/funnel/access"
	"github.com/m3rciful/funnelbot/funnel/postback"
	"github.com/m3rciful/funnelbot/funnel/screens"
)

// Enqueuer schedules an outbound Telegram call.
type Enqueuer interface {
	Enqueue(ctx context.Context, action, endpoint string, run func() error) error
}

// ScreenPusher delivers the next funnel screen to a user.
type ScreenPusher interface {
	Push(ctx context.Context, userID int64) (access.Decision, error)
}

// Notifier turns committed postbacks into Telegram side effects: a card in
// the log channel and a push of the next screen to the resolved user.
type Notifier struct {
	queue     Enqueuer
	pusher    ScreenPusher
	messenger screens.Messenger
	channelID int64
}

// NewNotifier wires a notifier. A zero channelID disables cards.
func NewNotifier(queue Enqueuer, pusher ScreenPusher, messenger screens.Messenger, channelID int64) *Notifier {
	return &Notifier{queue: queue, pusher: pusher, messenger: messenger, channelID: channelID}
}

// Notify implements web.Notifier. Work is queued so the HTTP response is not
// held by Telegram latency.
func (n *Notifier) Notify(ctx context.Context, res postback.Result) {
	if n.channelID != 0 && n.messenger != nil {
		n.enqueue(ctx, "postback.card", "sendMessage", func() error {
			return screens.SendCard(ctx, n.messenger, n.channelID, res)
		})
	}
	if !res.Matched || res.Duplicate || res.SubjectID == nil || n.pusher == nil {
		return
	}
	userID := *res.SubjectID
	n.enqueue(ctx, "postback.push", "sendMessage", func() error {
		_, err := n.pusher.Push(ctx, userID)
		return err
	})
}

func (n *Notifier) enqueue(ctx context.Context, action, endpoint string, run func() error) {
	if err := n.queue.Enqueue(ctx, action, endpoint, run); err != nil {
		logger.LogEvent(ctx, logger.SVCPostbacks, slog.LevelWarn, "notify.enqueue",
			slog.String("action", action),
			slog.String("err", err.Error()),
		)
	}
}

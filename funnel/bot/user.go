package bot

import (
	"strings"

	tghelpers "github.com/m3rciful/funnelbot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

const maxRefCode = 64

// refCode keeps a deep-link payload only when it fits Telegram's start
// parameter alphabet; anything else is dropped.
func refCode(payload string) string {
	ref := strings.TrimSpace(payload)
	if len(ref) > maxRefCode {
		return ""
	}
	for _, r := range ref {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return ""
		}
	}
	return ref
}

func (h *Handlers) onStart(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	ref := ""
	if msg := c.Message(); msg != nil {
		ref = refCode(msg.Payload)
	}
	if _, err := h.ensureUser(ctx, c, ref); err != nil {
		return err
	}
	return h.deps.Pusher.Menu(ctx, c.Sender().ID)
}

func (h *Handlers) onMenu(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	if _, err := h.ensureUser(ctx, c, ""); err != nil {
		return err
	}
	return h.deps.Pusher.Menu(ctx, c.Sender().ID)
}

func (h *Handlers) onHelp(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	if _, err := h.ensureUser(ctx, c, ""); err != nil {
		return err
	}
	return h.deps.Pusher.Guide(ctx, c.Sender().ID)
}

// onGet refreshes the subscription flag and pushes the next screen.
func (h *Handlers) onGet(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	if _, err := h.ensureUser(ctx, c, ""); err != nil {
		return err
	}
	id := c.Sender().ID
	if h.deps.Subscription != nil {
		if _, err := h.deps.Subscription.Check(ctx, id); err != nil {
			return err
		}
	}
	_, err := h.deps.Pusher.Push(ctx, id)
	return err
}

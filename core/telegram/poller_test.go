package telegram

import (
	"testing"
	"time"

	coreconfig "github.com/m3rciful/funnelbot/core/config"

	tele "gopkg.in/telebot.v4"
)

func TestBuildPoller(t *testing.T) {
	cfg := &coreconfig.Config{}
	cfg.Telegram.RunMode = coreconfig.RunModeLongpoll
	lp, ok := BuildPoller(cfg).(*tele.LongPoller)
	if !ok || lp.Timeout != defaultLongPollTimeout {
		t.Fatalf("expected default long poller, got %#v", BuildPoller(cfg))
	}

	cfg.Telegram.LongPollTimeoutSeconds = 30
	if lp := BuildPoller(cfg).(*tele.LongPoller); lp.Timeout != 30*time.Second {
		t.Fatalf("timeout not applied: %v", lp.Timeout)
	}

	cfg.Telegram.RunMode = coreconfig.RunModeWebhook
	cfg.Webhook = coreconfig.WebhookConfig{URL: "https://bot.example/hook", Listen: "0.0.0.0", Port: 8443}
	wh, ok := BuildPoller(cfg).(*tele.Webhook)
	if !ok || wh.Listen != "0.0.0.0:8443" || wh.Endpoint.PublicURL != "https://bot.example/hook" {
		t.Fatalf("unexpected webhook poller %#v", BuildPoller(cfg))
	}
}

// Package screens renders funnel screens and delivers them to users, keeping
// a single bot message per chat.
package screens

import (
	"fmt"
	"html"
	"net/url"
	"strings"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/funnelbot/core/telegram/keyboard"
	"github.com/m3rciful/funnelbot/funnel/access"
	"github.com/m3rciful/funnelbot/funnel/settings"
)

// Callback uniques shared with the bot handlers.
const (
	CallbackGet      = "get"
	CallbackCheckSub = "check_sub"
	CallbackMenu     = "menu"
	CallbackGuide    = "guide"
)

// Screen is one rendered bot window.
type Screen struct {
	Name   string
	Text   string
	Markup *tele.ReplyMarkup
}

// Renderer turns decisions into screens. Texts are English only.
type Renderer struct{}

// Decision renders the screen for d. regURL is the referral link with the
// user's click id, used by the registration and deposit screens.
func (Renderer) Decision(d access.Decision, snap settings.Snapshot, regURL string) Screen {
	back := keyboard.Callback("⬅️ Back to menu", CallbackMenu)
	switch d.Step {
	case access.NeedSubscription:
		return Screen{
			Name: "subscription",
			Text: window("Subscription check",
				"Subscribe to the channel, then tap “I subscribed”. We verify automatically."),
			Markup: keyboard.InlineButtonsRows(
				[]keyboard.InlineBtn{keyboard.Link("📨 Subscribe", snap.SubChannelsURL)},
				[]keyboard.InlineBtn{keyboard.Callback("✅ I subscribed", CallbackCheckSub)},
				[]keyboard.InlineBtn{back},
			),
		}
	case access.NeedRegistration:
		return Screen{
			Name: "registration",
			Text: window("Registration check",
				"Register via the link. We verify automatically once the partner confirms it."),
			Markup: keyboard.InlineButtonsRows(
				[]keyboard.InlineBtn{keyboard.Link("📝 Register", regURL)},
				[]keyboard.InlineBtn{back},
			),
		}
	case access.NeedDeposit:
		return Screen{
			Name: "deposit",
			Text: window("Deposit check", fmt.Sprintf(
				"Top up at least $%s more in total. Current: $%s. Verification is automatic.",
				d.NeedAmount.StringFixed(2), d.HaveAmount.StringFixed(2))),
			Markup: keyboard.InlineButtonsRows(
				[]keyboard.InlineBtn{keyboard.Link("💳 Top up", regURL)},
				[]keyboard.InlineBtn{back},
			),
		}
	case access.GrantAccessFirstTime:
		if d.VIP {
			return Screen{
				Name:   "vip_once",
				Text:   window("VIP access", "VIP signals are unlocked. Trade well!"),
				Markup: appKeyboard("👑 VIP signals", snap.MiniAppVIP, snap.SupportURL),
			}
		}
		return Screen{
			Name:   "access_once",
			Text:   window("Access granted", "You can now open the mini-app and get signals."),
			Markup: appKeyboard("📡 Get signal", snap.MiniAppRegular, snap.SupportURL),
		}
	default:
		if d.VIP {
			return Screen{
				Name:   "open_vip",
				Text:   window("VIP signals", "Open the VIP mini-app below."),
				Markup: appKeyboard("👑 VIP signals", snap.MiniAppVIP, snap.SupportURL),
			}
		}
		return Screen{
			Name:   "open_regular",
			Text:   window("Signals", "Open the mini-app below."),
			Markup: appKeyboard("📡 Get signal", snap.MiniAppRegular, snap.SupportURL),
		}
	}
}

// Menu renders the main menu.
func (Renderer) Menu(snap settings.Snapshot) Screen {
	return Screen{
		Name: "menu",
		Text: window("Main menu", "Tap “Get signal” to pass the access checks."),
		Markup: keyboard.InlineButtonsRows(
			[]keyboard.InlineBtn{
				keyboard.Link("🛟 Support", snap.SupportURL),
				keyboard.Callback("📘 Guide", CallbackGuide),
			},
			[]keyboard.InlineBtn{keyboard.Callback("📡 Get signal", CallbackGet)},
		),
	}
}

// Guide renders the step-by-step instruction.
func (Renderer) Guide() Screen {
	steps := strings.Join([]string{
		"1) 📨 Subscribe to the channel",
		"2) 📝 Register via the referral link",
		"3) 💳 Deposit at least the access threshold (more for VIP)",
		"4) 📡 Tap “Get signal”, the bot verifies and opens the mini-app",
	}, "\n")
	return Screen{
		Name:   "guide",
		Text:   window("Guide", steps),
		Markup: keyboard.InlineButtons([]keyboard.InlineBtn{keyboard.Callback("⬅️ Back to menu", CallbackMenu)}),
	}
}

// RefLinkWithClick sets the click_id query parameter on base. An empty or
// unparsable base yields "".
func RefLinkWithClick(base, clickID string) string {
	if strings.TrimSpace(base) == "" {
		return ""
	}
	u, err := url.Parse(base)
	if err != nil {
		return ""
	}
	q := u.Query()
	if clickID != "" {
		q.Set("click_id", clickID)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func appKeyboard(label, appURL, supportURL string) *tele.ReplyMarkup {
	return keyboard.InlineButtonsRows(
		[]keyboard.InlineBtn{keyboard.App(label, appURL)},
		[]keyboard.InlineBtn{
			keyboard.Link("🛟 Support", supportURL),
			keyboard.Callback("⬅️ Menu", CallbackMenu),
		},
	)
}

func window(title, body string) string {
	return "<b>" + html.EscapeString(title) + "</b>\n\n" + html.EscapeString(body)
}

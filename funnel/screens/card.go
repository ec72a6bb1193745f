package screens

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/funnelbot/funnel/model"
	"github.com/m3rciful/funnelbot/funnel/postback"
)

var cardTitles = map[model.PostbackKind]string{
	model.KindRegistration:  "Registration",
	model.KindDepositFirst:  "First deposit",
	model.KindDepositRepeat: "Repeat deposit",
	model.KindDeposit:       "Deposit",
}

// PostbackCard renders the log channel card for an applied postback.
func PostbackCard(res postback.Result) string {
	title := cardTitles[res.Kind]
	if title == "" {
		title = string(res.Kind)
	}
	user := "-"
	if res.SubjectID != nil {
		user = strconv.FormatInt(*res.SubjectID, 10)
	}
	lines := []string{
		"<b>" + html.EscapeString(title) + "</b>",
		"User: <code>" + user + "</code>",
		"Trader ID: <code>" + html.EscapeString(orDash(res.TraderID)) + "</code>",
		"Click ID: <code>" + html.EscapeString(orDash(res.ClickID)) + "</code>",
	}
	if res.Amount.IsPositive() {
		lines = append(lines, "Amount: <b>$"+res.Amount.StringFixed(2)+"</b>")
	}
	if res.TotalAfter.IsPositive() {
		lines = append(lines, "Total: <b>$"+res.TotalAfter.StringFixed(2)+"</b>")
	}
	if res.BecameVIP {
		lines = append(lines, "Status: 👑 <b>VIP</b>")
	}
	switch {
	case res.Duplicate:
		lines = append(lines, "<i>duplicate delivery, not applied</i>")
	case !res.Matched:
		lines = append(lines, "<i>no matching user</i>")
	}
	lines = append(lines, fmt.Sprintf("#pb_%d", res.Seq))
	return strings.Join(lines, "\n")
}

// SendCard posts the card to chatID. A zero chat id disables cards.
func SendCard(_ context.Context, msg Messenger, chatID int64, res postback.Result) error {
	if chatID == 0 {
		return nil
	}
	_, err := msg.Send(&tele.Chat{ID: chatID}, PostbackCard(res), &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableWebPagePreview: true,
	})
	return err
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

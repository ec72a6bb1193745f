package bot

import (
	"fmt"
	"html"
	"net/url"
	"strconv"
	"strings"

	"github.com/m3rciful/funnelbot/core/telegram/callbacks"
	"github.com/m3rciful/funnelbot/core/telegram/keyboard"
	"github.com/m3rciful/funnelbot/funnel/access"
	"github.com/m3rciful/funnelbot/funnel/model"
	"github.com/m3rciful/funnelbot/funnel/settings"

	tele "gopkg.in/telebot.v4"
)

// SettingsView lists the effective settings.
func SettingsView(s settings.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>Settings</b> (version %d)\n\n", s.Version)
	line := func(key, val string) {
		if val == "" {
			val = "—"
		}
		fmt.Fprintf(&b, "<code>%s</code>: %s\n", key, html.EscapeString(val))
	}
	line(settings.KeyRequireSubscription, onOff(s.RequireSubscription))
	line(settings.KeyRequireDeposit, onOff(s.RequireDeposit))
	line(settings.KeyAccessThreshold, "$"+s.AccessThreshold.StringFixed(2))
	line(settings.KeyVIPThreshold, "$"+s.VIPThreshold.StringFixed(2))
	channel := ""
	if s.SubChannelID != 0 {
		channel = strconv.FormatInt(s.SubChannelID, 10)
	}
	line(settings.KeySubChannelID, channel)
	line(settings.KeySubChannelsURL, s.SubChannelsURL)
	line(settings.KeyRefLink, s.RefLink)
	line(settings.KeyMiniAppRegular, s.MiniAppRegular)
	line(settings.KeyMiniAppVIP, s.MiniAppVIP)
	line(settings.KeySupportURL, s.SupportURL)
	b.WriteString("\nChange with <code>/set &lt;key&gt; &lt;value&gt;</code>")
	return b.String()
}

// StatsView renders the funnel counters.
func StatsView(st model.Stats) string {
	return fmt.Sprintf("<b>Statistics</b>\n\n"+
		"Users: <b>%d</b>\n"+
		"Registered: <b>%d</b> (%s)\n"+
		"Depositors: <b>%d</b> (%s)\n"+
		"VIP: <b>%d</b>\n"+
		"Deposit sum: <b>$%s</b>\n\n"+
		"Postbacks: <b>%d</b> (registrations %d, deposits %d)",
		st.Users,
		st.Registered, percent(st.Registered, st.Users),
		st.Depositors, percent(st.Depositors, st.Users),
		st.VIP,
		st.DepositSum.StringFixed(2),
		st.Postbacks, st.Registrations, st.Deposits,
	)
}

var filterTitles = map[model.PostbackFilter]string{
	model.FilterAll:           "All",
	model.FilterRegistrations: "Registrations",
	model.FilterDeposits:      "Deposits",
}

// PostbacksView renders one page of the audit log, newest first.
func PostbacksView(rows []model.Postback, filter model.PostbackFilter, page int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>Postbacks</b> · %s · page %d\n\n", filterTitles[filter], page+1)
	if len(rows) == 0 {
		b.WriteString("<i>nothing here</i>")
		return b.String()
	}
	for _, pb := range rows {
		fmt.Fprintf(&b, "#%d %s <b>%s</b>", pb.Seq, pb.CreatedAt.UTC().Format("01-02 15:04"), html.EscapeString(string(pb.Kind)))
		if pb.SubjectID != nil {
			fmt.Fprintf(&b, " tg:<code>%d</code>", *pb.SubjectID)
		}
		if pb.TraderID != nil {
			fmt.Fprintf(&b, " tr:<code>%s</code>", html.EscapeString(*pb.TraderID))
		}
		if pb.Amount.Valid {
			fmt.Fprintf(&b, " $%s", pb.Amount.Decimal.StringFixed(2))
		}
		if pb.Duplicate {
			b.WriteString(" <i>dup</i>")
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// PostbacksKeyboard renders the filter and pager buttons.
func PostbacksKeyboard(filter model.PostbackFilter, page int, hasNext bool) *tele.ReplyMarkup {
	data := func(f model.PostbackFilter, p int) string {
		return callbacks.Payload("|", string(f), strconv.Itoa(p+1))
	}
	filters := make([]keyboard.InlineBtn, 0, 3)
	for _, f := range []model.PostbackFilter{model.FilterAll, model.FilterRegistrations, model.FilterDeposits} {
		title := filterTitles[f]
		if f == filter {
			title = "• " + title
		}
		filters = append(filters, keyboard.Callback(title, callbackPostbacks, data(f, 0)))
	}
	var pager []keyboard.InlineBtn
	if page > 0 {
		pager = append(pager, keyboard.Callback("⬅️", callbackPostbacks, data(filter, page-1)))
	}
	pager = append(pager, keyboard.Callback("🔄", callbackPostbacks, data(filter, page)))
	if hasNext {
		pager = append(pager, keyboard.Callback("➡️", callbackPostbacks, data(filter, page+1)))
	}
	return keyboard.InlineButtonsRows(filters, pager)
}

// PostbackURLsView renders the URL templates partners paste into their
// postback settings, one per event kind, with the macros they must fill.
func PostbackURLsView(base, secret string) string {
	if secret == "" {
		secret = "YOUR_SECRET"
	}
	tmpl := func(kind model.PostbackKind, params ...string) string {
		q := url.Values{}
		q.Set("secret", secret)
		q.Set("event", string(kind))
		raw := strings.TrimRight(base, "/") + "/postback?" + q.Encode()
		for _, p := range params {
			raw += "&" + p + "={" + p + "}"
		}
		return raw
	}
	var b strings.Builder
	b.WriteString("<b>Postback URLs</b>\n\n")
	for _, item := range []struct {
		title string
		url   string
	}{
		{"Registration", tmpl(model.KindRegistration, "trader_id", "click_id")},
		{"First deposit", tmpl(model.KindDepositFirst, "trader_id", "sumdep")},
		{"Repeat deposit", tmpl(model.KindDepositRepeat, "trader_id", "sumdep")},
	} {
		fmt.Fprintf(&b, "• <b>%s</b>\n<code>%s</code>\n\n", item.title, html.EscapeString(item.url))
	}
	b.WriteString("<i>Optional:</i> <code>tg_id</code>, <code>ts</code> (enables duplicate detection)")
	return b.String()
}

// UserView renders an admin card for one user and the screen they would see next.
func UserView(u model.User, d access.Decision) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>User</b> <code>%d</code>\n\n", u.ID)
	opt := func(p *string) string {
		if p == nil || *p == "" {
			return "—"
		}
		return "<code>" + html.EscapeString(*p) + "</code>"
	}
	sub := "unknown"
	if u.IsSubscribed != nil {
		sub = onOff(*u.IsSubscribed)
	}
	fmt.Fprintf(&b, "Lang: %s\nRef: %s\nTrader: %s\nClick: %s\n", opt(u.Lang), opt(u.RefCode), opt(u.TraderID), opt(u.ClickID))
	fmt.Fprintf(&b, "Subscribed: %s\nRegistered: %s\nDeposits: <b>$%s</b>\nVIP: %s\n",
		sub, onOff(u.IsRegistered), u.DepositTotal.StringFixed(2), onOff(u.HasVIP))
	fmt.Fprintf(&b, "Joined: %s\n\nNext step: <b>%s</b>", u.CreatedAt.UTC().Format("2006-01-02 15:04"), d.Step)
	return b.String()
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func percent(part, total int) string {
	if total == 0 {
		return "0%"
	}
	return fmt.Sprintf("%.1f%%", float64(part)*100/float64(total))
}

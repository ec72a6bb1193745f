package web

import (
	"net/url"
	"strings"

	"github.com/m3rciful/funnelbot/funnel/postback"
)

// Partners name the same field differently; the first non-empty alias wins.
var (
	traderKeys  = []string{"trader_id", "trader", "account"}
	subjectKeys = []string{"tg_id", "user", "user_id"}
	amountKeys  = []string{"sumdep", "amount"}
)

// EventFromForm normalizes inbound parameters into an event. Only the kind
// is validated; malformed optional fields are treated as absent.
func EventFromForm(form url.Values) (postback.Event, error) {
	var ev postback.Event
	kind, err := postback.ParseKind(form.Get("event"))
	if err != nil {
		return ev, err
	}
	ev.Kind = kind

	ev.AmountRaw = first(form, amountKeys)
	ev.Amount = postback.ParseAmount(ev.AmountRaw)
	ev.SubjectID = postback.ParseOptionalInt(first(form, subjectKeys))
	ev.TraderID = first(form, traderKeys)
	ev.ClickID = strings.TrimSpace(form.Get("click_id"))
	ev.TS = postback.ParseOptionalInt(form.Get("ts"))
	return ev, nil
}

func first(form url.Values, keys []string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(form.Get(k)); v != "" {
			return v
		}
	}
	return ""
}

package screens

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/m3rciful/funnelbot/funnel/model"
	"github.com/m3rciful/funnelbot/funnel/postback"
)

func TestPostbackCard(t *testing.T) {
	id := int64(77)
	card := PostbackCard(postback.Result{
		Seq:        12,
		Kind:       model.KindDepositRepeat,
		SubjectID:  &id,
		TraderID:   "T<1>",
		Amount:     decimal.NewFromInt(250),
		TotalAfter: decimal.NewFromInt(310),
		BecameVIP:  true,
		Matched:    true,
	})
	for _, want := range []string{
		"<b>Repeat deposit</b>",
		"User: <code>77</code>",
		"Trader ID: <code>T&lt;1&gt;</code>",
		"Click ID: <code>-</code>",
		"Amount: <b>$250.00</b>",
		"Total: <b>$310.00</b>",
		"VIP",
		"#pb_12",
	} {
		if !strings.Contains(card, want) {
			t.Fatalf("card missing %q:\n%s", want, card)
		}
	}

	unmatched := PostbackCard(postback.Result{Kind: model.KindRegistration, ClickID: "ghost"})
	if !strings.Contains(unmatched, "no matching user") || strings.Contains(unmatched, "Amount") {
		t.Fatalf("unexpected unmatched card:\n%s", unmatched)
	}
}

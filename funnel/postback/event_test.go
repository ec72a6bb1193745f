package postback

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/m3rciful/funnelbot/funnel/model"
)

func TestParseKind(t *testing.T) {
	cases := map[string]model.PostbackKind{
		"registration":    model.KindRegistration,
		" Deposit_First ": model.KindDepositFirst,
		"deposit_repeat":  model.KindDepositRepeat,
		"deposit":         model.KindDeposit,
		"DEPOSIT_BONUS":   model.KindDeposit,
	}
	for raw, want := range cases {
		got, err := ParseKind(raw)
		if err != nil || got != want {
			t.Fatalf("ParseKind(%q) = %q, %v; want %q", raw, got, err, want)
		}
	}

	for _, raw := range []string{"", "withdrawal"} {
		_, err := ParseKind(raw)
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("ParseKind(%q) expected ValidationError, got %v", raw, err)
		}
	}
}

func TestParseAmountAcceptsCommaDecimal(t *testing.T) {
	got := ParseAmount("12,50")
	if !got.Valid || got.Decimal.String() != "12.5" {
		t.Fatalf("unexpected amount %+v", got)
	}
	if got := ParseAmount("3.14159"); !got.Valid || got.Decimal.String() != "3.14" {
		t.Fatalf("expected rounding to cents, got %+v", got)
	}
	for _, raw := range []string{"", "abc", "{sumdep}", "1e13"} {
		if got := ParseAmount(raw); got.Valid {
			t.Fatalf("ParseAmount(%q) should be absent, got %s", raw, got.Decimal)
		}
	}
	if got := ParseAmount("-3"); !got.Valid || !got.Decimal.IsNegative() {
		t.Fatalf("negative amount should parse for the audit record, got %+v", got)
	}
}

func TestRawTextKeepsUnparsedAmount(t *testing.T) {
	ev := Event{Kind: model.KindDeposit, SubjectID: int64p(7), AmountRaw: "abc"}
	if got := ev.RawText(); got != `event=deposit; tg=7; trader=-; click=-; amount="abc"; ts=-` {
		t.Fatalf("unexpected raw text %q", got)
	}
}

func TestDedupeKeyRequiresTimestamp(t *testing.T) {
	a := Event{Kind: model.KindDeposit, TraderID: "T", Amount: mustAmount(t, "10")}
	if _, ok := a.DedupeKey(); ok {
		t.Fatalf("event without ts must not be keyed")
	}
	a.TS = int64p(1)
	b := a
	b.TS = int64p(2)
	ka, _ := a.DedupeKey()
	kb, _ := b.DedupeKey()
	if ka == "" || ka == kb {
		t.Fatalf("keys should differ by ts: %q %q", ka, kb)
	}
	c := a
	kc, _ := c.DedupeKey()
	if kc != ka {
		t.Fatalf("same event produced different keys")
	}
}

func mustAmount(t *testing.T, s string) decimal.NullDecimal {
	t.Helper()
	v := ParseAmount(s)
	if !v.Valid {
		t.Fatalf("amount %q did not parse", s)
	}
	return v
}

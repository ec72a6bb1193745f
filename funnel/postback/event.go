package postback

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/m3rciful/funnelbot/funnel/model"
)

// Event is one normalized partner notification. Alias handling for the
// inbound parameters happens at the HTTP boundary.
type Event struct {
	Kind      model.PostbackKind
	SubjectID *int64
	TraderID  string
	ClickID   string
	Amount    decimal.NullDecimal
	AmountRaw string
	TS        *int64
	Raw       string
}

// maxAmount bounds a single event amount; larger values are treated as absent.
var maxAmount = decimal.New(1, 12)

// ParseKind normalizes an event name. Unknown names containing "deposit"
// collapse to the generic deposit kind.
func ParseKind(raw string) (model.PostbackKind, error) {
	k := strings.ToLower(strings.TrimSpace(raw))
	switch model.PostbackKind(k) {
	case model.KindRegistration, model.KindDepositFirst, model.KindDepositRepeat, model.KindDeposit:
		return model.PostbackKind(k), nil
	}
	if strings.Contains(k, "deposit") {
		return model.KindDeposit, nil
	}
	if k == "" {
		return "", &ValidationError{Field: "event", Reason: "missing"}
	}
	return "", &ValidationError{Field: "event", Reason: fmt.Sprintf("unknown kind %q", raw)}
}

// ParseAmount accepts both "12.50" and "12,50" and rounds to cents.
// Empty, unparseable or out-of-range input yields an invalid NullDecimal,
// the same way ParseOptionalInt treats placeholders.
func ParseAmount(raw string) decimal.NullDecimal {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(s, ",", "."))
	if err != nil || d.Abs().GreaterThanOrEqual(maxAmount) {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d.Round(2))
}

// ParseOptionalInt parses an optional integer parameter. Garbage is
// treated as absent, matching how partners send placeholders like "{ts}".
func ParseOptionalInt(raw string) *int64 {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	return &v
}

// DedupeKey identifies a redelivery of the same event. Only events that
// carry a timestamp are keyed.
func (e Event) DedupeKey() (string, bool) {
	if e.TS == nil {
		return "", false
	}
	subject := ""
	if e.SubjectID != nil {
		subject = strconv.FormatInt(*e.SubjectID, 10)
	}
	amount := ""
	if e.Amount.Valid {
		amount = e.Amount.Decimal.String()
	}
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s|%d", e.Kind, subject, e.TraderID, e.ClickID, amount, *e.TS)
	return hex.EncodeToString(h.Sum(nil)), true
}

// RawText renders the canonical audit line for the event.
func (e Event) RawText() string {
	if e.Raw != "" {
		return e.Raw
	}
	subject := "-"
	if e.SubjectID != nil {
		subject = strconv.FormatInt(*e.SubjectID, 10)
	}
	amount := "-"
	switch {
	case e.Amount.Valid:
		amount = e.Amount.Decimal.String()
	case e.AmountRaw != "":
		amount = strconv.Quote(e.AmountRaw)
	}
	ts := "-"
	if e.TS != nil {
		ts = strconv.FormatInt(*e.TS, 10)
	}
	return fmt.Sprintf("event=%s; tg=%s; trader=%s; click=%s; amount=%s; ts=%s",
		e.Kind, subject, orDash(e.TraderID), orDash(e.ClickID), amount, ts)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

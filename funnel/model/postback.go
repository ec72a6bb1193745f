package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PostbackKind is the normalized partner event type.
type PostbackKind string

const (
	KindRegistration  PostbackKind = "registration"
	KindDepositFirst  PostbackKind = "deposit_first"
	KindDepositRepeat PostbackKind = "deposit_repeat"
	KindDeposit       PostbackKind = "deposit"
)

// IsDeposit reports whether the kind adds to the deposit total.
func (k PostbackKind) IsDeposit() bool {
	switch k {
	case KindDepositFirst, KindDepositRepeat, KindDeposit:
		return true
	}
	return false
}

// Postback is the append-only audit entry written for every accepted event.
type Postback struct {
	ID         uuid.UUID           `db:"id"`
	Seq        int64               `db:"seq"`
	Kind       PostbackKind        `db:"kind"`
	SubjectID  *int64              `db:"subject_id"`
	TraderID   *string             `db:"trader_id"`
	ClickID    *string             `db:"click_id"`
	Amount     decimal.NullDecimal `db:"amount"`
	EventTS    *int64              `db:"event_ts"`
	RawPayload string              `db:"raw_payload"`
	DedupeKey  *string             `db:"dedupe_key"`
	Duplicate  bool                `db:"duplicate"`
	CreatedAt  time.Time           `db:"created_at"`
}

// PostbackFilter narrows the admin audit listing.
type PostbackFilter string

const (
	FilterAll           PostbackFilter = "all"
	FilterRegistrations PostbackFilter = "reg"
	FilterDeposits      PostbackFilter = "dep"
)

// Setting is one runtime override row.
type Setting struct {
	Key       string    `db:"key"`
	Value     string    `db:"value"`
	Revision  int64     `db:"revision"`
	UpdatedAt time.Time `db:"updated_at"`
}

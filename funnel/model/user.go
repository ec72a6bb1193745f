// Package model holds the persisted records shared by the funnel services.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// User is one end-user of the funnel, keyed by Telegram id.
type User struct {
	ID           int64           `db:"id"`
	Lang         *string         `db:"lang"`
	RefCode      *string         `db:"ref_code"`
	IsRegistered bool            `db:"is_registered"`
	DepositTotal decimal.Decimal `db:"deposit_total"`
	HasVIP       bool            `db:"has_vip"`
	// IsSubscribed is nil until the first subscription check.
	IsSubscribed     *bool `db:"is_subscribed"`
	ShownRegularOnce bool  `db:"shown_regular_access_once"`
	ShownVIPOnce     bool  `db:"shown_vip_access_once"`
	// LastMessageID is the message currently representing the bot screen.
	LastMessageID *int      `db:"last_message_id"`
	ClickID       *string   `db:"click_id"`
	TraderID      *string   `db:"trader_id"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// NewUser returns a fresh record with every gate closed.
func NewUser(id int64) *User {
	now := time.Now().UTC()
	return &User{ID: id, DepositTotal: decimal.Zero, CreatedAt: now, UpdatedAt: now}
}

// Subscribed reports the cached subscription state; unknown counts as false.
func (u User) Subscribed() bool {
	return u.IsSubscribed != nil && *u.IsSubscribed
}

// LangOr returns the stored language or def when absent.
func (u User) LangOr(def string) string {
	if u.Lang == nil || *u.Lang == "" {
		return def
	}
	return *u.Lang
}

// MaxExternalIDLen bounds trader and click ids stored on a user.
const MaxExternalIDLen = 64

// BindTraderID sets the trader id only when none is bound yet. Oversized
// ids are not bound.
func (u *User) BindTraderID(id string) bool {
	if id == "" || len(id) > MaxExternalIDLen || (u.TraderID != nil && *u.TraderID != "") {
		return false
	}
	u.TraderID = &id
	return true
}

// BindClickID sets the click id only when none is bound yet.
func (u *User) BindClickID(id string) bool {
	if id == "" || len(id) > MaxExternalIDLen || (u.ClickID != nil && *u.ClickID != "") {
		return false
	}
	u.ClickID = &id
	return true
}

// Stats aggregates funnel counters for the admin view.
type Stats struct {
	Users         int             `db:"users"`
	Registered    int             `db:"registered"`
	Depositors    int             `db:"depositors"`
	VIP           int             `db:"vip"`
	DepositSum    decimal.Decimal `db:"deposit_sum"`
	Postbacks     int             `db:"postbacks"`
	Registrations int             `db:"registrations"`
	Deposits      int             `db:"deposits"`
}

// Package access maps a user record to the next funnel step.
//
// Decide is pure: it reads a snapshot of the user and the thresholds and
// never touches storage. Rules are evaluated in a fixed order and the first
// match wins: subscription, registration, VIP, regular access, deposit.
package access

import (
	"github.com/shopspring/decimal"

	"github.com/m3rciful/funnelbot/funnel/model"
)

// Step identifies the screen the user should see next.
type Step string

const (
	NeedSubscription     Step = "subscription"
	NeedRegistration     Step = "registration"
	NeedDeposit          Step = "deposit"
	GrantAccessFirstTime Step = "access_once"
	OpenApp              Step = "open_app"
)

// Latch names a one-shot flag on the user record.
type Latch string

const (
	LatchNone    Latch = ""
	LatchRegular Latch = "shown_regular_access_once"
	LatchVIP     Latch = "shown_vip_access_once"
)

// Config is the immutable threshold snapshot Decide works against.
type Config struct {
	RequireSubscription bool
	RequireDeposit      bool
	AccessThreshold     decimal.Decimal
	VIPThreshold        decimal.Decimal
}

// Decision is the outcome of Decide. NeedAmount and HaveAmount are only set
// for NeedDeposit; VIP only matters for the access steps.
type Decision struct {
	Step       Step
	VIP        bool
	NeedAmount decimal.Decimal
	HaveAmount decimal.Decimal
}

// OneShot reports whether the decision is a screen that must be shown at most once.
func (d Decision) OneShot() bool {
	return d.Step == GrantAccessFirstTime
}

// Latch returns the flag the caller must set right after delivering a
// one-shot decision, or LatchNone.
func (d Decision) Latch() Latch {
	if !d.OneShot() {
		return LatchNone
	}
	if d.VIP {
		return LatchVIP
	}
	return LatchRegular
}

// Decide returns the next step for u.
func Decide(u model.User, cfg Config) Decision {
	if cfg.RequireSubscription && !u.Subscribed() {
		return Decision{Step: NeedSubscription}
	}
	// Registration has no switch.
	if !u.IsRegistered {
		return Decision{Step: NeedRegistration}
	}

	total := u.DepositTotal
	if total.IsNegative() {
		total = decimal.Zero
	}

	if total.GreaterThanOrEqual(cfg.VIPThreshold) || u.HasVIP {
		return grant(true, u.ShownVIPOnce)
	}
	if !cfg.RequireDeposit || total.GreaterThanOrEqual(cfg.AccessThreshold) {
		return grant(false, u.ShownRegularOnce)
	}

	need := cfg.AccessThreshold.Sub(total)
	if need.IsNegative() {
		need = decimal.Zero
	}
	return Decision{Step: NeedDeposit, NeedAmount: need, HaveAmount: total}
}

func grant(vip, shown bool) Decision {
	if !shown {
		return Decision{Step: GrantAccessFirstTime, VIP: vip}
	}
	return Decision{Step: OpenApp, VIP: vip}
}

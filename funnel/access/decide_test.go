package access

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/m3rciful/funnelbot/funnel/model"
)

func cfg(sub, dep bool) Config {
	return Config{
		RequireSubscription: sub,
		RequireDeposit:      dep,
		AccessThreshold:     decimal.NewFromInt(50),
		VIPThreshold:        decimal.NewFromInt(300),
	}
}

func boolPtr(v bool) *bool { return &v }

func user(mut func(*model.User)) model.User {
	u := model.NewUser(42)
	if mut != nil {
		mut(u)
	}
	return *u
}

func TestDecideSubscriptionGate(t *testing.T) {
	for _, sub := range []*bool{nil, boolPtr(false)} {
		u := user(func(u *model.User) {
			u.IsSubscribed = sub
			u.IsRegistered = true
			u.HasVIP = true
			u.DepositTotal = decimal.NewFromInt(1000)
		})
		if got := Decide(u, cfg(true, true)); got.Step != NeedSubscription {
			t.Fatalf("subscribed=%v: got %s, want %s", sub, got.Step, NeedSubscription)
		}
	}

	u := user(nil)
	if got := Decide(u, cfg(false, true)); got.Step != NeedRegistration {
		t.Fatalf("gate disabled: got %s, want %s", got.Step, NeedRegistration)
	}
}

func TestDecideRegistrationIgnoresDeposits(t *testing.T) {
	u := user(func(u *model.User) {
		u.IsSubscribed = boolPtr(true)
		u.DepositTotal = decimal.NewFromInt(5000)
		u.HasVIP = true
	})
	for _, dep := range []bool{true, false} {
		if got := Decide(u, cfg(true, dep)); got.Step != NeedRegistration {
			t.Fatalf("require_deposit=%v: got %s, want %s", dep, got.Step, NeedRegistration)
		}
	}
}

func TestDecideNeedDeposit(t *testing.T) {
	u := user(func(u *model.User) {
		u.IsSubscribed = boolPtr(true)
		u.IsRegistered = true
		u.DepositTotal = decimal.RequireFromString("12.50")
	})
	got := Decide(u, cfg(true, true))
	if got.Step != NeedDeposit {
		t.Fatalf("got %s, want %s", got.Step, NeedDeposit)
	}
	if !got.NeedAmount.Equal(decimal.RequireFromString("37.50")) {
		t.Fatalf("need = %s, want 37.50", got.NeedAmount)
	}
	if !got.HaveAmount.Equal(decimal.RequireFromString("12.50")) {
		t.Fatalf("have = %s, want 12.50", got.HaveAmount)
	}
	if got.Latch() != LatchNone {
		t.Fatalf("deposit screen must not carry a latch, got %q", got.Latch())
	}
}

func TestDecideFreshUserScenario(t *testing.T) {
	u := user(nil)
	c := cfg(true, true)
	if got := Decide(u, c); got.Step != NeedSubscription {
		t.Fatalf("fresh user: got %s", got.Step)
	}

	u.IsSubscribed = boolPtr(true)
	u.IsRegistered = true
	got := Decide(u, c)
	if got.Step != NeedDeposit || !got.NeedAmount.Equal(decimal.NewFromInt(50)) || !got.HaveAmount.IsZero() {
		t.Fatalf("registered user: got %+v", got)
	}

	u.DepositTotal = decimal.NewFromInt(60)
	got = Decide(u, c)
	if got.Step != GrantAccessFirstTime || got.VIP || got.Latch() != LatchRegular {
		t.Fatalf("after 60: got %+v", got)
	}
	u.ShownRegularOnce = true
	if got = Decide(u, c); got.Step != OpenApp || got.VIP {
		t.Fatalf("after latch: got %+v", got)
	}

	// The VIP one-shot fires independently of the regular one.
	u.DepositTotal = decimal.NewFromInt(310)
	u.HasVIP = true
	got = Decide(u, c)
	if got.Step != GrantAccessFirstTime || !got.VIP || got.Latch() != LatchVIP {
		t.Fatalf("after 310: got %+v", got)
	}
	u.ShownVIPOnce = true
	for i := 0; i < 3; i++ {
		if got = Decide(u, c); got.Step != OpenApp || !got.VIP {
			t.Fatalf("call %d after vip latch: got %+v", i, got)
		}
	}
}

func TestDecideVIPPrecedence(t *testing.T) {
	u := user(func(u *model.User) {
		u.IsSubscribed = boolPtr(true)
		u.IsRegistered = true
		u.DepositTotal = decimal.NewFromInt(300)
	})
	for _, dep := range []bool{true, false} {
		got := Decide(u, cfg(true, dep))
		if !got.VIP || got.Step != GrantAccessFirstTime {
			t.Fatalf("require_deposit=%v: got %+v, want vip one-shot", dep, got)
		}
	}

	u.ShownVIPOnce = true
	if got := Decide(u, cfg(true, true)); got.Step != OpenApp || !got.VIP {
		t.Fatalf("got %+v, want open vip", got)
	}
}

func TestDecideManualVIPFlag(t *testing.T) {
	u := user(func(u *model.User) {
		u.IsSubscribed = boolPtr(true)
		u.IsRegistered = true
		u.HasVIP = true
	})
	got := Decide(u, cfg(true, true))
	if got.Step != GrantAccessFirstTime || !got.VIP {
		t.Fatalf("got %+v, want vip one-shot", got)
	}
}

func TestDecideNoDepositRequired(t *testing.T) {
	u := user(func(u *model.User) {
		u.IsRegistered = true
	})
	got := Decide(u, cfg(false, false))
	if got.Step != GrantAccessFirstTime || got.VIP {
		t.Fatalf("got %+v, want regular one-shot", got)
	}
	u.ShownRegularOnce = true
	if got = Decide(u, cfg(false, false)); got.Step != OpenApp || got.VIP {
		t.Fatalf("got %+v, want open regular", got)
	}
}

func TestDecideNeedAmountFloorsAtZero(t *testing.T) {
	u := user(func(u *model.User) {
		u.IsRegistered = true
		u.DepositTotal = decimal.NewFromInt(80)
	})
	c := Config{
		RequireDeposit:  true,
		AccessThreshold: decimal.NewFromInt(100),
		VIPThreshold:    decimal.NewFromInt(300),
	}
	got := Decide(u, c)
	if got.Step != NeedDeposit || !got.NeedAmount.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("got %+v", got)
	}

	u.DepositTotal = decimal.NewFromInt(-5)
	got = Decide(u, c)
	if got.NeedAmount.GreaterThan(c.AccessThreshold) || got.HaveAmount.IsNegative() {
		t.Fatalf("negative totals must be clamped, got %+v", got)
	}
}

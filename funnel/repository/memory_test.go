package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/m3rciful/funnelbot/funnel/model"
)

func TestMemoryEnsureUserKeepsFirstRefCode(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	u, created, err := m.EnsureUser(ctx, 42, "en", "alpha")
	if err != nil || !created {
		t.Fatalf("first ensure: created=%v err=%v", created, err)
	}
	if u.RefCode == nil || *u.RefCode != "alpha" {
		t.Fatalf("unexpected ref code: %v", u.RefCode)
	}

	u, created, err = m.EnsureUser(ctx, 42, "ru", "beta")
	if err != nil || created {
		t.Fatalf("second ensure: created=%v err=%v", created, err)
	}
	if *u.RefCode != "alpha" || *u.Lang != "en" {
		t.Fatalf("existing user overwritten: ref=%s lang=%s", *u.RefCode, *u.Lang)
	}
}

func TestMemoryInTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if _, _, err := m.EnsureUser(ctx, 1, "", ""); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	boom := errors.New("boom")
	err := m.InTx(ctx, func(tx Tx) error {
		u, err := tx.LockUser(ctx, 1)
		if err != nil {
			return err
		}
		u.IsRegistered = true
		u.DepositTotal = decimal.NewFromInt(100)
		if err := tx.SaveUser(ctx, u); err != nil {
			return err
		}
		if err := tx.InsertPostback(ctx, &model.Postback{Kind: model.KindDeposit}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	u, _ := m.GetUser(ctx, 1)
	if u.IsRegistered || !u.DepositTotal.IsZero() {
		t.Fatalf("rolled back state leaked: %+v", u)
	}
	if pbs, _ := m.RecentPostbacks(ctx, model.FilterAll, 10, 0); len(pbs) != 0 {
		t.Fatalf("expected no postbacks, got %d", len(pbs))
	}
}

func TestMemorySaveUserRejectsTakenTraderID(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	for _, id := range []int64{1, 2} {
		if _, _, err := m.EnsureUser(ctx, id, "", ""); err != nil {
			t.Fatalf("ensure %d: %v", id, err)
		}
	}
	err := m.InTx(ctx, func(tx Tx) error {
		a, _ := tx.LockUser(ctx, 1)
		a.BindTraderID("T-1")
		if err := tx.SaveUser(ctx, a); err != nil {
			return err
		}
		b, _ := tx.LockUser(ctx, 2)
		b.BindTraderID("T-1")
		return tx.SaveUser(ctx, b)
	})
	if !errors.Is(err, ErrIdentityTaken) {
		t.Fatalf("expected ErrIdentityTaken, got %v", err)
	}
}

func TestMemoryEnsureClickIDIsStable(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if _, _, err := m.EnsureUser(ctx, 7, "", ""); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	calls := 0
	gen := func() string { calls++; return "7-abc" }

	first, err := m.EnsureClickID(ctx, 7, gen)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := m.EnsureClickID(ctx, 7, gen)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if first != "7-abc" || second != first || calls != 1 {
		t.Fatalf("click id not stable: %q %q calls=%d", first, second, calls)
	}

	if _, err := m.EnsureClickID(ctx, 8, gen); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown user, got %v", err)
	}
}

func TestMemoryRecentPostbacksFilterAndPaging(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	kinds := []model.PostbackKind{
		model.KindRegistration, model.KindDepositFirst, model.KindDepositRepeat,
		model.KindRegistration, model.KindDeposit,
	}
	err := m.InTx(ctx, func(tx Tx) error {
		for _, k := range kinds {
			if err := tx.InsertPostback(ctx, &model.Postback{Kind: k}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	deps, _ := m.RecentPostbacks(ctx, model.FilterDeposits, 2, 0)
	if len(deps) != 2 || deps[0].Seq != 5 || deps[1].Seq != 3 {
		t.Fatalf("unexpected deposit page: %+v", deps)
	}
	deps, _ = m.RecentPostbacks(ctx, model.FilterDeposits, 2, 2)
	if len(deps) != 1 || deps[0].Seq != 2 {
		t.Fatalf("unexpected second page: %+v", deps)
	}
	regs, _ := m.RecentPostbacks(ctx, model.FilterRegistrations, 10, 0)
	if len(regs) != 2 {
		t.Fatalf("expected 2 registrations, got %d", len(regs))
	}

	st, _ := m.Stats(ctx)
	if st.Postbacks != 5 || st.Registrations != 2 || st.Deposits != 3 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestMemorySettingsRevisionGrows(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.PutSetting(ctx, "vip_threshold", "300")
	_ = m.PutSetting(ctx, "access_threshold", "40")
	_ = m.PutSetting(ctx, "vip_threshold", "250")

	rows, _ := m.Settings(ctx)
	if len(rows) != 2 || rows[0].Key != "access_threshold" {
		t.Fatalf("unexpected rows: %+v", rows)
	}
	if rows[1].Value != "250" || rows[1].Revision != 3 {
		t.Fatalf("unexpected vip row: %+v", rows[1])
	}
}

func TestFindUserTriesIDThenTraderThenClick(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_, _, _ = m.EnsureUser(ctx, 5, "en", "")
	err := m.InTx(ctx, func(tx Tx) error {
		u, err := tx.LockUser(ctx, 5)
		if err != nil {
			return err
		}
		u.BindTraderID("98765")
		u.BindClickID("5-zz")
		return tx.SaveUser(ctx, u)
	})
	if err != nil {
		t.Fatalf("bind: %v", err)
	}

	for _, key := range []string{"5", " 98765 ", "5-zz"} {
		u, err := FindUser(ctx, m, key)
		if err != nil || u.ID != 5 {
			t.Fatalf("FindUser(%q) = %+v, %v", key, u, err)
		}
	}
	for _, key := range []string{"", "6", "nope"} {
		if _, err := FindUser(ctx, m, key); !errors.Is(err, ErrNotFound) {
			t.Fatalf("FindUser(%q) expected ErrNotFound, got %v", key, err)
		}
	}
}

package postback

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/m3rciful/funnelbot/funnel/access"
	"github.com/m3rciful/funnelbot/funnel/model"
	"github.com/m3rciful/funnelbot/funnel/repository"
)

func testConfig() access.Config {
	return access.Config{
		RequireSubscription: true,
		RequireDeposit:      true,
		AccessThreshold:     decimal.NewFromInt(50),
		VIPThreshold:        decimal.NewFromInt(300),
	}
}

func amount(s string) decimal.NullDecimal {
	return ParseAmount(s)
}

func int64p(v int64) *int64 { return &v }

func auditCount(t *testing.T, store repository.Store) int {
	t.Helper()
	pbs, err := store.RecentPostbacks(context.Background(), model.FilterAll, 100, 0)
	if err != nil {
		t.Fatalf("list postbacks: %v", err)
	}
	return len(pbs)
}

func TestApplyDepositAccumulatesAndFlagsVIPOnce(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemory()
	p := NewPipeline(store)
	cfg := testConfig()

	res, err := p.Apply(ctx, Event{Kind: model.KindDepositFirst, SubjectID: int64p(100), Amount: amount("60")}, cfg)
	if err != nil {
		t.Fatalf("first deposit: %v", err)
	}
	if !res.Matched || !res.Created || res.BecameVIP {
		t.Fatalf("unexpected result: %+v", res)
	}
	if !res.TotalAfter.Equal(decimal.NewFromInt(60)) {
		t.Fatalf("expected total 60, got %s", res.TotalAfter)
	}

	res, err = p.Apply(ctx, Event{Kind: model.KindDepositRepeat, SubjectID: int64p(100), Amount: amount("250")}, cfg)
	if err != nil {
		t.Fatalf("second deposit: %v", err)
	}
	if !res.BecameVIP || !res.TotalAfter.Equal(decimal.NewFromInt(310)) || res.Created {
		t.Fatalf("expected VIP edge at 310, got %+v", res)
	}

	res, err = p.Apply(ctx, Event{Kind: model.KindDeposit, SubjectID: int64p(100), Amount: amount("5,50")}, cfg)
	if err != nil {
		t.Fatalf("third deposit: %v", err)
	}
	if res.BecameVIP {
		t.Fatalf("VIP edge reported twice")
	}
	if !res.TotalAfter.Equal(decimal.RequireFromString("315.5")) {
		t.Fatalf("expected 315.5, got %s", res.TotalAfter)
	}

	u, _ := store.GetUser(ctx, 100)
	if !u.HasVIP {
		t.Fatalf("has_vip not persisted")
	}
	if got := auditCount(t, store); got != 3 {
		t.Fatalf("expected 3 audit records, got %d", got)
	}
}

func TestApplyRegistrationBindsIdentitiesFirstWriteWins(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemory()
	p := NewPipeline(store)

	if _, err := p.Apply(ctx, Event{Kind: model.KindRegistration, SubjectID: int64p(5), TraderID: "T-1", ClickID: "5-aa"}, testConfig()); err != nil {
		t.Fatalf("registration: %v", err)
	}
	res, err := p.Apply(ctx, Event{Kind: model.KindRegistration, SubjectID: int64p(5), TraderID: "T-2", ClickID: "5-bb"}, testConfig())
	if err != nil {
		t.Fatalf("second registration: %v", err)
	}
	if res.TraderID != "T-1" || res.ClickID != "5-aa" || !res.RegisteredAfter {
		t.Fatalf("identities overwritten: %+v", res)
	}
	if !res.TotalAfter.IsZero() {
		t.Fatalf("registration changed deposit total: %s", res.TotalAfter)
	}
}

func TestApplyResolvesByTraderAndClick(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemory()
	p := NewPipeline(store)
	cfg := testConfig()

	if _, err := p.Apply(ctx, Event{Kind: model.KindRegistration, SubjectID: int64p(9), TraderID: "T-9", ClickID: "9-xy"}, cfg); err != nil {
		t.Fatalf("registration: %v", err)
	}

	res, err := p.Apply(ctx, Event{Kind: model.KindDeposit, TraderID: "T-9", Amount: amount("10")}, cfg)
	if err != nil || !res.Matched || *res.SubjectID != 9 {
		t.Fatalf("trader lookup failed: %+v err=%v", res, err)
	}
	res, err = p.Apply(ctx, Event{Kind: model.KindDeposit, ClickID: "9-xy", Amount: amount("15")}, cfg)
	if err != nil || !res.Matched || *res.SubjectID != 9 {
		t.Fatalf("click lookup failed: %+v err=%v", res, err)
	}
	if !res.TotalAfter.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("expected 25, got %s", res.TotalAfter)
	}
}

func TestApplyUnmatchedClickWritesAuditOnly(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemory()
	p := NewPipeline(store)

	res, err := p.Apply(ctx, Event{Kind: model.KindRegistration, ClickID: "ghost"}, testConfig())
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Matched || res.SubjectID != nil {
		t.Fatalf("expected unmatched result, got %+v", res)
	}
	if got := auditCount(t, store); got != 1 {
		t.Fatalf("expected 1 audit record, got %d", got)
	}
	st, _ := store.Stats(ctx)
	if st.Users != 0 {
		t.Fatalf("expected no users, got %d", st.Users)
	}
}

func TestApplyIdentityConflictKeepsAudit(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemory()
	p := NewPipeline(store)
	cfg := testConfig()

	if _, err := p.Apply(ctx, Event{Kind: model.KindRegistration, SubjectID: int64p(1), TraderID: "A"}, cfg); err != nil {
		t.Fatalf("seed A: %v", err)
	}
	if _, err := p.Apply(ctx, Event{Kind: model.KindRegistration, SubjectID: int64p(2), TraderID: "B"}, cfg); err != nil {
		t.Fatalf("seed B: %v", err)
	}

	_, err := p.Apply(ctx, Event{Kind: model.KindDeposit, SubjectID: int64p(2), TraderID: "A", Amount: amount("100")}, cfg)
	if !errors.Is(err, ErrIdentityConflict) {
		t.Fatalf("expected ErrIdentityConflict, got %v", err)
	}
	for _, id := range []int64{1, 2} {
		u, _ := store.GetUser(ctx, id)
		if !u.DepositTotal.IsZero() {
			t.Fatalf("user %d mutated on conflict: %s", id, u.DepositTotal)
		}
	}
	if got := auditCount(t, store); got != 3 {
		t.Fatalf("expected 3 audit records, got %d", got)
	}
}

func TestApplyDuplicateTimestampSkipsMutation(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemory()
	p := NewPipeline(store)
	ev := Event{Kind: model.KindDeposit, SubjectID: int64p(3), Amount: amount("20"), TS: int64p(1700000000)}

	if _, err := p.Apply(ctx, ev, testConfig()); err != nil {
		t.Fatalf("first: %v", err)
	}
	res, err := p.Apply(ctx, ev, testConfig())
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if !res.Duplicate || !res.TotalAfter.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("expected duplicate with total 20, got %+v", res)
	}

	noTS := Event{Kind: model.KindDeposit, SubjectID: int64p(3), Amount: amount("20")}
	for i := 0; i < 2; i++ {
		if _, err := p.Apply(ctx, noTS, testConfig()); err != nil {
			t.Fatalf("no-ts deposit %d: %v", i, err)
		}
	}
	u, _ := store.GetUser(ctx, 3)
	if !u.DepositTotal.Equal(decimal.NewFromInt(60)) {
		t.Fatalf("expected 60 after untimed replays, got %s", u.DepositTotal)
	}
	if got := auditCount(t, store); got != 4 {
		t.Fatalf("expected 4 audit records, got %d", got)
	}
}

func TestApplyWalkThroughDecisions(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemory()
	p := NewPipeline(store)
	cfg := testConfig()

	if _, _, err := store.EnsureUser(ctx, 77, "en", ""); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	_ = store.SetSubscribed(ctx, 77, true)
	if _, err := p.Apply(ctx, Event{Kind: model.KindRegistration, SubjectID: int64p(77)}, cfg); err != nil {
		t.Fatalf("registration: %v", err)
	}
	u, _ := store.GetUser(ctx, 77)
	if d := access.Decide(*u, cfg); d.Step != access.NeedDeposit || !d.NeedAmount.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("expected need deposit 50, got %+v", d)
	}

	if _, err := p.Apply(ctx, Event{Kind: model.KindDepositFirst, SubjectID: int64p(77), Amount: amount("60")}, cfg); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	u, _ = store.GetUser(ctx, 77)
	if d := access.Decide(*u, cfg); d.Step != access.GrantAccessFirstTime || d.VIP {
		t.Fatalf("expected regular one-shot, got %+v", d)
	}
}

func TestApplyAuditsUnusableAmountWithoutCrediting(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemory()
	p := NewPipeline(store)
	cfg := testConfig()

	for _, raw := range []string{"-1", "abc", "{sumdep}"} {
		res, err := p.Apply(ctx, Event{Kind: model.KindDeposit, SubjectID: int64p(8), AmountRaw: raw, Amount: ParseAmount(raw)}, cfg)
		if err != nil {
			t.Fatalf("amount %q: %v", raw, err)
		}
		if !res.Matched || !res.TotalAfter.IsZero() {
			t.Fatalf("amount %q must not be credited, got %+v", raw, res)
		}
	}
	if n := auditCount(t, store); n != 3 {
		t.Fatalf("expected 3 audit records, got %d", n)
	}
	pbs, _ := store.RecentPostbacks(ctx, model.FilterAll, 1, 0)
	if !strings.Contains(pbs[0].RawPayload, `amount="{sumdep}"`) {
		t.Fatalf("raw amount missing from payload: %q", pbs[0].RawPayload)
	}
}

func TestApplyRoundsAmountsToCents(t *testing.T) {
	ctx := context.Background()
	p := NewPipeline(repository.NewMemory())
	cfg := testConfig()

	for _, raw := range []string{"10.005", "0.004"} {
		if _, err := p.Apply(ctx, Event{Kind: model.KindDeposit, SubjectID: int64p(9), Amount: amount(raw)}, cfg); err != nil {
			t.Fatalf("deposit %s: %v", raw, err)
		}
	}
	res, err := p.Apply(ctx, Event{Kind: model.KindDeposit, SubjectID: int64p(9), Amount: amount("1,111")}, cfg)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if !res.TotalAfter.Equal(decimal.RequireFromString("11.12")) {
		t.Fatalf("expected 11.12, got %s", res.TotalAfter)
	}
}

func TestApplyConcurrentDepositsSerialize(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemory()
	p := NewPipeline(store)
	cfg := testConfig()

	var vipEdges atomic.Int32
	var g errgroup.Group
	for i := 0; i < 50; i++ {
		g.Go(func() error {
			res, err := p.Apply(ctx, Event{Kind: model.KindDeposit, SubjectID: int64p(500), Amount: amount("10")}, cfg)
			if res.BecameVIP {
				vipEdges.Add(1)
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent deposit: %v", err)
	}

	u, err := store.GetUser(ctx, 500)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if !u.DepositTotal.Equal(decimal.NewFromInt(500)) || !u.HasVIP {
		t.Fatalf("lost update: total=%s vip=%v", u.DepositTotal, u.HasVIP)
	}
	if n := vipEdges.Load(); n != 1 {
		t.Fatalf("expected one VIP edge, got %d", n)
	}
	if n := auditCount(t, store); n != 50 {
		t.Fatalf("expected 50 audit records, got %d", n)
	}
}

func TestApplyAuditsOversizedTraderIDWithoutBinding(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemory()
	p := NewPipeline(store)
	long := strings.Repeat("T", model.MaxExternalIDLen+10)

	res, err := p.Apply(ctx, Event{Kind: model.KindRegistration, SubjectID: int64p(12), TraderID: long}, testConfig())
	if err != nil {
		t.Fatalf("registration: %v", err)
	}
	if !res.Matched || !res.RegisteredAfter {
		t.Fatalf("unexpected result: %+v", res)
	}
	u, _ := store.GetUser(ctx, 12)
	if u.TraderID != nil {
		t.Fatalf("oversized trader id was bound: %q", *u.TraderID)
	}
	pbs, _ := store.RecentPostbacks(ctx, model.FilterAll, 1, 0)
	if len(pbs) != 1 || pbs[0].TraderID == nil || *pbs[0].TraderID != long {
		t.Fatalf("audit record should keep the full trader id, got %+v", pbs)
	}
}

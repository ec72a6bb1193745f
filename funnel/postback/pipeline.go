// Package postback turns partner notifications into audited user updates.
package postback

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/m3rciful/funnelbot/core/logger"
	"github.com/m3rciful/funnelbot/funnel/access"
	"github.com/m3rciful/funnelbot/funnel/model"
	"github.com/m3rciful/funnelbot/funnel/repository"
)

// Result describes what one Apply call did.
type Result struct {
	ID              uuid.UUID
	Seq             int64
	Kind            model.PostbackKind
	SubjectID       *int64
	TraderID        string
	ClickID         string
	Amount          decimal.Decimal
	TotalAfter      decimal.Decimal
	RegisteredAfter bool
	BecameVIP       bool
	// Matched is false when no user could be resolved or created.
	Matched   bool
	Created   bool
	Duplicate bool
}

// Pipeline applies events against the user record store.
type Pipeline struct {
	store repository.Store
}

// NewPipeline builds a pipeline over store.
func NewPipeline(store repository.Store) *Pipeline {
	return &Pipeline{store: store}
}

// Apply resolves the user, writes the audit record and mutates the user in
// a single transaction. The audit record survives unmatched events and
// identity conflicts.
func (p *Pipeline) Apply(ctx context.Context, ev Event, cfg access.Config) (Result, error) {
	start := time.Now()
	if !ev.Kind.IsDeposit() && ev.Kind != model.KindRegistration {
		return Result{}, &ValidationError{Field: "event", Reason: "unsupported kind"}
	}

	res := Result{
		ID:        uuid.New(),
		Kind:      ev.Kind,
		SubjectID: ev.SubjectID,
		TraderID:  ev.TraderID,
		ClickID:   ev.ClickID,
		Amount:    decimal.Zero,
	}
	if ev.Amount.Valid {
		res.Amount = ev.Amount.Decimal
	}

	var conflict bool
	err := p.store.InTx(ctx, func(tx repository.Tx) error {
		res.Matched, res.Created, res.Duplicate, res.BecameVIP, conflict = false, false, false, false, false

		u, created, err := resolveUser(ctx, tx, ev)
		switch {
		case errors.Is(err, ErrIdentityConflict):
			conflict = true
		case err != nil:
			return err
		}

		pb := &model.Postback{
			ID:         res.ID,
			Kind:       ev.Kind,
			SubjectID:  ev.SubjectID,
			TraderID:   optString(ev.TraderID),
			ClickID:    optString(ev.ClickID),
			Amount:     ev.Amount,
			EventTS:    ev.TS,
			RawPayload: ev.RawText(),
		}
		if key, ok := ev.DedupeKey(); ok {
			pb.DedupeKey = &key
			seen, err := tx.DedupeKeySeen(ctx, key)
			if err != nil {
				return storeErr("dedupe lookup", err)
			}
			pb.Duplicate = seen
		}
		if err := tx.InsertPostback(ctx, pb); err != nil {
			return storeErr("insert audit", err)
		}
		res.Seq = pb.Seq
		res.Duplicate = pb.Duplicate

		if conflict || u == nil {
			return nil
		}
		res.Matched = true
		res.Created = created
		if !pb.Duplicate {
			res.BecameVIP = mutate(u, ev, cfg.VIPThreshold)
			if err := tx.SaveUser(ctx, u); err != nil {
				return storeErr("save user", err)
			}
		}

		id := u.ID
		res.SubjectID = &id
		res.TraderID = derefOr(u.TraderID, ev.TraderID)
		res.ClickID = derefOr(u.ClickID, ev.ClickID)
		res.TotalAfter = u.DepositTotal
		res.RegisteredAfter = u.IsRegistered
		return nil
	})
	if err != nil {
		logger.LogEvent(ctx, logger.SVCPostbacks, slog.LevelError, "postback.apply",
			slog.String("outcome", "error"),
			slog.String("kind", string(ev.Kind)),
			slog.String("err", err.Error()),
			slog.Duration("duration", logger.Took(start)),
		)
		return Result{}, storeErr("apply", err)
	}

	attrs := []slog.Attr{
		slog.String("outcome", outcome(res, conflict)),
		slog.String("kind", string(res.Kind)),
		slog.String("postback_id", res.ID.String()),
		slog.String("amount", res.Amount.StringFixed(2)),
		slog.String("total", res.TotalAfter.StringFixed(2)),
		slog.Bool("became_vip", res.BecameVIP),
		slog.Duration("duration", logger.Took(start)),
	}
	if res.SubjectID != nil {
		attrs = append(attrs, slog.Int64("user_id", *res.SubjectID))
	}
	if res.TraderID != "" {
		attrs = append(attrs, slog.String("trader_id", res.TraderID))
	}
	if res.ClickID != "" {
		attrs = append(attrs, slog.String("click_id", res.ClickID))
	}
	level := slog.LevelInfo
	if conflict {
		level = slog.LevelWarn
	}
	logger.LogEvent(ctx, logger.SVCPostbacks, level, "postback.applied", attrs...)

	if conflict {
		return res, ErrIdentityConflict
	}
	return res, nil
}

// resolveUser locks the user the event refers to. Lookup order is subject,
// trader, click; when none match and a subject id was supplied, the user is
// created. Identifiers pointing at two different users yield ErrIdentityConflict.
func resolveUser(ctx context.Context, tx repository.Tx, ev Event) (*model.User, bool, error) {
	var found *model.User
	consider := func(u *model.User, err error) error {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		if err != nil {
			return storeErr("lock user", err)
		}
		if found != nil && found.ID != u.ID {
			return ErrIdentityConflict
		}
		if found == nil {
			found = u
		}
		return nil
	}

	if ev.SubjectID != nil {
		if err := consider(tx.LockUser(ctx, *ev.SubjectID)); err != nil {
			return nil, false, err
		}
	}
	if ev.TraderID != "" {
		if err := consider(tx.LockUserByTraderID(ctx, ev.TraderID)); err != nil {
			return nil, false, err
		}
	}
	if ev.ClickID != "" {
		if err := consider(tx.LockUserByClickID(ctx, ev.ClickID)); err != nil {
			return nil, false, err
		}
	}
	if found != nil {
		return found, false, nil
	}
	if ev.SubjectID == nil {
		return nil, false, nil
	}
	u, err := tx.CreateUser(ctx, *ev.SubjectID)
	if err != nil {
		return nil, false, storeErr("create user", err)
	}
	return u, true, nil
}

// mutate applies the event to u and reports the VIP transition edge.
func mutate(u *model.User, ev Event, vipThreshold decimal.Decimal) bool {
	if ev.Kind == model.KindRegistration {
		u.IsRegistered = true
		u.BindTraderID(ev.TraderID)
		u.BindClickID(ev.ClickID)
		return false
	}
	if ev.Amount.Valid && ev.Amount.Decimal.IsPositive() {
		u.DepositTotal = u.DepositTotal.Add(ev.Amount.Decimal.Round(2))
	}
	u.BindTraderID(ev.TraderID)
	if !u.HasVIP && u.DepositTotal.GreaterThanOrEqual(vipThreshold) {
		u.HasVIP = true
		return true
	}
	return false
}

func outcome(res Result, conflict bool) string {
	switch {
	case conflict:
		return "conflict"
	case res.Duplicate:
		return "duplicate"
	case res.Created:
		return "created"
	case res.Matched:
		return "matched"
	default:
		return "unmatched"
	}
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefOr(p *string, def string) string {
	if p != nil && *p != "" {
		return *p
	}
	return def
}

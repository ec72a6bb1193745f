package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/m3rciful/funnelbot/core/logger"
	"github.com/m3rciful/funnelbot/funnel/model"
)

const userColumns = `id, lang, ref_code, is_registered, deposit_total, has_vip, is_subscribed,
	shown_regular_access_once, shown_vip_access_once, last_message_id, click_id, trader_id,
	created_at, updated_at`

const postbackColumns = `id, seq, kind, subject_id, trader_id, click_id, amount, event_ts,
	raw_payload, dedupe_key, duplicate, created_at`

const pgUniqueViolation = "23505"

// Postgres implements Store on top of sqlx.
type Postgres struct {
	db *sqlx.DB
}

// NewPostgres wraps an open connection pool.
func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{db: db}
}

// GetUser loads a user by Telegram id.
func (p *Postgres) GetUser(ctx context.Context, id int64) (*model.User, error) {
	return getUser(ctx, p.db, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// EnsureUser inserts the user when missing and returns the stored row.
func (p *Postgres) EnsureUser(ctx context.Context, id int64, lang, refCode string) (*model.User, bool, error) {
	u, err := getUser(ctx, p.db, `
		INSERT INTO users (id, lang, ref_code)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''))
		ON CONFLICT (id) DO NOTHING
		RETURNING `+userColumns, id, lang, refCode)
	if err == nil {
		logger.Debug(ctx, "db", "user.created",
			slog.Int64("user_id", id),
			slog.String("lang", lang),
		)
		return u, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}
	u, err = p.GetUser(ctx, id)
	return u, false, err
}

// SetLang stores the user's language.
func (p *Postgres) SetLang(ctx context.Context, id int64, lang string) error {
	return p.exec(ctx, `UPDATE users SET lang = $2, updated_at = NOW() WHERE id = $1`, id, lang)
}

// SetSubscribed caches the result of the last subscription check.
func (p *Postgres) SetSubscribed(ctx context.Context, id int64, subscribed bool) error {
	return p.exec(ctx, `UPDATE users SET is_subscribed = $2, updated_at = NOW() WHERE id = $1`, id, subscribed)
}

// MarkRegularShown sets the regular one-shot latch.
func (p *Postgres) MarkRegularShown(ctx context.Context, id int64) error {
	return p.exec(ctx, `UPDATE users SET shown_regular_access_once = TRUE, updated_at = NOW() WHERE id = $1`, id)
}

// MarkVIPShown sets the VIP one-shot latch.
func (p *Postgres) MarkVIPShown(ctx context.Context, id int64) error {
	return p.exec(ctx, `UPDATE users SET shown_vip_access_once = TRUE, updated_at = NOW() WHERE id = $1`, id)
}

// SetLastMessage replaces the stored screen message id.
func (p *Postgres) SetLastMessage(ctx context.Context, id int64, messageID *int) error {
	return p.exec(ctx, `UPDATE users SET last_message_id = $2, updated_at = NOW() WHERE id = $1`, id, messageID)
}

// EnsureClickID binds a generated click id unless one is already set.
func (p *Postgres) EnsureClickID(ctx context.Context, id int64, gen func() string) (string, error) {
	const attempts = 3
	for attempt := 1; attempt <= attempts; attempt++ {
		var clickID string
		err := p.db.GetContext(ctx, &clickID, `
			UPDATE users SET click_id = $2, updated_at = NOW()
			WHERE id = $1 AND click_id IS NULL
			RETURNING click_id`, id, gen())
		switch {
		case err == nil:
			return clickID, nil
		case errors.Is(err, sql.ErrNoRows):
			u, err := p.GetUser(ctx, id)
			if err != nil {
				return "", err
			}
			if u.ClickID == nil {
				return "", fmt.Errorf("click id for user %d: %w", id, ErrNotFound)
			}
			return *u.ClickID, nil
		case isUniqueViolation(err):
			continue
		default:
			return "", fmt.Errorf("bind click id: %w", err)
		}
	}
	return "", fmt.Errorf("bind click id after %d attempts: %w", attempts, ErrIdentityTaken)
}

// RecentPostbacks lists audit records newest first.
func (p *Postgres) RecentPostbacks(ctx context.Context, filter model.PostbackFilter, limit, offset int) ([]model.Postback, error) {
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}
	var out []model.Postback
	err := p.db.SelectContext(ctx, &out, `
		SELECT `+postbackColumns+` FROM postbacks
		WHERE $1 = 'all'
		   OR ($1 = 'reg' AND kind = 'registration')
		   OR ($1 = 'dep' AND kind LIKE 'deposit%')
		ORDER BY seq DESC
		LIMIT $2 OFFSET $3`, string(filter), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list postbacks: %w", err)
	}
	return out, nil
}

// Stats aggregates funnel counters.
func (p *Postgres) Stats(ctx context.Context) (model.Stats, error) {
	var st model.Stats
	err := p.db.GetContext(ctx, &st, `
		SELECT
			(SELECT COUNT(*) FROM users)                                   AS users,
			(SELECT COUNT(*) FROM users WHERE is_registered)               AS registered,
			(SELECT COUNT(*) FROM users WHERE deposit_total > 0)           AS depositors,
			(SELECT COUNT(*) FROM users WHERE has_vip)                     AS vip,
			(SELECT COALESCE(SUM(deposit_total), 0) FROM users)            AS deposit_sum,
			(SELECT COUNT(*) FROM postbacks)                               AS postbacks,
			(SELECT COUNT(*) FROM postbacks WHERE kind = 'registration')   AS registrations,
			(SELECT COUNT(*) FROM postbacks WHERE kind LIKE 'deposit%')    AS deposits`)
	if err != nil {
		return model.Stats{}, fmt.Errorf("stats: %w", err)
	}
	return st, nil
}

// Settings returns all runtime overrides.
func (p *Postgres) Settings(ctx context.Context) ([]model.Setting, error) {
	var out []model.Setting
	if err := p.db.SelectContext(ctx, &out, `SELECT key, value, revision, updated_at FROM settings ORDER BY key`); err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	return out, nil
}

// PutSetting upserts an override and bumps its revision.
func (p *Postgres) PutSetting(ctx context.Context, key, value string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, revision = nextval('settings_revision_seq'), updated_at = NOW()`, key, value)
	if err != nil {
		return fmt.Errorf("put setting %s: %w", key, err)
	}
	return nil
}

// InTx runs fn in a read-committed transaction.
func (p *Postgres) InTx(ctx context.Context, fn func(Tx) error) (err error) {
	start := time.Now()
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			logger.Warn(ctx, "db", "tx.rollback",
				slog.String("err", rbErr.Error()),
				slog.String("cause", err.Error()),
			)
		}
	}()

	if err = fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	logger.Debug(ctx, "db", "tx.commit", slog.Duration("duration", logger.Took(start)))
	return nil
}

func (p *Postgres) exec(ctx context.Context, query string, args ...any) error {
	res, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("exec: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type pgTx struct {
	tx *sqlx.Tx
}

func (t *pgTx) LockUser(ctx context.Context, id int64) (*model.User, error) {
	return getUser(ctx, t.tx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id)
}

func (t *pgTx) LockUserByTraderID(ctx context.Context, traderID string) (*model.User, error) {
	return getUser(ctx, t.tx, `SELECT `+userColumns+` FROM users WHERE trader_id = $1 FOR UPDATE`, traderID)
}

func (t *pgTx) LockUserByClickID(ctx context.Context, clickID string) (*model.User, error) {
	return getUser(ctx, t.tx, `SELECT `+userColumns+` FROM users WHERE click_id = $1 FOR UPDATE`, clickID)
}

func (t *pgTx) CreateUser(ctx context.Context, id int64) (*model.User, error) {
	if _, err := t.tx.ExecContext(ctx, `INSERT INTO users (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, id); err != nil {
		return nil, fmt.Errorf("create user %d: %w", id, err)
	}
	return t.LockUser(ctx, id)
}

func (t *pgTx) SaveUser(ctx context.Context, u *model.User) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE users
		SET is_registered = $2, deposit_total = $3, has_vip = $4,
		    click_id = $5, trader_id = $6, updated_at = NOW()
		WHERE id = $1`,
		u.ID, u.IsRegistered, u.DepositTotal, u.HasVIP, u.ClickID, u.TraderID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("save user %d: %w", u.ID, ErrIdentityTaken)
		}
		return fmt.Errorf("save user %d: %w", u.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) DedupeKeySeen(ctx context.Context, key string) (bool, error) {
	var seen bool
	err := t.tx.GetContext(ctx, &seen,
		`SELECT EXISTS (SELECT 1 FROM postbacks WHERE dedupe_key = $1 AND NOT duplicate)`, key)
	if err != nil {
		return false, fmt.Errorf("dedupe lookup: %w", err)
	}
	return seen, nil
}

func (t *pgTx) InsertPostback(ctx context.Context, pb *model.Postback) error {
	err := t.tx.QueryRowxContext(ctx, `
		INSERT INTO postbacks (id, kind, subject_id, trader_id, click_id, amount, event_ts,
		                       raw_payload, dedupe_key, duplicate)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING seq, created_at`,
		pb.ID, string(pb.Kind), pb.SubjectID, pb.TraderID, pb.ClickID, pb.Amount, pb.EventTS,
		pb.RawPayload, pb.DedupeKey, pb.Duplicate,
	).Scan(&pb.Seq, &pb.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert postback: %w", err)
	}
	return nil
}

func getUser(ctx context.Context, q sqlx.QueryerContext, query string, args ...any) (*model.User, error) {
	var u model.User
	if err := sqlx.GetContext(ctx, q, &u, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation
}

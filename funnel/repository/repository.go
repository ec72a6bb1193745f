// Package repository persists users, postback audit records and runtime
// settings. Postgres is the production store; Memory mirrors its semantics
// for tests and dry runs.
package repository

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/m3rciful/funnelbot/funnel/model"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("repository: not found")
	// ErrIdentityTaken is returned when a click or trader id is already bound to another user.
	ErrIdentityTaken = errors.New("repository: identity bound to another user")
)

// Store is the user record store consumed by the bot and the pipeline.
type Store interface {
	GetUser(ctx context.Context, id int64) (*model.User, error)
	// EnsureUser creates the user on first contact. lang and refCode are only
	// recorded at creation; created reports whether a row was inserted.
	EnsureUser(ctx context.Context, id int64, lang, refCode string) (u *model.User, created bool, err error)
	SetLang(ctx context.Context, id int64, lang string) error
	SetSubscribed(ctx context.Context, id int64, subscribed bool) error
	MarkRegularShown(ctx context.Context, id int64) error
	MarkVIPShown(ctx context.Context, id int64) error
	SetLastMessage(ctx context.Context, id int64, messageID *int) error
	// EnsureClickID returns the bound click id, binding gen() when none is set.
	EnsureClickID(ctx context.Context, id int64, gen func() string) (string, error)

	RecentPostbacks(ctx context.Context, filter model.PostbackFilter, limit, offset int) ([]model.Postback, error)
	Stats(ctx context.Context) (model.Stats, error)

	Settings(ctx context.Context) ([]model.Setting, error)
	PutSetting(ctx context.Context, key, value string) error

	// InTx runs fn inside one transaction; fn's error rolls it back.
	InTx(ctx context.Context, fn func(Tx) error) error
}

// Tx is the transactional view used by postback ingestion. Lock* methods
// hold the user row until the transaction ends.
type Tx interface {
	LockUser(ctx context.Context, id int64) (*model.User, error)
	LockUserByTraderID(ctx context.Context, traderID string) (*model.User, error)
	LockUserByClickID(ctx context.Context, clickID string) (*model.User, error)
	CreateUser(ctx context.Context, id int64) (*model.User, error)
	// SaveUser writes the fields postbacks may change.
	SaveUser(ctx context.Context, u *model.User) error
	DedupeKeySeen(ctx context.Context, key string) (bool, error)
	InsertPostback(ctx context.Context, pb *model.Postback) error
}

// FindUser looks a user up by Telegram id, trader id or click id, in that
// order. Numeric keys are tried as ids first.
func FindUser(ctx context.Context, s Store, key string) (*model.User, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, ErrNotFound
	}
	var found *model.User
	err := s.InTx(ctx, func(tx Tx) error {
		lookups := []func() (*model.User, error){
			func() (*model.User, error) { return tx.LockUserByTraderID(ctx, key) },
			func() (*model.User, error) { return tx.LockUserByClickID(ctx, key) },
		}
		if id, err := strconv.ParseInt(key, 10, 64); err == nil {
			lookups = append([]func() (*model.User, error){
				func() (*model.User, error) { return tx.LockUser(ctx, id) },
			}, lookups...)
		}
		for _, lookup := range lookups {
			u, err := lookup()
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			found = u
			return nil
		}
		return ErrNotFound
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

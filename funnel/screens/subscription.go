package screens

import (
	"context"
	"log/slog"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/funnelbot/core/logger"
	"github.com/m3rciful/funnelbot/funnel/repository"
)

// MemberLookup is the part of *tele.Bot used for subscription checks.
type MemberLookup interface {
	ChatMemberOf(chat, user tele.Recipient) (*tele.ChatMember, error)
}

// SubscriptionChecker verifies channel membership and caches the result.
type SubscriptionChecker struct {
	store    repository.Store
	settings SnapshotSource
	members  MemberLookup
}

// NewSubscriptionChecker wires a checker.
func NewSubscriptionChecker(store repository.Store, src SnapshotSource, members MemberLookup) *SubscriptionChecker {
	return &SubscriptionChecker{store: store, settings: src, members: members}
}

// Check asks Telegram whether the user is in the configured channel. A
// disabled gate or missing channel counts as subscribed. Lookup failures
// count as not subscribed.
func (s *SubscriptionChecker) Check(ctx context.Context, userID int64) (bool, error) {
	snap := s.settings.Current()
	ok := true
	if snap.RequireSubscription && snap.SubChannelID != 0 {
		ok = false
		member, err := s.members.ChatMemberOf(&tele.Chat{ID: snap.SubChannelID}, &tele.User{ID: userID})
		if err != nil {
			logger.Warn(ctx, "service.users", "subscription.check",
				slog.Int64("user_id", userID),
				slog.String("err", err.Error()),
			)
		} else {
			ok = IsMember(member)
		}
	}
	if err := s.store.SetSubscribed(ctx, userID, ok); err != nil {
		return ok, err
	}
	return ok, nil
}

// IsMember reports whether the member status counts as subscribed.
func IsMember(m *tele.ChatMember) bool {
	if m == nil {
		return false
	}
	switch m.Role {
	case tele.Creator, tele.Administrator, tele.Member:
		return true
	case tele.Restricted:
		return m.Member
	}
	return false
}

package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/m3rciful/funnelbot/funnel/model"
)

// Memory is an in-process Store. InTx holds one mutex for the whole
// transaction and works on a copy that is committed only when fn succeeds.
type Memory struct {
	mu        sync.Mutex
	users     map[int64]model.User
	postbacks []model.Postback
	settings  map[string]model.Setting
	revision  int64
	seq       int64
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		users:    make(map[int64]model.User),
		settings: make(map[string]model.Setting),
	}
}

func (m *Memory) GetUser(_ context.Context, id int64) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(u), nil
}

func (m *Memory) EnsureUser(_ context.Context, id int64, lang, refCode string) (*model.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		return cloneUser(u), false, nil
	}
	u := model.NewUser(id)
	if lang != "" {
		u.Lang = &lang
	}
	if refCode != "" {
		u.RefCode = &refCode
	}
	m.users[id] = *u
	return cloneUser(*u), true, nil
}

func (m *Memory) SetLang(_ context.Context, id int64, lang string) error {
	return m.update(id, func(u *model.User) { u.Lang = &lang })
}

func (m *Memory) SetSubscribed(_ context.Context, id int64, subscribed bool) error {
	return m.update(id, func(u *model.User) { u.IsSubscribed = &subscribed })
}

func (m *Memory) MarkRegularShown(_ context.Context, id int64) error {
	return m.update(id, func(u *model.User) { u.ShownRegularOnce = true })
}

func (m *Memory) MarkVIPShown(_ context.Context, id int64) error {
	return m.update(id, func(u *model.User) { u.ShownVIPOnce = true })
}

func (m *Memory) SetLastMessage(_ context.Context, id int64, messageID *int) error {
	return m.update(id, func(u *model.User) {
		if messageID == nil {
			u.LastMessageID = nil
			return
		}
		v := *messageID
		u.LastMessageID = &v
	})
}

func (m *Memory) EnsureClickID(_ context.Context, id int64, gen func() string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return "", ErrNotFound
	}
	if u.ClickID != nil && *u.ClickID != "" {
		return *u.ClickID, nil
	}
	clickID := gen()
	if owner, taken := findUser(m.users, func(o model.User) bool { return o.ClickID != nil && *o.ClickID == clickID }); taken && owner.ID != id {
		return "", ErrIdentityTaken
	}
	u.ClickID = &clickID
	u.UpdatedAt = time.Now().UTC()
	m.users[id] = u
	return clickID, nil
}

func (m *Memory) RecentPostbacks(_ context.Context, filter model.PostbackFilter, limit, offset int) ([]model.Postback, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 10
	}
	var out []model.Postback
	skipped := 0
	for i := len(m.postbacks) - 1; i >= 0 && len(out) < limit; i-- {
		pb := m.postbacks[i]
		if !matchesFilter(pb.Kind, filter) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, pb)
	}
	return out, nil
}

func (m *Memory) Stats(_ context.Context) (model.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := model.Stats{DepositSum: decimal.Zero}
	for _, u := range m.users {
		st.Users++
		if u.IsRegistered {
			st.Registered++
		}
		if u.DepositTotal.IsPositive() {
			st.Depositors++
		}
		if u.HasVIP {
			st.VIP++
		}
		st.DepositSum = st.DepositSum.Add(u.DepositTotal)
	}
	for _, pb := range m.postbacks {
		st.Postbacks++
		switch {
		case pb.Kind == model.KindRegistration:
			st.Registrations++
		case pb.Kind.IsDeposit():
			st.Deposits++
		}
	}
	return st, nil
}

func (m *Memory) Settings(_ context.Context) ([]model.Setting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Setting, 0, len(m.settings))
	for _, s := range m.settings {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *Memory) PutSetting(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revision++
	m.settings[key] = model.Setting{Key: key, Value: value, Revision: m.revision, UpdatedAt: time.Now().UTC()}
	return nil
}

func (m *Memory) InTx(ctx context.Context, fn func(Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memTx{
		users: make(map[int64]model.User, len(m.users)),
		seq:   m.seq,
	}
	for id, u := range m.users {
		tx.users[id] = u
	}
	tx.postbacks = append(tx.postbacks, m.postbacks...)
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.users = tx.users
	m.postbacks = tx.postbacks
	m.seq = tx.seq
	return nil
}

func (m *Memory) update(id int64, fn func(*model.User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	fn(&u)
	u.UpdatedAt = time.Now().UTC()
	m.users[id] = u
	return nil
}

type memTx struct {
	users     map[int64]model.User
	postbacks []model.Postback
	seq       int64
}

func (t *memTx) LockUser(_ context.Context, id int64) (*model.User, error) {
	u, ok := t.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(u), nil
}

func (t *memTx) LockUserByTraderID(_ context.Context, traderID string) (*model.User, error) {
	if u, ok := findUser(t.users, func(u model.User) bool { return u.TraderID != nil && *u.TraderID == traderID }); ok {
		return cloneUser(u), nil
	}
	return nil, ErrNotFound
}

func (t *memTx) LockUserByClickID(_ context.Context, clickID string) (*model.User, error) {
	if u, ok := findUser(t.users, func(u model.User) bool { return u.ClickID != nil && *u.ClickID == clickID }); ok {
		return cloneUser(u), nil
	}
	return nil, ErrNotFound
}

func (t *memTx) CreateUser(_ context.Context, id int64) (*model.User, error) {
	if u, ok := t.users[id]; ok {
		return cloneUser(u), nil
	}
	u := model.NewUser(id)
	t.users[id] = *u
	return cloneUser(*u), nil
}

func (t *memTx) SaveUser(_ context.Context, u *model.User) error {
	cur, ok := t.users[u.ID]
	if !ok {
		return ErrNotFound
	}
	for id, o := range t.users {
		if id == u.ID {
			continue
		}
		if sameID(o.TraderID, u.TraderID) || sameID(o.ClickID, u.ClickID) {
			return ErrIdentityTaken
		}
	}
	cur.IsRegistered = u.IsRegistered
	cur.DepositTotal = u.DepositTotal
	cur.HasVIP = u.HasVIP
	cur.ClickID = copyString(u.ClickID)
	cur.TraderID = copyString(u.TraderID)
	cur.UpdatedAt = time.Now().UTC()
	t.users[u.ID] = cur
	return nil
}

func (t *memTx) DedupeKeySeen(_ context.Context, key string) (bool, error) {
	for _, pb := range t.postbacks {
		if !pb.Duplicate && pb.DedupeKey != nil && *pb.DedupeKey == key {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) InsertPostback(_ context.Context, pb *model.Postback) error {
	t.seq++
	pb.Seq = t.seq
	pb.CreatedAt = time.Now().UTC()
	t.postbacks = append(t.postbacks, *pb)
	return nil
}

func matchesFilter(kind model.PostbackKind, filter model.PostbackFilter) bool {
	switch filter {
	case model.FilterRegistrations:
		return kind == model.KindRegistration
	case model.FilterDeposits:
		return strings.HasPrefix(string(kind), "deposit")
	default:
		return true
	}
}

func findUser(users map[int64]model.User, pred func(model.User) bool) (model.User, bool) {
	for _, u := range users {
		if pred(u) {
			return u, true
		}
	}
	return model.User{}, false
}

func sameID(a, b *string) bool {
	return a != nil && b != nil && *a != "" && *a == *b
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneUser(u model.User) *model.User {
	c := u
	c.Lang = copyString(u.Lang)
	c.RefCode = copyString(u.RefCode)
	c.ClickID = copyString(u.ClickID)
	c.TraderID = copyString(u.TraderID)
	if u.IsSubscribed != nil {
		v := *u.IsSubscribed
		c.IsSubscribed = &v
	}
	if u.LastMessageID != nil {
		v := *u.LastMessageID
		c.LastMessageID = &v
	}
	return &c
}

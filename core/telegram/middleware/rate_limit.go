package middleware

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/m3rciful/funnelbot/core/logger"
	"github.com/redis/go-redis/v9"

	tele "gopkg.in/telebot.v4"
)

// Limiter decides whether a user may pass another update within interval.
type Limiter interface {
	Allow(ctx context.Context, userID int64, interval time.Duration) (bool, error)
}

// MemoryLimiter keeps last-seen timestamps in process memory.
type MemoryLimiter struct {
	mu   sync.Mutex
	seen map[int64]time.Time
	now  func() time.Time
}

// NewMemoryLimiter returns an empty in-process limiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{seen: make(map[int64]time.Time), now: time.Now}
}

// Allow implements Limiter.
func (l *MemoryLimiter) Allow(_ context.Context, userID int64, interval time.Duration) (bool, error) {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	if last, ok := l.seen[userID]; ok && now.Sub(last) < interval {
		return false, nil
	}
	l.seen[userID] = now
	if len(l.seen) > 4096 {
		for id, ts := range l.seen {
			if now.Sub(ts) >= interval {
				delete(l.seen, id)
			}
		}
	}
	return true, nil
}

// RedisLimiter shares the throttle window between bot replicas. Each pass
// claims a key with SET NX PX so the first update in a window wins.
type RedisLimiter struct {
	client *redis.Client
	prefix string
}

// NewRedisLimiter parses a redis:// or rediss:// URL and returns a limiter.
func NewRedisLimiter(rawURL, prefix string) (*RedisLimiter, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	opts.DialTimeout = 3 * time.Second
	opts.ReadTimeout = time.Second
	opts.WriteTimeout = time.Second
	return &RedisLimiter{client: redis.NewClient(opts), prefix: prefix}, nil
}

// NewRedisLimiterFromClient wraps an existing client.
func NewRedisLimiterFromClient(client *redis.Client, prefix string) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: prefix}
}

// Allow implements Limiter.
func (l *RedisLimiter) Allow(ctx context.Context, userID int64, interval time.Duration) (bool, error) {
	key := l.prefix + "rl:" + strconv.FormatInt(userID, 10)
	return l.client.SetNX(ctx, key, 1, interval).Result()
}

// Ping checks connectivity.
func (l *RedisLimiter) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Close releases the client pool.
func (l *RedisLimiter) Close() error {
	return l.client.Close()
}

// RateLimitOptions configures behaviour of the rate limit middleware.
type RateLimitOptions struct {
	Interval time.Duration
	Exclude  map[string]struct{}
	// Limiter defaults to a MemoryLimiter.
	Limiter   Limiter
	OnLimited tele.HandlerFunc
}

// RateLimitMiddleware returns a middleware that enforces a minimum interval
// between updates from the same user. Limiter errors let the update through.
func RateLimitMiddleware(opts RateLimitOptions) tele.MiddlewareFunc {
	limiter := opts.Limiter
	if limiter == nil {
		limiter = NewMemoryLimiter()
	}
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			user := c.Sender()
			if user == nil || opts.Interval <= 0 {
				return next(c)
			}
			if _, skip := opts.Exclude[UpdateKind(c.Update())]; skip {
				return next(c)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			ok, err := limiter.Allow(ctx, user.ID, opts.Interval)
			cancel()
			if err != nil {
				logger.LogEvent(ctx, logger.TG, slog.LevelWarn, "tg.rate_limit",
					slog.String("outcome", "fail"),
					slog.Int64("user_id", user.ID),
					slog.String("err", err.Error()),
				)
				return next(c)
			}
			if ok {
				return next(c)
			}

			attrs := []slog.Attr{slog.Int64("user_id", user.ID)}
			if chat := c.Chat(); chat != nil {
				attrs = append(attrs, slog.Int64("chat_id", chat.ID))
			}
			logger.LogEvent(ctx, logger.TG, slog.LevelWarn, "tg.rate_limit", attrs...)
			if opts.OnLimited != nil {
				_ = opts.OnLimited(c)
			}
			return nil
		}
	}
}

// UpdateKind names the update type for exclusions and metrics.
func UpdateKind(upd tele.Update) string {
	switch {
	case upd.Callback != nil:
		return "callback"
	case upd.Message != nil:
		return "message"
	case upd.Query != nil:
		return "inline_query"
	}
	return "other"
}

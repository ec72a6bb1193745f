// Package sender runs outbound Bot API calls on a bounded worker pool.
package sender

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m3rciful/funnelbot/core/logger"
	"github.com/m3rciful/funnelbot/core/telegram/netutil"

	tele "gopkg.in/telebot.v4"
)

const component = "tg.sender"

var (
	// ErrQueueClosed is returned by Enqueue after Close.
	ErrQueueClosed = errors.New("telegram sender: queue closed")
	// ErrQueueFull is returned when the job would block.
	ErrQueueFull = errors.New("telegram sender: queue full")

	tokenRe = regexp.MustCompile(`bot[0-9]+:[A-Za-z0-9_-]+`)
)

// Options tunes the pool. Zero values get defaults.
type Options struct {
	QueueSize    int
	Workers      int
	MaxRetries   int
	RetryBackoff time.Duration
	// MaxDuration caps one job including its retries.
	MaxDuration time.Duration
	// OnResult receives the final error of every job, nil on success.
	OnResult func(action string, err error)
}

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 2 * time.Second
	}
	if o.MaxDuration <= 0 {
		o.MaxDuration = 12 * time.Second
	}
	return o
}

type job struct {
	ctx      context.Context
	action   string
	endpoint string
	run      func() error
}

func (j job) attrs(extra ...slog.Attr) []slog.Attr {
	return append([]slog.Attr{
		slog.String("action", j.action),
		slog.String("endpoint", j.endpoint),
	}, extra...)
}

// Dispatcher executes chat replies, user pushes and log channel cards off
// the request path.
type Dispatcher struct {
	opts   Options
	jobs   chan job
	closed atomic.Bool
	mu     sync.RWMutex
	wg     sync.WaitGroup
	failed atomic.Uint64
}

// NewDispatcher starts opts.Workers workers.
func NewDispatcher(opts Options) *Dispatcher {
	opts = opts.withDefaults()
	d := &Dispatcher{opts: opts, jobs: make(chan job, opts.QueueSize)}
	for i := 0; i < opts.Workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for j := range d.jobs {
				d.finish(j, d.execute(j))
			}
		}()
	}
	return d
}

// Enqueue schedules run without blocking. With retries enabled run may be
// called more than once.
func (d *Dispatcher) Enqueue(ctx context.Context, action, endpoint string, run func() error) error {
	if run == nil {
		return errors.New("telegram sender: nil run function")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed.Load() {
		return ErrQueueClosed
	}
	select {
	case d.jobs <- job{ctx: ctx, action: action, endpoint: endpoint, run: run}:
		return nil
	default:
		return ErrQueueFull
	}
}

// ErrorCount is the number of jobs that failed after all retries.
func (d *Dispatcher) ErrorCount() uint64 { return d.failed.Load() }

// Close drains the queue and waits for the workers. Safe to call twice.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed.Swap(true) {
		d.mu.Unlock()
		return
	}
	close(d.jobs)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) finish(j job, err error) {
	if err != nil {
		d.failed.Add(1)
	}
	if d.opts.OnResult != nil {
		d.opts.OnResult(j.action, err)
	}
}

// execute runs j with linear backoff. The job keeps the request values but
// not its cancellation, since the request has usually finished by now.
func (d *Dispatcher) execute(j job) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(j.ctx), d.opts.MaxDuration)
	defer cancel()

	start := time.Now()
	var err error
	for attempt := 1; ; attempt++ {
		if err = j.run(); err == nil {
			event, level := "send.success", slog.LevelDebug
			if attempt > 1 {
				event, level = "send.retry.success", slog.LevelInfo
			}
			logger.Event(j.ctx, component, level, event,
				j.attrs(slog.Int("attempts", attempt), slog.Duration("duration", logger.Took(start)))...)
			return nil
		}
		if attempt > d.opts.MaxRetries || !netutil.ShouldRetry(err) {
			break
		}
		if werr := sleep(ctx, d.opts.RetryBackoff*time.Duration(attempt)); werr != nil {
			err = werr
			break
		}
	}

	logger.Error(j.ctx, component, "send.fail", j.attrs(
		slog.String("err", sanitizeErrorMessage(err)),
		slog.String("error_kind", errorKind(err)),
		slog.Duration("duration", logger.Took(start)),
	)...)
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// errorKind buckets a send failure for the send.fail line.
func errorKind(err error) string {
	var (
		dnsErr *net.DNSError
		netErr net.Error
		opErr  *net.OpError
		tlsErr tls.AlertError
		apiErr *tele.Error
		flood  tele.FloodError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &dnsErr) && !dnsErr.IsTimeout:
		return "dns"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	case errors.As(err, &opErr) && opErr.Op == "dial":
		return "dial"
	case errors.As(err, &tlsErr):
		return "tls"
	case errors.As(err, &flood):
		return "flood"
	case errors.As(err, &apiErr):
		switch {
		case apiErr.Code == http.StatusTooManyRequests:
			return "flood"
		case apiErr.Code >= 500:
			return "http_5xx"
		case apiErr.Code >= 400:
			return "http_4xx"
		}
	}
	return "unknown"
}

// sanitizeErrorMessage keeps bot tokens out of logs.
func sanitizeErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	return tokenRe.ReplaceAllString(err.Error(), "bot<redacted>")
}

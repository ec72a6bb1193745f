package telegram

import (
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/m3rciful/funnelbot/core/logger"
	"github.com/m3rciful/funnelbot/core/telegram/netutil"
)

// Bot API transport limits. Long polling adds its own timeout on top of
// clientTimeout through telebot.
const (
	dialTimeout    = 5 * time.Second
	headerTimeout  = 5 * time.Second
	clientTimeout  = 30 * time.Second
	apiRetries     = 3
	apiRetryDelay  = 2 * time.Second
	idlePerHost    = 10
	idleConnLinger = 30 * time.Second
)

// BuildHTTPClient returns the client used for Bot API calls. Dial failures
// and timeouts are retried with linear backoff.
func BuildHTTPClient() *http.Client {
	dialer := &net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}
	base := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConnsPerHost:   idlePerHost,
		IdleConnTimeout:       idleConnLinger,
		TLSHandshakeTimeout:   dialTimeout,
		ResponseHeaderTimeout: headerTimeout,
	}
	return &http.Client{
		Timeout:   clientTimeout,
		Transport: &retryTransport{next: base, retries: apiRetries, delay: apiRetryDelay},
	}
}

type retryTransport struct {
	next    http.RoundTripper
	retries int
	delay   time.Duration
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	resp, err := t.next.RoundTrip(req)
	for attempt := 1; err != nil && attempt <= t.retries && netutil.ShouldRetry(err); attempt++ {
		retry, rerr := rewind(req)
		if rerr != nil {
			return nil, err
		}
		logger.LogEvent(ctx, logger.TG, slog.LevelWarn, "tg.api.retry",
			slog.Int("attempts", attempt),
			slog.String("endpoint", req.URL.Path),
			slog.String("err", err.Error()),
		)
		if t.delay > 0 {
			wait := time.NewTimer(t.delay * time.Duration(attempt))
			select {
			case <-ctx.Done():
				wait.Stop()
				return nil, ctx.Err()
			case <-wait.C:
			}
		}
		resp, err = t.next.RoundTrip(retry)
	}
	return resp, err
}

// rewind clones req with a fresh body. Requests whose body cannot be
// replayed are not retried.
func rewind(req *http.Request) (*http.Request, error) {
	clone := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return clone, nil
	}
	if req.GetBody == nil {
		return nil, http.ErrBodyNotAllowed
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	clone.Body = body
	return clone, nil
}

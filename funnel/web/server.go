// Package web exposes the partner postback receiver plus health and
// metrics endpoints.
package web

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/m3rciful/funnelbot/core/logger"
	"github.com/m3rciful/funnelbot/funnel/access"
	"github.com/m3rciful/funnelbot/funnel/metrics"
	"github.com/m3rciful/funnelbot/funnel/postback"
)

// Applier runs one event through the ingestion pipeline.
type Applier interface {
	Apply(ctx context.Context, ev postback.Event, cfg access.Config) (postback.Result, error)
}

// ConfigSource yields the access thresholds in force.
type ConfigSource interface {
	AccessConfig() access.Config
}

// Notifier receives every committed postback for follow-up work such as
// pushing the next screen. It must not block.
type Notifier interface {
	Notify(ctx context.Context, res postback.Result)
}

// Options wires the handler.
type Options struct {
	// Secret guards /postback; empty disables the check.
	Secret   string
	Pipeline Applier
	Config   ConfigSource
	Notifier Notifier
	Metrics  *metrics.Metrics
	// Ready reports dependency health for /healthz; nil means always ready.
	Ready func(ctx context.Context) error
}

// Handler is the HTTP surface of the bot.
type Handler struct {
	opts   Options
	router chi.Router
}

// NewHandler builds the router.
func NewHandler(opts Options) *Handler {
	h := &Handler{opts: opts}
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(requestContext)
	r.Use(chimw.Recoverer)

	r.Get("/postback", h.handlePostback)
	r.Post("/postback", h.handlePostback)
	r.Get("/healthz", h.handleHealth)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics.Handler())
	}
	h.router = r
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) handlePostback(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	if err := r.ParseForm(); err != nil {
		h.reply(ctx, w, http.StatusBadRequest, "", "bad_form", err)
		return
	}
	if !h.secretOK(r.Form.Get("secret")) {
		h.reply(ctx, w, http.StatusForbidden, "", "forbidden", postback.ErrForbidden)
		return
	}

	ev, err := EventFromForm(r.Form)
	if err != nil {
		h.reply(ctx, w, http.StatusBadRequest, string(ev.Kind), "rejected", err)
		return
	}

	var cfg access.Config
	if h.opts.Config != nil {
		cfg = h.opts.Config.AccessConfig()
	}
	res, err := h.opts.Pipeline.Apply(ctx, ev, cfg)
	if h.opts.Metrics != nil {
		h.opts.Metrics.PostbackDuration.Observe(time.Since(start).Seconds())
	}

	var verr *postback.ValidationError
	var serr *postback.StoreError
	switch {
	case errors.As(err, &verr):
		h.reply(ctx, w, http.StatusBadRequest, string(ev.Kind), "rejected", err)
	case errors.Is(err, postback.ErrIdentityConflict):
		h.reply(ctx, w, http.StatusConflict, string(ev.Kind), "conflict", err)
	case errors.As(err, &serr), err != nil:
		h.reply(ctx, w, http.StatusInternalServerError, string(ev.Kind), "error", err)
	default:
		if h.opts.Metrics != nil && res.BecameVIP {
			h.opts.Metrics.VIPTransitions.Inc()
		}
		if h.opts.Notifier != nil {
			h.opts.Notifier.Notify(context.WithoutCancel(ctx), res)
		}
		h.reply(ctx, w, http.StatusOK, string(res.Kind), resultOutcome(res), nil)
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.opts.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.opts.Ready(ctx); err != nil {
			logger.LogEvent(ctx, logger.HTTP, slog.LevelWarn, "health.check",
				slog.String("outcome", "fail"),
				slog.String("err", err.Error()),
			)
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	writeText(w, http.StatusOK, "ok")
}

func (h *Handler) secretOK(got string) bool {
	if h.opts.Secret == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.opts.Secret)) == 1
}

func (h *Handler) reply(ctx context.Context, w http.ResponseWriter, status int, kind, outcome string, err error) {
	if h.opts.Metrics != nil {
		label := kind
		if label == "" {
			label = "unknown"
		}
		h.opts.Metrics.Postbacks.WithLabelValues(label, outcome).Inc()
	}

	level := slog.LevelInfo
	attrs := []slog.Attr{
		slog.String("outcome", outcome),
		slog.Int("status", status),
	}
	if kind != "" {
		attrs = append(attrs, slog.String("kind", kind))
	}
	if err != nil {
		level = slog.LevelWarn
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		attrs = append(attrs, slog.String("err", err.Error()))
	}
	logger.LogEvent(ctx, logger.HTTP, level, "postback.handled", attrs...)

	body := "ok"
	if err != nil {
		body = http.StatusText(status)
		var verr *postback.ValidationError
		if errors.As(err, &verr) {
			body = verr.Error()
		}
	}
	writeText(w, status, body)
}

func resultOutcome(res postback.Result) string {
	switch {
	case res.Duplicate:
		return "duplicate"
	case !res.Matched:
		return "unmatched"
	case res.Created:
		return "created"
	}
	return "matched"
}

// requestContext attaches a request id to the context and the response.
func requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if rid == "" || len(rid) > 64 {
			rid = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", rid)
		ctx := logger.WithRemoteIP(logger.WithRID(r.Context(), rid), r.RemoteAddr)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = fmt.Fprint(w, body)
}

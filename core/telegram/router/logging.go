package router

import (
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/m3rciful/funnelbot/core/logger"
	tghelpers "github.com/m3rciful/funnelbot/core/telegram/helpers"
	"github.com/m3rciful/funnelbot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// run calls fn under the handler name and writes one handler.handled line.
// A nil fn is logged with outcome skip.
func run(c tele.Context, name string, fn tele.HandlerFunc, extras ...slog.Attr) error {
	start := time.Now()
	ctx := tghelpers.WithHandler(c, name)

	var err error
	outcome := "skip"
	if fn != nil {
		err = fn(c)
		outcome = logger.Status(err)
	}
	msgs, kb := middleware.GetCounters(c)

	attrs := append([]slog.Attr{
		slog.String("status", logger.Status(err)),
		slog.String("outcome", outcome),
		slog.Int("messages", msgs),
		slog.Bool("kb", kb),
		slog.Duration("duration", logger.Took(start)),
	}, extras...)
	level := slog.LevelInfo
	if err != nil {
		level = slog.LevelWarn
		attrs = append(attrs,
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
			slog.String("err_code", errCode(err)),
		)
	}
	logger.LogEvent(ctx, logger.TG, level, "handler.handled", attrs...)
	return err
}

// handlerName turns "/Check Sub" into "check_sub".
func handlerName(raw string) string {
	raw = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(raw), "/"))
	if raw == "" {
		return "unknown"
	}
	return strings.ReplaceAll(raw, " ", "_")
}

// errCode prefers an error's own Code and falls back to its type name.
func errCode(err error) string {
	if err == nil {
		return ""
	}
	if c, ok := err.(interface{ Code() string }); ok {
		if code := strings.TrimSpace(c.Code()); code != "" {
			return strings.ToUpper(strings.ReplaceAll(code, " ", "_"))
		}
	}
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return strings.ToUpper(t.Name())
}

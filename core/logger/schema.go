package logger

import "strings"

var levelNames = map[string]string{
	"debug":   "DEBUG",
	"info":    "INFO",
	"warn":    "WARN",
	"warning": "WARN",
	"error":   "ERROR",
}

// outcomes lists the accepted values of the "outcome" key.
var outcomes = map[string]struct{}{
	"ok": {}, "fail": {}, "error": {}, "cancelled": {}, "rate_limited": {}, "rejected": {},
	"matched": {}, "created": {}, "unmatched": {}, "duplicate": {}, "conflict": {}, "skip": {},
}

func normalizeLevel(level string) string {
	if mapped, ok := levelNames[strings.ToLower(level)]; ok {
		return mapped
	}
	if level == "" {
		return "INFO"
	}
	return strings.ToUpper(level)
}

func normalizeStatus(status string) string {
	status = strings.ToLower(strings.TrimSpace(status))
	if status == "error" {
		return "fail"
	}
	return status
}

func normalizeOutcome(outcome string) (string, bool) {
	outcome = strings.ToLower(strings.TrimSpace(outcome))
	_, ok := outcomes[outcome]
	return outcome, ok
}

// defaultKeyOrder puts correlation first, then the funnel and transport
// details, then errors.
var defaultKeyOrder = []string{
	"ts", "level", "component", "event", "status", "rid", "rid_full", "ts_unix_nano",
	"update_id", "user_id", "chat_id", "handler", "remote_ip", "cb_key", "outcome", "duration_ms",

	"step", "vip", "kind", "postback_id", "trader_id", "click_id", "amount", "total",
	"became_vip", "settings_version", "key", "count", "page", "payload", "lang", "ref",

	"action", "endpoint", "method", "path", "http_code", "username", "mode", "listen",
	"public_url", "addr", "db", "host", "port", "version",

	"err", "err_code", "cause", "retryable", "attempts", "backoff_ms",
}

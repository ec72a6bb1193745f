package cmd

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	coretelegram "github.com/m3rciful/funnelbot/core/telegram"
)

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("FUNNELBOT_CONFIG", "/env/config.yaml")
	if p, _ := ResolveConfigPath("/flag.yaml", "FUNNELBOT_CONFIG", "config.yaml"); p != "/flag.yaml" {
		t.Fatalf("flag must win, got %q", p)
	}
	if p, _ := ResolveConfigPath("", "FUNNELBOT_CONFIG", "config.yaml"); p != "/env/config.yaml" {
		t.Fatalf("env must win over default, got %q", p)
	}
	t.Setenv("FUNNELBOT_CONFIG", "")
	if p, _ := ResolveConfigPath("", "FUNNELBOT_CONFIG", "config.yaml"); p != "config.yaml" {
		t.Fatalf("default expected, got %q", p)
	}
	if _, err := ResolveConfigPath("", "FUNNELBOT_CONFIG", ""); err == nil {
		t.Fatalf("missing path must fail")
	}
}

func TestRunAllStopsOnServiceFailure(t *testing.T) {
	botStopped := make(chan struct{})
	bot := func(ctx context.Context) error {
		<-ctx.Done()
		close(botStopped)
		return nil
	}
	services := []Service{
		{Name: "http", Run: func(ctx context.Context) error { return errors.New("bind: address in use") }},
	}

	err := runAll(context.Background(), bot, services)
	if err == nil || !strings.Contains(err.Error(), "http: bind") {
		t.Fatalf("expected service error, got %v", err)
	}
	select {
	case <-botStopped:
	case <-time.After(time.Second):
		t.Fatalf("bot was not cancelled")
	}
}

func TestRunAllCleanShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	bot := func(ctx context.Context) error { <-ctx.Done(); return nil }
	svc := Service{Name: "watch", Run: func(ctx context.Context) error { <-ctx.Done(); return ctx.Err() }}

	done := make(chan error, 1)
	go func() { done <- runAll(ctx, bot, []Service{svc}) }()
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("clean shutdown returned %v", err)
	}
}

func TestWithLifecycleLogsChainsHooks(t *testing.T) {
	var stopped bool
	boom := errors.New("boom")
	ro := withLifecycleLogs(coretelegram.RunOptions{
		OnStart: func(context.Context, coretelegram.Runtime) error { return boom },
		OnStop: func(context.Context, coretelegram.Runtime) error {
			stopped = true
			return nil
		},
	}, time.Now())

	if err := ro.OnStart(context.Background(), coretelegram.Runtime{}); !errors.Is(err, boom) {
		t.Fatalf("start error not propagated: %v", err)
	}
	if err := ro.OnStop(context.Background(), coretelegram.Runtime{}); err != nil || !stopped {
		t.Fatalf("stop hook not chained: %v", err)
	}
	if err := withLifecycleLogs(coretelegram.RunOptions{}, time.Now()).OnStop(context.Background(), coretelegram.Runtime{}); err != nil {
		t.Fatalf("nil hooks: %v", err)
	}
}

package router

import (
	"errors"
	"testing"

	tele "gopkg.in/telebot.v4"
)

type codedErr struct{}

func (codedErr) Error() string { return "coded" }
func (codedErr) Code() string  { return "identity conflict" }

type plainErr struct{}

func (*plainErr) Error() string { return "plain" }

func TestHandlerName(t *testing.T) {
	cases := map[string]string{
		"/Start":     "start",
		" check sub": "check_sub",
		"":           "unknown",
	}
	for in, want := range cases {
		if got := handlerName(in); got != want {
			t.Fatalf("handlerName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestErrCode(t *testing.T) {
	if got := errCode(codedErr{}); got != "IDENTITY_CONFLICT" {
		t.Fatalf("coder: %q", got)
	}
	if got := errCode(&plainErr{}); got != "PLAINERR" {
		t.Fatalf("pointer type: %q", got)
	}
	if got := errCode(errors.New("x")); got != "ERRORSTRING" {
		t.Fatalf("errors.New: %q", got)
	}
	if errCode(nil) != "" {
		t.Fatalf("nil error must have empty code")
	}
}

type stubContext struct {
	tele.Context
	store map[string]any
}

func (c *stubContext) Update() tele.Update   { return tele.Update{ID: 1} }
func (c *stubContext) Sender() *tele.User    { return &tele.User{ID: 2} }
func (c *stubContext) Chat() *tele.Chat      { return &tele.Chat{ID: 2} }
func (c *stubContext) Get(key string) any    { return c.store[key] }
func (c *stubContext) Set(key string, v any) { c.store[key] = v }

func TestRunPropagatesHandlerResult(t *testing.T) {
	c := &stubContext{store: map[string]any{}}
	if err := run(c, "unknown_text", nil); err != nil {
		t.Fatalf("nil handler must be skipped, got %v", err)
	}
	boom := errors.New("boom")
	err := run(c, "command.stats", func(tele.Context) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected handler error, got %v", err)
	}
}

package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/m3rciful/funnelbot/core/logger"
	"github.com/m3rciful/funnelbot/core/telegram/commands"

	tele "gopkg.in/telebot.v4"
)

// Registry maps slash commands, their text aliases and callback unique keys
// to handlers. Handlers are registered once at wiring time.
type Registry struct {
	mu        sync.RWMutex
	commands  map[string]commands.Command
	aliases   map[string]string
	callbacks map[string]tele.HandlerFunc

	callbackNotFound tele.HandlerFunc
	textFallback     tele.HandlerFunc
}

// NewRegistry returns an empty registry whose unknown-callback handler
// answers with a short alert.
func NewRegistry() *Registry {
	return &Registry{
		commands:  map[string]commands.Command{},
		aliases:   map[string]string{},
		callbacks: map[string]tele.HandlerFunc{},
		callbackNotFound: func(c tele.Context) error {
			return c.Respond(&tele.CallbackResponse{Text: "Unsupported action"})
		},
	}
}

func wireSkip(event string, attrs ...slog.Attr) {
	logger.LogEvent(context.Background(), logger.TWire, slog.LevelWarn, event, attrs...)
}

// RegisterCommand adds cmd under name, which must start with "/". Invalid
// and duplicate registrations are logged and ignored.
func (r *Registry) RegisterCommand(name string, cmd commands.Command) {
	switch {
	case cmd.Handler == nil || cmd.Description == "":
		wireSkip("register.command.skip", slog.String("key", name), slog.String("reason", "invalid"))
		return
	case !strings.HasPrefix(name, "/"):
		wireSkip("register.command.skip", slog.String("key", name), slog.String("reason", "no_slash_prefix"))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.commands[name]; dup {
		wireSkip("register.command.duplicate", slog.String("key", name))
		return
	}
	r.commands[name] = cmd
	for _, alias := range cmd.Aliases {
		r.aliases[strings.TrimPrefix(alias, "/")] = name
	}
}

// ListCommands returns the menu entries sorted by name. visibleOnly drops
// hidden and admin commands.
func (r *Registry) ListCommands(visibleOnly bool) []tele.Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]tele.Command, 0, len(r.commands))
	for name, cmd := range r.commands {
		if visibleOnly && (cmd.Hidden || cmd.AdminOnly) {
			continue
		}
		list = append(list, tele.Command{Text: strings.TrimPrefix(name, "/"), Description: cmd.Description})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Text < list[j].Text })
	return list
}

// LookupCommand resolves a command name or alias, with or without the
// slash, to its canonical key.
func (r *Registry) LookupCommand(text string) (string, commands.Command, bool) {
	bare := strings.TrimPrefix(text, "/")
	r.mu.RLock()
	defer r.mu.RUnlock()
	key := "/" + bare
	if cmd, ok := r.commands[key]; ok {
		return key, cmd, true
	}
	if key, ok := r.aliases[bare]; ok {
		return key, r.commands[key], true
	}
	return "", commands.Command{}, false
}

// Commands returns a copy of the registered commands.
func (r *Registry) Commands() map[string]commands.Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]commands.Command, len(r.commands))
	for k, v := range r.commands {
		out[k] = v
	}
	return out
}

// RegisterCallback binds a callback unique key to h.
func (r *Registry) RegisterCallback(key string, h tele.HandlerFunc) error {
	if key == "" || h == nil {
		wireSkip("register.callback.skip", slog.String("key", key), slog.String("reason", "invalid"))
		return fmt.Errorf("invalid callback registration %q", key)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.callbacks[key]; dup {
		wireSkip("register.callback.duplicate", slog.String("key", key))
		return fmt.Errorf("callback already registered: %s", key)
	}
	r.callbacks[key] = h
	return nil
}

// GetCallback returns the handler bound to key.
func (r *Registry) GetCallback(key string) (tele.HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.callbacks[key]
	return h, ok
}

// ListCallbacks returns the registered keys, sorted.
func (r *Registry) ListCallbacks() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.callbacks))
	for k := range r.callbacks {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SetCallbackNotFound replaces the unknown-callback handler; nil is ignored.
func (r *Registry) SetCallbackNotFound(h tele.HandlerFunc) {
	if h != nil {
		r.callbackNotFound = h
	}
}

func (r *Registry) CallbackNotFound() tele.HandlerFunc { return r.callbackNotFound }

// SetTextFallback sets the handler for text that matches no command.
func (r *Registry) SetTextFallback(h tele.HandlerFunc) { r.textFallback = h }

func (r *Registry) TextFallback() tele.HandlerFunc { return r.textFallback }

// InitBotCommands publishes the visible commands as the bot menu. Offline
// bots are skipped.
func InitBotCommands(bot *tele.Bot, reg *Registry) {
	if bot == nil || reg == nil || bot.Me == nil || bot.Me.ID == 0 {
		return
	}
	if err := bot.SetCommands(reg.ListCommands(true)); err != nil {
		logger.LogEvent(context.Background(), logger.TWire, slog.LevelError, "register.commands.set_failed",
			slog.String("err", err.Error()),
		)
	}
}

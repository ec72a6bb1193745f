package telegram

import (
	"testing"

	"github.com/m3rciful/funnelbot/core/telegram/commands"

	tele "gopkg.in/telebot.v4"
)

func TestRegistryCommands(t *testing.T) {
	reg := NewRegistry()
	h := func(tele.Context) error { return nil }

	reg.RegisterCommand("/start", commands.Command{Handler: h, Description: "Start"})
	reg.RegisterCommand("/stats", commands.Command{Handler: h, Description: "Stats", AdminOnly: true})
	reg.RegisterCommand("/menu", commands.Command{Handler: h, Description: "Menu", Aliases: []string{"Menu"}})
	reg.RegisterCommand("help", commands.Command{Handler: h, Description: "no slash"})
	reg.RegisterCommand("/start", commands.Command{Handler: h, Description: "dup"})
	reg.RegisterCommand("/empty", commands.Command{Description: "no handler"})

	if n := len(reg.Commands()); n != 3 {
		t.Fatalf("expected 3 commands, got %d", n)
	}
	if got := reg.Commands()["/start"].Description; got != "Start" {
		t.Fatalf("duplicate replaced the first command: %q", got)
	}

	visible := reg.ListCommands(true)
	if len(visible) != 2 || visible[0].Text != "menu" || visible[1].Text != "start" {
		t.Fatalf("unexpected visible commands %+v", visible)
	}
	if all := reg.ListCommands(false); len(all) != 3 {
		t.Fatalf("expected admin command in full list, got %+v", all)
	}

	key, _, ok := reg.LookupCommand("Menu")
	if !ok || key != "/menu" {
		t.Fatalf("alias lookup failed: %q %v", key, ok)
	}
	if _, _, ok := reg.LookupCommand("unknown"); ok {
		t.Fatalf("unknown command resolved")
	}
}

func TestRegistryCallbacks(t *testing.T) {
	reg := NewRegistry()
	h := func(tele.Context) error { return nil }
	if err := reg.RegisterCallback("get", h); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.RegisterCallback("get", h); err == nil {
		t.Fatalf("duplicate callback accepted")
	}
	if err := reg.RegisterCallback("", h); err == nil {
		t.Fatalf("empty key accepted")
	}
	if _, ok := reg.GetCallback("get"); !ok {
		t.Fatalf("callback not found")
	}
	if keys := reg.ListCallbacks(); len(keys) != 1 || keys[0] != "get" {
		t.Fatalf("unexpected keys %v", keys)
	}
}

package keyboard

import "testing"

func TestInlineButtonsRowsSkipsEmptyTargets(t *testing.T) {
	markup := InlineButtonsRows(
		[]InlineBtn{Link("Support", ""), Callback("Guide", "guide")},
		[]InlineBtn{App("Open", "")},
		[]InlineBtn{App("Open", "https://app.example"), Link("Site", "https://example.com")},
	)
	if len(markup.InlineKeyboard) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(markup.InlineKeyboard))
	}
	first := markup.InlineKeyboard[0]
	if len(first) != 1 || first[0].Unique != "guide" {
		t.Fatalf("unexpected first row: %+v", first)
	}
	second := markup.InlineKeyboard[1]
	if second[0].WebApp == nil || second[0].WebApp.URL != "https://app.example" {
		t.Fatalf("expected web app button, got %+v", second[0])
	}
	if second[1].URL != "https://example.com" {
		t.Fatalf("expected url button, got %+v", second[1])
	}
}

func TestInlineButtonsNPerRow(t *testing.T) {
	btns := []InlineBtn{Callback("a", "a"), Callback("b", "b"), Callback("c", "c")}
	markup := InlineButtonsNPerRow(btns, 2)
	if len(markup.InlineKeyboard) != 2 || len(markup.InlineKeyboard[0]) != 2 {
		t.Fatalf("unexpected layout: %+v", markup.InlineKeyboard)
	}
}

package keyboard

import tele "gopkg.in/telebot.v4"

// InlineBtn describes one inline button. Exactly one of Unique, URL or
// WebApp selects the button kind; URL and WebApp buttons with an empty
// target are dropped by the builders.
type InlineBtn struct {
	Text   string
	Unique string
	Data   string
	URL    string
	WebApp string
}

// Callback returns a callback button.
func Callback(text, unique string, data ...string) InlineBtn {
	b := InlineBtn{Text: text, Unique: unique}
	if len(data) > 0 {
		b.Data = data[0]
	}
	return b
}

// Link returns a URL button.
func Link(text, url string) InlineBtn {
	return InlineBtn{Text: text, URL: url}
}

// App returns a mini-app button.
func App(text, url string) InlineBtn {
	return InlineBtn{Text: text, WebApp: url}
}

func (b InlineBtn) usable() bool {
	switch {
	case b.Unique != "":
		return true
	case b.URL != "" || b.WebApp != "":
		return true
	}
	return false
}

func (b InlineBtn) build(markup *tele.ReplyMarkup) tele.Btn {
	switch {
	case b.WebApp != "":
		return markup.WebApp(b.Text, &tele.WebApp{URL: b.WebApp})
	case b.URL != "":
		return markup.URL(b.Text, b.URL)
	default:
		return markup.Data(b.Text, b.Unique, b.Data)
	}
}

// InlineButtons builds an inline keyboard where each provided button is placed on its own row.
func InlineButtons(buttons []InlineBtn) *tele.ReplyMarkup {
	rows := make([][]InlineBtn, 0, len(buttons))
	for _, b := range buttons {
		rows = append(rows, []InlineBtn{b})
	}
	return InlineButtonsRows(rows...)
}

// InlineButtonsRows builds an inline keyboard from rows of InlineBtn.
// Unusable buttons are skipped and rows left empty are dropped.
func InlineButtonsRows(rows ...[]InlineBtn) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{}
	inline := make([][]tele.InlineButton, 0, len(rows))
	for _, row := range rows {
		r := make([]tele.InlineButton, 0, len(row))
		for _, btn := range row {
			if !btn.usable() {
				continue
			}
			b := btn.build(markup)
			r = append(r, *b.Inline())
		}
		if len(r) > 0 {
			inline = append(inline, r)
		}
	}
	markup.InlineKeyboard = inline
	return markup
}

// InlineButtonsNPerRow splits a flat list of buttons into rows with up to n buttons per row.
// If n <= 1, it behaves like InlineButtons (one per row).
func InlineButtonsNPerRow(buttons []InlineBtn, n int) *tele.ReplyMarkup {
	if n <= 1 {
		return InlineButtons(buttons)
	}
	var rows [][]InlineBtn
	for i := 0; i < len(buttons); i += n {
		end := i + n
		if end > len(buttons) {
			end = len(buttons)
		}
		rows = append(rows, buttons[i:end])
	}
	return InlineButtonsRows(rows...)
}

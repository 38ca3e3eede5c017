package commands

import (
	"strings"

	"github.com/chromedp/chromedp/kb"
)

var keys = map[string]string{
	"ENTER":       kb.Enter,
	"RETURN":      kb.Enter,
	"TAB":         kb.Tab,
	"ESC":         kb.Escape,
	"ESCAPE":      kb.Escape,
	"BACKSPACE":   kb.Backspace,
	"BKSP":        kb.Backspace,
	"DELETE":      kb.Delete,
	"DEL":         kb.Delete,
	"UP":          kb.ArrowUp,
	"DOWN":        kb.ArrowDown,
	"LEFT":        kb.ArrowLeft,
	"RIGHT":       kb.ArrowRight,
	"HOME":        kb.Home,
	"END":         kb.End,
	"PAGE_UP":     kb.PageUp,
	"PAGE_DOWN":   kb.PageDown,
	"INSERT":      kb.Insert,
	"SPACE":       " ",
	"ARROW_UP":    kb.ArrowUp,
	"ARROW_DOWN":  kb.ArrowDown,
	"ARROW_LEFT":  kb.ArrowLeft,
	"ARROW_RIGHT": kb.ArrowRight,
}

// KeyDefaults resolves ${KEY_*} markers to key sequences understood by the
// browser. Install it with Variables.WithDefaults.
func KeyDefaults(name string) (any, bool) {
	rest, ok := strings.CutPrefix(name, "KEY_")
	if !ok {
		return nil, false
	}
	k, ok := keys[rest]
	if !ok {
		return nil, false
	}
	return k, true
}

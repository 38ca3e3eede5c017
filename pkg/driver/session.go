// Package driver is the browser boundary of the playback engine. A Session is
// the raw capability; Adapter layers implicit wait, error classification and
// exactly-once release on top of it.
package driver

import "context"

// Rect is a browser window size in CSS pixels.
type Rect struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Session is one browser session. Implementations do not wait for elements;
// element operations fail with ErrNotReady (or a NotFound error) when the
// locator matches nothing at the time of the call.
type Session interface {
	Navigate(ctx context.Context, url string) error
	Count(ctx context.Context, loc Locator) (int, error)
	Click(ctx context.Context, loc Locator) error
	DoubleClick(ctx context.Context, loc Locator) error
	Type(ctx context.Context, loc Locator, text string) error
	SendKeys(ctx context.Context, loc Locator, keys string) error
	Select(ctx context.Context, loc Locator, option string) error
	SetChecked(ctx context.Context, loc Locator, checked bool) error
	Text(ctx context.Context, loc Locator) (string, error)
	Value(ctx context.Context, loc Locator) (string, error)
	Visible(ctx context.Context, loc Locator) (bool, error)
	Title(ctx context.Context) (string, error)
	URL(ctx context.Context) (string, error)
	ExecuteScript(ctx context.Context, script string, args []any) (any, error)
	Screenshot(ctx context.Context) ([]byte, error)
	SetWindowRect(ctx context.Context, r Rect) error
	Close(ctx context.Context) error
}

// SessionFactory opens a session for negotiated capabilities.
type SessionFactory func(ctx context.Context, caps Capabilities) (Session, error)

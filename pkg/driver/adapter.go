package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// DefaultPollInterval is how often element lookups are retried while the
// implicit wait has not elapsed.
const DefaultPollInterval = 100 * time.Millisecond

// AdapterConfig configures an Adapter.
type AdapterConfig struct {
	ImplicitWait time.Duration
	PollInterval time.Duration
	Logger       *slog.Logger
}

// Adapter owns one Session for the lifetime of a run. Element operations wait
// up to the implicit wait for their locator to match; every failure is
// returned as an *Error.
type Adapter struct {
	session      Session
	implicitWait time.Duration
	poll         time.Duration
	log          *slog.Logger

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewAdapter wraps s.
func NewAdapter(s Session, cfg AdapterConfig) *Adapter {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{
		session:      s,
		implicitWait: cfg.ImplicitWait,
		poll:         cfg.PollInterval,
		log:          cfg.Logger,
	}
}

// ImplicitWait returns the configured lookup timeout.
func (a *Adapter) ImplicitWait() time.Duration { return a.implicitWait }

// Session exposes the underlying capability to plugin hooks that need it.
func (a *Adapter) Session() Session { return a.session }

func (a *Adapter) check(op, locator string) error {
	if a.closed.Load() {
		return &Error{Op: op, Kind: KindClosed, Locator: locator, Err: ErrClosed}
	}
	return nil
}

func (a *Adapter) parse(op, raw string) (Locator, error) {
	loc, err := ParseLocator(raw)
	if err != nil {
		return Locator{}, &Error{Op: op, Kind: KindUnsupported, Locator: raw, Err: err}
	}
	return loc, nil
}

// waitFor polls until cond reports true or timeout elapses. A zero timeout
// checks exactly once.
func (a *Adapter) waitFor(ctx context.Context, timeout time.Duration, cond func() (bool, error)) error {
	opts := []backoff.RetryOption{
		backoff.WithBackOff(backoff.NewConstantBackOff(a.poll)),
	}
	if timeout <= 0 {
		opts = append(opts, backoff.WithMaxTries(1))
	} else {
		opts = append(opts, backoff.WithMaxElapsedTime(timeout))
	}
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		ok, err := cond()
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		if !ok {
			return struct{}{}, ErrNotReady
		}
		return struct{}{}, nil
	}, opts...)
	return err
}

// locate resolves raw and waits for it to match at least one element.
func (a *Adapter) locate(ctx context.Context, op, raw string) (Locator, error) {
	if err := a.check(op, raw); err != nil {
		return Locator{}, err
	}
	loc, err := a.parse(op, raw)
	if err != nil {
		return Locator{}, err
	}
	err = a.waitFor(ctx, a.implicitWait, func() (bool, error) {
		n, err := a.session.Count(ctx, loc)
		return n > 0, err
	})
	if errors.Is(err, ErrNotReady) {
		return Locator{}, NotFound(op, raw)
	}
	if err != nil {
		return Locator{}, classify(op, raw, err)
	}
	return loc, nil
}

// Open navigates to url.
func (a *Adapter) Open(ctx context.Context, url string) error {
	if err := a.check("open", ""); err != nil {
		return err
	}
	return classify("open", url, a.session.Navigate(ctx, url))
}

// Click clicks the first element matching target.
func (a *Adapter) Click(ctx context.Context, target string) error {
	loc, err := a.locate(ctx, "click", target)
	if err != nil {
		return err
	}
	return classify("click", target, a.session.Click(ctx, loc))
}

// DoubleClick double-clicks the first element matching target.
func (a *Adapter) DoubleClick(ctx context.Context, target string) error {
	loc, err := a.locate(ctx, "doubleClick", target)
	if err != nil {
		return err
	}
	return classify("doubleClick", target, a.session.DoubleClick(ctx, loc))
}

// Type replaces the value of an input with text.
func (a *Adapter) Type(ctx context.Context, target, text string) error {
	loc, err := a.locate(ctx, "type", target)
	if err != nil {
		return err
	}
	return classify("type", target, a.session.Type(ctx, loc, text))
}

// SendKeys sends keystrokes without clearing the element first.
func (a *Adapter) SendKeys(ctx context.Context, target, keys string) error {
	loc, err := a.locate(ctx, "sendKeys", target)
	if err != nil {
		return err
	}
	return classify("sendKeys", target, a.session.SendKeys(ctx, loc, keys))
}

// Select picks an option of a <select> by label or by "value=", "index=" or
// "label=" option locators.
func (a *Adapter) Select(ctx context.Context, target, option string) error {
	loc, err := a.locate(ctx, "select", target)
	if err != nil {
		return err
	}
	return classify("select", target, a.session.Select(ctx, loc, option))
}

// SetChecked checks or unchecks a checkbox or radio button.
func (a *Adapter) SetChecked(ctx context.Context, target string, checked bool) error {
	op := "uncheck"
	if checked {
		op = "check"
	}
	loc, err := a.locate(ctx, op, target)
	if err != nil {
		return err
	}
	return classify(op, target, a.session.SetChecked(ctx, loc, checked))
}

// Text returns the visible text of the first element matching target.
func (a *Adapter) Text(ctx context.Context, target string) (string, error) {
	loc, err := a.locate(ctx, "text", target)
	if err != nil {
		return "", err
	}
	s, err := a.session.Text(ctx, loc)
	return s, classify("text", target, err)
}

// Value returns the value property of the first element matching target.
func (a *Adapter) Value(ctx context.Context, target string) (string, error) {
	loc, err := a.locate(ctx, "value", target)
	if err != nil {
		return "", err
	}
	s, err := a.session.Value(ctx, loc)
	return s, classify("value", target, err)
}

// Count returns how many elements match target right now. It does not wait.
func (a *Adapter) Count(ctx context.Context, target string) (int, error) {
	if err := a.check("count", target); err != nil {
		return 0, err
	}
	loc, err := a.parse("count", target)
	if err != nil {
		return 0, err
	}
	n, err := a.session.Count(ctx, loc)
	return n, classify("count", target, err)
}

// WaitForPresent waits up to timeout for target to match (present=true) or
// to stop matching (present=false).
func (a *Adapter) WaitForPresent(ctx context.Context, target string, present bool, timeout time.Duration) error {
	op := "waitForElementPresent"
	if !present {
		op = "waitForElementNotPresent"
	}
	if err := a.check(op, target); err != nil {
		return err
	}
	loc, err := a.parse(op, target)
	if err != nil {
		return err
	}
	err = a.waitFor(ctx, timeout, func() (bool, error) {
		n, err := a.session.Count(ctx, loc)
		return (n > 0) == present, err
	})
	if errors.Is(err, ErrNotReady) {
		return &Error{Op: op, Kind: KindTimeout, Locator: target, Err: fmt.Errorf("not satisfied within %s", timeout)}
	}
	return classify(op, target, err)
}

// WaitForVisible waits up to timeout for target to be present and visible.
func (a *Adapter) WaitForVisible(ctx context.Context, target string, timeout time.Duration) error {
	const op = "waitForElementVisible"
	if err := a.check(op, target); err != nil {
		return err
	}
	loc, err := a.parse(op, target)
	if err != nil {
		return err
	}
	err = a.waitFor(ctx, timeout, func() (bool, error) {
		n, err := a.session.Count(ctx, loc)
		if err != nil || n == 0 {
			return false, err
		}
		return a.session.Visible(ctx, loc)
	})
	if errors.Is(err, ErrNotReady) {
		return &Error{Op: op, Kind: KindTimeout, Locator: target, Err: fmt.Errorf("not visible within %s", timeout)}
	}
	return classify(op, target, err)
}

// Title returns the document title.
func (a *Adapter) Title(ctx context.Context) (string, error) {
	if err := a.check("title", ""); err != nil {
		return "", err
	}
	s, err := a.session.Title(ctx)
	return s, classify("title", "", err)
}

// URL returns the current location.
func (a *Adapter) URL(ctx context.Context) (string, error) {
	if err := a.check("url", ""); err != nil {
		return "", err
	}
	s, err := a.session.URL(ctx)
	return s, classify("url", "", err)
}

// ExecuteScript runs script as the body of a function called with args.
func (a *Adapter) ExecuteScript(ctx context.Context, script string, args []any) (any, error) {
	if err := a.check("executeScript", ""); err != nil {
		return nil, err
	}
	out, err := a.session.ExecuteScript(ctx, script, args)
	if err != nil {
		return nil, scriptError("executeScript", err)
	}
	return out, nil
}

// ExecuteAsyncScript runs script with a completion callback appended to its
// arguments and returns the value the script passes to that callback.
func (a *Adapter) ExecuteAsyncScript(ctx context.Context, script string, args []any) (any, error) {
	if err := a.check("executeAsyncScript", ""); err != nil {
		return nil, err
	}
	wrapped := "var args = Array.prototype.slice.call(arguments);\n" +
		"return new Promise(function (resolve) {\n" +
		"  (function () {\n" + script + "\n  }).apply(window, args.concat([resolve]));\n" +
		"});"
	out, err := a.session.ExecuteScript(ctx, wrapped, args)
	if err != nil {
		return nil, scriptError("executeAsyncScript", err)
	}
	return out, nil
}

func scriptError(op string, err error) error {
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	if errors.Is(err, ErrClosed) || errors.Is(err, context.DeadlineExceeded) {
		return classify(op, "", err)
	}
	return &Error{Op: op, Kind: KindScript, Err: err}
}

// Screenshot captures the viewport as PNG.
func (a *Adapter) Screenshot(ctx context.Context) ([]byte, error) {
	if err := a.check("screenshot", ""); err != nil {
		return nil, err
	}
	data, err := a.session.Screenshot(ctx)
	return data, classify("screenshot", "", err)
}

// SetWindowSize resizes the browser window.
func (a *Adapter) SetWindowSize(ctx context.Context, width, height int) error {
	if err := a.check("setWindowSize", ""); err != nil {
		return err
	}
	if width <= 0 || height <= 0 {
		return &Error{Op: "setWindowSize", Kind: KindUnsupported, Err: fmt.Errorf("invalid size %dx%d", width, height)}
	}
	return classify("setWindowSize", "", a.session.SetWindowRect(ctx, Rect{Width: width, Height: height}))
}

// Close releases the session. Only the first call reaches the session;
// later calls return nil.
func (a *Adapter) Close(ctx context.Context) error {
	first := false
	a.closeOnce.Do(func() {
		first = true
		a.closed.Store(true)
		if err := a.session.Close(ctx); err != nil {
			a.closeErr = classify("close", "", err)
		}
		a.log.Debug("driver session released", "error", a.closeErr)
	})
	if !first {
		return nil
	}
	return a.closeErr
}

// Closed reports whether Close has been called.
func (a *Adapter) Closed() bool { return a.closed.Load() }

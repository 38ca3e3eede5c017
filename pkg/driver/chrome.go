package driver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// ChromeSession drives Chrome (or another Chromium browser) over the DevTools
// protocol.
type ChromeSession struct {
	ctx         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
}

// NewChromeSession starts or attaches to a browser. With caps.ServerURL set it
// connects to an already running DevTools endpoint; otherwise it launches a
// local browser process.
func NewChromeSession(ctx context.Context, caps Capabilities, log *slog.Logger) (*ChromeSession, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	var allocCtx context.Context
	var cancelAlloc context.CancelFunc
	if caps.ServerURL != "" {
		allocCtx, cancelAlloc = chromedp.NewRemoteAllocator(context.WithoutCancel(ctx), caps.ServerURL)
	} else {
		opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
		opts = append(opts,
			chromedp.Flag("headless", caps.Headless),
			chromedp.WindowSize(caps.Window.Width, caps.Window.Height),
		)
		if caps.ExecPath != "" {
			opts = append(opts, chromedp.ExecPath(caps.ExecPath))
		}
		for _, arg := range caps.Args {
			name, value := ParseArg(arg)
			opts = append(opts, chromedp.Flag(name, value))
		}
		allocCtx, cancelAlloc = chromedp.NewExecAllocator(context.WithoutCancel(ctx), opts...)
	}

	tabCtx, cancelTab := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) { log.Debug(fmt.Sprintf(format, args...)) }),
		chromedp.WithErrorf(func(format string, args ...any) { log.Warn(fmt.Sprintf(format, args...)) }),
	)
	// The first Run starts the browser and opens the tab.
	if err := chromedp.Run(tabCtx); err != nil {
		cancelTab()
		cancelAlloc()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	return &ChromeSession{ctx: tabCtx, cancelTab: cancelTab, cancelAlloc: cancelAlloc}, nil
}

// run executes actions on the tab, bounded by the caller's ctx.
func (s *ChromeSession) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return context.Cause(ctx)
	}
	if err != nil && s.ctx.Err() != nil {
		return ErrClosed
	}
	return err
}

func queryOption(loc Locator) chromedp.QueryOption {
	if loc.Strategy == ByXPath {
		return chromedp.BySearch
	}
	return chromedp.ByQueryAll
}

func (s *ChromeSession) nodes(ctx context.Context, loc Locator) ([]*cdp.Node, error) {
	var nodes []*cdp.Node
	if err := s.run(ctx, chromedp.Nodes(loc.Selector, &nodes, queryOption(loc), chromedp.AtLeast(0))); err != nil {
		return nil, err
	}
	return nodes, nil
}

func (s *ChromeSession) first(ctx context.Context, loc Locator) (*cdp.Node, error) {
	nodes, err := s.nodes(ctx, loc)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, ErrNotReady
	}
	return nodes[0], nil
}

func (s *ChromeSession) Navigate(ctx context.Context, url string) error {
	return s.run(ctx, chromedp.Navigate(url))
}

func (s *ChromeSession) Count(ctx context.Context, loc Locator) (int, error) {
	nodes, err := s.nodes(ctx, loc)
	return len(nodes), err
}

func (s *ChromeSession) click(ctx context.Context, loc Locator, count int) error {
	node, err := s.first(ctx, loc)
	if err != nil {
		return err
	}
	return s.run(ctx,
		dom.ScrollIntoViewIfNeeded().WithNodeID(node.NodeID),
		chromedp.ActionFunc(func(ctx context.Context) error {
			box, err := dom.GetBoxModel().WithNodeID(node.NodeID).Do(ctx)
			if err != nil {
				return err
			}
			if len(box.Content) < 6 {
				return fmt.Errorf("element %s has no box", loc)
			}
			x := (box.Content[0] + box.Content[2]) / 2
			y := (box.Content[1] + box.Content[5]) / 2
			for i := 1; i <= count; i++ {
				if err := input.DispatchMouseEvent(input.MousePressed, x, y).
					WithButton(input.Left).WithClickCount(int64(i)).Do(ctx); err != nil {
					return err
				}
				if err := input.DispatchMouseEvent(input.MouseReleased, x, y).
					WithButton(input.Left).WithClickCount(int64(i)).Do(ctx); err != nil {
					return err
				}
			}
			return nil
		}),
	)
}

func (s *ChromeSession) Click(ctx context.Context, loc Locator) error { return s.click(ctx, loc, 1) }

func (s *ChromeSession) DoubleClick(ctx context.Context, loc Locator) error {
	return s.click(ctx, loc, 2)
}

func (s *ChromeSession) Type(ctx context.Context, loc Locator, text string) error {
	node, err := s.first(ctx, loc)
	if err != nil {
		return err
	}
	ids := []cdp.NodeID{node.NodeID}
	return s.run(ctx,
		chromedp.SetValue(ids, "", chromedp.ByNodeID),
		chromedp.SendKeys(ids, text, chromedp.ByNodeID),
	)
}

func (s *ChromeSession) SendKeys(ctx context.Context, loc Locator, keys string) error {
	node, err := s.first(ctx, loc)
	if err != nil {
		return err
	}
	return s.run(ctx, chromedp.SendKeys([]cdp.NodeID{node.NodeID}, keys, chromedp.ByNodeID))
}

func (s *ChromeSession) Select(ctx context.Context, loc Locator, option string) error {
	out, err := s.ExecuteScript(ctx, selectScript(loc), []any{option})
	if err != nil {
		return err
	}
	if ok, _ := out.(bool); !ok {
		return fmt.Errorf("option %q not found", option)
	}
	return nil
}

func (s *ChromeSession) SetChecked(ctx context.Context, loc Locator, checked bool) error {
	out, err := s.ExecuteScript(ctx, `var e = `+elementJS(loc)+`;
if (!e) return null;
if (e.checked !== arguments[0]) e.click();
return e.checked;`, []any{checked})
	if err != nil {
		return err
	}
	if out == nil {
		return ErrNotReady
	}
	if got, _ := out.(bool); got != checked {
		return fmt.Errorf("element %s did not change its checked state", loc)
	}
	return nil
}

func (s *ChromeSession) Text(ctx context.Context, loc Locator) (string, error) {
	node, err := s.first(ctx, loc)
	if err != nil {
		return "", err
	}
	var text string
	err = s.run(ctx, chromedp.Text([]cdp.NodeID{node.NodeID}, &text, chromedp.ByNodeID))
	return text, err
}

func (s *ChromeSession) Value(ctx context.Context, loc Locator) (string, error) {
	node, err := s.first(ctx, loc)
	if err != nil {
		return "", err
	}
	var value string
	err = s.run(ctx, chromedp.Value([]cdp.NodeID{node.NodeID}, &value, chromedp.ByNodeID))
	return value, err
}

func (s *ChromeSession) Visible(ctx context.Context, loc Locator) (bool, error) {
	out, err := s.ExecuteScript(ctx, `var e = `+elementJS(loc)+`;
if (!e) return false;
var r = e.getBoundingClientRect(), st = window.getComputedStyle(e);
return r.width > 0 && r.height > 0 && st.visibility !== 'hidden' && st.display !== 'none';`, nil)
	if err != nil {
		return false, err
	}
	visible, _ := out.(bool)
	return visible, nil
}

func (s *ChromeSession) Title(ctx context.Context) (string, error) {
	var title string
	err := s.run(ctx, chromedp.Title(&title))
	return title, err
}

func (s *ChromeSession) URL(ctx context.Context) (string, error) {
	var url string
	err := s.run(ctx, chromedp.Location(&url))
	return url, err
}

// ExecuteScript evaluates script as a function body applied to args.
// Returned promises are awaited.
func (s *ChromeSession) ExecuteScript(ctx context.Context, script string, args []any) (any, error) {
	if args == nil {
		args = []any{}
	}
	encoded, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode script arguments: %w", err)
	}
	expr := fmt.Sprintf("(function () {\n%s\n}).apply(window, %s)", script, encoded)

	var out any
	err = s.run(ctx, chromedp.Evaluate(expr, &out, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}))
	if errors.Is(err, chromedp.ErrJSUndefined) || errors.Is(err, chromedp.ErrJSNull) {
		return nil, nil
	}
	return out, err
}

func (s *ChromeSession) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := s.run(ctx, chromedp.CaptureScreenshot(&buf))
	return buf, err
}

func (s *ChromeSession) SetWindowRect(ctx context.Context, r Rect) error {
	return s.run(ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			windowID, _, err := browser.GetWindowForTarget().Do(ctx)
			if err != nil {
				return err
			}
			return browser.SetWindowBounds(windowID, &browser.Bounds{
				Width:       int64(r.Width),
				Height:      int64(r.Height),
				WindowState: browser.WindowStateNormal,
			}).Do(ctx)
		}),
		chromedp.EmulateViewport(int64(r.Width), int64(r.Height)),
	)
}

// Close closes the tab and, for a locally launched browser, the process.
func (s *ChromeSession) Close(ctx context.Context) error {
	err := chromedp.Cancel(s.ctx)
	s.cancelTab()
	s.cancelAlloc()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ChromeFactory is the SessionFactory for ChromeSession.
func ChromeFactory(log *slog.Logger) SessionFactory {
	return func(ctx context.Context, caps Capabilities) (Session, error) {
		return NewChromeSession(ctx, caps, log)
	}
}

// elementJS is a JavaScript expression evaluating to the first element
// matching loc, or null.
func elementJS(loc Locator) string {
	sel, _ := json.Marshal(loc.Selector)
	if loc.Strategy == ByXPath {
		return fmt.Sprintf("document.evaluate(%s, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue", sel)
	}
	return fmt.Sprintf("document.querySelector(%s)", sel)
}

// selectScript picks an option by "label=", "value=", "index=" or a bare
// label, firing change the way a user selection would.
func selectScript(loc Locator) string {
	return `var e = ` + elementJS(loc) + `;
if (!e || !e.options) return false;
var spec = arguments[0], kind = 'label', want = spec, i = spec.indexOf('=');
if (i > 0 && ['label', 'value', 'index', 'id'].indexOf(spec.slice(0, i)) >= 0) {
  kind = spec.slice(0, i); want = spec.slice(i + 1);
}
for (var n = 0; n < e.options.length; n++) {
  var o = e.options[n];
  var hit = kind === 'value' ? o.value === want
    : kind === 'index' ? String(n) === want
    : kind === 'id' ? o.id === want
    : o.text.trim() === want.trim();
  if (hit) {
    e.selectedIndex = n;
    e.dispatchEvent(new Event('input', {bubbles: true}));
    e.dispatchEvent(new Event('change', {bubbles: true}));
    return true;
  }
}
return false;`
}

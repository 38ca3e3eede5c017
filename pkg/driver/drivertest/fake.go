// Package drivertest provides an in-memory driver.Session for tests.
package drivertest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ipublishingjp/selenium-ide/pkg/driver"
)

// Element is a fake DOM element addressed by its raw locator.
type Element struct {
	Text    string
	Value   string
	Hidden  bool
	Checked bool
	Options []string
	Count   int // matches reported by Count; 0 means 1

	// AppearAfter makes the element invisible to the first N lookups.
	AppearAfter int
}

// ScriptFunc answers ExecuteScript calls.
type ScriptFunc func(script string, args []any) (any, error)

// Session is a scripted driver.Session. The zero value is not usable; call New.
type Session struct {
	mu       sync.Mutex
	elements map[string]*Element
	lookups  map[string]int
	failures map[string][]error
	calls    []string
	closes   int
	closed   bool

	URLValue   string
	TitleValue string
	Window     driver.Rect
	Shot       []byte
	Script     ScriptFunc
}

// New returns an empty fake session.
func New() *Session {
	return &Session{
		elements: make(map[string]*Element),
		lookups:  make(map[string]int),
		failures: make(map[string][]error),
		Shot:     []byte("\x89PNG fake"),
	}
}

// Put adds or replaces an element.
func (s *Session) Put(locator string, el *Element) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.elements[locator] = el
	return s
}

// Remove deletes an element.
func (s *Session) Remove(locator string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.elements, locator)
}

// Element returns the element stored under locator.
func (s *Session) Element(locator string) *Element {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elements[locator]
}

// Fail queues errors returned by the next calls of op, one per call.
func (s *Session) Fail(op string, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = append(s.failures[op], errs...)
}

// Calls returns the recorded calls as "op" or "op locator" strings.
func (s *Session) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// CallCount returns how many recorded calls start with prefix.
func (s *Session) CallCount(prefix string) int {
	n := 0
	for _, c := range s.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// Closes returns how many times Close reached the session.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// record logs a call and pops a queued failure for op. Callers hold s.mu.
func (s *Session) record(op, arg string) error {
	if arg != "" {
		s.calls = append(s.calls, op+" "+arg)
	} else {
		s.calls = append(s.calls, op)
	}
	if s.closed {
		return driver.ErrClosed
	}
	if q := s.failures[op]; len(q) > 0 {
		s.failures[op] = q[1:]
		return q[0]
	}
	return nil
}

func (s *Session) find(loc driver.Locator) (*Element, error) {
	el, ok := s.elements[loc.Raw]
	if !ok {
		return nil, driver.ErrNotReady
	}
	s.lookups[loc.Raw]++
	if s.lookups[loc.Raw] <= el.AppearAfter {
		return nil, driver.ErrNotReady
	}
	return el, nil
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("navigate", url); err != nil {
		return err
	}
	s.URLValue = url
	return nil
}

func (s *Session) Count(ctx context.Context, loc driver.Locator) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("count", loc.Raw); err != nil {
		return 0, err
	}
	el, err := s.find(loc)
	if err != nil {
		return 0, nil
	}
	if el.Count > 0 {
		return el.Count, nil
	}
	return 1, nil
}

func (s *Session) element(op string, loc driver.Locator) (*Element, error) {
	if err := s.record(op, loc.Raw); err != nil {
		return nil, err
	}
	el, ok := s.elements[loc.Raw]
	if !ok {
		return nil, driver.ErrNotReady
	}
	return el, nil
}

func (s *Session) Click(ctx context.Context, loc driver.Locator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.element("click", loc)
	return err
}

func (s *Session) DoubleClick(ctx context.Context, loc driver.Locator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.element("doubleClick", loc)
	return err
}

func (s *Session) Type(ctx context.Context, loc driver.Locator, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, err := s.element("type", loc)
	if err != nil {
		return err
	}
	el.Value = text
	return nil
}

func (s *Session) SendKeys(ctx context.Context, loc driver.Locator, keys string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, err := s.element("sendKeys", loc)
	if err != nil {
		return err
	}
	el.Value += keys
	return nil
}

func (s *Session) Select(ctx context.Context, loc driver.Locator, option string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, err := s.element("select", loc)
	if err != nil {
		return err
	}
	want := strings.TrimPrefix(option, "label=")
	for _, o := range el.Options {
		if o == want {
			el.Value = o
			return nil
		}
	}
	return fmt.Errorf("option %q not found", option)
}

func (s *Session) SetChecked(ctx context.Context, loc driver.Locator, checked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, err := s.element("setChecked", loc)
	if err != nil {
		return err
	}
	el.Checked = checked
	return nil
}

func (s *Session) Text(ctx context.Context, loc driver.Locator) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, err := s.element("text", loc)
	if err != nil {
		return "", err
	}
	return el.Text, nil
}

func (s *Session) Value(ctx context.Context, loc driver.Locator) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, err := s.element("value", loc)
	if err != nil {
		return "", err
	}
	return el.Value, nil
}

func (s *Session) Visible(ctx context.Context, loc driver.Locator) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, err := s.element("visible", loc)
	if err != nil {
		return false, err
	}
	return !el.Hidden, nil
}

func (s *Session) Title(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("title", ""); err != nil {
		return "", err
	}
	return s.TitleValue, nil
}

func (s *Session) URL(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("url", ""); err != nil {
		return "", err
	}
	return s.URLValue, nil
}

func (s *Session) ExecuteScript(ctx context.Context, script string, args []any) (any, error) {
	s.mu.Lock()
	if err := s.record("executeScript", ""); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	fn := s.Script
	s.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(script, args)
}

func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("screenshot", ""); err != nil {
		return nil, err
	}
	return s.Shot, nil
}

func (s *Session) SetWindowRect(ctx context.Context, r driver.Rect) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("setWindowRect", fmt.Sprintf("%dx%d", r.Width, r.Height)); err != nil {
		return err
	}
	s.Window = r
	return nil
}

func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	s.calls = append(s.calls, "close")
	s.closed = true
	if q := s.failures["close"]; len(q) > 0 {
		s.failures["close"] = q[1:]
		return q[0]
	}
	return nil
}

// Factory returns a driver.SessionFactory that hands out sessions built by
// build, one per call.
func Factory(build func() *Session) driver.SessionFactory {
	return func(ctx context.Context, caps driver.Capabilities) (driver.Session, error) {
		return build(), nil
	}
}

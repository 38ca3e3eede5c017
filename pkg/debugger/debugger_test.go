package debugger

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ipublishingjp/selenium-ide/pkg/driver"
	"github.com/ipublishingjp/selenium-ide/pkg/driver/drivertest"
	"github.com/ipublishingjp/selenium-ide/pkg/model"
	"github.com/ipublishingjp/selenium-ide/pkg/playback"
)

// syncBuffer is written from the engine goroutine and read by the test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Reset()
}

func project() *model.Project {
	return &model.Project{
		ID:   "p",
		Name: "debugging",
		Tests: []model.Test{{
			ID:   "t1",
			Name: "greet",
			Commands: []model.Command{
				{ID: "c0", Command: "store", Target: "hello", Value: "greeting"},
				{ID: "c1", Command: "echo", Target: "${greeting}"},
				{ID: "c2", Command: "store", Target: "done", Value: "status"},
			},
		}},
	}
}

type session struct {
	d      *Debugger
	e      *playback.Engine
	out    *syncBuffer
	paused chan int
	errc   chan error
}

// start attaches a debugger to an engine and plays the greet test.
func start(t *testing.T, breakpoints ...int) *session {
	t.Helper()
	p := project()
	e := playback.New(playback.Config{
		Driver:      driver.NewAdapter(drivertest.New(), driver.AdapterConfig{PollInterval: time.Millisecond}),
		Breakpoints: breakpoints,
	})
	out := &syncBuffer{}
	d := New(p)
	d.SetOutput(out)
	d.Attach("greet", e)

	s := &session{d: d, e: e, out: out, paused: make(chan int, 8), errc: make(chan error, 1)}
	e.OnPlaybackState(func(ev playback.PlaybackStateEvent) {
		if ev.State == playback.StatePaused {
			s.paused <- e.Status().Index
		}
	})
	test, _ := p.TestByName("greet")
	go func() { s.errc <- e.Play(context.Background(), test, playback.Options{}) }()
	return s
}

func (s *session) waitPaused(t *testing.T) int {
	t.Helper()
	select {
	case i := <-s.paused:
		return i
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for pause")
		return -1
	}
}

func (s *session) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-s.errc:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for playback")
		return nil
	}
}

func TestDebuggerCommandHelp(t *testing.T) {
	var buf bytes.Buffer
	d := New(project())
	d.SetOutput(&buf)
	d.Exec("help")
	out := buf.String()
	for _, cmd := range []string{"next", "continue", "pause", "stop", "abort", "status", "print", "set", "break", "clear", "list", "history", "quit"} {
		if !strings.Contains(out, cmd) {
			t.Errorf("help output missing command %q", cmd)
		}
	}
}

func TestDebuggerNoRun(t *testing.T) {
	var buf bytes.Buffer
	d := New(project())
	d.SetOutput(&buf)
	if d.Exec("next") {
		t.Fatal("next should not exit")
	}
	if !strings.Contains(buf.String(), errNoRun.Error()) {
		t.Errorf("output = %q", buf.String())
	}
	if got := d.buildPrompt(); got != "side[idle]> " {
		t.Errorf("prompt = %q", got)
	}
}

func TestDebuggerUnknownCommand(t *testing.T) {
	var buf bytes.Buffer
	d := New(project())
	d.SetOutput(&buf)
	d.Exec("jump 3")
	if !strings.Contains(buf.String(), `Unknown command: "jump"`) {
		t.Errorf("output = %q", buf.String())
	}
	if d.Exec("   ") {
		t.Error("blank line should not exit")
	}
}

func TestDebuggerBreakpointStepContinue(t *testing.T) {
	s := start(t, 1)
	if i := s.waitPaused(t); i != 1 {
		t.Fatalf("paused at %d, want 1", i)
	}
	if !strings.Contains(s.out.String(), "Paused before [1] echo|${greeting}") {
		t.Errorf("pause not announced: %q", s.out.String())
	}
	if p := s.d.buildPrompt(); !strings.Contains(p, "greet 2/3") || !strings.Contains(p, "echo") {
		t.Errorf("prompt = %q", p)
	}

	s.out.Reset()
	s.d.Exec("print greeting")
	if !strings.Contains(s.out.String(), `greeting = "hello"`) {
		t.Errorf("print greeting: %q", s.out.String())
	}

	s.out.Reset()
	s.d.Exec("list")
	if !strings.Contains(s.out.String(), ">*   1  echo|${greeting}") {
		t.Errorf("list: %q", s.out.String())
	}

	s.d.Exec("next")
	if i := s.waitPaused(t); i != 2 {
		t.Fatalf("stepped to %d, want 2", i)
	}

	s.d.Exec("continue")
	if err := s.wait(t); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if !strings.Contains(s.out.String(), "Playback finished.") {
		t.Errorf("finish not announced: %q", s.out.String())
	}

	s.out.Reset()
	s.d.Exec("history")
	if n := strings.Count(s.out.String(), "succeeded"); n != 3 {
		t.Errorf("history has %d succeeded commands, want 3: %q", n, s.out.String())
	}
	s.out.Reset()
	s.d.Exec("continue")
	if !strings.Contains(s.out.String(), playback.ErrOver.Error()) {
		t.Errorf("continue after finish: %q", s.out.String())
	}
}

func TestDebuggerSetAndBreakpoints(t *testing.T) {
	s := start(t, 0)
	s.waitPaused(t)

	s.out.Reset()
	s.d.Exec("break 2")
	s.d.Exec("clear 0")
	s.d.Exec("break 9")
	out := s.out.String()
	if !strings.Contains(out, "Breakpoint set at [2]") || !strings.Contains(out, "Breakpoint cleared at [0]") {
		t.Errorf("break output: %q", out)
	}
	if !strings.Contains(out, "out of range") {
		t.Errorf("expected range error: %q", out)
	}
	if got := s.e.Breakpoints(); len(got) != 1 || got[0] != 2 {
		t.Errorf("breakpoints = %v, want [2]", got)
	}

	s.d.Exec("continue")
	if i := s.waitPaused(t); i != 2 {
		t.Fatalf("paused at %d, want 2", i)
	}
	s.d.Exec("set greeting bye now")
	if v, _ := s.e.Vars().Get("greeting"); v != "bye now" {
		t.Errorf("greeting = %v", v)
	}

	s.out.Reset()
	s.d.Exec("status")
	if !strings.Contains(s.out.String(), "state:   paused") {
		t.Errorf("status: %q", s.out.String())
	}
	s.d.Exec("stop")
	if err := s.wait(t); !errors.Is(err, playback.ErrStopped) {
		t.Errorf("Play = %v, want ErrStopped", err)
	}
}

func TestDebuggerQuitAbortsPausedRun(t *testing.T) {
	s := start(t, 0)
	s.waitPaused(t)
	if !s.d.Exec("quit") {
		t.Fatal("quit should exit")
	}
	if err := s.wait(t); !errors.Is(err, playback.ErrAborted) {
		t.Errorf("Play = %v, want ErrAborted", err)
	}
	if st := s.e.Status().State; st != playback.StateAborted {
		t.Errorf("state = %s", st)
	}
}

func TestDebuggerPrintVars(t *testing.T) {
	s := start(t, 2)
	s.waitPaused(t)
	s.out.Reset()
	s.d.Exec("print vars")
	out := s.out.String()
	if !strings.Contains(out, `greeting = "hello"`) {
		t.Errorf("print vars: %q", out)
	}
	s.out.Reset()
	s.d.Exec("print missing")
	if !strings.Contains(s.out.String(), "Error:") {
		t.Errorf("print missing: %q", s.out.String())
	}
	s.d.Exec("abort")
	s.wait(t)
}

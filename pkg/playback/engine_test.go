package playback

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ipublishingjp/selenium-ide/pkg/commands"
	"github.com/ipublishingjp/selenium-ide/pkg/driver"
	"github.com/ipublishingjp/selenium-ide/pkg/driver/drivertest"
	"github.com/ipublishingjp/selenium-ide/pkg/model"
	"github.com/ipublishingjp/selenium-ide/pkg/plugins"
	"github.com/ipublishingjp/selenium-ide/pkg/variables"
)

// recorder collects every event of a run in delivery order.
type recorder struct {
	mu       sync.Mutex
	log      []string
	commands []CommandStateEvent
	states   []State
}

func (r *recorder) attach(e *Engine) {
	e.OnCommandState(func(ev CommandStateEvent) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.commands = append(r.commands, ev)
		r.log = append(r.log, fmt.Sprintf("cmd %d %s", ev.Index, ev.State))
	})
	e.OnPlaybackState(func(ev PlaybackStateEvent) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.states = append(r.states, ev.State)
		r.log = append(r.log, "state "+string(ev.State))
	})
}

// sequence renders the command events as "index:state" strings.
func (r *recorder) sequence() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.commands {
		out = append(out, fmt.Sprintf("%d:%s", ev.Index, ev.State))
	}
	return out
}

func (r *recorder) statesOf(index int) []CommandState {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []CommandState
	for _, ev := range r.commands {
		if ev.Index == index && ev.Depth == 0 {
			out = append(out, ev.State)
		}
	}
	return out
}

func ok(context.Context, *commands.Env, string, string) (commands.Result, error) {
	return commands.Result{}, nil
}

// flaky fails transiently n times, then succeeds.
func flaky(n int, calls *atomic.Int32) commands.Executor {
	return func(context.Context, *commands.Env, string, string) (commands.Result, error) {
		if int(calls.Add(1)) <= n {
			return commands.Result{}, driver.ErrNotReady
		}
		return commands.Result{}, nil
	}
}

func table(t *testing.T, extra map[string]commands.Executor) *commands.Table {
	t.Helper()
	r := commands.NewBuiltinRegistry()
	base := map[string]commands.Executor{
		"ok": ok,
		"fail": func(context.Context, *commands.Env, string, string) (commands.Result, error) {
			return commands.Result{}, errors.New("boom")
		},
		"inc": func(_ context.Context, env *commands.Env, target, _ string) (commands.Result, error) {
			v, _ := env.Vars.Get(target)
			n, _ := v.(int)
			env.Vars.Set(target, n+1)
			return commands.Result{}, nil
		},
		"sleep": func(ctx context.Context, _ *commands.Env, target, _ string) (commands.Result, error) {
			d, _ := time.ParseDuration(target)
			select {
			case <-time.After(d):
				return commands.Result{}, nil
			case <-ctx.Done():
				return commands.Result{}, ctx.Err()
			}
		},
	}
	if err := r.Merge("test", base); err != nil {
		t.Fatal(err)
	}
	if err := r.Merge("extra", extra); err != nil {
		t.Fatal(err)
	}
	return r.Seal()
}

func testOf(name string, cmds ...string) *model.Test {
	t := &model.Test{ID: name, Name: name}
	for i, c := range cmds {
		parts := strings.SplitN(c, "|", 3)
		cmd := model.Command{ID: fmt.Sprintf("c%d", i), Command: parts[0]}
		if len(parts) > 1 {
			cmd.Target = parts[1]
		}
		if len(parts) > 2 {
			cmd.Value = parts[2]
		}
		t.Commands = append(t.Commands, cmd)
	}
	return t
}

type fixture struct {
	engine   *Engine
	session  *drivertest.Session
	rec      *recorder
	cleanups *atomic.Int32
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	s := drivertest.New()
	var cleanups atomic.Int32
	if cfg.Commands == nil {
		cfg.Commands = table(t, nil)
	}
	cfg.Driver = driver.NewAdapter(s, driver.AdapterConfig{PollInterval: time.Millisecond})
	if cfg.RetryInterval == 0 {
		cfg.RetryInterval = time.Millisecond
	}
	cfg.Cleanup = append(cfg.Cleanup, func(context.Context) error {
		cleanups.Add(1)
		return nil
	})
	e := New(cfg)
	rec := &recorder{}
	rec.attach(e)
	return &fixture{engine: e, session: s, rec: rec, cleanups: &cleanups}
}

func (f *fixture) assertCleanedUpOnce(t *testing.T) {
	t.Helper()
	if n := f.cleanups.Load(); n != 1 {
		t.Errorf("cleanup ran %d times, want 1", n)
	}
	if n := f.session.Closes(); n != 1 {
		t.Errorf("session closed %d times, want 1", n)
	}
}

func TestPlay_EventsInIndexOrder(t *testing.T) {
	f := newFixture(t, Config{})
	if err := f.engine.Play(context.Background(), testOf("t", "ok", "ok", "ok"), Options{}); err != nil {
		t.Fatal(err)
	}
	want := []string{
		"0:pending", "0:executing", "0:succeeded",
		"1:pending", "1:executing", "1:succeeded",
		"2:pending", "2:executing", "2:succeeded",
	}
	if got := f.rec.sequence(); !reflect.DeepEqual(got, want) {
		t.Errorf("sequence = %v\nwant       %v", got, want)
	}
	if !reflect.DeepEqual(f.rec.states, []State{StatePlaying, StateFinished}) {
		t.Errorf("states = %v", f.rec.states)
	}
	if st := f.engine.Status(); st.State != StateFinished || st.Err != nil {
		t.Errorf("status = %+v", st)
	}
	f.assertCleanedUpOnce(t)
}

func TestPlay_StopsAtFailingIndex(t *testing.T) {
	f := newFixture(t, Config{})
	err := f.engine.Play(context.Background(), testOf("t", "ok", "fail|id=x|v", "ok"), Options{})

	var fail *Failure
	if !errors.As(err, &fail) {
		t.Fatalf("err = %v, want *Failure", err)
	}
	if fail.Index != 1 || fail.Command.Command != "fail" || fail.Command.Target != "id=x" {
		t.Errorf("failure = %+v", fail)
	}
	for _, s := range f.rec.sequence() {
		if strings.HasPrefix(s, "2:") {
			t.Errorf("command 2 dispatched after failure: %v", f.rec.sequence())
		}
	}
	if got := f.rec.statesOf(1); !reflect.DeepEqual(got, []CommandState{CommandPending, CommandExecuting, CommandFailed}) {
		t.Errorf("command 1 states = %v", got)
	}
	st := f.engine.Status()
	if st.State != StateErrored || st.Failure == nil || st.LastError == nil {
		t.Errorf("status = %+v", st)
	}
	f.assertCleanedUpOnce(t)
}

func TestPlay_TransientFailureClearsWithinWait(t *testing.T) {
	var calls atomic.Int32
	f := newFixture(t, Config{
		Commands:     table(t, map[string]commands.Executor{"flaky": flaky(2, &calls)}),
		ImplicitWait: time.Second,
	})

	if err := f.engine.Play(context.Background(), testOf("t", "ok", "flaky", "ok"), Options{}); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("flaky called %d times, want 3", calls.Load())
	}
	want := []CommandState{CommandPending, CommandExecuting, CommandSucceeded}
	if got := f.rec.statesOf(1); !reflect.DeepEqual(got, want) {
		t.Errorf("command 1 states = %v, want %v", got, want)
	}
	if st := f.engine.Status(); st.State != StateFinished || st.Err != nil {
		t.Errorf("status = %+v", st)
	}
}

func TestPlay_TransientFailureOutlastsWait(t *testing.T) {
	var calls atomic.Int32
	f := newFixture(t, Config{
		Commands:     table(t, map[string]commands.Executor{"flaky": flaky(1000, &calls)}),
		ImplicitWait: 20 * time.Millisecond,
	})
	err := f.engine.Play(context.Background(), testOf("t", "flaky"), Options{})
	if !errors.Is(err, driver.ErrNotReady) {
		t.Fatalf("err = %v, want ErrNotReady", err)
	}
	if calls.Load() < 2 {
		t.Errorf("flaky called %d times, want retries", calls.Load())
	}
}

func TestPlay_NoRetryWithoutImplicitWait(t *testing.T) {
	var calls atomic.Int32
	f := newFixture(t, Config{Commands: table(t, map[string]commands.Executor{"flaky": flaky(1, &calls)})})
	if err := f.engine.Play(context.Background(), testOf("t", "flaky"), Options{}); err == nil {
		t.Fatal("expected failure")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestPlay_UndefinedVariable(t *testing.T) {
	f := newFixture(t, Config{})
	err := f.engine.Play(context.Background(), testOf("t", "echo|${missing}"), Options{})

	var undef *variables.UndefinedVariableError
	if !errors.As(err, &undef) || undef.Name != "missing" {
		t.Fatalf("err = %v, want UndefinedVariableError(missing)", err)
	}
	st := f.engine.Status()
	if st.State != StateErrored {
		t.Errorf("state = %s", st.State)
	}
	if st.Failure == nil || st.Failure.Index != 0 || st.Failure.Command.Command != "echo" {
		t.Errorf("failure = %+v", st.Failure)
	}
}

func TestPlay_UnknownCommand(t *testing.T) {
	f := newFixture(t, Config{})
	err := f.engine.Play(context.Background(), testOf("t", "ok", "teleport"), Options{})
	var unknown *commands.UnknownCommandError
	if !errors.As(err, &unknown) {
		t.Fatalf("err = %v, want UnknownCommandError", err)
	}
	f.assertCleanedUpOnce(t)
}

func TestPlay_ReportsInterpolatedCommand(t *testing.T) {
	vars := variables.NewFrom(map[string]any{"who": "ada"})
	f := newFixture(t, Config{Vars: vars})
	err := f.engine.Play(context.Background(), testOf("t", "fail|id=${who}|hi ${who}"), Options{})
	var fail *Failure
	if !errors.As(err, &fail) {
		t.Fatal(err)
	}
	if fail.Command.Target != "id=ada" || fail.Command.Value != "hi ada" {
		t.Errorf("command = %+v", fail.Command)
	}
	if !strings.Contains(fail.Error(), "fail|id=ada|hi ada") {
		t.Errorf("Error() = %q", fail.Error())
	}
}

func TestPlay_PauseResumeKeepsOutcome(t *testing.T) {
	test := testOf("t", "ok", "ok", "ok", "ok")

	plain := newFixture(t, Config{})
	if err := plain.engine.Play(context.Background(), test, Options{}); err != nil {
		t.Fatal(err)
	}

	f := newFixture(t, Config{})
	e := f.engine
	e.OnCommandState(func(ev CommandStateEvent) {
		if ev.Index == 1 && ev.State == CommandExecuting {
			if err := e.Pause(); err != nil {
				t.Errorf("Pause: %v", err)
			}
		}
	})
	e.OnPlaybackState(func(ev PlaybackStateEvent) {
		if ev.State == StatePaused {
			go func() {
				time.Sleep(5 * time.Millisecond)
				if st := e.Status(); st.State != StatePaused || st.Index != 2 {
					t.Errorf("while paused: state %s index %d", st.State, st.Index)
				}
				e.Resume()
			}()
		}
	})
	if err := e.Play(context.Background(), test, Options{}); err != nil {
		t.Fatal(err)
	}

	if got, want := f.rec.sequence(), plain.rec.sequence(); !reflect.DeepEqual(got, want) {
		t.Errorf("paused run = %v\nplain run  = %v", got, want)
	}
	wantStates := []State{StatePlaying, StatePaused, StatePlaying, StateFinished}
	if !reflect.DeepEqual(f.rec.states, wantStates) {
		t.Errorf("states = %v, want %v", f.rec.states, wantStates)
	}
}

func TestPlay_StopWaitsForInFlightCommand(t *testing.T) {
	f := newFixture(t, Config{})
	e := f.engine
	e.OnCommandState(func(ev CommandStateEvent) {
		if ev.Index == 1 && ev.State == CommandExecuting {
			go func() {
				time.Sleep(5 * time.Millisecond)
				e.Stop()
			}()
		}
	})

	err := e.Play(context.Background(), testOf("t", "ok", "sleep|30ms", "ok"), Options{})
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
	want := []CommandState{CommandPending, CommandExecuting, CommandSucceeded}
	if got := f.rec.statesOf(1); !reflect.DeepEqual(got, want) {
		t.Errorf("in-flight command states = %v, want %v", got, want)
	}
	if got := f.rec.statesOf(2); len(got) != 0 {
		t.Errorf("command 2 dispatched after stop: %v", got)
	}
	if e.Status().State != StateStopped {
		t.Errorf("state = %s", e.Status().State)
	}
	f.assertCleanedUpOnce(t)
}

func TestPlay_AbortCancelsInFlightCommand(t *testing.T) {
	f := newFixture(t, Config{})
	e := f.engine
	e.OnCommandState(func(ev CommandStateEvent) {
		if ev.Index == 0 && ev.State == CommandExecuting {
			go func() {
				time.Sleep(5 * time.Millisecond)
				e.Abort()
			}()
		}
	})

	start := time.Now()
	err := e.Play(context.Background(), testOf("t", "sleep|10s", "ok"), Options{})
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("err = %v, want ErrAborted", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("abort did not cancel the in-flight command")
	}
	if got := f.rec.statesOf(0); len(got) != 3 || got[2] != CommandFailed {
		t.Errorf("command 0 states = %v", got)
	}
	if e.Status().State != StateAborted {
		t.Errorf("state = %s", e.Status().State)
	}
	f.assertCleanedUpOnce(t)
}

func TestPlay_ContextCancelledWhilePaused(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := newFixture(t, Config{Breakpoints: []int{1}})
	f.engine.OnPlaybackState(func(ev PlaybackStateEvent) {
		if ev.State == StatePaused {
			go cancel()
		}
	})
	err := f.engine.Play(ctx, testOf("t", "ok", "ok"), Options{})
	if !errors.Is(err, ErrAborted) || !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want ErrAborted wrapping context.Canceled", err)
	}
	f.assertCleanedUpOnce(t)
}

func TestPlay_CleanupOncePerTerminalState(t *testing.T) {
	cases := []struct {
		name  string
		test  *model.Test
		setup func(e *Engine)
		want  State
	}{
		{"finished", testOf("t", "ok"), nil, StateFinished},
		{"errored", testOf("t", "fail"), nil, StateErrored},
		{"stopped", testOf("t", "ok", "ok"), func(e *Engine) {
			e.OnCommandState(func(ev CommandStateEvent) {
				if ev.State == CommandSucceeded {
					e.Stop()
				}
			})
		}, StateStopped},
		{"aborted", testOf("t", "ok", "ok"), func(e *Engine) {
			e.OnCommandState(func(ev CommandStateEvent) {
				if ev.State == CommandSucceeded {
					e.Abort()
				}
			})
		}, StateAborted},
		{"paused then stopped", testOf("t", "ok", "ok"), func(e *Engine) {
			e.OnCommandState(func(ev CommandStateEvent) {
				if ev.Index == 0 && ev.State == CommandSucceeded {
					e.Pause()
				}
			})
			e.OnPlaybackState(func(ev PlaybackStateEvent) {
				if ev.State == StatePaused {
					go e.Stop()
				}
			})
		}, StateStopped},
		{"panicking executor", testOf("t", "panic"), nil, StateErrored},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, Config{Commands: table(t, map[string]commands.Executor{
				"panic": func(context.Context, *commands.Env, string, string) (commands.Result, error) {
					panic("executor exploded")
				},
			})})
			if tc.setup != nil {
				tc.setup(f.engine)
			}
			f.engine.Play(context.Background(), tc.test, Options{})
			if got := f.engine.Status().State; got != tc.want {
				t.Errorf("state = %s, want %s", got, tc.want)
			}
			f.assertCleanedUpOnce(t)
			select {
			case <-f.engine.Done():
			default:
				t.Error("Done not closed")
			}
		})
	}
}

func TestPlay_TerminalEventIsLastAndOnce(t *testing.T) {
	for _, test := range []*model.Test{testOf("t", "ok", "ok"), testOf("t", "ok", "fail", "ok")} {
		f := newFixture(t, Config{})
		f.engine.Play(context.Background(), test, Options{})

		terminal := 0
		for _, s := range f.rec.states {
			if s.Terminal() {
				terminal++
			}
		}
		if terminal != 1 {
			t.Errorf("terminal events = %d, want 1 (%v)", terminal, f.rec.states)
		}
		last := f.rec.log[len(f.rec.log)-1]
		if !strings.HasPrefix(last, "state ") || !State(strings.TrimPrefix(last, "state ")).Terminal() {
			t.Errorf("last event = %q, want terminal state", last)
		}
	}
}

func TestPlay_CleanupAfterTerminalEvent(t *testing.T) {
	f := newFixture(t, Config{})
	var closedAtTerminal bool
	f.engine.OnPlaybackState(func(ev PlaybackStateEvent) {
		if ev.State.Terminal() {
			closedAtTerminal = f.session.Closes() > 0
		}
	})
	f.engine.Play(context.Background(), testOf("t", "ok"), Options{})
	if closedAtTerminal {
		t.Error("driver released before terminal listeners ran")
	}
}

func TestPlay_CleanupErrorIsLogged(t *testing.T) {
	f := newFixture(t, Config{})
	f.session.Fail("close", errors.New("session already gone"))
	if err := f.engine.Play(context.Background(), testOf("t", "ok"), Options{}); err != nil {
		t.Errorf("cleanup failure leaked into result: %v", err)
	}
}

func TestPlay_PluginOverrideIsUsed(t *testing.T) {
	var pluginCalls atomic.Int32
	r := commands.NewBuiltinRegistry()
	err := plugins.Register(r, []plugins.Plugin{{
		Name: "quiet-echo",
		Commands: map[string]commands.Executor{"echo": func(context.Context, *commands.Env, string, string) (commands.Result, error) {
			pluginCalls.Add(1)
			return commands.Result{Message: "from plugin"}, nil
		}},
	}})
	if err != nil {
		t.Fatal(err)
	}
	f := newFixture(t, Config{Commands: r.Seal()})
	if err := f.engine.Play(context.Background(), testOf("t", "echo|hi", "echo|there"), Options{}); err != nil {
		t.Fatal(err)
	}
	if pluginCalls.Load() != 2 {
		t.Errorf("plugin executor called %d times, want 2", pluginCalls.Load())
	}
	if msg := f.engine.Status().LastCommand.Message; msg != "from plugin" {
		t.Errorf("last message = %q", msg)
	}
}

func TestPlay_HookFailurePreventsPlaying(t *testing.T) {
	hooks := plugins.NewHookRunner([]plugins.Plugin{{
		Name: "login",
		Hooks: plugins.Hooks{OnBeforePlay: func(context.Context, *driver.Adapter) error {
			return errors.New("no credentials")
		}},
	}}, nil)
	f := newFixture(t, Config{Hooks: hooks})
	err := f.engine.Play(context.Background(), testOf("t", "ok"), Options{})

	var he *plugins.HookError
	if !errors.As(err, &he) || he.Plugin != "login" {
		t.Fatalf("err = %v, want HookError from login", err)
	}
	if !reflect.DeepEqual(f.rec.states, []State{StateErrored}) {
		t.Errorf("states = %v, want only errored", f.rec.states)
	}
	if len(f.rec.sequence()) != 0 {
		t.Errorf("commands dispatched: %v", f.rec.sequence())
	}
	f.assertCleanedUpOnce(t)
}

func TestPlay_HookReceivesDriver(t *testing.T) {
	var got *driver.Adapter
	hooks := plugins.NewHookRunner([]plugins.Plugin{{
		Name: "capture",
		Hooks: plugins.Hooks{OnBeforePlay: func(_ context.Context, d *driver.Adapter) error {
			got = d
			return nil
		}},
	}}, nil)
	f := newFixture(t, Config{Hooks: hooks})
	if err := f.engine.Play(context.Background(), testOf("t", "ok"), Options{}); err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Error("hook did not receive the driver")
	}
}

func TestPlay_Range(t *testing.T) {
	f := newFixture(t, Config{})
	if err := f.engine.Play(context.Background(), testOf("t", "fail", "ok", "ok", "fail"), Options{StartIndex: 1, EndIndex: Index(2)}); err != nil {
		t.Fatal(err)
	}
	want := []string{"1:pending", "1:executing", "1:succeeded", "2:pending", "2:executing", "2:succeeded"}
	if got := f.rec.sequence(); !reflect.DeepEqual(got, want) {
		t.Errorf("sequence = %v", got)
	}
}

func TestPlay_InvalidRange(t *testing.T) {
	for _, opts := range []Options{
		{StartIndex: -1},
		{StartIndex: 3},
		{StartIndex: 1, EndIndex: Index(0)},
		{EndIndex: Index(5)},
	} {
		f := newFixture(t, Config{})
		err := f.engine.Play(context.Background(), testOf("t", "ok", "ok", "ok"), opts)
		if !errors.Is(err, ErrInvalidRange) {
			t.Errorf("%+v: err = %v, want ErrInvalidRange", opts, err)
		}
		if f.engine.Status().State != StateNotStarted || len(f.rec.log) != 0 {
			t.Errorf("%+v: state changed on invalid range", opts)
		}
		f.assertCleanedUpOnce(t)
		select {
		case <-f.engine.Done():
		default:
			t.Errorf("%+v: Done not closed", opts)
		}
		if err := f.engine.Play(context.Background(), testOf("t", "ok"), Options{}); !errors.Is(err, ErrAlreadyStarted) {
			t.Errorf("%+v: replay err = %v, want ErrAlreadyStarted", opts, err)
		}
	}
}

func TestPlay_NilTestReleasesDriver(t *testing.T) {
	f := newFixture(t, Config{})
	if err := f.engine.Play(context.Background(), nil, Options{}); err == nil {
		t.Fatal("expected error for nil test")
	}
	if len(f.rec.log) != 0 {
		t.Errorf("events emitted: %v", f.rec.log)
	}
	f.assertCleanedUpOnce(t)
}

func TestPlay_EmptyTest(t *testing.T) {
	f := newFixture(t, Config{})
	if err := f.engine.Play(context.Background(), testOf("empty"), Options{}); err != nil {
		t.Fatal(err)
	}
	if f.engine.Status().State != StateFinished {
		t.Errorf("state = %s", f.engine.Status().State)
	}
}

func TestPlay_OnlyOnce(t *testing.T) {
	f := newFixture(t, Config{})
	test := testOf("t", "ok")
	if err := f.engine.Play(context.Background(), test, Options{}); err != nil {
		t.Fatal(err)
	}
	if err := f.engine.Play(context.Background(), test, Options{}); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Play: err = %v, want ErrAlreadyStarted", err)
	}
	f.assertCleanedUpOnce(t)
}

func TestPlay_DisabledCommandIsSkipped(t *testing.T) {
	f := newFixture(t, Config{})
	if err := f.engine.Play(context.Background(), testOf("t", "ok", "//fail", "ok"), Options{}); err != nil {
		t.Fatal(err)
	}
	if got := f.rec.statesOf(1); !reflect.DeepEqual(got, []CommandState{CommandSkipped}) {
		t.Errorf("disabled command states = %v", got)
	}
}

func TestPlay_VerifyFailureContinues(t *testing.T) {
	f := newFixture(t, Config{})
	err := f.engine.Play(context.Background(), testOf("t", "store|1|x", "verify|x|2", "ok"), Options{})
	if err != nil {
		t.Fatalf("Play: %v", err)
	}
	st := f.engine.Status()
	if st.State != StateFinished {
		t.Errorf("state = %s", st.State)
	}
	if len(st.Verifications) != 1 || st.Verifications[0].Index != 1 {
		t.Errorf("verifications = %v", st.Verifications)
	}
	if got := f.rec.statesOf(2); len(got) != 3 {
		t.Errorf("command after failed verify did not run: %v", got)
	}
}

func TestPlay_BreakpointAndStep(t *testing.T) {
	f := newFixture(t, Config{Breakpoints: []int{1}})
	e := f.engine
	var pauses []int
	e.OnPlaybackState(func(ev PlaybackStateEvent) {
		if ev.State != StatePaused {
			return
		}
		pauses = append(pauses, e.Status().Index)
		if len(pauses) == 1 {
			go e.Step()
		} else {
			go e.Resume()
		}
	})
	if err := e.Play(context.Background(), testOf("t", "ok", "ok", "ok", "ok"), Options{}); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(pauses, []int{1, 2}) {
		t.Errorf("paused at %v, want [1 2]", pauses)
	}
	if len(f.rec.sequence()) != 12 {
		t.Errorf("not every command ran: %v", f.rec.sequence())
	}
}

func TestPlay_DebuggerCommandPauses(t *testing.T) {
	f := newFixture(t, Config{})
	e := f.engine
	paused := 0
	e.OnPlaybackState(func(ev PlaybackStateEvent) {
		if ev.State == StatePaused {
			paused++
			go e.Resume()
		}
	})
	if err := e.Play(context.Background(), testOf("t", "ok", "debugger", "ok"), Options{}); err != nil {
		t.Fatal(err)
	}
	if paused != 1 {
		t.Errorf("paused %d times, want 1", paused)
	}
}

func TestPlay_PauseBeforeStart(t *testing.T) {
	f := newFixture(t, Config{})
	e := f.engine
	if err := e.Pause(); err != nil {
		t.Fatal(err)
	}
	e.OnPlaybackState(func(ev PlaybackStateEvent) {
		if ev.State == StatePaused {
			if n := len(f.rec.sequence()); n != 0 {
				t.Errorf("%d command events before the initial pause", n)
			}
			go e.Resume()
		}
	})
	if err := e.Play(context.Background(), testOf("t", "ok"), Options{}); err != nil {
		t.Fatal(err)
	}
	if err := e.Pause(); !errors.Is(err, ErrOver) {
		t.Errorf("Pause after finish: err = %v, want ErrOver", err)
	}
}

func TestPlay_ListenerPanicErrorsRun(t *testing.T) {
	f := newFixture(t, Config{})
	f.engine.OnCommandState(func(ev CommandStateEvent) {
		if ev.Index == 1 && ev.State == CommandPending {
			panic("listener exploded")
		}
	})
	err := f.engine.Play(context.Background(), testOf("t", "ok", "ok"), Options{})
	if err == nil || !strings.Contains(err.Error(), "listener exploded") {
		t.Errorf("err = %v", err)
	}
	if f.engine.Status().State != StateErrored {
		t.Errorf("state = %s", f.engine.Status().State)
	}
	f.assertCleanedUpOnce(t)
}

func TestPlay_StatusBeforePlay(t *testing.T) {
	st := New(Config{}).Status()
	if st.State != StateNotStarted || st.Index != -1 || st.LastCommand != nil {
		t.Errorf("status = %+v", st)
	}
}

func TestEmitter_OrderAndUnsubscribe(t *testing.T) {
	var em Emitter[int]
	var got []string
	em.Subscribe(func(v int) { got = append(got, fmt.Sprintf("a%d", v)) })
	unsub := em.Subscribe(func(v int) { got = append(got, fmt.Sprintf("b%d", v)) })
	em.Subscribe(func(v int) { got = append(got, fmt.Sprintf("c%d", v)) })

	em.Emit(1)
	unsub()
	em.Emit(2)

	want := []string{"a1", "b1", "c1", "a2", "c2"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if em.Len() != 2 {
		t.Errorf("Len = %d", em.Len())
	}
}

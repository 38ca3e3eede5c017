// Package playback implements the playback engine: the state machine that
// plays the commands of a test one at a time against a driver.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/ipublishingjp/selenium-ide/pkg/commands"
	"github.com/ipublishingjp/selenium-ide/pkg/driver"
	"github.com/ipublishingjp/selenium-ide/pkg/model"
	"github.com/ipublishingjp/selenium-ide/pkg/variables"
)

const (
	DefaultLoopLimit     = 1000
	DefaultMaxDepth      = 10
	DefaultRetryInterval = 100 * time.Millisecond
)

var (
	ErrAlreadyStarted = errors.New("playback already started")
	ErrInvalidRange   = errors.New("invalid command range")
	ErrStopped        = errors.New("playback stopped")
	ErrAborted        = errors.New("playback aborted")
	ErrOver           = errors.New("playback is over")
)

// BeforePlayHook runs once before the first command. *plugins.HookRunner
// implements it.
type BeforePlayHook interface {
	RunBeforePlay(ctx context.Context, d *driver.Adapter) error
}

// TestResolver finds a test by name for the run command.
type TestResolver func(name string) (*model.Test, bool)

// Config wires an Engine to its collaborators.
type Config struct {
	Commands *commands.Table
	Driver   *driver.Adapter
	Vars     *variables.Variables // nil starts with an empty context
	BaseURL  string
	Hooks    BeforePlayHook
	Tests    TestResolver

	// ImplicitWait bounds the retries of a command failing transiently.
	ImplicitWait  time.Duration
	RetryInterval time.Duration

	// Breakpoints are indices of the played test to pause before.
	Breakpoints []int
	LoopLimit   int
	MaxDepth    int

	// Cleanup runs after the driver is released, once per run.
	Cleanup []func(context.Context) error

	Logger         *slog.Logger
	TracerProvider trace.TracerProvider
}

// Options restrict a run to part of the test.
type Options struct {
	StartIndex int
	// EndIndex is the last index to play, inclusive. Nil plays to the end.
	EndIndex *int
}

// Index returns a pointer to i, for Options.EndIndex.
func Index(i int) *int { return &i }

func (o Options) bounds(n int) (int, int, error) {
	end := n - 1
	if o.EndIndex != nil {
		end = *o.EndIndex
	}
	if n == 0 && o.StartIndex == 0 && o.EndIndex == nil {
		return 0, -1, nil
	}
	if o.StartIndex < 0 || o.StartIndex >= n {
		return 0, 0, fmt.Errorf("%w: start %d outside 0..%d", ErrInvalidRange, o.StartIndex, n-1)
	}
	if end < o.StartIndex || end >= n {
		return 0, 0, fmt.Errorf("%w: end %d outside %d..%d", ErrInvalidRange, end, o.StartIndex, n-1)
	}
	return o.StartIndex, end, nil
}

// Failure attributes a run failure to a command. Command carries the target
// and value after interpolation when interpolation got that far.
type Failure struct {
	Test    string
	Index   int
	Command model.Command
	Err     error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("test %q: command %d %s: %v", f.Test, f.Index, f.Command.String(), f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Status is a snapshot of an engine.
type Status struct {
	State State
	Test  string
	Index int // index in the test at Depth; -1 before the first command
	Depth int

	LastCommand *CommandStateEvent
	LastError   error
	Err         error    // terminal error
	Failure     *Failure // attributed terminal failure
	// Verifications are failed verify* checks; they do not stop the run.
	Verifications []*Failure

	StartedAt time.Time
	EndedAt   time.Time
}

// Engine plays one test once.
type Engine struct {
	cfg    Config
	vars   *variables.Variables
	log    *slog.Logger
	tracer trace.Tracer

	playbackEvents Emitter[PlaybackStateEvent]
	commandEvents  Emitter[CommandStateEvent]

	started     atomic.Bool
	cleanupOnce sync.Once
	done        chan struct{}

	mu             sync.Mutex
	cond           *sync.Cond
	state          State
	cancel         context.CancelCauseFunc
	pauseReq       bool
	resumeReq      bool
	stepReq        bool
	pauseAfterStep bool
	stopReq        bool
	abortReq       bool
	breakpoints    map[int]bool
	status         Status
}

// New returns an engine in the not-started state.
func New(cfg Config) *Engine {
	if cfg.LoopLimit <= 0 {
		cfg.LoopLimit = DefaultLoopLimit
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Commands == nil {
		cfg.Commands = commands.NewBuiltinRegistry().Seal()
	}
	vars := cfg.Vars
	if vars == nil {
		vars = variables.New().WithDefaults(commands.KeyDefaults)
	}
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	e := &Engine{
		cfg:         cfg,
		vars:        vars,
		log:         cfg.Logger,
		tracer:      tp.Tracer("github.com/ipublishingjp/selenium-ide/pkg/playback"),
		done:        make(chan struct{}),
		state:       StateNotStarted,
		breakpoints: make(map[int]bool, len(cfg.Breakpoints)),
		status:      Status{State: StateNotStarted, Index: -1},
	}
	e.cond = sync.NewCond(&e.mu)
	for _, i := range cfg.Breakpoints {
		e.breakpoints[i] = true
	}
	return e
}

// OnPlaybackState subscribes to playback state changes.
func (e *Engine) OnPlaybackState(fn Listener[PlaybackStateEvent]) (unsubscribe func()) {
	return e.playbackEvents.Subscribe(fn)
}

// OnCommandState subscribes to per-command state changes.
func (e *Engine) OnCommandState(fn Listener[CommandStateEvent]) (unsubscribe func()) {
	return e.commandEvents.Subscribe(fn)
}

// Vars returns the run's variable context.
func (e *Engine) Vars() *variables.Variables { return e.vars }

// Done is closed once the run has reached a terminal state and cleaned up.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Status returns a snapshot of the engine.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.status
	s.State = e.state
	s.Verifications = append([]*Failure(nil), e.status.Verifications...)
	if e.status.LastCommand != nil {
		last := *e.status.LastCommand
		s.LastCommand = &last
	}
	return s
}

// Play runs test until it reaches a terminal state. It returns nil when the
// run finished, the *Failure (or setup error) when it errored, and ErrStopped
// or ErrAborted when it was interrupted.
//
// A nil test or an invalid range is rejected without any event, but the
// driver is still released and the engine is used up.
func (e *Engine) Play(ctx context.Context, test *model.Test, opts Options) error {
	if !e.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	start, end, err := 0, 0, errors.New("play: nil test")
	if test != nil {
		start, end, err = opts.bounds(len(test.Commands))
	}
	if err != nil {
		e.mu.Lock()
		e.status.Err = err
		e.mu.Unlock()
		e.cleanup(ctx)
		close(e.done)
		return err
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	e.mu.Lock()
	e.cancel = cancel
	e.status.Test = test.Name
	e.status.StartedAt = time.Now()
	aborted := e.abortReq
	e.mu.Unlock()
	if aborted {
		cancel(ErrAborted)
	}
	stopWake := context.AfterFunc(runCtx, e.wake)
	defer stopWake()

	runCtx, span := e.tracer.Start(runCtx, "playback.play", trace.WithAttributes(testAttrs(test, start, end)...))
	state, runErr := e.run(runCtx, test, start, end)
	endSpan(span, runErr)

	e.finish(runCtx, test.Name, state, runErr)
	return runErr
}

func (e *Engine) run(ctx context.Context, test *model.Test, start, end int) (state State, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("playback panicked", "test", test.Name, "panic", r)
			state, err = StateErrored, fmt.Errorf("playback panicked: %v", r)
		}
	}()

	fl, err := buildFlow(test)
	if err != nil {
		return StateErrored, err
	}
	if e.cfg.Hooks != nil {
		if err := e.cfg.Hooks.RunBeforePlay(ctx, e.cfg.Driver); err != nil {
			return StateErrored, err
		}
	}
	e.setState(test.Name, StatePlaying, nil)
	return e.playCommands(ctx, test, fl, start, end, 0)
}

// finish delivers the terminal event and then cleans up. Both happen once.
func (e *Engine) finish(ctx context.Context, test string, state State, err error) {
	var f *Failure
	errors.As(err, &f)

	e.mu.Lock()
	e.state = state
	e.status.Err = err
	e.status.Failure = f
	e.status.EndedAt = time.Now()
	e.mu.Unlock()

	func() {
		defer func() {
			if r := recover(); r != nil {
				e.log.Error("playback state listener panicked", "test", test, "panic", r)
			}
		}()
		e.playbackEvents.Emit(PlaybackStateEvent{State: state, Test: test, Err: err, At: time.Now()})
	}()

	e.cleanup(ctx)
	close(e.done)
}

// cleanup releases the driver and runs the configured cleanup functions.
// Failures are logged; they never replace the run's outcome.
func (e *Engine) cleanup(ctx context.Context) {
	e.cleanupOnce.Do(func() {
		ctx := context.WithoutCancel(ctx)
		run := func(name string, fn func(context.Context) error) {
			defer func() {
				if r := recover(); r != nil {
					e.log.Error("cleanup panicked", "step", name, "panic", r)
				}
			}()
			if err := fn(ctx); err != nil {
				e.log.Warn("cleanup failed", "step", name, "error", err)
			}
		}
		if e.cfg.Driver != nil {
			run("driver", e.cfg.Driver.Close)
		}
		for i, fn := range e.cfg.Cleanup {
			run(fmt.Sprintf("cleanup[%d]", i), fn)
		}
	})
}

func (e *Engine) setState(test string, s State, err error) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
	e.playbackEvents.Emit(PlaybackStateEvent{State: s, Test: test, Err: err, At: time.Now()})
}

func (e *Engine) emitCommand(ev CommandStateEvent) {
	ev.At = time.Now()
	e.mu.Lock()
	last := ev
	e.status.LastCommand = &last
	if ev.Err != nil {
		e.status.LastError = ev.Err
	}
	e.mu.Unlock()
	e.commandEvents.Emit(ev)
}

func (e *Engine) wake() {
	e.mu.Lock()
	e.cond.Broadcast()
	e.mu.Unlock()
}

// Pause asks the run to pause before its next command. The command in
// flight, if any, completes first.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.Terminal() {
		return ErrOver
	}
	if e.state != StatePaused {
		e.pauseReq = true
	}
	return nil
}

// Resume continues a paused run, or withdraws a pause that has not taken
// effect yet.
func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.Terminal() {
		return ErrOver
	}
	if e.state == StatePaused {
		e.resumeReq = true
		e.cond.Broadcast()
		return nil
	}
	e.pauseReq = false
	return nil
}

// Step plays exactly one more command of a paused run and pauses again.
// On a run that is not paused it behaves like Pause.
func (e *Engine) Step() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.Terminal() {
		return ErrOver
	}
	if e.state == StatePaused {
		e.resumeReq = true
		e.stepReq = true
		e.cond.Broadcast()
		return nil
	}
	e.pauseReq = true
	return nil
}

// Stop ends the run after the command in flight completes. It does not
// block; wait on Done or for Play to return.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.Terminal() {
		return
	}
	e.stopReq = true
	e.cond.Broadcast()
}

// Abort ends the run like Stop and also cancels the context of the command
// in flight, so that driver calls honouring it return early.
func (e *Engine) Abort() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.Terminal() {
		return
	}
	e.abortReq = true
	if e.cancel != nil {
		e.cancel(ErrAborted)
	}
	e.cond.Broadcast()
}

// checkpoint runs at every command boundary. It returns a non-empty state
// when the run must end before the command at index.
func (e *Engine) checkpoint(ctx context.Context, test string, depth, index int) (State, error) {
	e.mu.Lock()
	if e.pauseAfterStep {
		e.pauseAfterStep = false
		e.pauseReq = true
	}
	if depth == 0 && e.breakpoints[index] {
		e.pauseReq = true
	}
	for {
		if e.abortReq {
			e.mu.Unlock()
			return StateAborted, ErrAborted
		}
		if ctx.Err() != nil {
			e.mu.Unlock()
			return StateAborted, fmt.Errorf("%w: %w", ErrAborted, context.Cause(ctx))
		}
		if e.stopReq {
			e.mu.Unlock()
			return StateStopped, ErrStopped
		}
		if !e.pauseReq {
			e.mu.Unlock()
			return "", nil
		}

		e.pauseReq = false
		e.state = StatePaused
		e.mu.Unlock()
		e.log.Debug("playback paused", "test", test, "index", index)
		e.playbackEvents.Emit(PlaybackStateEvent{State: StatePaused, Test: test, At: time.Now()})

		e.mu.Lock()
		for !e.resumeReq && !e.stopReq && !e.abortReq && ctx.Err() == nil {
			e.cond.Wait()
		}
		if e.resumeReq {
			e.resumeReq = false
			if e.stepReq {
				e.stepReq = false
				e.pauseAfterStep = true
			}
			e.state = StatePlaying
			e.mu.Unlock()
			e.playbackEvents.Emit(PlaybackStateEvent{State: StatePlaying, Test: test, At: time.Now()})
			e.mu.Lock()
		}
	}
}

// interrupted reports whether an abort request or a cancelled context ended
// the run while a command was in flight.
func (e *Engine) interrupted(ctx context.Context) (State, error) {
	e.mu.Lock()
	aborted := e.abortReq
	e.mu.Unlock()
	if aborted {
		return StateAborted, ErrAborted
	}
	if ctx.Err() != nil {
		return StateAborted, fmt.Errorf("%w: %w", ErrAborted, context.Cause(ctx))
	}
	return "", nil
}

func (e *Engine) setPosition(depth, index int) {
	e.mu.Lock()
	e.status.Depth = depth
	e.status.Index = index
	e.mu.Unlock()
}

func (e *Engine) recordVerification(f *Failure) {
	e.mu.Lock()
	e.status.Verifications = append(e.status.Verifications, f)
	e.mu.Unlock()
}

// requestPause is used by the debugger command to pause at the next boundary.
func (e *Engine) requestPause() {
	e.mu.Lock()
	e.pauseReq = true
	e.mu.Unlock()
}

// SetBreakpoint adds or removes a breakpoint on a command of the played
// test. It takes effect at the next command boundary.
func (e *Engine) SetBreakpoint(index int, on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if on {
		e.breakpoints[index] = true
		return
	}
	delete(e.breakpoints, index)
}

// Breakpoints returns the breakpoint indices in ascending order.
func (e *Engine) Breakpoints() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]int, 0, len(e.breakpoints))
	for i := range e.breakpoints {
		out = append(out, i)
	}
	slices.Sort(out)
	return out
}

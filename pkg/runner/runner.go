// Package runner is the run orchestrator: it resolves tests from a project,
// opens a browser session per run, wires the playback engine to logging,
// tracing and screenshots, and guarantees the session is released.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/ipublishingjp/selenium-ide/pkg/commands"
	"github.com/ipublishingjp/selenium-ide/pkg/driver"
	"github.com/ipublishingjp/selenium-ide/pkg/governance"
	"github.com/ipublishingjp/selenium-ide/pkg/model"
	"github.com/ipublishingjp/selenium-ide/pkg/playback"
	"github.com/ipublishingjp/selenium-ide/pkg/plugins"
	sidetrace "github.com/ipublishingjp/selenium-ide/pkg/trace"
	"github.com/ipublishingjp/selenium-ide/pkg/variables"
)

// ErrTestNotFound is returned when a project has no test of the given name.
var ErrTestNotFound = errors.New("test not found")

// ScreenshotConfig enables screenshots at the end of a run. Empty
// directories disable the corresponding capture.
type ScreenshotConfig struct {
	FailureDir  string
	SuccessDir  string
	SuccessFile string // fixed file name for success captures; default {test}_{unixms}.png
}

// Config configures the orchestrator.
type Config struct {
	Capabilities  driver.Capabilities
	BaseURL       string // overrides the project URL
	ImplicitWait  time.Duration
	RetryInterval time.Duration
	LoopLimit     int
	MaxWorkers    int

	Screenshots ScreenshotConfig

	// OutputDir receives <run id>/result.json and, with Trace set,
	// <run id>/trace.jsonl. Empty writes nothing.
	OutputDir  string
	Trace      bool
	Secrets    []string
	SigningKey []byte

	// Interactive runs may sit in paused; other runs are aborted when they
	// pause.
	Interactive bool
	Breakpoints []int

	// Policy limits which commands may be played. Tests are checked before a
	// session is opened.
	Policy governance.Policy
}

// Runner runs tests of a project. It is safe for concurrent use; every run
// gets its own session, adapter, engine and variable context.
type Runner struct {
	cfg      Config
	table    *commands.Table
	plugins  []plugins.Plugin
	hooks    *plugins.HookRunner
	sessions driver.SessionFactory
	log      *slog.Logger
	tp       trace.TracerProvider
	observe  []func(test string, e *playback.Engine)
}

// Option customizes a Runner.
type Option func(*Runner)

// WithSessionFactory replaces the chromedp session factory.
func WithSessionFactory(f driver.SessionFactory) Option {
	return func(r *Runner) { r.sessions = f }
}

// WithPlugins adds plugins. Later plugins override earlier ones and the
// built-in commands.
func WithPlugins(p ...plugins.Plugin) Option {
	return func(r *Runner) { r.plugins = append(r.plugins, p...) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.log = l }
}

// WithTracerProvider sets the OpenTelemetry tracer provider for engines.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Runner) { r.tp = tp }
}

// WithObserver registers fn to be called with every engine before it plays.
// Debuggers use it to subscribe and drive pause/resume.
func WithObserver(fn func(test string, e *playback.Engine)) Option {
	return func(r *Runner) { r.observe = append(r.observe, fn) }
}

// New builds a runner. The command table (built-ins plus plugin commands) is
// sealed here, once.
func New(cfg Config, opts ...Option) (*Runner, error) {
	r := &Runner{cfg: cfg}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = slog.New(slog.DiscardHandler)
	}
	if r.sessions == nil {
		r.sessions = driver.ChromeFactory(r.log)
	}
	if r.cfg.MaxWorkers <= 0 {
		r.cfg.MaxWorkers = 1
	}

	if err := r.cfg.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("command policy: %w", err)
	}

	reg := commands.NewBuiltinRegistry()
	if err := plugins.Register(reg, r.plugins); err != nil {
		return nil, fmt.Errorf("register plugins: %w", err)
	}
	r.table = r.cfg.Policy.Restrict(reg.Seal())
	r.hooks = plugins.NewHookRunner(r.plugins, r.log)
	return r, nil
}

// Commands returns the sealed command table.
func (r *Runner) Commands() *commands.Table { return r.table }

// Run plays the named test of project. The returned result is non-nil once a
// session was requested. The error is nil only when the run finished with
// no failed verification.
func (r *Runner) Run(ctx context.Context, project *model.Project, testName string, vars *variables.Variables) (*Result, error) {
	test, ok := project.TestByName(testName)
	if !ok {
		return nil, fmt.Errorf("%w: %q in project %q", ErrTestNotFound, testName, project.Name)
	}

	res := &Result{
		RunID:     uuid.NewString(),
		Project:   project.Name,
		Test:      test.Name,
		StartedAt: time.Now(),
	}
	log := r.log.With("test", test.Name, "run_id", res.RunID)
	log.Info("running test")
	if paths := project.PluginPaths(); len(paths) > 0 {
		log.Debug("project declares plugins; only plugins configured on the runner are used", "paths", paths)
	}

	err := r.play(ctx, log, project, test, vars, res)
	res.EndedAt = time.Now()
	res.Duration = res.EndedAt.Sub(res.StartedAt).Round(time.Millisecond).String()
	if err != nil {
		res.Passed = false
		res.Error = err.Error()
		if res.State == "" {
			res.State = playback.StateErrored
		}
	}

	if r.cfg.OutputDir != "" {
		if serr := SaveResult(r.cfg.OutputDir, res); serr != nil {
			log.Warn("save result failed", "error", serr)
		}
	}
	if res.Passed {
		log.Info("finished test", "result", "success", "duration", res.Duration)
	} else {
		log.Info("finished test", "result", "failure", "state", res.State, "duration", res.Duration)
	}
	return res, err
}

func (r *Runner) play(ctx context.Context, log *slog.Logger, project *model.Project, test *model.Test, vars *variables.Variables, res *Result) (err error) {
	if err := r.cfg.Policy.CheckTest(project, test); err != nil {
		return err
	}
	caps, err := driver.Negotiate(r.cfg.Capabilities)
	if err != nil {
		return err
	}
	session, err := r.sessions(ctx, caps)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	adapter := driver.NewAdapter(session, driver.AdapterConfig{ImplicitWait: r.cfg.ImplicitWait, Logger: log})
	// The engine releases the adapter on every path it reaches; this covers
	// the ones it does not.
	defer func() {
		if cerr := adapter.Close(context.WithoutCancel(ctx)); cerr != nil {
			log.Warn("close session failed", "error", cerr)
		}
	}()

	var tw *sidetrace.Writer
	if r.cfg.Trace && r.cfg.OutputDir != "" {
		tw, err = r.openTrace(res)
		if err != nil {
			return err
		}
		defer tw.Close()
	}

	if vars == nil {
		vars = variables.New()
	}
	vars = vars.WithDefaults(commands.KeyDefaults)

	baseURL := r.cfg.BaseURL
	if baseURL == "" {
		baseURL = project.URL
	}
	e := playback.New(playback.Config{
		Commands:       r.table,
		Driver:         adapter,
		Vars:           vars,
		BaseURL:        baseURL,
		Hooks:          r.hooks,
		Tests:          project.TestByName,
		ImplicitWait:   r.cfg.ImplicitWait,
		RetryInterval:  r.cfg.RetryInterval,
		LoopLimit:      r.cfg.LoopLimit,
		Breakpoints:    r.cfg.Breakpoints,
		Logger:         log,
		TracerProvider: r.tp,
	})

	e.OnCommandState(func(ev playback.CommandStateEvent) {
		log.Debug(fmt.Sprintf("%s %s", ev.State, commandString(ev)))
		if ev.Err != nil {
			log.Error(ev.Message)
		}
	})
	e.OnPlaybackState(func(ev playback.PlaybackStateEvent) {
		log.Debug("playing state changed", "state", ev.State)
		switch {
		case ev.State == playback.StatePaused && !r.cfg.Interactive:
			log.Warn("playback paused outside an interactive session; aborting")
			e.Abort()
		case ev.State.Terminal():
			r.onTerminal(ctx, log, e, adapter, tw, test.Name, ev, res)
		}
	})
	if tw != nil {
		detach := sidetrace.Attach(tw, e, log)
		defer detach()
		if err := tw.EmitRunStart(project.Name, test.Name, vars.Snapshot()); err != nil {
			log.Warn("trace write failed", "error", err)
		}
	}
	for _, fn := range r.observe {
		fn(test.Name, e)
	}

	playErr := e.Play(ctx, test, playback.Options{})
	st := e.Status()
	res.State = st.State
	res.Vars = redactVars(vars.Snapshot(), r.cfg.Secrets)
	if st.LastCommand != nil {
		res.LastCommand = commandString(*st.LastCommand)
	}
	for _, v := range st.Verifications {
		res.Verifications = append(res.Verifications, failureRecord(v))
	}
	if st.Failure != nil {
		rec := failureRecord(st.Failure)
		res.Failure = &rec
	}

	if tw != nil {
		status := string(st.State)
		if err := tw.EmitRunComplete(status, time.Since(res.StartedAt), sidetrace.Classify(playErr)); err != nil {
			log.Warn("trace write failed", "error", err)
		}
	}

	if playErr != nil {
		if st.LastCommand != nil {
			log.Info("last command", "command", res.LastCommand)
		}
		return playErr
	}
	if len(st.Verifications) > 0 {
		return &VerificationError{Test: test.Name, Failures: st.Verifications}
	}
	res.Passed = true
	return nil
}

func (r *Runner) openTrace(res *Result) (*sidetrace.Writer, error) {
	dir := filepath.Join(r.cfg.OutputDir, res.RunID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}
	path := filepath.Join(dir, "trace.jsonl")
	tw, err := sidetrace.NewFileWriter(path, res.RunID)
	if err != nil {
		return nil, err
	}
	tw.SetSecrets(r.cfg.Secrets)
	if len(r.cfg.SigningKey) > 0 {
		tw.SetSigningKey("side", r.cfg.SigningKey)
	}
	res.TracePath = path
	return tw, nil
}

// onTerminal runs before the engine releases the session, so screenshots
// still reach the browser.
func (r *Runner) onTerminal(ctx context.Context, log *slog.Logger, e *playback.Engine, d *driver.Adapter, tw *sidetrace.Writer, test string, ev playback.PlaybackStateEvent, res *Result) {
	failed := ev.State != playback.StateFinished || len(e.Status().Verifications) > 0
	shotCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	var (
		path string
		err  error
	)
	switch {
	case failed && r.cfg.Screenshots.FailureDir != "":
		path, err = failureScreenshot(shotCtx, d, r.cfg.Screenshots.FailureDir, test, time.Now())
	case !failed && r.cfg.Screenshots.SuccessDir != "":
		path, err = successScreenshot(shotCtx, d, r.cfg.Screenshots, test, time.Now())
	default:
		return
	}
	if err != nil {
		log.Warn("failed to take screenshot", "error", err)
		return
	}
	res.Screenshot = path
	log.Info("saved screenshot", "path", path)
	if tw != nil {
		if err := tw.EmitScreenshot(test, path); err != nil {
			log.Warn("trace write failed", "error", err)
		}
	}
}

func commandString(ev playback.CommandStateEvent) string {
	c := ev.Command
	c.Target, c.Value = ev.Target, ev.Value
	return c.String()
}

// VerificationError reports a run that finished with failed verify* checks.
type VerificationError struct {
	Test     string
	Failures []*playback.Failure
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("test %q: %d verification(s) failed, first: %v", e.Test, len(e.Failures), e.Failures[0])
}

func (e *VerificationError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

package trace

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/ipublishingjp/selenium-ide/pkg/commands"
	"github.com/ipublishingjp/selenium-ide/pkg/driver"
	"github.com/ipublishingjp/selenium-ide/pkg/playback"
	"github.com/ipublishingjp/selenium-ide/pkg/plugins"
	"github.com/ipublishingjp/selenium-ide/pkg/variables"
)

// Attach records every state change of e to tw. Write errors are logged and
// never interrupt playback. The returned func detaches the recorder.
func Attach(tw *Writer, e *playback.Engine, log *slog.Logger) (detach func()) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	report := func(err error) {
		if err != nil {
			log.Warn("trace write failed", "run_id", tw.RunID(), "error", err)
		}
	}

	offCommand := e.OnCommandState(func(ev playback.CommandStateEvent) {
		rec := CommandRecord{
			Test:    ev.Test,
			Depth:   ev.Depth,
			Index:   ev.Index,
			ID:      ev.Command.ID,
			Command: ev.Command.Command,
			Target:  ev.Target,
			Value:   ev.Value,
			State:   string(ev.State),
			Message: ev.Message,
		}
		if ev.Err != nil {
			rec.Failure = Classify(ev.Err)
			rec.Message = ""
		}
		report(tw.EmitCommandState(rec))

		var ae *commands.AssertionError
		if ev.Err != nil && errors.As(ev.Err, &ae) && ae.Soft {
			report(tw.Emit(EventVerificationFailed, map[string]any{
				"test":     ev.Test,
				"index":    ev.Index,
				"command":  ev.Command.Command,
				"expected": ae.Expected,
				"actual":   ae.Actual,
			}))
		}
	})
	offState := e.OnPlaybackState(func(ev playback.PlaybackStateEvent) {
		report(tw.EmitPlaybackState(ev.Test, string(ev.State), ev.Err))
	})
	return func() {
		offCommand()
		offState()
	}
}

// Classify maps an error to a trace failure kind.
func Classify(err error) *Failure {
	if err == nil {
		return nil
	}
	kind := "error"
	var (
		ae *commands.AssertionError
		de *driver.Error
		fe *playback.FlowError
		ue *variables.UndefinedVariableError
		uc *commands.UnknownCommandError
		he *plugins.HookError
	)
	switch {
	case errors.As(err, &ae):
		kind = "assertion"
	case errors.As(err, &de):
		kind = strings.ReplaceAll(string(de.Kind), "-", "_")
	case errors.As(err, &fe):
		kind = "flow"
	case errors.As(err, &ue):
		kind = "undefined_variable"
	case errors.As(err, &uc):
		kind = "unknown_command"
	case errors.As(err, &he):
		kind = "hook"
	case errors.Is(err, playback.ErrAborted):
		kind = "aborted"
	case errors.Is(err, playback.ErrStopped):
		kind = "stopped"
	case errors.Is(err, driver.ErrNotReady):
		kind = "element_not_found"
	}
	return &Failure{Kind: kind, Message: err.Error()}
}

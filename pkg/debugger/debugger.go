// Package debugger implements the interactive REPL debugger for test
// playback. It attaches to a running playback engine and drives it with
// pause, step, resume and breakpoints.
package debugger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/chzyer/readline"

	"github.com/ipublishingjp/selenium-ide/pkg/model"
	"github.com/ipublishingjp/selenium-ide/pkg/playback"
)

// Debugger provides an interactive REPL over the engine of the test being
// played.
type Debugger struct {
	project *model.Project

	outMu  sync.Mutex
	output io.Writer

	mu      sync.Mutex
	engine  *playback.Engine
	test    *model.Test
	history []playback.CommandStateEvent
}

// New creates a debugger for tests of project, writing to stdout.
func New(project *model.Project) *Debugger {
	return &Debugger{project: project, output: os.Stdout}
}

// SetOutput redirects debugger output.
func (d *Debugger) SetOutput(w io.Writer) {
	d.outMu.Lock()
	d.output = w
	d.outMu.Unlock()
}

// Attach binds the debugger to e, which is about to play the named test.
// It has the signature of a runner observer.
func (d *Debugger) Attach(test string, e *playback.Engine) {
	t, _ := d.project.TestByName(test)
	d.mu.Lock()
	d.engine = e
	d.test = t
	d.history = nil
	d.mu.Unlock()

	e.OnCommandState(d.onCommand)
	e.OnPlaybackState(d.onPlayback)
	n := 0
	if t != nil {
		n = len(t.Commands)
	}
	d.printf("Attached to %q (%d commands). Type 'help' for available commands.\n", test, n)
}

func (d *Debugger) onCommand(ev playback.CommandStateEvent) {
	if !ev.State.Done() {
		return
	}
	d.mu.Lock()
	d.history = append(d.history, ev)
	d.mu.Unlock()
	if ev.Depth > 0 && ev.State != playback.CommandFailed {
		return
	}
	switch ev.State {
	case playback.CommandFailed:
		d.printf("  ✗ %s failed: %s\n", position(ev), ev.Message)
	case playback.CommandSkipped:
		d.printf("  - %s skipped\n", position(ev))
	}
}

func (d *Debugger) onPlayback(ev playback.PlaybackStateEvent) {
	d.mu.Lock()
	e := d.engine
	d.mu.Unlock()

	switch {
	case ev.State == playback.StatePaused:
		st := e.Status()
		if st.Depth > 0 {
			d.printf("Paused before [%d] at depth %d\n", st.Index, st.Depth)
			return
		}
		d.printf("Paused before %s\n", d.describe(st.Index))
	case ev.State.Terminal():
		if ev.Err != nil {
			d.printf("Playback %s: %v\n", ev.State, ev.Err)
			return
		}
		d.printf("Playback %s.\n", ev.State)
	}
}

// Run starts the interactive REPL loop. It returns on quit, end of input,
// or when ctx is done.
func (d *Debugger) Run(ctx context.Context) error {
	completer := readline.NewPrefixCompleter()
	for _, c := range commandNames {
		completer.Children = append(completer.Children, readline.PcItem(c))
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          d.buildPrompt(),
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	defer rl.Close()
	d.SetOutput(rl.Stdout())

	stop := context.AfterFunc(ctx, func() { rl.Close() })
	defer stop()

	for {
		rl.SetPrompt(d.buildPrompt())
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if d.Exec(line) {
			return nil
		}
	}
}

// buildPrompt creates the prompt string: side[test index/total | command]>
func (d *Debugger) buildPrompt() string {
	d.mu.Lock()
	e, t := d.engine, d.test
	d.mu.Unlock()
	if e == nil || t == nil {
		return "side[idle]> "
	}
	st := e.Status()
	if st.State.Terminal() {
		return fmt.Sprintf("side[%s]> ", st.State)
	}
	if st.Index < 0 || st.Depth > 0 || st.Index >= len(t.Commands) {
		return fmt.Sprintf("side[%s | %s]> ", t.Name, st.State)
	}
	return fmt.Sprintf("side[%s %d/%d | %s]> ", t.Name, st.Index+1, len(t.Commands), t.Commands[st.Index].Command)
}

// describe renders the command at index of the attached test.
func (d *Debugger) describe(index int) string {
	d.mu.Lock()
	t := d.test
	d.mu.Unlock()
	if t == nil || index < 0 || index >= len(t.Commands) {
		return fmt.Sprintf("[%d]", index)
	}
	return fmt.Sprintf("[%d] %s", index, t.Commands[index])
}

func (d *Debugger) printf(format string, args ...any) {
	d.outMu.Lock()
	defer d.outMu.Unlock()
	fmt.Fprintf(d.output, format, args...)
}

func position(ev playback.CommandStateEvent) string {
	s := fmt.Sprintf("[%d] %s", ev.Index, ev.Command.Command)
	if ev.Depth > 0 {
		s = fmt.Sprintf("%s (in %q)", s, ev.Test)
	}
	if ev.Target != "" {
		s += " " + ev.Target
	}
	return strings.TrimSpace(s)
}

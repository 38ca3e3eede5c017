package debugger

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/ipublishingjp/selenium-ide/pkg/playback"
	"github.com/ipublishingjp/selenium-ide/pkg/variables"
)

var commandNames = []string{"next", "continue", "pause", "stop", "abort", "status",
	"print vars", "print", "set", "break", "clear", "breakpoints", "list",
	"history", "help", "quit"}

var errNoRun = errors.New("no test is being played")

// Exec runs one REPL line. It reports whether the debugger should exit.
func (d *Debugger) Exec(line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}

	var err error
	switch parts[0] {
	case "next", "n", "step":
		err = d.control(func(e *playback.Engine) error { return e.Step() })
	case "continue", "c", "resume":
		err = d.control(func(e *playback.Engine) error { return e.Resume() })
	case "pause":
		err = d.control(func(e *playback.Engine) error { return e.Pause() })
	case "stop":
		err = d.control(func(e *playback.Engine) error { e.Stop(); return nil })
	case "abort":
		err = d.control(func(e *playback.Engine) error { e.Abort(); return nil })
	case "status", "s":
		err = d.handleStatus()
	case "print", "p":
		err = d.handlePrint(parts)
	case "set":
		err = d.handleSet(parts)
	case "break", "b":
		err = d.handleBreak(parts, true)
	case "clear":
		err = d.handleBreak(parts, false)
	case "breakpoints":
		err = d.handleBreakpoints()
	case "list", "l":
		d.handleList()
	case "history", "h":
		d.handleHistory()
	case "help", "?":
		d.handleHelp()
	case "quit", "q":
		d.Abort()
		d.printf("Exiting debugger.\n")
		return true
	default:
		d.printf("Unknown command: %q. Type 'help' for available commands.\n", parts[0])
	}
	if err != nil {
		d.printf("Error: %v\n", err)
	}
	return false
}

// Abort ends the attached run unless it is already over. A run left paused
// would hold its browser session forever.
func (d *Debugger) Abort() {
	if e := d.current(); e != nil && !e.Status().State.Terminal() {
		e.Abort()
	}
}

func (d *Debugger) current() *playback.Engine {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.engine
}

func (d *Debugger) control(fn func(*playback.Engine) error) error {
	e := d.current()
	if e == nil {
		return errNoRun
	}
	return fn(e)
}

// handleStatus shows the engine position and outcome so far.
func (d *Debugger) handleStatus() error {
	e := d.current()
	if e == nil {
		return errNoRun
	}
	st := e.Status()
	d.printf("  state:   %s\n", st.State)
	d.printf("  test:    %s\n", st.Test)
	if st.Index >= 0 {
		if st.Depth > 0 {
			d.printf("  command: [%d] at depth %d\n", st.Index, st.Depth)
		} else {
			d.printf("  command: %s\n", d.describe(st.Index))
		}
	}
	if st.LastCommand != nil {
		d.printf("  last:    %s (%s)\n", position(*st.LastCommand), st.LastCommand.State)
	}
	if st.Failure != nil {
		d.printf("  failure: %v\n", st.Failure)
	} else if st.Err != nil {
		d.printf("  error:   %v\n", st.Err)
	}
	if n := len(st.Verifications); n > 0 {
		d.printf("  failed verifications: %d\n", n)
	}
	return nil
}

// handlePrint displays all variables or one of them.
func (d *Debugger) handlePrint(parts []string) error {
	if len(parts) < 2 {
		d.printf("Usage: print vars|<name>\n")
		return nil
	}
	e := d.current()
	if e == nil {
		return errNoRun
	}
	vars := e.Vars()
	if parts[1] == "vars" {
		snap := vars.Snapshot()
		if len(snap) == 0 {
			d.printf("No variables defined.\n")
			return nil
		}
		for _, k := range slices.Sorted(maps.Keys(snap)) {
			d.printf("  %s = %q\n", k, display(snap[k]))
		}
		return nil
	}
	val, err := vars.Get(parts[1])
	if err != nil {
		return err
	}
	d.printf("  %s = %q\n", parts[1], display(val))
	return nil
}

// handleSet stores a string variable.
func (d *Debugger) handleSet(parts []string) error {
	if len(parts) < 3 {
		d.printf("Usage: set <name> <value>\n")
		return nil
	}
	e := d.current()
	if e == nil {
		return errNoRun
	}
	value := strings.Join(parts[2:], " ")
	e.Vars().Set(parts[1], value)
	d.printf("  %s = %q\n", parts[1], value)
	return nil
}

// handleBreak adds or removes a breakpoint on a command index of the
// played test.
func (d *Debugger) handleBreak(parts []string, on bool) error {
	if len(parts) < 2 {
		d.printf("Usage: %s <index>\n", parts[0])
		return nil
	}
	e := d.current()
	if e == nil {
		return errNoRun
	}
	i, err := strconv.Atoi(parts[1])
	if err != nil {
		return fmt.Errorf("invalid index %q", parts[1])
	}
	d.mu.Lock()
	t := d.test
	d.mu.Unlock()
	if t != nil && (i < 0 || i >= len(t.Commands)) {
		return fmt.Errorf("index %d out of range [0, %d)", i, len(t.Commands))
	}
	e.SetBreakpoint(i, on)
	if on {
		d.printf("  Breakpoint set at %s\n", d.describe(i))
	} else {
		d.printf("  Breakpoint cleared at %s\n", d.describe(i))
	}
	return nil
}

func (d *Debugger) handleBreakpoints() error {
	e := d.current()
	if e == nil {
		return errNoRun
	}
	bps := e.Breakpoints()
	if len(bps) == 0 {
		d.printf("No breakpoints.\n")
		return nil
	}
	for _, i := range bps {
		d.printf("  %s\n", d.describe(i))
	}
	return nil
}

// handleList shows the commands of the played test, marking the current
// one and breakpoints.
func (d *Debugger) handleList() {
	d.mu.Lock()
	e, t := d.engine, d.test
	d.mu.Unlock()
	if e == nil || t == nil {
		d.printf("Error: %v\n", errNoRun)
		return
	}
	st := e.Status()
	bps := e.Breakpoints()
	for i, c := range t.Commands {
		mark := " "
		if st.Depth == 0 && st.Index == i && !st.State.Terminal() {
			mark = ">"
		}
		bp := " "
		if slices.Contains(bps, i) {
			bp = "*"
		}
		d.printf("%s%s %3d  %s\n", mark, bp, i, c)
	}
}

// handleHistory shows commands that completed.
func (d *Debugger) handleHistory() {
	d.mu.Lock()
	history := slices.Clone(d.history)
	d.mu.Unlock()
	if len(history) == 0 {
		d.printf("No commands executed yet.\n")
		return
	}
	for _, ev := range history {
		status := "✓"
		switch ev.State {
		case playback.CommandFailed:
			status = "✗"
		case playback.CommandSkipped:
			status = "-"
		}
		d.printf("  %s %s: %s\n", status, position(ev), ev.State)
		if ev.Message != "" && ev.State == playback.CommandFailed {
			d.printf("       error: %s\n", ev.Message)
		}
	}
}

// handleHelp displays available commands.
func (d *Debugger) handleHelp() {
	d.printf("Available commands:\n")
	d.printf("  next (n)          Play one command and pause again\n")
	d.printf("  continue (c)      Resume playback\n")
	d.printf("  pause             Pause before the next command\n")
	d.printf("  stop              Stop after the command in flight\n")
	d.printf("  abort             Abort, cancelling the command in flight\n")
	d.printf("  status (s)        Show playback state and position\n")
	d.printf("  print vars        Show all variables\n")
	d.printf("  print <name>      Show one variable\n")
	d.printf("  set <name> <val>  Store a variable\n")
	d.printf("  break <index>     Set a breakpoint\n")
	d.printf("  clear <index>     Clear a breakpoint\n")
	d.printf("  breakpoints       List breakpoints\n")
	d.printf("  list (l)          List the commands of the test\n")
	d.printf("  history (h)       Show completed commands\n")
	d.printf("  help (?)          Show this help\n")
	d.printf("  quit (q)          Abort the run and exit\n")
}

func display(v any) string {
	s := variables.Format(v)
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

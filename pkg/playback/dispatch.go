package playback

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ipublishingjp/selenium-ide/pkg/commands"
	"github.com/ipublishingjp/selenium-ide/pkg/model"
)

// block tracks loop counters and taken if-branches for one level of play.
type block struct {
	test  *model.Test
	flow  *flow
	depth int
	loops map[int]int
	taken map[int]bool
}

// playCommands plays test.Commands[start..end]. It returns StateFinished when
// the range completes, or the terminal state that ended it.
func (e *Engine) playCommands(ctx context.Context, test *model.Test, fl *flow, start, end, depth int) (State, error) {
	b := &block{test: test, flow: fl, depth: depth, loops: make(map[int]int), taken: make(map[int]bool)}

	for pc := start; pc >= start && pc <= end; {
		cmd := test.Commands[pc]

		// A branch that was taken skips the rest of its if chain.
		if (cmd.Command == cmdElseIf || cmd.Command == cmdElse) && !cmd.Disabled() && b.taken[fl.chain[pc]] {
			pc = fl.end[pc]
			continue
		}

		e.setPosition(depth, pc)
		if st, err := e.checkpoint(ctx, test.Name, depth, pc); st != "" {
			return st, err
		}

		ev := CommandStateEvent{Test: test.Name, Depth: depth, Index: pc, Command: cmd, Target: cmd.Target, Value: cmd.Value}
		if cmd.Disabled() {
			ev.State = CommandSkipped
			e.emitCommand(ev)
			pc++
			continue
		}

		next, st, err := e.dispatch(ctx, b, pc, ev)
		if st != "" {
			return st, err
		}
		pc = next
	}
	return StateFinished, nil
}

// dispatch plays the command at pc and returns the next index. A non-empty
// state ends the run.
func (e *Engine) dispatch(ctx context.Context, b *block, pc int, ev CommandStateEvent) (int, State, error) {
	cmd := ev.Command
	ctx, span := e.startCommandSpan(ctx, b, pc)

	ev.State = CommandPending
	e.emitCommand(ev)
	ev.State = CommandExecuting
	e.emitCommand(ev)

	next, msg, err := e.execute(ctx, b, pc, &ev)
	endSpan(span, err)

	if err == nil {
		ev.State = CommandSucceeded
		ev.Message = msg
		e.emitCommand(ev)
		return next, "", nil
	}

	ev.State = CommandFailed
	ev.Err = err
	ev.Message = err.Error()
	e.emitCommand(ev)

	if st, ierr := e.interrupted(ctx); st != "" {
		return 0, st, ierr
	}
	if errors.Is(err, ErrStopped) {
		return 0, StateStopped, ErrStopped
	}

	resolved := cmd
	resolved.Target, resolved.Value = ev.Target, ev.Value
	var nested *Failure
	if cmd.Command == cmdRun && errors.As(err, &nested) {
		return 0, StateErrored, err
	}
	f := &Failure{Test: b.test.Name, Index: pc, Command: resolved, Err: err}

	var ae *commands.AssertionError
	if errors.As(err, &ae) && ae.Soft {
		e.log.Warn("verification failed", "test", b.test.Name, "index", pc, "error", err)
		e.recordVerification(f)
		return pc + 1, "", nil
	}
	return 0, StateErrored, f
}

// execute interpolates and runs one command. It updates ev with the
// interpolated target and value.
func (e *Engine) execute(ctx context.Context, b *block, pc int, ev *CommandStateEvent) (next int, msg string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("command %s panicked: %v", ev.Command.Command, r)
		}
	}()

	cmd := ev.Command
	target, err := e.vars.Interpolate(cmd.Target)
	if err != nil {
		return 0, "", err
	}
	ev.Target = target
	value, err := e.vars.Interpolate(cmd.Value)
	if err != nil {
		return 0, "", err
	}
	ev.Value = value

	if IsControlFlow(cmd.Command) {
		return e.controlFlow(b, pc, target)
	}

	switch cmd.Command {
	case cmdRun:
		return pc + 1, "", e.runNested(ctx, b, target)
	case cmdDebugger:
		e.requestPause()
		return pc + 1, "", nil
	}

	exec, err := e.cfg.Commands.Resolve(cmd.Command)
	if err != nil {
		return 0, "", err
	}
	env := &commands.Env{
		Driver:  e.cfg.Driver,
		Vars:    e.vars,
		BaseURL: e.cfg.BaseURL,
		Log:     e.log.With("test", b.test.Name, "command", cmd.Command),
		Command: cmd,
	}
	res, err := e.invoke(ctx, exec, env, target, value)
	if err != nil {
		return 0, "", err
	}
	return pc + 1, res.Message, nil
}

func (e *Engine) controlFlow(b *block, pc int, target string) (int, string, error) {
	fl := b.flow
	cmd := b.test.Commands[pc]
	loopErr := func(opener int) error {
		return &FlowError{Test: b.test.Name, Index: opener, Command: b.test.Commands[opener].Command,
			Reason: fmt.Sprintf("loop exceeded %d iterations", e.cfg.LoopLimit)}
	}

	switch cmd.Command {
	case cmdIf, cmdElseIf:
		if cmd.Command == cmdIf {
			b.taken[pc] = false
		}
		ok, err := e.vars.EvalBool(cmd.Target)
		if err != nil {
			return 0, "", err
		}
		if ok {
			b.taken[chainStart(fl, pc)] = true
			return pc + 1, "condition is true", nil
		}
		return fl.next[pc], "condition is false", nil

	case cmdElse:
		b.taken[fl.chain[pc]] = true
		return pc + 1, "", nil

	case cmdEnd:
		if fl.kind[pc] == cmdIf {
			delete(b.taken, fl.chain[pc])
			return pc + 1, "", nil
		}
		return fl.opener[pc], "", nil

	case cmdWhile:
		ok, err := e.vars.EvalBool(cmd.Target)
		if err != nil {
			return 0, "", err
		}
		if !ok {
			delete(b.loops, pc)
			return fl.end[pc] + 1, "condition is false", nil
		}
		b.loops[pc]++
		if b.loops[pc] > e.cfg.LoopLimit {
			return 0, "", loopErr(pc)
		}
		return pc + 1, "condition is true", nil

	case cmdTimes:
		n, err := strconv.Atoi(strings.TrimSpace(target))
		if err != nil || n < 0 {
			return 0, "", fmt.Errorf("times: invalid count %q", target)
		}
		b.loops[pc]++
		if b.loops[pc] > n {
			delete(b.loops, pc)
			return fl.end[pc] + 1, "", nil
		}
		if b.loops[pc] > e.cfg.LoopLimit {
			return 0, "", loopErr(pc)
		}
		return pc + 1, fmt.Sprintf("iteration %d of %d", b.loops[pc], n), nil

	case cmdDo:
		return pc + 1, "", nil

	case cmdRepeatIf:
		do := fl.opener[pc]
		ok, err := e.vars.EvalBool(cmd.Target)
		if err != nil {
			return 0, "", err
		}
		if !ok {
			delete(b.loops, do)
			return pc + 1, "condition is false", nil
		}
		b.loops[do]++
		if b.loops[do] >= e.cfg.LoopLimit {
			return 0, "", loopErr(do)
		}
		return do + 1, "condition is true", nil
	}
	return 0, "", fmt.Errorf("unhandled control flow command %q", cmd.Command)
}

func chainStart(fl *flow, pc int) int {
	if start, ok := fl.chain[pc]; ok {
		return start
	}
	return pc
}

// runNested plays another test of the project inline, sharing the variable
// context.
func (e *Engine) runNested(ctx context.Context, b *block, name string) error {
	if e.cfg.Tests == nil {
		return fmt.Errorf("run %q: no test resolver configured", name)
	}
	if b.depth+1 > e.cfg.MaxDepth {
		return fmt.Errorf("run %q: nesting deeper than %d", name, e.cfg.MaxDepth)
	}
	test, ok := e.cfg.Tests(name)
	if !ok {
		return fmt.Errorf("run %q: test not found", name)
	}
	fl, err := buildFlow(test)
	if err != nil {
		return err
	}
	st, err := e.playCommands(ctx, test, fl, 0, len(test.Commands)-1, b.depth+1)
	if st == StateFinished {
		return nil
	}
	if err == nil {
		err = fmt.Errorf("run %q ended %s", name, st)
	}
	return err
}

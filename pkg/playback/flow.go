package playback

import (
	"fmt"
	"strings"

	"github.com/ipublishingjp/selenium-ide/pkg/model"
)

// Control-flow command names. The engine handles these itself; they never
// reach the command table.
const (
	cmdIf       = "if"
	cmdElseIf   = "elseIf"
	cmdElse     = "else"
	cmdEnd      = "end"
	cmdWhile    = "while"
	cmdTimes    = "times"
	cmdDo       = "do"
	cmdRepeatIf = "repeatIf"
	cmdRun      = "run"
	cmdDebugger = "debugger"
)

// IsControlFlow reports whether name is one of the block commands.
func IsControlFlow(name string) bool {
	switch name {
	case cmdIf, cmdElseIf, cmdElse, cmdEnd, cmdWhile, cmdTimes, cmdDo, cmdRepeatIf:
		return true
	}
	return false
}

// FlowError is a malformed block structure, or a loop that ran past the
// iteration limit.
type FlowError struct {
	Test    string
	Index   int
	Command string
	Reason  string
}

func (e *FlowError) Error() string {
	return fmt.Sprintf("test %q: command %d (%s): %s", e.Test, e.Index, e.Command, e.Reason)
}

// flow is the block structure of one test, computed before it plays.
type flow struct {
	end    map[int]int    // if, elseIf, else, while, times → their end
	next   map[int]int    // if, elseIf → the following elseIf, else or end
	chain  map[int]int    // elseIf, else, end of an if → the if
	opener map[int]int    // end of while/times → opener; repeatIf → do
	kind   map[int]string // end → kind of block it closes
}

type frame struct {
	kind     string
	start    int
	last     int // last branch of an if chain
	branches []int
	hasElse  bool
}

// buildFlow validates the block structure of test and indexes its jumps.
// Disabled commands do not take part.
func buildFlow(test *model.Test) (*flow, error) {
	f := &flow{
		end:    make(map[int]int),
		next:   make(map[int]int),
		chain:  make(map[int]int),
		opener: make(map[int]int),
		kind:   make(map[int]string),
	}
	fail := func(i int, reason string, args ...any) error {
		return &FlowError{Test: test.Name, Index: i, Command: test.Commands[i].Command, Reason: fmt.Sprintf(reason, args...)}
	}

	var stack []*frame
	top := func() *frame {
		if len(stack) == 0 {
			return nil
		}
		return stack[len(stack)-1]
	}

	for i, c := range test.Commands {
		if c.Disabled() {
			continue
		}
		switch c.Command {
		case cmdIf, cmdWhile, cmdRepeatIf, cmdElseIf:
			if strings.TrimSpace(c.Target) == "" {
				return nil, fail(i, "condition is required")
			}
		case cmdTimes:
			if strings.TrimSpace(c.Target) == "" {
				return nil, fail(i, "iteration count is required")
			}
		}

		switch c.Command {
		case cmdIf, cmdWhile, cmdTimes, cmdDo:
			stack = append(stack, &frame{kind: c.Command, start: i, last: i})

		case cmdElseIf, cmdElse:
			fr := top()
			if fr == nil || fr.kind != cmdIf {
				return nil, fail(i, "%s outside of an if block", c.Command)
			}
			if fr.hasElse {
				return nil, fail(i, "%s after else", c.Command)
			}
			f.next[fr.last] = i
			f.chain[i] = fr.start
			fr.last = i
			fr.branches = append(fr.branches, i)
			fr.hasElse = c.Command == cmdElse

		case cmdEnd:
			fr := top()
			if fr == nil {
				return nil, fail(i, "end without an open block")
			}
			if fr.kind == cmdDo {
				return nil, fail(i, "do block must be closed by repeatIf")
			}
			stack = stack[:len(stack)-1]
			f.kind[i] = fr.kind
			f.end[fr.start] = i
			switch fr.kind {
			case cmdIf:
				f.chain[i] = fr.start
				if !fr.hasElse {
					f.next[fr.last] = i
				}
				for _, b := range fr.branches {
					f.end[b] = i
				}
			default:
				f.opener[i] = fr.start
			}

		case cmdRepeatIf:
			fr := top()
			if fr == nil || fr.kind != cmdDo {
				return nil, fail(i, "repeatIf without do")
			}
			stack = stack[:len(stack)-1]
			f.opener[i] = fr.start
		}
	}
	if fr := top(); fr != nil {
		return nil, fail(fr.start, "%s block is never closed", fr.kind)
	}
	return f, nil
}

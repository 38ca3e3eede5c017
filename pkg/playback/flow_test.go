package playback

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/ipublishingjp/selenium-ide/pkg/commands"
	"github.com/ipublishingjp/selenium-ide/pkg/model"
	"github.com/ipublishingjp/selenium-ide/pkg/variables"
)

// transcript records the interpolated targets of the say command.
type transcript struct{ said []string }

func (tr *transcript) say(_ context.Context, _ *commands.Env, target, _ string) (commands.Result, error) {
	tr.said = append(tr.said, target)
	return commands.Result{}, nil
}

func flowFixture(t *testing.T, cfg Config, seed map[string]any) (*fixture, *transcript) {
	t.Helper()
	tr := &transcript{}
	cfg.Commands = table(t, map[string]commands.Executor{"say": tr.say})
	cfg.Vars = variables.NewFrom(seed)
	return newFixture(t, cfg), tr
}

func succeeded(states []CommandState) int {
	n := 0
	for _, s := range states {
		if s == CommandSucceeded {
			n++
		}
	}
	return n
}

func TestPlay_While(t *testing.T) {
	f, tr := flowFixture(t, Config{}, map[string]any{"i": 0})
	test := testOf("t", "while|${i} < 3", "say|w${i}", "inc|i", "end", "say|z")
	if err := f.engine.Play(context.Background(), test, Options{}); err != nil {
		t.Fatal(err)
	}
	if want := []string{"w0", "w1", "w2", "z"}; !reflect.DeepEqual(tr.said, want) {
		t.Errorf("said = %v, want %v", tr.said, want)
	}
	if n := succeeded(f.rec.statesOf(0)); n != 4 {
		t.Errorf("while evaluated %d times, want 4", n)
	}
	f.assertCleanedUpOnce(t)
}

func TestPlay_WhileFalseSkipsBody(t *testing.T) {
	f, tr := flowFixture(t, Config{}, nil)
	if err := f.engine.Play(context.Background(), testOf("t", "while|false", "say|body", "end", "say|z"), Options{}); err != nil {
		t.Fatal(err)
	}
	if want := []string{"z"}; !reflect.DeepEqual(tr.said, want) {
		t.Errorf("said = %v, want %v", tr.said, want)
	}
	if got := f.rec.statesOf(1); len(got) != 0 {
		t.Errorf("body dispatched: %v", got)
	}
}

func TestPlay_Times(t *testing.T) {
	f, tr := flowFixture(t, Config{}, nil)
	if err := f.engine.Play(context.Background(), testOf("t", "times|3", "say|t", "end"), Options{}); err != nil {
		t.Fatal(err)
	}
	if want := []string{"t", "t", "t"}; !reflect.DeepEqual(tr.said, want) {
		t.Errorf("said = %v, want %v", tr.said, want)
	}
}

func TestPlay_TimesZeroAndInvalid(t *testing.T) {
	f, tr := flowFixture(t, Config{}, nil)
	if err := f.engine.Play(context.Background(), testOf("t", "times|0", "say|t", "end", "say|z"), Options{}); err != nil {
		t.Fatal(err)
	}
	if want := []string{"z"}; !reflect.DeepEqual(tr.said, want) {
		t.Errorf("said = %v, want %v", tr.said, want)
	}

	f, _ = flowFixture(t, Config{}, nil)
	err := f.engine.Play(context.Background(), testOf("t", "times|many", "say|t", "end"), Options{})
	var fail *Failure
	if !errors.As(err, &fail) || fail.Index != 0 || !strings.Contains(err.Error(), "invalid count") {
		t.Errorf("err = %v, want failure at the times command", err)
	}
}

func TestPlay_IfElseIfElse(t *testing.T) {
	test := testOf("t",
		"if|${x} == 1", "say|a",
		"elseIf|${x} == 2", "say|b",
		"else", "say|c",
		"end", "say|z")
	cases := []struct {
		x    int
		want []string
	}{
		{1, []string{"a", "z"}},
		{2, []string{"b", "z"}},
		{3, []string{"c", "z"}},
	}
	for _, tc := range cases {
		f, tr := flowFixture(t, Config{}, map[string]any{"x": tc.x})
		if err := f.engine.Play(context.Background(), test, Options{}); err != nil {
			t.Fatalf("x=%d: %v", tc.x, err)
		}
		if !reflect.DeepEqual(tr.said, tc.want) {
			t.Errorf("x=%d: said = %v, want %v", tc.x, tr.said, tc.want)
		}
	}
}

func TestPlay_IfTakenBranchSkipsRestOfChain(t *testing.T) {
	f, _ := flowFixture(t, Config{}, nil)
	test := testOf("t", "if|true", "ok", "elseIf|true", "ok", "else", "ok", "end")
	if err := f.engine.Play(context.Background(), test, Options{}); err != nil {
		t.Fatal(err)
	}
	for _, i := range []int{2, 3, 4, 5} {
		if got := f.rec.statesOf(i); len(got) != 0 {
			t.Errorf("command %d dispatched: %v", i, got)
		}
	}
	if n := succeeded(f.rec.statesOf(6)); n != 1 {
		t.Errorf("end succeeded %d times, want 1", n)
	}
}

func TestPlay_IfWithoutElse(t *testing.T) {
	f, tr := flowFixture(t, Config{}, nil)
	if err := f.engine.Play(context.Background(), testOf("t", "if|false", "say|a", "end", "say|z"), Options{}); err != nil {
		t.Fatal(err)
	}
	if want := []string{"z"}; !reflect.DeepEqual(tr.said, want) {
		t.Errorf("said = %v, want %v", tr.said, want)
	}
}

func TestPlay_DoRepeatIf(t *testing.T) {
	f, tr := flowFixture(t, Config{}, map[string]any{"i": 0})
	test := testOf("t", "do", "say|d${i}", "inc|i", "repeatIf|${i} < 2", "say|z")
	if err := f.engine.Play(context.Background(), test, Options{}); err != nil {
		t.Fatal(err)
	}
	if want := []string{"d0", "d1", "z"}; !reflect.DeepEqual(tr.said, want) {
		t.Errorf("said = %v, want %v", tr.said, want)
	}
}

func TestPlay_NestedIfInWhile(t *testing.T) {
	f, tr := flowFixture(t, Config{}, map[string]any{"i": 0})
	test := testOf("t",
		"while|${i} < 3",
		"if|${i} == 1", "say|one",
		"else", "say|x",
		"end",
		"inc|i",
		"end")
	if err := f.engine.Play(context.Background(), test, Options{}); err != nil {
		t.Fatal(err)
	}
	if want := []string{"x", "one", "x"}; !reflect.DeepEqual(tr.said, want) {
		t.Errorf("said = %v, want %v", tr.said, want)
	}
}

func TestPlay_ConditionError(t *testing.T) {
	f, _ := flowFixture(t, Config{}, nil)
	err := f.engine.Play(context.Background(), testOf("t", "if|${missing} > 1", "ok", "end"), Options{})
	var undef *variables.UndefinedVariableError
	if !errors.As(err, &undef) {
		t.Fatalf("err = %v, want UndefinedVariableError", err)
	}
	if st := f.engine.Status(); st.State != StateErrored || st.Failure == nil || st.Failure.Index != 0 {
		t.Errorf("status = %+v", st)
	}
}

func TestPlay_FlowErrorBeforeFirstCommand(t *testing.T) {
	cases := []struct {
		name  string
		cmds  []string
		index int
	}{
		{"stray end", []string{"ok", "end"}, 1},
		{"unclosed while", []string{"while|true", "ok"}, 0},
		{"else after else", []string{"if|true", "else", "else", "end"}, 2},
		{"elseIf outside if", []string{"elseIf|true", "ok"}, 0},
		{"repeatIf without do", []string{"ok", "repeatIf|true"}, 1},
		{"do closed by end", []string{"do", "ok", "end"}, 2},
		{"missing condition", []string{"if|", "ok", "end"}, 0},
		{"missing count", []string{"times", "ok", "end"}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, Config{})
			err := f.engine.Play(context.Background(), testOf("t", tc.cmds...), Options{})
			var fe *FlowError
			if !errors.As(err, &fe) {
				t.Fatalf("err = %v, want *FlowError", err)
			}
			if fe.Index != tc.index {
				t.Errorf("FlowError index = %d, want %d", fe.Index, tc.index)
			}
			if len(f.rec.commands) != 0 {
				t.Errorf("command events emitted: %v", f.rec.sequence())
			}
			if !reflect.DeepEqual(f.rec.states, []State{StateErrored}) {
				t.Errorf("states = %v, want [errored]", f.rec.states)
			}
			f.assertCleanedUpOnce(t)
		})
	}
}

func TestPlay_DisabledBlockCommandsIgnored(t *testing.T) {
	f, tr := flowFixture(t, Config{}, nil)
	if err := f.engine.Play(context.Background(), testOf("t", "//while|true", "say|a", "//end"), Options{}); err != nil {
		t.Fatal(err)
	}
	if want := []string{"a"}; !reflect.DeepEqual(tr.said, want) {
		t.Errorf("said = %v, want %v", tr.said, want)
	}
}

func TestPlay_LoopLimit(t *testing.T) {
	cases := []struct {
		name string
		cmds []string
	}{
		{"while", []string{"while|true", "ok", "end"}},
		{"repeatIf", []string{"do", "ok", "repeatIf|true"}},
		{"times", []string{"times|10", "ok", "end"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, Config{LoopLimit: 5})
			err := f.engine.Play(context.Background(), testOf("t", tc.cmds...), Options{})
			var fe *FlowError
			if !errors.As(err, &fe) || !strings.Contains(fe.Reason, "exceeded 5 iterations") {
				t.Fatalf("err = %v, want loop limit FlowError", err)
			}
			if fe.Index != 0 {
				t.Errorf("FlowError index = %d, want the loop opener", fe.Index)
			}
			if n := succeeded(f.rec.statesOf(1)); n != 5 {
				t.Errorf("body ran %d times, want 5", n)
			}
			if st := f.engine.Status(); st.State != StateErrored {
				t.Errorf("state = %s", st.State)
			}
			f.assertCleanedUpOnce(t)
		})
	}
}

func nestedFixture(t *testing.T, tests ...*model.Test) (*fixture, *transcript) {
	t.Helper()
	byName := make(map[string]*model.Test, len(tests))
	for _, tt := range tests {
		byName[tt.Name] = tt
	}
	return flowFixture(t, Config{
		MaxDepth: 3,
		Tests: func(name string) (*model.Test, bool) {
			tt, ok := byName[name]
			return tt, ok
		},
	}, nil)
}

func TestPlay_RunNested(t *testing.T) {
	outer := testOf("outer", "say|before", "run|inner", "say|after")
	inner := testOf("inner", "say|in", "ok")
	f, tr := nestedFixture(t, outer, inner)

	if err := f.engine.Play(context.Background(), outer, Options{}); err != nil {
		t.Fatal(err)
	}
	if want := []string{"before", "in", "after"}; !reflect.DeepEqual(tr.said, want) {
		t.Errorf("said = %v, want %v", tr.said, want)
	}

	var nested []string
	for _, ev := range f.rec.commands {
		if ev.Depth == 1 {
			if ev.Test != "inner" {
				t.Errorf("depth 1 event for test %q", ev.Test)
			}
			nested = append(nested, string(ev.State))
		}
	}
	want := []string{"pending", "executing", "succeeded", "pending", "executing", "succeeded"}
	if !reflect.DeepEqual(nested, want) {
		t.Errorf("depth 1 states = %v, want %v", nested, want)
	}
	if got := f.rec.statesOf(1); !reflect.DeepEqual(got, []CommandState{CommandPending, CommandExecuting, CommandSucceeded}) {
		t.Errorf("run command states = %v", got)
	}
}

func TestPlay_RunNestedFailureAttributedToInnerCommand(t *testing.T) {
	outer := testOf("outer", "run|inner", "say|after")
	inner := testOf("inner", "ok", "fail|id=x")
	f, tr := nestedFixture(t, outer, inner)

	err := f.engine.Play(context.Background(), outer, Options{})
	var fail *Failure
	if !errors.As(err, &fail) {
		t.Fatalf("err = %v, want *Failure", err)
	}
	if fail.Test != "inner" || fail.Index != 1 || fail.Command.Target != "id=x" {
		t.Errorf("failure = %+v, want inner command 1", fail)
	}
	if len(tr.said) != 0 {
		t.Errorf("outer continued after failure: %v", tr.said)
	}
	if got := f.rec.statesOf(0); !reflect.DeepEqual(got, []CommandState{CommandPending, CommandExecuting, CommandFailed}) {
		t.Errorf("run command states = %v", got)
	}
	if st := f.engine.Status(); st.State != StateErrored || st.Failure == nil || st.Failure.Test != "inner" {
		t.Errorf("status = %+v", st)
	}
}

func TestPlay_RunNestedDepthLimit(t *testing.T) {
	loop := testOf("loop", "run|loop")
	f, _ := nestedFixture(t, loop)
	err := f.engine.Play(context.Background(), loop, Options{})
	if err == nil || !strings.Contains(err.Error(), "nesting deeper than 3") {
		t.Errorf("err = %v, want depth limit", err)
	}
}

func TestPlay_RunUnknownTest(t *testing.T) {
	outer := testOf("outer", "run|ghost")
	f, _ := nestedFixture(t, outer)
	err := f.engine.Play(context.Background(), outer, Options{})
	var fail *Failure
	if !errors.As(err, &fail) || fail.Test != "outer" || fail.Index != 0 {
		t.Fatalf("err = %v, want failure at the run command", err)
	}
	if !strings.Contains(err.Error(), `run "ghost": test not found`) {
		t.Errorf("err = %v", err)
	}
}

// Package governance implements the command allowlist/denylist that limits
// what a project may play, for example keeping script execution out of CI.
package governance

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/ipublishingjp/selenium-ide/pkg/commands"
	"github.com/ipublishingjp/selenium-ide/pkg/model"
	"github.com/ipublishingjp/selenium-ide/pkg/playback"
)

// SourcePolicy attributes the executors that Restrict substitutes for
// denied commands.
const SourcePolicy = "policy"

// Policy holds command name patterns (path.Match syntax, e.g. "execute*").
// Deny takes precedence over allow; an empty allowlist allows everything.
type Policy struct {
	AllowedCommands []string
	DeniedCommands  []string
}

// PolicyError is returned for a command the policy does not permit.
type PolicyError struct {
	Command string
	Test    string // set by CheckTest
	Index   int
	Reason  string
}

func (e *PolicyError) Error() string {
	if e.Test != "" {
		return fmt.Sprintf("test %q: command %d (%s) %s", e.Test, e.Index, e.Command, e.Reason)
	}
	return fmt.Sprintf("command %q %s", e.Command, e.Reason)
}

// Empty reports whether the policy permits every command.
func (p Policy) Empty() bool {
	return len(p.AllowedCommands) == 0 && len(p.DeniedCommands) == 0
}

// Validate rejects malformed patterns.
func (p Policy) Validate() error {
	for _, pat := range append(append([]string(nil), p.AllowedCommands...), p.DeniedCommands...) {
		if _, err := path.Match(pat, ""); err != nil {
			return fmt.Errorf("invalid command pattern %q: %w", pat, err)
		}
	}
	return nil
}

// CheckCommand validates a command name against the allowlist/denylist.
func (p Policy) CheckCommand(command string) error {
	if matchAny(p.DeniedCommands, command) {
		return &PolicyError{Command: command, Reason: "is denied by policy"}
	}
	if len(p.AllowedCommands) > 0 && !matchAny(p.AllowedCommands, command) {
		return &PolicyError{Command: command, Reason: "is not in the policy allowlist"}
	}
	return nil
}

// CheckTest validates every enabled command of test and of the tests it
// invokes with run. Block commands are always permitted. Targets of run that
// are only known after interpolation are left to Restrict.
func (p Policy) CheckTest(project *model.Project, test *model.Test) error {
	if p.Empty() {
		return nil
	}
	return p.checkTest(project, test, map[string]bool{})
}

func (p Policy) checkTest(project *model.Project, test *model.Test, seen map[string]bool) error {
	if seen[test.Name] {
		return nil
	}
	seen[test.Name] = true
	for i, c := range test.Commands {
		if c.Disabled() || playback.IsControlFlow(c.Command) || c.Command == "debugger" {
			continue
		}
		if c.Command == "run" {
			if strings.Contains(c.Target, "${") {
				continue
			}
			if nested, ok := project.TestByName(c.Target); ok {
				if err := p.checkTest(project, nested, seen); err != nil {
					return err
				}
			}
			continue
		}
		if err := p.CheckCommand(c.Command); err != nil {
			pe := err.(*PolicyError)
			pe.Test, pe.Index = test.Name, i
			return pe
		}
	}
	return nil
}

// Restrict returns a copy of table in which every command the policy does
// not permit fails when played.
func (p Policy) Restrict(table *commands.Table) *commands.Table {
	if p.Empty() {
		return table
	}
	reg := commands.NewRegistry()
	for _, name := range table.Names() {
		exec, _ := table.Resolve(name)
		source := table.Source(name)
		if err := p.CheckCommand(name); err != nil {
			exec, source = deny(err), SourcePolicy
		}
		// A fresh registry is never sealed and names are non-empty.
		_ = reg.RegisterFrom(source, name, exec)
	}
	return reg.Seal()
}

func deny(err error) commands.Executor {
	return func(context.Context, *commands.Env, string, string) (commands.Result, error) {
		return commands.Result{}, err
	}
}

func matchAny(patterns []string, name string) bool {
	for _, pat := range patterns {
		if ok, _ := path.Match(pat, name); ok {
			return true
		}
	}
	return false
}

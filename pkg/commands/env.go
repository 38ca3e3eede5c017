package commands

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/ipublishingjp/selenium-ide/pkg/driver"
	"github.com/ipublishingjp/selenium-ide/pkg/model"
	"github.com/ipublishingjp/selenium-ide/pkg/variables"
)

// Executor performs one command. target and value arrive interpolated; the
// recorded text is available as env.Command.
type Executor func(ctx context.Context, env *Env, target, value string) (Result, error)

// Env is what an executor may touch during a run.
type Env struct {
	Driver  *driver.Adapter
	Vars    *variables.Variables
	BaseURL string
	Log     *slog.Logger
	Command model.Command
}

// Result is what an executor reports on success.
type Result struct {
	Message string
}

// AssertionError is a failed check. Soft failures come from verify*
// commands: the command fails but the run goes on.
type AssertionError struct {
	Command  string
	Expected string
	Actual   string
	Soft     bool
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("%s: expected %q but was %q", e.Command, e.Expected, e.Actual)
}

// ResolveURL joins a possibly relative target onto the base URL.
func (e *Env) ResolveURL(target string) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", target, err)
	}
	if u.IsAbs() {
		return target, nil
	}
	if e.BaseURL == "" {
		return "", fmt.Errorf("relative url %q needs a base url", target)
	}
	base, err := url.Parse(e.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url %q: %w", e.BaseURL, err)
	}
	// "/path" stays under the base path instead of replacing it.
	if strings.HasPrefix(target, "/") && base.Path != "" && base.Path != "/" {
		return strings.TrimSuffix(e.BaseURL, "/") + target, nil
	}
	return base.ResolveReference(u).String(), nil
}

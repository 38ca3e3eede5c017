// Package plugins defines the shape of a plugin and runs plugin lifecycle
// hooks. Loading plugin code is left to the embedding program; this package
// receives plugins as values.
package plugins

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ipublishingjp/selenium-ide/pkg/commands"
	"github.com/ipublishingjp/selenium-ide/pkg/driver"
)

// Hook is a lifecycle callback. It receives the run's driver.
type Hook func(ctx context.Context, d *driver.Adapter) error

// Hooks are the lifecycle callbacks a plugin may provide.
type Hooks struct {
	OnBeforePlay Hook
}

// Plugin bundles custom commands and hooks.
type Plugin struct {
	Name     string
	Commands map[string]commands.Executor
	Hooks    Hooks
}

// HookError is a failed lifecycle hook.
type HookError struct {
	Plugin string
	Hook   string
	Err    error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("plugin %s: %s: %v", e.Plugin, e.Hook, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }

// CustomCommands merges the command tables of plugins. When two plugins
// provide the same name, the later plugin wins.
func CustomCommands(plugins []Plugin) map[string]commands.Executor {
	out := make(map[string]commands.Executor)
	for _, p := range plugins {
		maps.Copy(out, p.Commands)
	}
	return out
}

// Register appends each plugin's commands to r in plugin order, so plugin
// commands override built-ins and earlier plugins.
func Register(r *commands.Registry, plugins []Plugin) error {
	for i, p := range plugins {
		name := p.Name
		if name == "" {
			name = fmt.Sprintf("plugin#%d", i)
		}
		if err := r.Merge(name, p.Commands); err != nil {
			return fmt.Errorf("register plugin %s: %w", name, err)
		}
	}
	return nil
}

// HookRunner invokes plugin hooks.
type HookRunner struct {
	plugins []Plugin
	log     *slog.Logger
}

// NewHookRunner returns a runner over plugins. A nil logger discards.
func NewHookRunner(plugins []Plugin, log *slog.Logger) *HookRunner {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &HookRunner{plugins: plugins, log: log}
}

// RunBeforePlay calls every OnBeforePlay hook concurrently and waits for all
// of them. The first failure cancels the context the other hooks receive.
// Failed or panicking hooks are reported as *HookError, in plugin order.
func (h *HookRunner) RunBeforePlay(ctx context.Context, d *driver.Adapter) error {
	errs := make([]error, len(h.plugins))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range h.plugins {
		if p.Hooks.OnBeforePlay == nil {
			continue
		}
		g.Go(func() error {
			start := time.Now()
			err := callHook(gctx, p.Hooks.OnBeforePlay, d)
			h.log.Debug("hook finished", "plugin", p.Name, "hook", "onBeforePlay",
				"duration", time.Since(start), "error", err)
			if err != nil {
				errs[i] = &HookError{Plugin: p.Name, Hook: "onBeforePlay", Err: err}
			}
			return errs[i]
		})
	}
	if err := g.Wait(); err == nil {
		return nil
	}
	return errors.Join(errs...)
}

func callHook(ctx context.Context, hook Hook, d *driver.Adapter) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return hook(ctx, d)
}

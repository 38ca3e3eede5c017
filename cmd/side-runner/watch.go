package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/ipublishingjp/selenium-ide/pkg/model"
	"github.com/ipublishingjp/selenium-ide/pkg/report"
	"github.com/ipublishingjp/selenium-ide/pkg/runner"
)

var (
	watchFilter   string
	watchVars     []string
	watchDebounce time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch [project.side]",
	Short: "Replay tests whenever the project file changes",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	e, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer e.close()

	path, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	vars, err := parseVars(e.cfg, watchVars)
	if err != nil {
		return err
	}
	r, err := runner.New(e.cfg.Runner(vars, false), runner.WithLogger(e.log))
	if err != nil {
		return err
	}
	filter := watchFilter
	if filter == "" {
		filter = e.cfg.Filter
	}

	out := cmd.OutOrStdout()
	play := func() {
		ts := time.Now().Format("15:04:05")
		p, errs := model.ValidateFile(path)
		if model.HasErrors(errs) {
			fmt.Fprintf(out, "%s  ! %s is invalid (%d error(s)); waiting for changes\n", ts, filepath.Base(path), countValidationErrors(errs))
			return
		}
		names, err := runner.SelectTests(p, filter, "")
		if err != nil {
			fmt.Fprintf(out, "%s  ! %v\n", ts, err)
			return
		}
		fmt.Fprintf(out, "%s  playing %d test(s)\n", ts, len(names))
		results, _ := r.RunAll(ctx, p, names, vars)
		if err := report.Write(out, results); err != nil {
			e.log.Warn("write report failed", "error", err)
		}
	}

	return watchFile(ctx, path, watchDebounce, out, play)
}

// watchFile calls fn once, then again after every burst of changes to path
// settles for debounce. It watches the parent directory so that editors
// which replace the file on save are followed.
func watchFile(ctx context.Context, path string, debounce time.Duration, out io.Writer, fn func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	fn()
	fmt.Fprintf(out, "Watching %s (Ctrl+C to stop)\n", path)

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(out, "  ! watch error: %v\n", err)
		case <-fire:
			fire = nil
			fn()
		}
	}
}

func init() {
	watchCmd.Flags().StringVar(&watchFilter, "filter", "", "Regular expression selecting tests by name")
	watchCmd.Flags().StringArrayVar(&watchVars, "var", nil, "Set a variable (key=value), repeatable")
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 300*time.Millisecond, "Quiet period after a change before replaying")
	rootCmd.AddCommand(watchCmd)
}

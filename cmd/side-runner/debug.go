package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ipublishingjp/selenium-ide/pkg/debugger"
	"github.com/ipublishingjp/selenium-ide/pkg/report"
	"github.com/ipublishingjp/selenium-ide/pkg/runner"
	"github.com/ipublishingjp/selenium-ide/pkg/variables"
)

var (
	debugTest   string
	debugBreaks []int
	debugVars   []string
)

var debugCmd = &cobra.Command{
	Use:   "debug [project.side]",
	Short: "Play a test under the interactive debugger",
	Long: `Play a test under the interactive debugger. Playback pauses at the
first breakpoint (default: the first command); use next, continue, print and
break to drive it.`,
	Args: cobra.ExactArgs(1),
	RunE: runDebug,
}

func runDebug(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer e.close()

	p, err := loadProject(args[0])
	if err != nil {
		return err
	}
	if debugTest == "" {
		if len(p.Tests) != 1 {
			return fmt.Errorf("--test is required: project has %d tests", len(p.Tests))
		}
		debugTest = p.Tests[0].Name
	}
	vars, err := parseVars(e.cfg, debugVars)
	if err != nil {
		return err
	}

	rc := e.cfg.Runner(vars, true)
	rc.Breakpoints = debugBreaks
	if len(rc.Breakpoints) == 0 {
		rc.Breakpoints = []int{0}
	}
	d := debugger.New(p)
	r, err := runner.New(rc, runner.WithLogger(e.log), runner.WithObserver(d.Attach))
	if err != nil {
		return err
	}

	// The REPL ends when the run does; leaving the REPL aborts the run.
	replCtx, endREPL := context.WithCancel(ctx)
	defer endREPL()
	runCtx, abortRun := context.WithCancel(ctx)
	defer abortRun()
	type outcome struct {
		res *runner.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := r.Run(runCtx, p, debugTest, variables.NewFrom(vars))
		endREPL()
		done <- outcome{res, err}
	}()

	if err := d.Run(replCtx); err != nil {
		fmt.Fprintf(os.Stderr, "debugger: %v\n", err)
	}
	abortRun()
	o := <-done
	if o.res != nil {
		if err := report.Write(cmd.OutOrStdout(), []*runner.Result{o.res}); err != nil {
			return err
		}
	}
	return o.err
}

func init() {
	debugCmd.Flags().StringVar(&debugTest, "test", "", "Test to play (required when the project has several)")
	debugCmd.Flags().IntSliceVar(&debugBreaks, "break", nil, "Pause before the command at this index, repeatable")
	debugCmd.Flags().StringArrayVar(&debugVars, "var", nil, "Set a variable (key=value), repeatable")
	rootCmd.AddCommand(debugCmd)
}

package runner

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ipublishingjp/selenium-ide/pkg/model"
	"github.com/ipublishingjp/selenium-ide/pkg/variables"
)

// SelectTests returns the names of the tests to run: the tests of suite when
// it is set, otherwise every test, narrowed to names matching filter.
func SelectTests(project *model.Project, filter, suite string) ([]string, error) {
	var re *regexp.Regexp
	if filter != "" {
		var err error
		re, err = regexp.Compile(filter)
		if err != nil {
			return nil, fmt.Errorf("invalid filter: %w", err)
		}
	}

	var candidates []string
	if suite != "" {
		s, ok := project.SuiteByName(suite)
		if !ok {
			return nil, fmt.Errorf("suite %q not found in project %q", suite, project.Name)
		}
		for _, id := range s.Tests {
			t, ok := project.TestByID(id)
			if !ok {
				return nil, fmt.Errorf("suite %q refers to unknown test %q", suite, id)
			}
			candidates = append(candidates, t.Name)
		}
	} else {
		for _, t := range project.Tests {
			candidates = append(candidates, t.Name)
		}
	}

	var out []string
	for _, name := range candidates {
		if re == nil || re.MatchString(name) {
			out = append(out, name)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no tests in project %q match filter %q", project.Name, filter)
	}
	return out, nil
}

// RunAll runs the named tests with up to MaxWorkers in parallel. Each run
// starts from its own copy of vars. Results are returned in the order of
// names; the error joins every failed run.
func (r *Runner) RunAll(ctx context.Context, project *model.Project, names []string, vars map[string]any) ([]*Result, error) {
	return r.runMany(ctx, project, names, vars, r.cfg.MaxWorkers, 0)
}

// RunSuite runs the tests of a suite. Parallel suites use MaxWorkers; the
// suite timeout bounds each test.
func (r *Runner) RunSuite(ctx context.Context, project *model.Project, suite string, vars map[string]any) ([]*Result, error) {
	s, ok := project.SuiteByName(suite)
	if !ok {
		return nil, fmt.Errorf("suite %q not found in project %q", suite, project.Name)
	}
	names, err := SelectTests(project, "", suite)
	if err != nil {
		return nil, err
	}
	workers := 1
	if s.Parallel {
		workers = r.cfg.MaxWorkers
	}
	if s.PersistSession {
		r.log.Warn("persistSession is not supported; every test gets a fresh session", "suite", suite)
	}
	return r.runMany(ctx, project, names, vars, workers, time.Duration(s.Timeout)*time.Second)
}

func (r *Runner) runMany(ctx context.Context, project *model.Project, names []string, vars map[string]any, workers int, timeout time.Duration) ([]*Result, error) {
	results := make([]*Result, len(names))
	errs := make([]error, len(names))

	var g errgroup.Group
	g.SetLimit(max(workers, 1))
	for i, name := range names {
		g.Go(func() error {
			runCtx := ctx
			if timeout > 0 {
				var cancel context.CancelFunc
				runCtx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			results[i], errs[i] = r.Run(runCtx, project, name, variables.NewFrom(vars))
			return nil
		})
	}
	g.Wait()
	return results, errors.Join(errs...)
}

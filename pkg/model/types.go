// Package model defines the side project format: projects, suites, tests and
// the recorded commands they replay.
package model

import (
	"path/filepath"
	"strings"
)

// CommentPrefix marks a command as disabled. The IDE toggles a command off by
// prefixing its name, so "//click" is kept in the file but never dispatched.
const CommentPrefix = "//"

// Command is a single recorded step.
type Command struct {
	ID      string     `json:"id" yaml:"id" jsonschema:"required"`
	Comment string     `json:"comment,omitempty" yaml:"comment,omitempty"`
	Command string     `json:"command" yaml:"command" jsonschema:"required"`
	Target  string     `json:"target" yaml:"target"`
	Targets [][]string `json:"targets,omitempty" yaml:"targets,omitempty"`
	Value   string     `json:"value" yaml:"value"`
}

// Disabled reports whether the command is commented out.
func (c Command) Disabled() bool {
	return strings.HasPrefix(c.Command, CommentPrefix)
}

// String renders the command as command|target|value, omitting empty parts.
func (c Command) String() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{c.Command, c.Target, c.Value} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "|")
}

// Test is an ordered list of commands.
type Test struct {
	ID       string    `json:"id" yaml:"id" jsonschema:"required"`
	Name     string    `json:"name" yaml:"name" jsonschema:"required"`
	Commands []Command `json:"commands" yaml:"commands"`
}

// CommandByID returns the index of the command with the given ID, or -1.
func (t *Test) CommandByID(id string) int {
	for i := range t.Commands {
		if t.Commands[i].ID == id {
			return i
		}
	}
	return -1
}

// Suite groups tests by ID.
type Suite struct {
	ID             string   `json:"id" yaml:"id" jsonschema:"required"`
	Name           string   `json:"name" yaml:"name" jsonschema:"required"`
	PersistSession bool     `json:"persistSession,omitempty" yaml:"persistSession,omitempty"`
	Parallel       bool     `json:"parallel,omitempty" yaml:"parallel,omitempty"`
	Timeout        int      `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Tests          []string `json:"tests" yaml:"tests"`
}

// Project is the top-level .side document.
type Project struct {
	ID      string   `json:"id" yaml:"id" jsonschema:"required"`
	Version string   `json:"version,omitempty" yaml:"version,omitempty"`
	Name    string   `json:"name" yaml:"name" jsonschema:"required"`
	URL     string   `json:"url,omitempty" yaml:"url,omitempty"`
	URLs    []string `json:"urls,omitempty" yaml:"urls,omitempty"`
	Plugins []string `json:"plugins,omitempty" yaml:"plugins,omitempty"`
	Tests   []Test   `json:"tests" yaml:"tests"`
	Suites  []Suite  `json:"suites,omitempty" yaml:"suites,omitempty"`

	// Path is the file the project was loaded from.
	Path string `json:"-" yaml:"-"`
}

// TestByName returns the first test with the given name.
func (p *Project) TestByName(name string) (*Test, bool) {
	for i := range p.Tests {
		if p.Tests[i].Name == name {
			return &p.Tests[i], true
		}
	}
	return nil, false
}

// TestByID returns the test with the given ID.
func (p *Project) TestByID(id string) (*Test, bool) {
	for i := range p.Tests {
		if p.Tests[i].ID == id {
			return &p.Tests[i], true
		}
	}
	return nil, false
}

// SuiteByName returns the suite with the given name.
func (p *Project) SuiteByName(name string) (*Suite, bool) {
	for i := range p.Suites {
		if p.Suites[i].Name == name {
			return &p.Suites[i], true
		}
	}
	return nil, false
}

// PluginPaths returns the project's plugin references with relative paths
// resolved against the project directory. Module names pass through as-is.
func (p *Project) PluginPaths() []string {
	dir := filepath.Dir(p.Path)
	out := make([]string, 0, len(p.Plugins))
	for _, pp := range p.Plugins {
		if strings.HasPrefix(pp, ".") {
			out = append(out, filepath.Join(dir, pp))
			continue
		}
		out = append(out, pp)
	}
	return out
}

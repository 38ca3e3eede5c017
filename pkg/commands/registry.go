// Package commands holds the command registry and the built-in commands.
//
// Registrations are collected in order on a Registry and resolved into an
// immutable Table by Seal. Later registrations for the same name win, which
// is how plugins override built-ins. A sealed Table is safe for concurrent
// use by any number of runs.
package commands

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrSealed is returned when registering on a Registry that was sealed.
var ErrSealed = errors.New("command registry is sealed")

// SourceBuiltin names registrations made by this package.
const SourceBuiltin = "builtin"

// UnknownCommandError is returned when no executor is registered for a name.
type UnknownCommandError struct {
	Name string
}

func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("unknown command %q", e.Name)
}

type registration struct {
	name   string
	source string
	exec   Executor
}

// Registry is an ordered list of registrations.
type Registry struct {
	mu     sync.Mutex
	regs   []registration
	sealed bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// NewBuiltinRegistry returns a registry pre-populated with the built-in
// commands.
func NewBuiltinRegistry() *Registry {
	r := NewRegistry()
	// A fresh registry cannot be sealed.
	_ = r.Merge(SourceBuiltin, Builtins())
	return r
}

// Register appends a registration for name.
func (r *Registry) Register(name string, exec Executor) error {
	return r.RegisterFrom("", name, exec)
}

// RegisterFrom appends a registration for name attributed to source.
func (r *Registry) RegisterFrom(source, name string, exec Executor) error {
	if name == "" {
		return fmt.Errorf("register: empty command name")
	}
	if exec == nil {
		return fmt.Errorf("register %q: nil executor", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("register %q: %w", name, ErrSealed)
	}
	r.regs = append(r.regs, registration{name: name, source: source, exec: exec})
	return nil
}

// Merge appends every command of table, in name order so that the result
// does not depend on map iteration.
func (r *Registry) Merge(source string, table map[string]Executor) error {
	names := make([]string, 0, len(table))
	for name := range table {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := r.RegisterFrom(source, name, table[name]); err != nil {
			return err
		}
	}
	return nil
}

// Seal freezes the registry and resolves it into a Table. Sealing twice
// returns equivalent tables.
func (r *Registry) Seal() *Table {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true

	t := &Table{entries: make(map[string]registration, len(r.regs))}
	for _, reg := range r.regs {
		t.entries[reg.name] = reg
	}
	return t
}

// Sealed reports whether Seal has been called.
func (r *Registry) Sealed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sealed
}

// Table is an immutable name → executor mapping.
type Table struct {
	entries map[string]registration
}

// Resolve returns the executor for name.
func (t *Table) Resolve(name string) (Executor, error) {
	reg, ok := t.entries[name]
	if !ok {
		return nil, &UnknownCommandError{Name: name}
	}
	return reg.exec, nil
}

// Has reports whether name resolves.
func (t *Table) Has(name string) bool {
	_, ok := t.entries[name]
	return ok
}

// Source reports which registration source provided name.
func (t *Table) Source(name string) string {
	return t.entries[name].source
}

// Names returns every resolvable command name, sorted.
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.entries))
	for name := range t.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

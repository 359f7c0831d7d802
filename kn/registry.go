// Package kn implements the special-function dispatch registry (spec.md
// §4.J): the table of kn_* intrinsics a target program calls to interact
// with this core (node identity, memory primitives, transmission,
// scheduling hooks, barriers). Grounded on xreg/bucket.go's
// register-by-name / invoke-by-name convention, generalized from "xaction
// kind string -> Renewable" to "function name -> Func".
package kn

import (
	"sync"

	"github.com/pkg/errors"
)

// Args is the argument list passed to a special function. Every argument
// must already have evaluated to a concrete value by the time it reaches
// here (spec.md §7's ErrNonConstArg covers the case where it hasn't) —
// interface{} rather than a fixed numeric type because arguments differ in
// shape across functions (node ids, byte counts, symbol names).
type Args []interface{}

func (a Args) Int64(i int) int64 {
	return a[i].(int64)
}

func (a Args) Uint64(i int) uint64 {
	return uint64(a[i].(int64))
}

func (a Args) String(i int) string {
	return a[i].(string)
}

// Func is one special function's implementation.
type Func func(ctx *Context, args Args) (interface{}, error)

// registry is the name -> Func table; one instance per run (spec.md §5),
// not a package-level singleton, since every run gets its own Context
// wiring and tests must not leak registrations across runs.
type Registry struct {
	mu  sync.Mutex
	fns map[string]Func
}

func NewRegistry() *Registry {
	r := &Registry{fns: make(map[string]Func)}
	registerBuiltins(r)
	return r
}

// Register adds or replaces the implementation of name. Safe to call after
// NewRegistry to override a builtin for testing.
func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fns[name] = fn
}

// ErrUnknownFunction is returned by Call for a name with no registered Func.
var ErrUnknownFunction = errors.New("kn: unknown special function")

// Call dispatches name with args against ctx.
func (r *Registry) Call(ctx *Context, name string, args Args) (interface{}, error) {
	r.mu.Lock()
	fn, ok := r.fns[name]
	r.mu.Unlock()
	if !ok {
		return nil, errors.Wrap(ErrUnknownFunction, name)
	}
	return fn(ctx, args)
}

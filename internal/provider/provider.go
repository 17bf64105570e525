// Package provider defines the narrow contract between the pipeline
// engine and the systems that actually perform generation work. The
// engine sees operations only through Execute; protocols, credentials
// and formats stay behind the implementations.
package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/contentpipe/contentpipe/internal/chain"
)

// ErrNotRegistered marks a lookup for a (type, model) pair no operation
// was registered for.
var ErrNotRegistered = errors.New("operation not registered")

// Request carries one step's resolved inputs to an operation.
type Request struct {
	StepName string
	Type     chain.StepType
	Model    string
	Input    interface{}
	Params   map[string]interface{}
}

// Result is what an operation hands back on success. Cost is USD; zero
// means the caller should price the step from the catalog instead.
type Result struct {
	Output   interface{}
	Cost     float64
	Metadata map[string]interface{}
}

// Operation executes one resolved step. Implementations must honor ctx
// cancellation and return an error rather than panic on failure.
type Operation interface {
	Execute(ctx context.Context, req Request) (*Result, error)
}

// OperationFunc adapts a function to the Operation interface.
type OperationFunc func(ctx context.Context, req Request) (*Result, error)

// Execute calls f.
func (f OperationFunc) Execute(ctx context.Context, req Request) (*Result, error) {
	return f(ctx, req)
}

// Registry maps (type, model) pairs to operations. Safe for concurrent
// use; lookups during execution race only with setup if callers register
// after starting runs, so registration belongs in wiring code.
type Registry struct {
	mu  sync.RWMutex
	ops map[string]Operation
}

// NewRegistry creates an empty operation registry.
func NewRegistry() *Registry {
	return &Registry{ops: make(map[string]Operation)}
}

func opKey(t chain.StepType, model string) string {
	return string(t) + "/" + model
}

// Register binds an operation to a (type, model) pair, replacing any
// previous binding.
func (r *Registry) Register(t chain.StepType, model string, op Operation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops[opKey(t, model)] = op
}

// Get returns the operation for a (type, model) pair.
func (r *Registry) Get(t chain.StepType, model string) (Operation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	op, ok := r.ops[opKey(t, model)]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotRegistered, t, model)
	}
	return op, nil
}

// Pairs lists every registered type/model key, sorted.
func (r *Registry) Pairs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.ops))
	for k := range r.ops {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

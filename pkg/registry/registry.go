// Package registry is the static, in-process worker function registry:
// the setup YAML's `function:` names are resolved here into concrete
// worker instances before a run starts. This realizes the static-registry
// half of the original's pluggable worker-function design — goroutines
// rather than re-exec'd OS processes provide the isolation boundary
// between replicas, matching how the rest of this module uses
// golang.org/x/sync/errgroup instead of process supervision.
package registry

import (
	"context"
	"fmt"

	"github.com/JulianBaader/mimocorb2/pkg/worker"
)

// Runnable is satisfied by worker.Importer, worker.Exporter,
// worker.Filter, worker.Processor, and worker.Observer, which all expose
// Run(ctx) error. worker.IsAliveProbe does not: its Run also takes a poll
// interval and a report callback.
type Runnable interface {
	Run(ctx context.Context) error
}

// Builder constructs one replica of a registered worker function, given
// its wiring and its setup-file config block.
type Builder func(io *worker.BufferIO) (Runnable, error)

// Registry resolves function names to Builders.
type Registry struct {
	builders map[string]Builder
}

func New() *Registry {
	return &Registry{builders: make(map[string]Builder)}
}

// Register adds a named builder. Registering the same name twice is a
// programming error and panics, matching the teacher's fail-fast stance
// on misconfigured server state (see server/main.go's log.Fatalf calls).
func (r *Registry) Register(name string, b Builder) {
	if _, exists := r.builders[name]; exists {
		panic(fmt.Sprintf("registry: function %q already registered", name))
	}
	r.builders[name] = b
}

// Build resolves name and constructs one replica.
func (r *Registry) Build(name string, io *worker.BufferIO) (Runnable, error) {
	b, ok := r.builders[name]
	if !ok {
		return nil, fmt.Errorf("registry: unknown function %q", name)
	}
	return b(io)
}

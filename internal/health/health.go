// Package health aggregates the subsystem probes behind the server's
// /health endpoint. The server registers one checker per dependency it
// runs on — the dataset catalog, and the report database when one is
// configured — and CheckAll folds their verdicts into the endpoint's
// overall status.
package health

import (
	"context"
	"sync"
	"time"
)

// checkTimeout bounds a single probe so one stuck subsystem (a hung
// database ping) cannot wedge the health endpoint.
const checkTimeout = 5 * time.Second

// Status is one subsystem's verdict.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Checker probes one subsystem.
type Checker func(ctx context.Context) Status

// Registry collects subsystem checkers and runs them on demand.
type Registry struct {
	mu     sync.RWMutex
	probes []probe
}

type probe struct {
	name string
	run  Checker
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a named subsystem checker. Probes run in registration
// order.
func (r *Registry) Register(name string, run Checker) {
	r.mu.Lock()
	r.probes = append(r.probes, probe{name: name, run: run})
	r.mu.Unlock()
}

// CheckAll probes every registered subsystem, each under its own
// timeout, and reports whether all of them are healthy plus the
// individual verdicts in registration order. A probe that leaves the
// status name blank gets its registration name filled in.
func (r *Registry) CheckAll(ctx context.Context) (bool, []Status) {
	r.mu.RLock()
	probes := append([]probe(nil), r.probes...)
	r.mu.RUnlock()

	healthy := true
	statuses := make([]Status, 0, len(probes))
	for _, p := range probes {
		pctx, cancel := context.WithTimeout(ctx, checkTimeout)
		st := p.run(pctx)
		cancel()

		if st.Name == "" {
			st.Name = p.name
		}
		if !st.Healthy {
			healthy = false
		}
		statuses = append(statuses, st)
	}
	return healthy, statuses
}

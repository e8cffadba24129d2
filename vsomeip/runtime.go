// Package vsomeip is the root package: the process-wide [Runtime] handle and
// the per-application [Application] proxy that together expose the CORE's
// public surface, plus [RoutingHost], the routing manager side that owns a
// host's sockets and wires the routing, discovery, event, and policy
// packages together.
//
// Grounded on the teacher's top-level constructor shape
// (responder.New(ctx, opts...) (*Responder, error), Close() error,
// OnProbe/OnAnnounce callback registration) and on Design Notes §9's
// requirement that "global mutable state... becomes an explicit Runtime
// value created at process start and passed by handle to every application
// and endpoint" rather than a process-wide singleton/factory.
package vsomeip

import (
	"fmt"
	"sync"

	"github.com/someip-go/vsomeip/obs"
)

// Runtime is the process-wide handle applications are created from. It
// holds no routing state of its own (that lives in [RoutingHost] or, for an
// embedded routing host, inside the same process's [RoutingHost] value) —
// it only tracks which local names have been handed out, mirroring the
// original runtime's create_application bookkeeping.
type Runtime struct {
	mu     sync.Mutex
	named  map[string]struct{}
	logger obs.SLogger
}

// New returns a fresh [Runtime]. Call once per process; pass the result to
// every [Application] and [RoutingHost] created in that process.
func New() *Runtime {
	return &Runtime{named: make(map[string]struct{}), logger: obs.DefaultSLogger()}
}

// SetLogger overrides the runtime's default [obs.SLogger], inherited by
// applications and hosts created afterward that do not set their own.
func (r *Runtime) SetLogger(l obs.SLogger) { r.logger = l }

// reserveName claims name for one application, refusing a second caller for
// the same name within this runtime (the VSOMEIP_APPLICATION_NAME /
// create_application("") default-name collision case).
func (r *Runtime) reserveName(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.named[name]; taken {
		return obs.New(obs.KindConfigurationError, "vsomeip.Runtime.reserveName", fmt.Errorf("application name %q already created in this runtime", name))
	}
	r.named[name] = struct{}{}
	return nil
}

func (r *Runtime) releaseName(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.named, name)
}

package objstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/complykit/objstore/logger"
)

// State tracks a Registry through provider activation.
type State int

const (
	// StateUnregistered: no factory is known for the configured provider.
	StateUnregistered State = iota
	// StateRegistered: a factory exists but nothing is constructed.
	StateRegistered
	// StateConstructed: the factory produced a provider; Initialize ran.
	StateConstructed
	// StateHealthy: the construction health check passed.
	StateHealthy
	// StateActive: the provider is the process-wide active provider.
	StateActive
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUnregistered:
		return "unregistered"
	case StateRegistered:
		return "registered"
	case StateConstructed:
		return "constructed"
	case StateHealthy:
		return "healthy"
	case StateActive:
		return "active"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Registry owns the activation lifecycle of the single active provider.
// Construct one at process start and hand it (or the provider it
// activates) to every collaborator that needs storage; there is no
// package-level active provider.
//
// Exactly one provider is active at a time. Activation is fatal on a
// failed health check: the process must not start serving with a storage
// backend it cannot reach.
type Registry struct {
	mu     sync.Mutex
	active Provider
	state  State
	log    *logger.Logger
}

// NewRegistry creates a registry with no active provider.
func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		state: StateUnregistered,
		log:   log.WithComponent("objstore.registry"),
	}
}

// Activate constructs, initializes, and health-checks the configured
// provider, then assigns it as the registry's active provider. It fails
// with CONFIGURATION_ERROR when construction or initialization fails and
// with PROVIDER_UNAVAILABLE when the health check does, leaving no
// provider active in either case.
func (r *Registry) Activate(ctx context.Context, cfg Config) (Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateActive {
		return nil, NewConfigurationError(string(cfg.Provider), "a provider is already active")
	}

	cfg.ApplyDefaults()
	if _, ok := lookupFactory(cfg.Provider); !ok {
		r.state = StateUnregistered
		return nil, NewConfigurationError(string(cfg.Provider), "provider is not registered; import its adapter package")
	}
	r.state = StateRegistered

	p, err := New(cfg, r.log)
	if err != nil {
		return nil, err
	}

	if err := p.Initialize(ctx); err != nil {
		return nil, err
	}
	r.state = StateConstructed
	r.log.Info("provider initialized", logger.Fields(logger.FieldProvider, p.Name()))

	if !p.HealthCheck(ctx) {
		return nil, NewProviderUnavailable(p.Name(), "construction health check failed; refusing to serve with an unreachable backend")
	}
	r.state = StateHealthy

	r.active = p
	r.state = StateActive
	r.log.Info("provider active", logger.Fields(logger.FieldProvider, p.Name()))
	return p, nil
}

// Active returns the active provider, or nil before successful Activate.
func (r *Registry) Active() Provider {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// State returns the registry's current lifecycle state.
func (r *Registry) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Deactivate drops the active provider, returning the registry to its
// initial state. Used by lifecycle shutdown.
func (r *Registry) Deactivate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = nil
	r.state = StateUnregistered
}

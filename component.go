package objstore

import (
	"context"
	"fmt"

	"github.com/complykit/objstore/logger"
)

// HealthStatus is a component health state.
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusUnhealthy HealthStatus = "unhealthy"
)

// Health reports a component's current health.
type Health struct {
	Name    string
	Status  HealthStatus
	Message string
}

// Component wraps a Registry for lifecycle management by a service
// bootstrap: Start activates the configured provider, Stop releases it,
// Health runs the cheap backend probe.
type Component struct {
	cfg      Config
	registry *Registry
	log      *logger.Logger
}

// NewComponent creates a storage component around the given registry.
func NewComponent(cfg Config, registry *Registry, log *logger.Logger) *Component {
	return &Component{
		cfg:      cfg,
		registry: registry,
		log:      log.WithComponent("storage"),
	}
}

// Name returns the component name.
func (c *Component) Name() string { return "storage" }

// Provider returns the active provider, or nil if not started.
func (c *Component) Provider() Provider {
	return c.registry.Active()
}

// Start activates the configured storage provider. Failure here must
// prevent the dependent service from reaching a ready state; there is no
// degraded storage mode.
func (c *Component) Start(ctx context.Context) error {
	if _, err := c.registry.Activate(ctx, c.cfg); err != nil {
		return fmt.Errorf("storage start: %w", err)
	}
	return nil
}

// Stop releases the active provider.
func (c *Component) Stop(_ context.Context) error {
	c.registry.Deactivate()
	return nil
}

// Health probes the active provider.
func (c *Component) Health(ctx context.Context) Health {
	p := c.registry.Active()
	if p == nil {
		return Health{Name: c.Name(), Status: StatusUnhealthy, Message: "storage not initialized"}
	}
	if !p.HealthCheck(ctx) {
		return Health{Name: c.Name(), Status: StatusUnhealthy, Message: fmt.Sprintf("health probe failed (provider=%s)", p.Name())}
	}
	return Health{Name: c.Name(), Status: StatusHealthy}
}

package objstore

import (
	"sync"

	"github.com/complykit/objstore/logger"
)

// Factory constructs an un-initialized Provider from configuration. The
// registry calls Initialize and HealthCheck afterwards; a factory must
// not touch the network.
type Factory func(cfg Config, log *logger.Logger) (Provider, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[ProviderType]Factory)
)

// RegisterFactory registers a backend factory for the given provider
// type. Adapter packages call this from an init function, so a backend's
// SDK is only linked into the process when its package is imported.
func RegisterFactory(t ProviderType, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[t] = f
}

func lookupFactory(t ProviderType) (Factory, bool) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	f, ok := factories[t]
	return f, ok
}

// New constructs a Provider for the configured backend without
// initializing it. Most callers want Registry.Activate instead, which
// also runs Initialize and the construction health check.
//
// Ensure the desired adapter package has been imported (e.g.
// _ "github.com/complykit/objstore/local") so its factory is registered.
func New(cfg Config, log *logger.Logger) (Provider, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, NewConfigurationError(string(cfg.Provider), err.Error())
	}

	f, ok := lookupFactory(cfg.Provider)
	if !ok {
		return nil, NewConfigurationError(string(cfg.Provider), "provider is not registered; import its adapter package")
	}
	return f(cfg, log.WithComponent("objstore"))
}

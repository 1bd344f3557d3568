package platforms

import (
	"sync"

	"github.com/doorstep-ai/platform/pkg/common/logger"
	"github.com/doorstep-ai/platform/pkg/common/models"
)

// Registry is the process-wide platform -> adapter lookup. Construction is
// lazy and idempotent: repeated lookups return the same instance. It is an
// explicit table rather than a hidden singleton so tests can install fakes
// per platform and reset between cases.
type Registry struct {
	mu       sync.RWMutex
	adapters map[models.Platform]Adapter
	build    func(models.Platform) (Adapter, bool)
}

// NewRegistry builds a registry backed by the given constructor. The
// constructor runs at most once per platform.
func NewRegistry(build func(models.Platform) (Adapter, bool)) *Registry {
	return &Registry{
		adapters: make(map[models.Platform]Adapter),
		build:    build,
	}
}

// Get resolves a platform key to its adapter, constructing it on first use.
func (r *Registry) Get(raw string) (Adapter, error) {
	platform, err := models.ParsePlatform(raw)
	if err != nil {
		return nil, &UnsupportedPlatformError{Platform: raw}
	}
	return r.GetPlatform(platform)
}

func (r *Registry) GetPlatform(platform models.Platform) (Adapter, error) {
	r.mu.RLock()
	adapter, ok := r.adapters[platform]
	r.mu.RUnlock()
	if ok {
		return adapter, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if adapter, ok := r.adapters[platform]; ok {
		return adapter, nil
	}

	adapter, ok = r.build(platform)
	if !ok {
		return nil, &UnsupportedPlatformError{Platform: string(platform)}
	}
	r.adapters[platform] = adapter

	logger.WithFields(map[string]interface{}{
		"platform":          platform,
		"adapter":           adapter.ID(),
		"supports_oauth":    adapter.SupportsOAuth(),
		"supports_webhooks": adapter.SupportsWebhooks(),
	}).Info("adapter registered")

	return adapter, nil
}

// All constructs and returns every supported adapter.
func (r *Registry) All() []Adapter {
	out := make([]Adapter, 0, len(models.AllPlatforms()))
	for _, p := range models.AllPlatforms() {
		if adapter, err := r.GetPlatform(p); err == nil {
			out = append(out, adapter)
		}
	}
	return out
}

// Override installs a specific adapter instance, replacing any constructed
// one. Test hook.
func (r *Registry) Override(platform models.Platform, adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[platform] = adapter
}

// Reset drops all constructed instances. Test hook.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters = make(map[models.Platform]Adapter)
}

package staterequest

import "sync"

// Registry is a process-wide keyed singleton store. The first caller to
// acquire a given key wins: subsequent acquisitions with a different
// factory for the same key return the already-built instance rather than
// rebuilding it. One keyed lookup table with a lazy "acquire-or-create"
// call, generalized to any value type rather than a single fixed kind of
// collaborator.
type Registry[T any] struct {
	mu        sync.Mutex
	instances map[string]T
}

// NewRegistry builds an empty Registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{instances: make(map[string]T)}
}

// GetOrCreate returns the existing instance for key, or builds one with
// factory and stores it if key is unseen. factory is not called at all
// when key already has an instance — "first configuration wins".
func (r *Registry[T]) GetOrCreate(key string, factory func() T) T {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.instances[key]; ok {
		return existing
	}
	created := factory()
	r.instances[key] = created
	return created
}

// Get returns the instance for key, if any.
func (r *Registry[T]) Get(key string) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.instances[key]
	return v, ok
}

// Reset removes the instance registered under key, if any, so the next
// GetOrCreate for that key rebuilds from scratch.
func (r *Registry[T]) Reset(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.instances, key)
}

// ResetAll clears every instance in the registry.
func (r *Registry[T]) ResetAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances = make(map[string]T)
}

// Process-wide registries for the two stateful collaborators that get
// allows callers to share across requests instead of constructing a new
// one per call.
var (
	circuitBreakerRegistry = NewRegistry[*CircuitBreaker]()
	cacheRegistry          = NewRegistry[*Cache]()
)

// GetOrCreateCircuitBreaker acquires the shared breaker registered under
// key, building it with cfg if this is the first acquisition.
func GetOrCreateCircuitBreaker(key string, cfg CircuitBreakerConfig) *CircuitBreaker {
	return circuitBreakerRegistry.GetOrCreate(key, func() *CircuitBreaker {
		return NewCircuitBreaker(cfg)
	})
}

// ResetCircuitBreakerRegistry is the explicit reset entrypoint for the
// breaker registry; it does not affect breakers held directly by callers.
func ResetCircuitBreakerRegistry() {
	circuitBreakerRegistry.ResetAll()
}

// GetOrCreateCache acquires the shared cache registered under key,
// building it with opts if this is the first acquisition.
func GetOrCreateCache(key string, opts CacheOptions) *Cache {
	return cacheRegistry.GetOrCreate(key, func() *Cache {
		return NewCache(opts)
	})
}

// ResetCacheRegistry is the explicit reset entrypoint for the cache
// registry; it does not affect caches held directly by callers.
func ResetCacheRegistry() {
	cacheRegistry.ResetAll()
}

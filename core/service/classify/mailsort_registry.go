package classify

import (
	"fmt"
	"sync"

	"mailsort_server/core/domain"
	"mailsort_server/pkg/logger"
)

// =============================================================================
// Stage Registry
// =============================================================================

// StageFactory builds one stage. Factories run at most once per process; the
// registry caches both the stage and a construction failure, so a stage that
// failed to come up is not retried within the process lifetime.
type StageFactory func() (Stage, error)

// Registry lazily constructs classification stages on first use and shares
// the instances across all callers. Safe for concurrent use.
type Registry struct {
	mu        sync.Mutex
	factories map[domain.StageType]StageFactory
	entries   map[domain.StageType]*registryEntry
	log       *logger.Logger
}

type registryEntry struct {
	once  sync.Once
	stage Stage
	err   error
}

// NewRegistry creates a registry over the given stage factories.
func NewRegistry(factories map[domain.StageType]StageFactory, log *logger.Logger) *Registry {
	if log == nil {
		log = logger.Default()
	}
	return &Registry{
		factories: factories,
		entries:   make(map[domain.StageType]*registryEntry),
		log:       log,
	}
}

// Get returns the shared stage instance for a type, constructing it on first
// call. Concurrent callers for the same type block on a single construction.
func (r *Registry) Get(t domain.StageType) (Stage, error) {
	r.mu.Lock()
	entry, ok := r.entries[t]
	if !ok {
		entry = &registryEntry{}
		r.entries[t] = entry
	}
	factory := r.factories[t]
	r.mu.Unlock()

	if factory == nil {
		return nil, fmt.Errorf("no factory registered for stage %s", t)
	}

	entry.once.Do(func() {
		entry.stage, entry.err = factory()
		if entry.err != nil {
			r.log.WithError(entry.err).WithField("stage", t.String()).Error("stage construction failed")
		} else {
			r.log.WithField("stage", t.String()).Info("stage initialized")
		}
	})

	return entry.stage, entry.err
}

// Registered returns the stage types this registry can construct, in cascade
// order.
func (r *Registry) Registered() []domain.StageType {
	var out []domain.StageType
	for _, t := range domain.CascadeOrder {
		if _, ok := r.factories[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

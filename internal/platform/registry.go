package platform

import (
	"sync"

	"github.com/djlord-it/easy-post/internal/domain"
)

// Registry maps platform tags to publishers. Adding a platform means
// registering a Publisher; nothing else branches on the tag.
type Registry struct {
	mu         sync.RWMutex
	publishers map[domain.Platform]Publisher
}

func NewRegistry(publishers ...Publisher) *Registry {
	r := &Registry{publishers: make(map[domain.Platform]Publisher)}
	for _, p := range publishers {
		r.Register(p)
	}
	return r
}

// Register adds or replaces the publisher for p.Platform().
func (r *Registry) Register(p Publisher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publishers[p.Platform()] = p
}

func (r *Registry) Publisher(platform domain.Platform) (Publisher, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.publishers[platform]
	return p, ok
}

// MetricsFetcher returns the metrics capability of the platform's publisher.
func (r *Registry) MetricsFetcher(platform domain.Platform) (MetricsFetcher, bool) {
	p, ok := r.Publisher(platform)
	if !ok {
		return nil, false
	}
	f, ok := p.(MetricsFetcher)
	return f, ok
}

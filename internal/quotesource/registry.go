package quotesource

import "sync"

type Registry struct {
	mu      sync.RWMutex
	sources map[SourceID]Source
}

func NewRegistry() *Registry {
	return &Registry{sources: map[SourceID]Source{}}
}

func (r *Registry) Register(s Source) {
	r.mu.Lock()
	r.sources[SourceID(s.Name())] = s
	r.mu.Unlock()
}

func (r *Registry) Get(id SourceID) Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sources[id]
}

// Enabled returns the registered sources among ids, in ids order.
// Unknown ids are skipped.
func (r *Registry) Enabled(ids []string) []Source {
	out := make([]Source, 0, len(ids))
	for _, id := range ids {
		if s := r.Get(SourceID(id)); s != nil {
			out = append(out, s)
		}
	}
	return out
}

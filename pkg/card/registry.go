package card

import (
	"sort"
	"sync"
)

// Registry tracks the live sessions of one card.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Processor
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Processor)}
}

func (r *Registry) Add(p *Processor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[p.ID.String()] = p
}

func (r *Registry) Remove(p *Processor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, p.ID.String())
}

func (r *Registry) Get(id string) (*Processor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.sessions[id]
	return p, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// List returns session infos ordered by start time.
func (r *Registry) List() []Info {
	r.mu.RLock()
	infos := make([]Info, 0, len(r.sessions))
	for _, p := range r.sessions {
		infos = append(infos, p.Info())
	}
	r.mu.RUnlock()
	sort.Slice(infos, func(i, j int) bool { return infos[i].Started.Before(infos[j].Started) })
	return infos
}

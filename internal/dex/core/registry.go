package core

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Registry resolves classic-AMM routers by their router address.
type Registry struct {
	mu     sync.RWMutex
	venues map[common.Address]*Venue
}

func NewRegistry() *Registry {
	return &Registry{venues: make(map[common.Address]*Venue, 4)}
}

func (r *Registry) Register(v *Venue) {
	r.mu.Lock()
	r.venues[v.Router] = v
	r.mu.Unlock()
}

func (r *Registry) Get(router common.Address) *Venue {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.venues[router]
}

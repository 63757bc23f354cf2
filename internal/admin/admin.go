package admin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// ErrAuthorization is the error kind for calls the caller is not allowed to
// make. The executor reports it under the same kind.
var (
	ErrAuthorization = errors.New("authorization failed")
	ErrNotOwner      = fmt.Errorf("%w: caller is not the owner", ErrAuthorization)
)

// Store persists router approvals.
type Store interface {
	LoadApprovals(ctx context.Context) (map[common.Address]bool, error)
	SaveApproval(ctx context.Context, router common.Address, approved bool) error
}

// Controls is the administration context handed to the executor: the owner
// identity, the pause flag and the approved classic-AMM routers. Executions
// only read it.
type Controls struct {
	owner common.Address
	store Store
	log   *zap.Logger

	mu       sync.RWMutex
	paused   bool
	approved map[common.Address]bool
}

func New(ctx context.Context, owner common.Address, store Store, log *zap.Logger) (*Controls, error) {
	approved, err := store.LoadApprovals(ctx)
	if err != nil {
		return nil, fmt.Errorf("admin: load approvals: %w", err)
	}
	if approved == nil {
		approved = make(map[common.Address]bool)
	}
	return &Controls{owner: owner, store: store, log: log.Named("admin"), approved: approved}, nil
}

func (c *Controls) Owner() common.Address { return c.owner }

func (c *Controls) Paused() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.paused
}

func (c *Controls) RouterApproved(router common.Address) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.approved[router]
}

// ApprovedRouters lists approved routers in address order.
func (c *Controls) ApprovedRouters() []common.Address {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]common.Address, 0, len(c.approved))
	for r, ok := range c.approved {
		if ok {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

func (c *Controls) Pause(caller common.Address) error   { return c.setPaused(caller, true) }
func (c *Controls) Unpause(caller common.Address) error { return c.setPaused(caller, false) }

func (c *Controls) setPaused(caller common.Address, paused bool) error {
	if caller != c.owner {
		return fmt.Errorf("%w: %s", ErrNotOwner, caller.Hex())
	}
	c.mu.Lock()
	c.paused = paused
	c.mu.Unlock()
	c.log.Info("pause toggled", zap.Bool("paused", paused))
	return nil
}

func (c *Controls) SetRouterApproval(ctx context.Context, caller, router common.Address, approved bool) error {
	if caller != c.owner {
		return fmt.Errorf("%w: %s", ErrNotOwner, caller.Hex())
	}
	if err := c.store.SaveApproval(ctx, router, approved); err != nil {
		return fmt.Errorf("admin: save approval %s: %w", router.Hex(), err)
	}
	c.mu.Lock()
	if approved {
		c.approved[router] = true
	} else {
		delete(c.approved, router)
	}
	c.mu.Unlock()
	c.log.Info("router approval set", zap.String("router", router.Hex()), zap.Bool("approved", approved))
	return nil
}

// MemoryStore keeps approvals in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	approved map[common.Address]bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{approved: make(map[common.Address]bool)}
}

func (m *MemoryStore) LoadApprovals(context.Context) (map[common.Address]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[common.Address]bool, len(m.approved))
	for k, v := range m.approved {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryStore) SaveApproval(_ context.Context, router common.Address, approved bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if approved {
		m.approved[router] = true
	} else {
		delete(m.approved, router)
	}
	return nil
}

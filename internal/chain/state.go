package chain

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Native is the pseudo-token under which native currency balances are kept.
var Native = common.Address{}

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNegativeAmount      = errors.New("negative amount")
)

// State holds token balances per holder. Every mutation is journaled so that a
// snapshot can be reverted exactly, which is what makes a multi-step execution
// all-or-nothing.
type State struct {
	mu       sync.RWMutex
	balances map[common.Address]map[common.Address]*big.Int // token -> holder -> amount
	now      func() time.Time

	journal        []balanceChange
	validRevisions []revision
	nextRevisionID int
}

type balanceChange struct {
	token, holder common.Address
	prev          *big.Int // nil when the slot did not exist
}

type revision struct {
	id           int
	journalIndex int
}

func NewState() *State {
	return &State{
		balances: make(map[common.Address]map[common.Address]*big.Int, 16),
		now:      time.Now,
	}
}

// SetClock overrides the block clock, mostly for tests.
func (s *State) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// Now is the current block timestamp.
func (s *State) Now() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.now()
}

func (s *State) BalanceOf(token, holder common.Address) *big.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return new(big.Int).Set(s.balanceLocked(token, holder))
}

// Balances returns every non-zero balance of holder.
func (s *State) Balances(holder common.Address) map[common.Address]*big.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[common.Address]*big.Int)
	for token, holders := range s.balances {
		if b, ok := holders[holder]; ok && b.Sign() > 0 {
			out[token] = new(big.Int).Set(b)
		}
	}
	return out
}

// Tokens lists every token that has ever carried a balance.
func (s *State) Tokens() []common.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]common.Address, 0, len(s.balances))
	for t := range s.balances {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

// Mint credits amount to holder out of thin air. Used to seed simulations.
func (s *State) Mint(token, holder common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(token, holder, new(big.Int).Add(s.balanceLocked(token, holder), amount))
	return nil
}

func (s *State) Transfer(token, from, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fromBal := s.balanceLocked(token, from)
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s of %s, needs %s", ErrInsufficientBalance, from.Hex(), fromBal, token.Hex(), amount)
	}
	if from == to || amount.Sign() == 0 {
		return nil
	}
	s.setLocked(token, from, new(big.Int).Sub(fromBal, amount))
	s.setLocked(token, to, new(big.Int).Add(s.balanceLocked(token, to), amount))
	return nil
}

// Snapshot returns an identifier for the current revision of the state.
func (s *State) Snapshot() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextRevisionID
	s.nextRevisionID++
	s.validRevisions = append(s.validRevisions, revision{id: id, journalIndex: len(s.journal)})
	return id
}

// RevertToSnapshot undoes every change made since the given snapshot.
func (s *State) RevertToSnapshot(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.revisionIndex(id)
	if idx < 0 {
		panic(fmt.Errorf("revision id %v cannot be reverted", id))
	}
	snapshot := s.validRevisions[idx].journalIndex

	for i := len(s.journal) - 1; i >= snapshot; i-- {
		ch := s.journal[i]
		if ch.prev == nil {
			delete(s.balances[ch.token], ch.holder)
			continue
		}
		s.balances[ch.token][ch.holder] = ch.prev
	}
	s.journal = s.journal[:snapshot]
	s.validRevisions = s.validRevisions[:idx]
}

// DiscardSnapshot drops the snapshot and keeps its changes. Once the outermost
// snapshot is gone the journal is released.
func (s *State) DiscardSnapshot(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.revisionIndex(id)
	if idx < 0 {
		return
	}
	s.validRevisions = s.validRevisions[:idx]
	if len(s.validRevisions) == 0 {
		s.journal = s.journal[:0]
	}
}

func (s *State) revisionIndex(id int) int {
	idx := sort.Search(len(s.validRevisions), func(i int) bool {
		return s.validRevisions[i].id >= id
	})
	if idx == len(s.validRevisions) || s.validRevisions[idx].id != id {
		return -1
	}
	return idx
}

func (s *State) balanceLocked(token, holder common.Address) *big.Int {
	if b, ok := s.balances[token][holder]; ok {
		return b
	}
	return new(big.Int)
}

func (s *State) setLocked(token, holder common.Address, v *big.Int) {
	holders, ok := s.balances[token]
	if !ok {
		holders = make(map[common.Address]*big.Int, 8)
		s.balances[token] = holders
	}
	prev, existed := holders[holder]
	ch := balanceChange{token: token, holder: holder}
	if existed {
		ch.prev = prev
	}
	// unjournaled writes are fine when nothing can be reverted
	if len(s.validRevisions) > 0 {
		s.journal = append(s.journal, ch)
	}
	holders[holder] = v
}

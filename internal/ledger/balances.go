// Package ledger implements the virtual-account balance book: generic
// keyed balance stores (spec §4.D) composed per-user into wallets and
// dispatched by asset kind (spec §4.E).
package ledger

import (
	"fmt"

	"github.com/chain-fusion/harmonize/internal/types"
)

// FlatStore is a balance book keyed directly by K (e.g. a ChainID), used
// for native-currency balances.
type FlatStore[K comparable] struct {
	balances map[K]types.Amount
}

// NewFlatStore returns an empty flat balance store.
func NewFlatStore[K comparable]() *FlatStore[K] {
	return &FlatStore[K]{balances: make(map[K]types.Amount)}
}

// Get returns the balance at k, or the zero Amount if absent.
func (s *FlatStore[K]) Get(k K) types.Amount {
	return s.balances[k]
}

// Credit adds amount to the balance at k, creating the entry if absent.
// Fails with ErrArithmeticOverflow, leaving the store unchanged.
func (s *FlatStore[K]) Credit(k K, amount types.Amount) (types.Amount, error) {
	next, err := s.balances[k].Add(amount)
	if err != nil {
		return types.Amount{}, err
	}
	s.balances[k] = next
	return next, nil
}

// Debit subtracts amount from the balance at k. Fails with
// ErrInsufficientBalance if the key is absent or underfunded. A balance
// that reaches zero is pruned from the store.
func (s *FlatStore[K]) Debit(k K, amount types.Amount) (types.Amount, error) {
	cur, ok := s.balances[k]
	if !ok {
		return types.Amount{}, types.ErrInsufficientBalance
	}
	next, err := cur.Sub(amount)
	if err != nil {
		return types.Amount{}, err
	}
	if next.IsZero() {
		delete(s.balances, k)
	} else {
		s.balances[k] = next
	}
	return next, nil
}

// Transfer atomically moves amount from s[k] to to[k]. If the credit
// side fails, the debit is reversed before the error is returned.
func (s *FlatStore[K]) Transfer(to *FlatStore[K], k K, amount types.Amount) error {
	if _, err := s.Debit(k, amount); err != nil {
		return err
	}
	if _, err := to.Credit(k, amount); err != nil {
		if _, rollback := s.Credit(k, amount); rollback != nil {
			panic(fmt.Sprintf("BUG: failed to roll back debit of %s for key %v: %v", amount, k, rollback))
		}
		return err
	}
	return nil
}

// IsEmpty reports whether the store holds no non-zero balances.
func (s *FlatStore[K]) IsEmpty() bool { return len(s.balances) == 0 }

// GroupedStore is a two-level balance book keyed by (Group, Key), used
// for per-chain ERC-20 balances (Group=ChainID, Key=TokenAddress). Empty
// inner groups are pruned automatically.
type GroupedStore[G comparable, K comparable] struct {
	groups map[G]*FlatStore[K]
}

// NewGroupedStore returns an empty grouped balance store.
func NewGroupedStore[G comparable, K comparable]() *GroupedStore[G, K] {
	return &GroupedStore[G, K]{groups: make(map[G]*FlatStore[K])}
}

// GroupKey identifies a single balance slot in a grouped store.
type GroupKey[G comparable, K comparable] struct {
	Group G
	Key   K
}

func (s *GroupedStore[G, K]) Get(k GroupKey[G, K]) types.Amount {
	g, ok := s.groups[k.Group]
	if !ok {
		return types.Amount{}
	}
	return g.Get(k.Key)
}

func (s *GroupedStore[G, K]) Credit(k GroupKey[G, K], amount types.Amount) (types.Amount, error) {
	g, ok := s.groups[k.Group]
	if !ok {
		g = NewFlatStore[K]()
		s.groups[k.Group] = g
	}
	next, err := g.Credit(k.Key, amount)
	if err != nil {
		if g.IsEmpty() {
			delete(s.groups, k.Group)
		}
		return types.Amount{}, err
	}
	return next, nil
}

func (s *GroupedStore[G, K]) Debit(k GroupKey[G, K], amount types.Amount) (types.Amount, error) {
	g, ok := s.groups[k.Group]
	if !ok {
		return types.Amount{}, types.ErrInsufficientBalance
	}
	next, err := g.Debit(k.Key, amount)
	if err != nil {
		return types.Amount{}, err
	}
	if g.IsEmpty() {
		delete(s.groups, k.Group)
	}
	return next, nil
}

func (s *GroupedStore[G, K]) Transfer(to *GroupedStore[G, K], k GroupKey[G, K], amount types.Amount) error {
	if _, err := s.Debit(k, amount); err != nil {
		return err
	}
	if _, err := to.Credit(k, amount); err != nil {
		if _, rollback := s.Credit(k, amount); rollback != nil {
			panic(fmt.Sprintf("BUG: failed to roll back debit of %s for key %v: %v", amount, k, rollback))
		}
		return err
	}
	return nil
}

func (s *GroupedStore[G, K]) IsEmpty() bool { return len(s.groups) == 0 }

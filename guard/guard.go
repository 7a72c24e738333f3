// Copyright (C) 2019-2025, Lux Industries Inc All rights reserved.
// See the file LICENSE for licensing terms.

// Package guard detects that the chain or signer a long running operation
// started under has been replaced before the operation commits its result.
package guard

import (
	"sync"

	"github.com/luxfi/geth/common"
)

// Snapshot is the settled chain and signer at one point in time.
type Snapshot struct {
	ChainID uint64
	Signer  common.Address
	// Settled is false until the first connection completes.
	Settled bool
}

// Guard holds the most recently settled chain and signer. It is only
// advanced by completed connection or network-switch events, never by
// transient connecting states.
type Guard struct {
	lock    sync.RWMutex
	current Snapshot
}

func New() *Guard {
	return &Guard{}
}

// Settle records a completed connection change.
func (g *Guard) Settle(chainID uint64, signer common.Address) {
	g.lock.Lock()
	defer g.lock.Unlock()

	g.current = Snapshot{
		ChainID: chainID,
		Signer:  signer,
		Settled: true,
	}
}

// Snapshot returns the current settled state.
func (g *Guard) Snapshot() Snapshot {
	g.lock.RLock()
	defer g.lock.RUnlock()

	return g.current
}

// SameChain reports whether [chainID] is still the settled chain.
func (g *Guard) SameChain(chainID uint64) bool {
	s := g.Snapshot()
	return s.Settled && s.ChainID == chainID
}

// SameSigner reports whether [signer] is still the settled signer.
func (g *Guard) SameSigner(signer common.Address) bool {
	s := g.Snapshot()
	return s.Settled && s.Signer == signer
}

// Stale reports whether the state captured in [s] has been superseded.
func (g *Guard) Stale(s Snapshot) bool {
	return !g.SameChain(s.ChainID) || !g.SameSigner(s.Signer)
}

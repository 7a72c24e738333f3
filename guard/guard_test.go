// Copyright (C) 2019-2025, Lux Industries Inc All rights reserved.
// See the file LICENSE for licensing terms.

package guard

import (
	"testing"

	"github.com/luxfi/geth/common"
	"github.com/stretchr/testify/require"
)

var (
	alice = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	bob   = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
)

func TestGuardUnsettled(t *testing.T) {
	g := New()
	require.False(t, g.SameChain(0))
	require.False(t, g.SameSigner(common.Address{}))
	require.True(t, g.Stale(Snapshot{}))
}

func TestGuardTransitions(t *testing.T) {
	g := New()
	g.Settle(31337, alice)
	start := g.Snapshot()

	tests := []struct {
		name    string
		chainID uint64
		signer  common.Address
		stale   bool
	}{
		{name: "unchanged", chainID: 31337, signer: alice, stale: false},
		{name: "chain switched", chainID: 11155111, signer: alice, stale: true},
		{name: "account switched", chainID: 31337, signer: bob, stale: true},
		{name: "switched back", chainID: 31337, signer: alice, stale: false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			g.Settle(test.chainID, test.signer)
			require.Equal(t, test.stale, g.Stale(start))
			require.Equal(t, !test.stale, g.SameChain(start.ChainID) && g.SameSigner(start.Signer))
		})
	}
}

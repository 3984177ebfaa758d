package ledger

import (
	"github.com/chain-fusion/harmonize/internal/types"
)

// Wallet holds one user's balances across both asset kinds. Rather than
// the source's type-tag-keyed heterogeneous map, each kind gets its own
// concretely-typed store (spec §9 "Polymorphic asset dispatch").
type Wallet struct {
	native *FlatStore[types.ChainID]
	erc20  *GroupedStore[types.ChainID, types.TokenAddress]
}

func newWallet() *Wallet {
	return &Wallet{
		native: NewFlatStore[types.ChainID](),
		erc20:  NewGroupedStore[types.ChainID, types.TokenAddress](),
	}
}

// Erc20Key addresses one ERC-20 balance slot within a wallet.
type Erc20Key = GroupKey[types.ChainID, types.TokenAddress]

func (w *Wallet) nativeBalance(chain types.ChainID) types.Amount {
	return w.native.Get(chain)
}

func (w *Wallet) erc20Balance(key Erc20Key) types.Amount {
	return w.erc20.Get(key)
}

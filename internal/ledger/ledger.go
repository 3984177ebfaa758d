package ledger

import (
	"sync"

	"github.com/chain-fusion/harmonize/internal/types"
)

// Ledger is the per-user composition of balance stores across asset
// kinds (spec §4.E). Every method takes the ledger's own mutex, which is
// what serialises ledger access: Engine's transfer and withdrawal paths
// call the ledger without holding Engine's mutex.
type Ledger struct {
	mu      sync.Mutex
	wallets map[types.UserID]*Wallet
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{wallets: make(map[types.UserID]*Wallet)}
}

func (l *Ledger) walletOrCreate(user types.UserID) *Wallet {
	w, ok := l.wallets[user]
	if !ok {
		w = newWallet()
		l.wallets[user] = w
	}
	return w
}

func (l *Ledger) wallet(user types.UserID) (*Wallet, error) {
	w, ok := l.wallets[user]
	if !ok {
		return nil, types.ErrWalletNotFound
	}
	return w, nil
}

// CreditNative credits a user's native balance on chain, creating the
// wallet lazily.
func (l *Ledger) CreditNative(user types.UserID, chain types.ChainID, amount types.Amount) (types.Amount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.walletOrCreate(user).native.Credit(chain, amount)
}

// DebitNative debits a user's native balance on chain. Fails with
// ErrWalletNotFound if the user has never been credited.
func (l *Ledger) DebitNative(user types.UserID, chain types.ChainID, amount types.Amount) (types.Amount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, err := l.wallet(user)
	if err != nil {
		return types.Amount{}, err
	}
	return w.native.Debit(chain, amount)
}

// TransferNative debits from and credits to atomically; on credit
// failure the debit is reversed. The sum of from+to under chain is
// invariant across a successful call.
func (l *Ledger) TransferNative(from, to types.UserID, chain types.ChainID, amount types.Amount) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	src, err := l.wallet(from)
	if err != nil {
		return err
	}
	dst := l.walletOrCreate(to)
	return src.native.Transfer(dst.native, chain, amount)
}

// BalanceNative returns the user's native balance on chain, or zero if
// the user or the chain entry is absent.
func (l *Ledger) BalanceNative(user types.UserID, chain types.ChainID) types.Amount {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.wallets[user]
	if !ok {
		return types.Amount{}
	}
	return w.nativeBalance(chain)
}

// CreditErc20 credits a user's ERC-20 balance, creating the wallet
// lazily.
func (l *Ledger) CreditErc20(user types.UserID, key Erc20Key, amount types.Amount) (types.Amount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.walletOrCreate(user).erc20.Credit(key, amount)
}

// DebitErc20 debits a user's ERC-20 balance.
func (l *Ledger) DebitErc20(user types.UserID, key Erc20Key, amount types.Amount) (types.Amount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, err := l.wallet(user)
	if err != nil {
		return types.Amount{}, err
	}
	return w.erc20.Debit(key, amount)
}

// TransferErc20 debits from and credits to atomically, compensating on
// credit failure.
func (l *Ledger) TransferErc20(from, to types.UserID, key Erc20Key, amount types.Amount) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	src, err := l.wallet(from)
	if err != nil {
		return err
	}
	dst := l.walletOrCreate(to)
	return src.erc20.Transfer(dst.erc20, key, amount)
}

// BalanceErc20 returns the user's ERC-20 balance, or zero if absent.
func (l *Ledger) BalanceErc20(user types.UserID, key Erc20Key) types.Amount {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.wallets[user]
	if !ok {
		return types.Amount{}
	}
	return w.erc20Balance(key)
}

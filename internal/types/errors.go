package types

import "errors"

// Error taxonomy shared by the balance store, ledger, scraper and
// withdrawal pipeline (spec §7). Names are indicative; callers should
// match with errors.Is.
var (
	ErrArithmeticOverflow    = errors.New("arithmetic overflow")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrWalletNotFound        = errors.New("wallet not found")
	ErrAccessDenied          = errors.New("access denied")
	ErrInconsistentResult    = errors.New("inconsistent multi-provider result")
	ErrRPCCallRejected       = errors.New("rpc call rejected")
	ErrFeeHistoryMissing     = errors.New("fee history missing")
	ErrSignerFailure         = errors.New("signer failure")
	ErrRecoveryParityMissing = errors.New("recovery parity not found")
	ErrNonceTooLow           = errors.New("nonce too low")
	ErrNonceTooHigh          = errors.New("nonce too high")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrNoTransaction         = errors.New("no transaction hash returned")
	ErrNoReceipt             = errors.New("no receipt")
	ErrInconsistentReceipt   = errors.New("inconsistent receipt")
	ErrFailedToGetReceipt    = errors.New("failed to get receipt")
	ErrEventDecodeFailed     = errors.New("event decode failed")
)

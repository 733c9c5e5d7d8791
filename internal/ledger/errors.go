package ledger

import "errors"

var (
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrOverflow               = errors.New("arithmetic overflow")
	ErrAccountInUse           = errors.New("account already in use")
	ErrAccountDataTooSmall    = errors.New("account data too small")
	ErrNotTokenAccount        = errors.New("account is not a token account")
	ErrNotMint                = errors.New("account is not a mint")
	ErrMintMismatch           = errors.New("token account mint mismatch")
	ErrOwnerMismatch          = errors.New("token owner does not match")
	ErrAccountFrozen          = errors.New("token account is frozen")
	ErrInsufficientDelegation = errors.New("insufficient delegated amount")
	ErrTransactionFinished    = errors.New("transaction already finished")
)

package ledger

import (
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
)

const (
	TokenAccountSize = 165
	MintSize         = 82
)

// Account is one keyed record. Token and Mint carry the decoded state of
// accounts owned by the token program; Data carries everything else.
type Account struct {
	Lamports uint64
	Owner    solana.PublicKey
	Data     []byte
	Token    *token.Account
	Mint     *token.Mint
	// Closed marks an account whose lamports were swept and data zeroed.
	Closed bool
}

// HasData reports whether the account holds any initialized state.
func (a *Account) HasData() bool {
	return len(a.Data) > 0 || a.Token != nil || a.Mint != nil
}

// DataLen is the allocated size used for rent calculations.
func (a *Account) DataLen() int {
	switch {
	case a.Token != nil:
		return TokenAccountSize
	case a.Mint != nil:
		return MintSize
	default:
		return len(a.Data)
	}
}

func (a *Account) IsTokenAccount() bool {
	return a.Token != nil
}

// Clone returns a deep copy.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	out := &Account{
		Lamports: a.Lamports,
		Owner:    a.Owner,
		Closed:   a.Closed,
	}
	if a.Data != nil {
		out.Data = append([]byte(nil), a.Data...)
	}
	if a.Token != nil {
		tokenCopy := *a.Token
		if a.Token.Delegate != nil {
			delegate := *a.Token.Delegate
			tokenCopy.Delegate = &delegate
		}
		if a.Token.CloseAuthority != nil {
			closeAuthority := *a.Token.CloseAuthority
			tokenCopy.CloseAuthority = &closeAuthority
		}
		if a.Token.IsNative != nil {
			isNative := *a.Token.IsNative
			tokenCopy.IsNative = &isNative
		}
		out.Token = &tokenCopy
	}
	if a.Mint != nil {
		mintCopy := *a.Mint
		if a.Mint.MintAuthority != nil {
			authority := *a.Mint.MintAuthority
			mintCopy.MintAuthority = &authority
		}
		if a.Mint.FreezeAuthority != nil {
			authority := *a.Mint.FreezeAuthority
			mintCopy.FreezeAuthority = &authority
		}
		out.Mint = &mintCopy
	}
	return out
}

// purgeable accounts are dropped on commit, mirroring the runtime's
// garbage collection of zero-lamport accounts.
func (a *Account) purgeable() bool {
	return a.Lamports == 0 && !a.HasData() && !a.Closed
}

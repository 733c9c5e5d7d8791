package ledger

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
)

// CreateMint initializes a mint at key. Used by fixtures and tooling.
func (tx *Tx) CreateMint(payer, key solana.PublicKey, decimals uint8, authority solana.PublicKey) error {
	if existing := tx.Load(key); existing.HasData() {
		return fmt.Errorf("create mint %s: %w", key, ErrAccountInUse)
	}
	if err := tx.fundRentExempt(payer, key, MintSize); err != nil {
		return fmt.Errorf("create mint %s: %w", key, err)
	}
	mintAuthority := authority
	acct := tx.Mut(key)
	acct.Owner = solana.TokenProgramID
	acct.Closed = false
	acct.Mint = &token.Mint{
		MintAuthority: &mintAuthority,
		Decimals:      decimals,
		IsInitialized: true,
	}
	return nil
}

// CreateTokenAccount initializes a token account for mint held by owner.
func (tx *Tx) CreateTokenAccount(payer, key, mint, owner solana.PublicKey) error {
	if existing := tx.Load(key); existing.HasData() {
		return fmt.Errorf("create token account %s: %w", key, ErrAccountInUse)
	}
	if mintAccount := tx.Load(mint); mintAccount.Mint == nil {
		return fmt.Errorf("create token account %s for %s: %w", key, mint, ErrNotMint)
	}
	if err := tx.fundRentExempt(payer, key, TokenAccountSize); err != nil {
		return fmt.Errorf("create token account %s: %w", key, err)
	}
	acct := tx.Mut(key)
	acct.Owner = solana.TokenProgramID
	acct.Closed = false
	acct.Token = &token.Account{
		Mint:  mint,
		Owner: owner,
		State: token.Initialized,
	}
	return nil
}

// CreateAssociatedTokenAccount derives the wallet's associated token account
// for mint and initializes it when missing.
func (tx *Tx) CreateAssociatedTokenAccount(payer, wallet, mint solana.PublicKey) (solana.PublicKey, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(wallet, mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive associated token account: %w", err)
	}
	if tx.Load(ata).IsTokenAccount() {
		return ata, nil
	}
	if err := tx.CreateTokenAccount(payer, ata, mint, wallet); err != nil {
		return solana.PublicKey{}, err
	}
	return ata, nil
}

// TokenAccount returns the decoded token state at key.
func (tx *Tx) TokenAccount(key solana.PublicKey) (token.Account, error) {
	acct := tx.Load(key)
	if acct.Token == nil {
		return token.Account{}, fmt.Errorf("%s: %w", key, ErrNotTokenAccount)
	}
	return *acct.Token, nil
}

func (tx *Tx) MintAccount(key solana.PublicKey) (token.Mint, error) {
	acct := tx.Load(key)
	if acct.Mint == nil {
		return token.Mint{}, fmt.Errorf("%s: %w", key, ErrNotMint)
	}
	return *acct.Mint, nil
}

func (tx *Tx) MintTo(mint, destination solana.PublicKey, amount uint64) error {
	mintAccount, err := tx.MintAccount(mint)
	if err != nil {
		return err
	}
	dst, err := tx.TokenAccount(destination)
	if err != nil {
		return err
	}
	if !dst.Mint.Equals(mint) {
		return fmt.Errorf("mint to %s: %w", destination, ErrMintMismatch)
	}
	if mintAccount.Supply > ^uint64(0)-amount || dst.Amount > ^uint64(0)-amount {
		return fmt.Errorf("mint %d to %s: %w", amount, destination, ErrOverflow)
	}
	tx.Mut(mint).Mint.Supply += amount
	tx.Mut(destination).Token.Amount += amount
	return nil
}

// TokenTransfer moves amount tokens from source to destination. authority must be
// the source owner or its delegate; a delegate's allowance is consumed and the
// delegate is cleared once it reaches zero.
func (tx *Tx) TokenTransfer(source, destination, authority solana.PublicKey, amount uint64) error {
	src, err := tx.TokenAccount(source)
	if err != nil {
		return err
	}
	dst, err := tx.TokenAccount(destination)
	if err != nil {
		return err
	}
	if !src.Mint.Equals(dst.Mint) {
		return fmt.Errorf("transfer %s -> %s: %w", source, destination, ErrMintMismatch)
	}
	if src.State == token.Frozen || dst.State == token.Frozen {
		return fmt.Errorf("transfer %s -> %s: %w", source, destination, ErrAccountFrozen)
	}
	if src.Amount < amount {
		return fmt.Errorf("transfer %d tokens from %s: %w", amount, source, ErrInsufficientFunds)
	}

	viaDelegate := false
	switch {
	case src.Owner.Equals(authority):
	case src.Delegate != nil && src.Delegate.Equals(authority):
		if src.DelegatedAmount < amount {
			return fmt.Errorf("transfer %d tokens from %s: %w", amount, source, ErrInsufficientDelegation)
		}
		viaDelegate = true
	default:
		return fmt.Errorf("transfer from %s signed by %s: %w", source, authority, ErrOwnerMismatch)
	}

	if source.Equals(destination) {
		return nil
	}
	if dst.Amount > ^uint64(0)-amount {
		return fmt.Errorf("transfer %d tokens to %s: %w", amount, destination, ErrOverflow)
	}

	srcAccount := tx.Mut(source).Token
	srcAccount.Amount -= amount
	if viaDelegate {
		srcAccount.DelegatedAmount -= amount
		if srcAccount.DelegatedAmount == 0 {
			srcAccount.Delegate = nil
		}
	}
	tx.Mut(destination).Token.Amount += amount
	return nil
}

// Approve sets delegate as spender of up to amount tokens of source.
func (tx *Tx) Approve(source, delegate, owner solana.PublicKey, amount uint64) error {
	src, err := tx.TokenAccount(source)
	if err != nil {
		return err
	}
	if !src.Owner.Equals(owner) {
		return fmt.Errorf("approve on %s by %s: %w", source, owner, ErrOwnerMismatch)
	}
	spender := delegate
	acct := tx.Mut(source).Token
	acct.Delegate = &spender
	acct.DelegatedAmount = amount
	return nil
}

// Revoke clears any delegate of source. authority may be the owner or the delegate itself.
func (tx *Tx) Revoke(source, authority solana.PublicKey) error {
	src, err := tx.TokenAccount(source)
	if err != nil {
		return err
	}
	isDelegate := src.Delegate != nil && src.Delegate.Equals(authority)
	if !src.Owner.Equals(authority) && !isDelegate {
		return fmt.Errorf("revoke on %s by %s: %w", source, authority, ErrOwnerMismatch)
	}
	acct := tx.Mut(source).Token
	acct.Delegate = nil
	acct.DelegatedAmount = 0
	return nil
}

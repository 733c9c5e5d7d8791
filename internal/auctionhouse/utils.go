package auctionhouse

import (
	"fmt"
	"math/big"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"

	"github.com/coldbell/auctionhouse/backend/internal/ledger"
	"github.com/coldbell/auctionhouse/backend/internal/pda"
)

// Signers lists the keys that signed the enclosing transaction.
type Signers []solana.PublicKey

func (s Signers) Has(key solana.PublicKey) bool {
	for _, signer := range s {
		if signer.Equals(key) {
			return true
		}
	}
	return false
}

func assertKeysEqual(got, want solana.PublicKey) error {
	if !got.Equals(want) {
		return fmt.Errorf("got %s want %s: %w", got, want, ErrPublicKeyMismatch)
	}
	return nil
}

// assertDerivation recomputes the canonical address for seeds and compares it with key.
func assertDerivation(programID, key solana.PublicKey, seeds [][]byte) (uint8, error) {
	derived, bump, err := solana.FindProgramAddress(seeds, programID)
	if err != nil {
		return 0, fmt.Errorf("derive %s: %w", key, ErrDerivationMismatch)
	}
	if !derived.Equals(key) {
		return 0, ErrDerivationMismatch
	}
	return bump, nil
}

// assertDerivationWithBump checks key against seeds plus a caller-declared bump.
func assertDerivationWithBump(programID, key solana.PublicKey, seeds [][]byte, bump uint8) error {
	derived, err := pda.CreateWithBump(programID, seeds, bump)
	if err != nil || !derived.Equals(key) {
		return fmt.Errorf("account %s with bump %d: %w", key, bump, ErrDerivationMismatch)
	}
	return nil
}

func assertSigner(signers Signers, key solana.PublicKey) error {
	if !signers.Has(key) {
		return fmt.Errorf("%s did not sign: %w", key, ErrConstraintSigner)
	}
	return nil
}

// assertIsATA requires account to be owner's associated token account for mint.
func assertIsATA(tx *ledger.Tx, account, owner, mint solana.PublicKey) (token.Account, error) {
	acct := tx.Load(account)
	if acct.Token == nil {
		return token.Account{}, fmt.Errorf("%s is not a token account: %w", account, ErrUninitializedAccount)
	}
	if !acct.Owner.Equals(solana.TokenProgramID) {
		return token.Account{}, fmt.Errorf("%s: %w", account, ErrIncorrectOwner)
	}
	if !acct.Token.Owner.Equals(owner) {
		return token.Account{}, fmt.Errorf("%s held by %s: %w", account, acct.Token.Owner, ErrIncorrectOwner)
	}
	if err := assertKeysEqual(acct.Token.Mint, mint); err != nil {
		return token.Account{}, err
	}
	ata, _, err := pda.DeriveAssociatedTokenAccount(owner, mint)
	if err != nil {
		return token.Account{}, err
	}
	if err := assertKeysEqual(account, ata); err != nil {
		return token.Account{}, err
	}
	return *acct.Token, nil
}

// feePayer resolves who funds account creation for an entry point. The auction
// house fee account pays when the authority signed, otherwise the wallet pays
// unless the house requires sign-off.
func feePayer(house *AuctionHouse, authoritySigned bool, signers Signers, wallet solana.PublicKey) (solana.PublicKey, error) {
	switch {
	case authoritySigned:
		return house.AuctionHouseFeeAccount, nil
	case signers.Has(wallet):
		if house.RequiresSignOff {
			return solana.PublicKey{}, ErrCannotTakeActionWithoutSignOff
		}
		return wallet, nil
	default:
		return solana.PublicKey{}, ErrNoValidSignerPresent
	}
}

func checkedAdd(a, b uint64) (uint64, error) {
	if a > ^uint64(0)-b {
		return 0, ErrNumericalOverflow
	}
	return a + b, nil
}

func checkedSub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrNumericalOverflow
	}
	return a - b, nil
}

func checkedMul(a, b uint64) (uint64, error) {
	if a != 0 && b > ^uint64(0)/a {
		return 0, ErrNumericalOverflow
	}
	return a * b, nil
}

// mulDivFloor computes a*b/denominator in 128-bit space.
func mulDivFloor(a, b, denominator uint64) (uint64, error) {
	if denominator == 0 {
		return 0, ErrNumericalOverflow
	}
	product := new(big.Int).Mul(new(big.Int).SetUint64(a), new(big.Int).SetUint64(b))
	product.Quo(product, new(big.Int).SetUint64(denominator))
	if !product.IsUint64() {
		return 0, ErrNumericalOverflow
	}
	return product.Uint64(), nil
}

func isNativeMint(mint solana.PublicKey) bool {
	return mint.Equals(solana.SolMint)
}

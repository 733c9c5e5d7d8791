package ledger

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Transfer moves lamports between two accounts.
func (tx *Tx) Transfer(from, to solana.PublicKey, amount uint64) error {
	if amount == 0 || from.Equals(to) {
		return nil
	}
	src := tx.Load(from)
	if src.Lamports < amount {
		return fmt.Errorf("transfer %d lamports from %s: %w", amount, from, ErrInsufficientFunds)
	}
	dst := tx.Load(to)
	if dst.Lamports > ^uint64(0)-amount {
		return fmt.Errorf("transfer %d lamports to %s: %w", amount, to, ErrOverflow)
	}
	tx.Mut(from).Lamports -= amount
	tx.Mut(to).Lamports += amount
	return nil
}

// CreateAccount allocates space bytes for key, funded to the rent-exempt
// minimum by payer. Lamports already sitting at the address count toward it.
func (tx *Tx) CreateAccount(payer, key solana.PublicKey, space int, owner solana.PublicKey) error {
	if existing := tx.Load(key); existing.HasData() {
		return fmt.Errorf("create account %s: %w", key, ErrAccountInUse)
	}
	if err := tx.fundRentExempt(payer, key, space); err != nil {
		return fmt.Errorf("create account %s: %w", key, err)
	}
	acct := tx.Mut(key)
	acct.Owner = owner
	acct.Data = make([]byte, space)
	acct.Closed = false
	return nil
}

// WriteData copies data into the start of an allocated account.
func (tx *Tx) WriteData(key solana.PublicKey, data []byte) error {
	acct := tx.Load(key)
	if len(acct.Data) < len(data) {
		return fmt.Errorf("write %d bytes into %s (%d allocated): %w", len(data), key, len(acct.Data), ErrAccountDataTooSmall)
	}
	copy(tx.Mut(key).Data, data)
	return nil
}

// Close zeroes the account's data and sweeps its lamports to destination.
func (tx *Tx) Close(key, destination solana.PublicKey) error {
	acct := tx.Load(key)
	if err := tx.Transfer(key, destination, acct.Lamports); err != nil {
		return fmt.Errorf("close %s: %w", key, err)
	}
	closed := tx.Mut(key)
	closed.Data = nil
	closed.Token = nil
	closed.Mint = nil
	closed.Owner = solana.SystemProgramID
	closed.Closed = true
	return nil
}

// Airdrop credits lamports out of thin air. Used to seed fixtures.
func (tx *Tx) Airdrop(key solana.PublicKey, amount uint64) error {
	acct := tx.Load(key)
	if acct.Lamports > ^uint64(0)-amount {
		return fmt.Errorf("airdrop to %s: %w", key, ErrOverflow)
	}
	tx.Mut(key).Lamports += amount
	return nil
}

func (tx *Tx) fundRentExempt(payer, key solana.PublicKey, space int) error {
	required := tx.Rent().MinimumBalance(space)
	current := tx.Load(key).Lamports
	if current >= required {
		return nil
	}
	return tx.Transfer(payer, key, required-current)
}

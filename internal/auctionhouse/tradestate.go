package auctionhouse

import (
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/coldbell/auctionhouse/backend/internal/ledger"
	"github.com/coldbell/auctionhouse/backend/internal/pda"
)

type TradeStateStatus uint8

const (
	TradeStateUninitialized TradeStateStatus = iota
	TradeStateActive
	TradeStateRetired
)

func (s TradeStateStatus) String() string {
	switch s {
	case TradeStateActive:
		return "active"
	case TradeStateRetired:
		return "retired"
	default:
		return "uninitialized"
	}
}

// TradeState is a buyer or seller commitment. Only Active states carry a bump.
type TradeState struct {
	Address  solana.PublicKey
	Status   TradeStateStatus
	Bump     uint8
	Lamports uint64
}

func (t TradeState) Active() bool {
	return t.Status == TradeStateActive
}

// LoadTradeState classifies the account at address. A present but zeroed
// buffer counts as retired, never as active with bump 0.
func LoadTradeState(tx *ledger.Tx, address solana.PublicKey) TradeState {
	acct := tx.Load(address)
	state := TradeState{Address: address, Lamports: acct.Lamports}
	switch {
	case len(acct.Data) > 0 && acct.Data[0] != 0:
		state.Status = TradeStateActive
		state.Bump = acct.Data[0]
	case acct.Closed || len(acct.Data) > 0:
		state.Status = TradeStateRetired
	default:
		state.Status = TradeStateUninitialized
	}
	return state
}

// createTradeState activates the commitment at address. An already active
// state is left untouched so resubmitting the same order is a no-op.
func createTradeState(tx *ledger.Tx, programID, payer, address solana.PublicKey, bump uint8) (bool, error) {
	state := LoadTradeState(tx, address)
	if state.Active() {
		return false, nil
	}
	if bump == 0 {
		return false, fmt.Errorf("trade state %s: %w", address, ErrBumpSeedNotInHashMap)
	}
	if len(tx.Load(address).Data) == 0 {
		if err := tx.CreateAccount(payer, address, TradeStateSize, programID); err != nil {
			return false, fmt.Errorf("create trade state %s: %w", address, err)
		}
	} else if err := fundTradeState(tx, payer, address); err != nil {
		return false, err
	}
	if err := tx.WriteData(address, []byte{bump}); err != nil {
		return false, err
	}
	return true, nil
}

func fundTradeState(tx *ledger.Tx, payer, address solana.PublicKey) error {
	required := tx.Rent().MinimumBalance(TradeStateSize)
	current := tx.Load(address).Lamports
	if current >= required {
		return nil
	}
	return tx.Transfer(payer, address, required-current)
}

// retireTradeState zeroes the commitment and refunds its rent to feePayer.
func retireTradeState(tx *ledger.Tx, address, feePayer solana.PublicKey) error {
	return tx.Close(address, feePayer)
}

// assertValidTradeState accepts address if it derives from either the private
// or the public seed list, but not both, and the derivation's bump equals bump.
func assertValidTradeState(programID, address solana.PublicKey, key pda.TradeStateKey, bump uint8) (uint8, error) {
	privateKey := key
	publicKey := key.AsPublic()

	privateBump, privateErr := assertDerivation(programID, address, privateKey.Seeds())
	publicBump, publicErr := assertDerivation(programID, address, publicKey.Seeds())

	var canonical uint8
	switch {
	case !key.Public() && privateErr == nil && publicErr != nil:
		canonical = privateBump
	case publicErr == nil && (privateErr != nil || key.Public()):
		canonical = publicBump
	default:
		return 0, fmt.Errorf("trade state %s: %w", address, ErrDerivationMismatch)
	}
	if canonical != bump {
		return 0, fmt.Errorf("trade state %s bump %d, expected %d: %w", address, bump, canonical, ErrBumpSeedNotInHashMap)
	}
	return canonical, nil
}

package auctionhouse

import (
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/coldbell/auctionhouse/backend/internal/ledger"
	"github.com/coldbell/auctionhouse/backend/internal/pda"
)

// ensureEscrowExists lazily creates a wallet's escrow. Native escrow is a
// system account at the escrow address funded to the rent-exempt minimum;
// token escrow is a token account owned by the auction house.
func ensureEscrowExists(tx *ledger.Tx, payer, escrow, auctionHouse solana.PublicKey, house *AuctionHouse) error {
	if house.IsNative() {
		if tx.Load(escrow).IsTokenAccount() {
			return fmt.Errorf("escrow %s: %w", escrow, ErrExpectedSolAccount)
		}
		if tx.Exists(escrow) {
			return nil
		}
		return tx.Transfer(payer, escrow, tx.Rent().MinimumBalance(0))
	}
	if tx.Load(escrow).HasData() {
		return nil
	}
	return tx.CreateTokenAccount(payer, escrow, house.TreasuryMint, auctionHouse)
}

// topUpEscrow transfers only the shortfall between the escrow balance and
// target, so repeating a call with the same target moves nothing.
func topUpEscrow(tx *ledger.Tx, native bool, escrow, source, authority solana.PublicKey, target uint64) (uint64, error) {
	if native {
		current := tx.Load(escrow).Lamports
		if current >= target {
			return 0, nil
		}
		diff, err := checkedSub(target, current)
		if err != nil {
			return 0, err
		}
		return diff, tx.Transfer(source, escrow, diff)
	}

	escrowToken, err := tx.TokenAccount(escrow)
	if err != nil {
		return 0, err
	}
	if escrowToken.Amount >= target {
		return 0, nil
	}
	diff, err := checkedSub(target, escrowToken.Amount)
	if err != nil {
		return 0, err
	}
	return diff, tx.TokenTransfer(source, escrow, authority, diff)
}

// rentCheckedSub returns how much of amount can leave a native escrow without
// taking it below the rent-exempt minimum.
func rentCheckedSub(tx *ledger.Tx, escrow solana.PublicKey, amount uint64) (uint64, error) {
	acct := tx.Load(escrow)
	rentMinimum := tx.Rent().MinimumBalance(acct.DataLen())
	remaining, err := checkedSub(acct.Lamports, amount)
	if err != nil {
		return 0, err
	}
	if remaining < rentMinimum {
		return checkedSub(acct.Lamports, rentMinimum)
	}
	return amount, nil
}

// verifyWithdrawal reports how many lamports must be added to a native escrow
// so that paying out amount leaves it rent exempt.
func verifyWithdrawal(tx *ledger.Tx, escrow solana.PublicKey, amount uint64) (uint64, error) {
	acct := tx.Load(escrow)
	rentMinimum := tx.Rent().MinimumBalance(acct.DataLen())
	remaining, err := checkedSub(acct.Lamports, amount)
	if err != nil {
		return 0, err
	}
	if remaining < rentMinimum {
		return rentMinimum - remaining, nil
	}
	return 0, nil
}

type DepositParams struct {
	Wallet                 solana.PublicKey
	PaymentAccount         solana.PublicKey
	TransferAuthority      solana.PublicKey
	EscrowPaymentAccount   solana.PublicKey
	TreasuryMint           solana.PublicKey
	Authority              solana.PublicKey
	AuctionHouse           solana.PublicKey
	AuctionHouseFeeAccount solana.PublicKey
	EscrowPaymentBump      uint8
	Amount                 uint64
}

func (DepositParams) Name() string { return "deposit" }

func (p DepositParams) process(inv *invocation) error {
	return inv.deposit(p, false)
}

func (inv *invocation) deposit(p DepositParams, delegated bool) error {
	tx := inv.tx
	house, err := loadAuctionHouse(tx, inv.programID, p.AuctionHouse, HouseExpectations{
		Authority:    &p.Authority,
		TreasuryMint: &p.TreasuryMint,
		FeeAccount:   &p.AuctionHouseFeeAccount,
	})
	if err != nil {
		return err
	}
	if !delegated {
		if err := assertNotAuctioneerGated(house, ScopeDeposit); err != nil {
			return err
		}
	}
	if err := assertSigner(inv.signers, p.Wallet); err != nil {
		return err
	}
	if err := assertDerivationWithBump(inv.programID, p.EscrowPaymentAccount, pda.EscrowPaymentSeeds(p.AuctionHouse, p.Wallet), p.EscrowPaymentBump); err != nil {
		return err
	}
	payer, err := feePayer(house, delegated || inv.signers.Has(house.Authority), inv.signers, p.Wallet)
	if err != nil {
		return err
	}
	if err := ensureEscrowExists(tx, payer, p.EscrowPaymentAccount, p.AuctionHouse, house); err != nil {
		return err
	}

	target := p.Amount
	if house.IsNative() {
		if err := assertKeysEqual(p.PaymentAccount, p.Wallet); err != nil {
			return err
		}
		if target, err = checkedAdd(p.Amount, tx.Rent().MinimumBalance(0)); err != nil {
			return err
		}
	} else if err := assertSigner(inv.signers, p.TransferAuthority); err != nil {
		return err
	}
	if _, err := topUpEscrow(tx, house.IsNative(), p.EscrowPaymentAccount, p.PaymentAccount, p.TransferAuthority, target); err != nil {
		return err
	}
	inv.emit(Event{Kind: EventDeposit, AuctionHouse: p.AuctionHouse, Wallet: p.Wallet, Account: p.EscrowPaymentAccount, Price: p.Amount})
	return nil
}

type WithdrawParams struct {
	Wallet                 solana.PublicKey
	ReceiptAccount         solana.PublicKey
	EscrowPaymentAccount   solana.PublicKey
	TreasuryMint           solana.PublicKey
	Authority              solana.PublicKey
	AuctionHouse           solana.PublicKey
	AuctionHouseFeeAccount solana.PublicKey
	EscrowPaymentBump      uint8
	Amount                 uint64
}

func (WithdrawParams) Name() string { return "withdraw" }

func (p WithdrawParams) process(inv *invocation) error {
	return inv.withdraw(p, false)
}

func (inv *invocation) withdraw(p WithdrawParams, delegated bool) error {
	tx := inv.tx
	house, err := loadAuctionHouse(tx, inv.programID, p.AuctionHouse, HouseExpectations{
		Authority:    &p.Authority,
		TreasuryMint: &p.TreasuryMint,
		FeeAccount:   &p.AuctionHouseFeeAccount,
	})
	if err != nil {
		return err
	}
	if !delegated {
		if err := assertNotAuctioneerGated(house, ScopeWithdraw); err != nil {
			return err
		}
	}
	if err := assertDerivationWithBump(inv.programID, p.EscrowPaymentAccount, pda.EscrowPaymentSeeds(p.AuctionHouse, p.Wallet), p.EscrowPaymentBump); err != nil {
		return err
	}
	payer, err := feePayer(house, delegated || inv.signers.Has(house.Authority), inv.signers, p.Wallet)
	if err != nil {
		return err
	}

	amount := p.Amount
	if house.IsNative() {
		if err := assertKeysEqual(p.ReceiptAccount, p.Wallet); err != nil {
			return err
		}
		if amount, err = rentCheckedSub(tx, p.EscrowPaymentAccount, p.Amount); err != nil {
			return err
		}
		if err := tx.Transfer(p.EscrowPaymentAccount, p.ReceiptAccount, amount); err != nil {
			return err
		}
	} else {
		if !tx.Load(p.ReceiptAccount).HasData() {
			if _, err := tx.CreateAssociatedTokenAccount(payer, p.Wallet, house.TreasuryMint); err != nil {
				return err
			}
		}
		receipt, err := assertIsATA(tx, p.ReceiptAccount, p.Wallet, house.TreasuryMint)
		if err != nil {
			return err
		}
		if receipt.Delegate != nil {
			return ErrBuyerATACannotHaveDelegate
		}
		if err := tx.TokenTransfer(p.EscrowPaymentAccount, p.ReceiptAccount, p.AuctionHouse, amount); err != nil {
			return err
		}
	}
	inv.emit(Event{Kind: EventWithdraw, AuctionHouse: p.AuctionHouse, Wallet: p.Wallet, Account: p.ReceiptAccount, Price: amount})
	return nil
}

package auctionhouse

import (
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/coldbell/auctionhouse/backend/internal/pda"
)

// CancelParams retires a bid or listing. Either the wallet or the auction house
// authority must sign.
type CancelParams struct {
	Wallet                 solana.PublicKey
	TokenAccount           solana.PublicKey
	TokenMint              solana.PublicKey
	Authority              solana.PublicKey
	AuctionHouse           solana.PublicKey
	AuctionHouseFeeAccount solana.PublicKey
	TradeState             solana.PublicKey
	BuyerPrice             uint64
	TokenSize              uint64
}

func (CancelParams) Name() string { return "cancel" }

func (p CancelParams) process(inv *invocation) error {
	return inv.cancel(p, false)
}

func (inv *invocation) cancel(p CancelParams, delegated bool) error {
	tx := inv.tx
	house, err := loadAuctionHouse(tx, inv.programID, p.AuctionHouse, HouseExpectations{
		Authority:  &p.Authority,
		FeeAccount: &p.AuctionHouseFeeAccount,
	})
	if err != nil {
		return err
	}
	if !delegated {
		if err := assertNotAuctioneerGated(house, ScopeCancel); err != nil {
			return err
		}
	}
	tokenAccount, err := tx.TokenAccount(p.TokenAccount)
	if err != nil {
		return err
	}
	if err := assertKeysEqual(p.TokenMint, tokenAccount.Mint); err != nil {
		return err
	}

	authoritySigned := delegated || inv.signers.Has(house.Authority)
	walletSigned := inv.signers.Has(p.Wallet)
	if !walletSigned && !authoritySigned {
		return ErrNoValidSignerPresent
	}
	payer, err := feePayer(house, authoritySigned, inv.signers, p.Wallet)
	if err != nil {
		return err
	}

	state := LoadTradeState(tx, p.TradeState)
	if !state.Active() {
		return fmt.Errorf("trade state %s is %s: %w", p.TradeState, state.Status, ErrTradeStateDoesntExist)
	}
	key := pda.TradeStateKey{
		Wallet:       p.Wallet,
		AuctionHouse: p.AuctionHouse,
		TokenAccount: &p.TokenAccount,
		TreasuryMint: house.TreasuryMint,
		TokenMint:    p.TokenMint,
		Price:        p.BuyerPrice,
		Size:         p.TokenSize,
	}
	if _, err := assertValidTradeState(inv.programID, p.TradeState, key, state.Bump); err != nil {
		return err
	}
	if err := retireTradeState(tx, p.TradeState, payer); err != nil {
		return err
	}

	if tokenAccount.Owner.Equals(p.Wallet) && walletSigned {
		if err := tx.Revoke(p.TokenAccount, p.Wallet); err != nil {
			return err
		}
	}
	inv.emit(Event{
		Kind:         EventCancel,
		AuctionHouse: p.AuctionHouse,
		Wallet:       p.Wallet,
		TradeState:   p.TradeState,
		TokenMint:    p.TokenMint,
		Account:      p.TokenAccount,
		Price:        p.BuyerPrice,
		Size:         p.TokenSize,
	})
	return nil
}

package auctionhouse

import (
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/coldbell/auctionhouse/backend/internal/pda"
)

// SellParams lists a seller's tokens. A signing wallet approves the
// program-as-signer delegate for TokenSize; without the wallet signature the
// listing can only re-price an existing free listing on a house that allows it.
type SellParams struct {
	Wallet                 solana.PublicKey
	TokenAccount           solana.PublicKey
	Metadata               solana.PublicKey
	Authority              solana.PublicKey
	AuctionHouse           solana.PublicKey
	AuctionHouseFeeAccount solana.PublicKey
	SellerTradeState       solana.PublicKey
	FreeSellerTradeState   solana.PublicKey
	ProgramAsSigner        solana.PublicKey
	TradeStateBump         uint8
	FreeTradeStateBump     uint8
	ProgramAsSignerBump    uint8
	BuyerPrice             uint64
	TokenSize              uint64
}

func (SellParams) Name() string { return "sell" }

func (p SellParams) process(inv *invocation) error {
	return inv.sell(p, false)
}

func (inv *invocation) sell(p SellParams, delegated bool) error {
	tx := inv.tx
	house, err := loadAuctionHouse(tx, inv.programID, p.AuctionHouse, HouseExpectations{
		Authority:  &p.Authority,
		FeeAccount: &p.AuctionHouseFeeAccount,
	})
	if err != nil {
		return err
	}
	if !delegated {
		if err := assertNotAuctioneerGated(house, ScopeSell); err != nil {
			return err
		}
	}

	tokenAccount, err := tx.TokenAccount(p.TokenAccount)
	if err != nil {
		return err
	}
	if _, err := assertIsATA(tx, p.TokenAccount, p.Wallet, tokenAccount.Mint); err != nil {
		return err
	}
	if err := assertMetadataValid(tx, p.Metadata, tokenAccount.Mint); err != nil {
		return err
	}

	key := pda.TradeStateKey{
		Wallet:       p.Wallet,
		AuctionHouse: p.AuctionHouse,
		TokenAccount: &p.TokenAccount,
		TreasuryMint: house.TreasuryMint,
		TokenMint:    tokenAccount.Mint,
		Price:        p.BuyerPrice,
		Size:         p.TokenSize,
	}
	if err := assertDerivationWithBump(inv.programID, p.SellerTradeState, key.Seeds(), p.TradeStateBump); err != nil {
		return err
	}
	if err := assertDerivationWithBump(inv.programID, p.FreeSellerTradeState, key.WithPrice(0).Seeds(), p.FreeTradeStateBump); err != nil {
		return err
	}
	if err := assertDerivationWithBump(inv.programID, p.ProgramAsSigner, pda.ProgramAsSignerSeeds(), p.ProgramAsSignerBump); err != nil {
		return err
	}

	payer, err := feePayer(house, delegated || inv.signers.Has(house.Authority), inv.signers, p.Wallet)
	if err != nil {
		return err
	}
	if p.TokenSize > tokenAccount.Amount {
		return fmt.Errorf("listing %d of %d tokens: %w", p.TokenSize, tokenAccount.Amount, ErrInvalidTokenAmount)
	}

	if inv.signers.Has(p.Wallet) {
		if err := tx.Approve(p.TokenAccount, p.ProgramAsSigner, p.Wallet, p.TokenSize); err != nil {
			return err
		}
	} else {
		if p.BuyerPrice == 0 {
			return ErrSaleRequiresSigner
		}
		if !LoadTradeState(tx, p.FreeSellerTradeState).Active() {
			return ErrSaleRequiresSigner
		}
		if !house.CanChangeSalePrice || !house.RequiresSignOff {
			return ErrSaleRequiresSigner
		}
	}

	if _, err := createTradeState(tx, inv.programID, payer, p.SellerTradeState, p.TradeStateBump); err != nil {
		return err
	}
	inv.emit(Event{
		Kind:         EventListing,
		AuctionHouse: p.AuctionHouse,
		Wallet:       p.Wallet,
		TradeState:   p.SellerTradeState,
		TokenMint:    tokenAccount.Mint,
		Account:      p.TokenAccount,
		Price:        p.BuyerPrice,
		Size:         p.TokenSize,
	})
	return nil
}

package auctionhouse

import (
	"github.com/gagliardetto/solana-go"

	"github.com/coldbell/auctionhouse/backend/internal/pda"
)

// BuyParams places a bid. Public bids omit the token account from the trade
// state seeds and can be matched against any holder of the mint.
type BuyParams struct {
	Wallet                 solana.PublicKey
	PaymentAccount         solana.PublicKey
	TransferAuthority      solana.PublicKey
	TreasuryMint           solana.PublicKey
	TokenAccount           solana.PublicKey
	Metadata               solana.PublicKey
	EscrowPaymentAccount   solana.PublicKey
	Authority              solana.PublicKey
	AuctionHouse           solana.PublicKey
	AuctionHouseFeeAccount solana.PublicKey
	BuyerTradeState        solana.PublicKey
	TradeStateBump         uint8
	EscrowPaymentBump      uint8
	BuyerPrice             uint64
	TokenSize              uint64
	Public                 bool
}

func (p BuyParams) Name() string {
	if p.Public {
		return "public_buy"
	}
	return "buy"
}

func (p BuyParams) process(inv *invocation) error {
	return inv.bid(p, false)
}

func (p BuyParams) scope() AuthorityScope {
	if p.Public {
		return ScopePublicBuy
	}
	return ScopeBuy
}

func (inv *invocation) bid(p BuyParams, delegated bool) error {
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
		if err := assertNotAuctioneerGated(house, p.scope()); err != nil {
			return err
		}
	}
	if err := assertSigner(inv.signers, p.Wallet); err != nil {
		return err
	}
	tokenAccount, err := tx.TokenAccount(p.TokenAccount)
	if err != nil {
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
	if p.Public {
		key = key.AsPublic()
	}
	if err := assertDerivationWithBump(inv.programID, p.BuyerTradeState, key.Seeds(), p.TradeStateBump); err != nil {
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

	target := p.BuyerPrice
	if house.IsNative() {
		if err := assertKeysEqual(p.Wallet, p.PaymentAccount); err != nil {
			return err
		}
		if target, err = checkedAdd(p.BuyerPrice, tx.Rent().MinimumBalance(0)); err != nil {
			return err
		}
	} else if err := assertSigner(inv.signers, p.TransferAuthority); err != nil {
		return err
	}
	if _, err := topUpEscrow(tx, house.IsNative(), p.EscrowPaymentAccount, p.PaymentAccount, p.TransferAuthority, target); err != nil {
		return err
	}

	if err := assertMetadataValid(tx, p.Metadata, tokenAccount.Mint); err != nil {
		return err
	}
	if _, err := createTradeState(tx, inv.programID, payer, p.BuyerTradeState, p.TradeStateBump); err != nil {
		return err
	}
	inv.emit(Event{
		Kind:         EventBid,
		AuctionHouse: p.AuctionHouse,
		Wallet:       p.Wallet,
		TradeState:   p.BuyerTradeState,
		TokenMint:    tokenAccount.Mint,
		Account:      p.TokenAccount,
		Price:        p.BuyerPrice,
		Size:         p.TokenSize,
	})
	return nil
}

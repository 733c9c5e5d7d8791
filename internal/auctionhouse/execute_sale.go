package auctionhouse

import (
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/coldbell/auctionhouse/backend/internal/pda"
)

// ExecuteSaleParams matches a buyer trade state against a seller trade state.
// Setting both PartialOrderSize and PartialOrderPrice fills a slice of the listing.
type ExecuteSaleParams struct {
	Buyer                       solana.PublicKey
	Seller                      solana.PublicKey
	TokenAccount                solana.PublicKey
	TokenMint                   solana.PublicKey
	Metadata                    solana.PublicKey
	TreasuryMint                solana.PublicKey
	EscrowPaymentAccount        solana.PublicKey
	SellerPaymentReceiptAccount solana.PublicKey
	BuyerReceiptTokenAccount    solana.PublicKey
	Authority                   solana.PublicKey
	AuctionHouse                solana.PublicKey
	AuctionHouseFeeAccount      solana.PublicKey
	AuctionHouseTreasury        solana.PublicKey
	BuyerTradeState             solana.PublicKey
	SellerTradeState            solana.PublicKey
	FreeTradeState              solana.PublicKey
	ProgramAsSigner             solana.PublicKey
	EscrowPaymentBump           uint8
	FreeTradeStateBump          uint8
	ProgramAsSignerBump         uint8
	BuyerPrice                  uint64
	TokenSize                   uint64
	PartialOrderSize            *uint64
	PartialOrderPrice           *uint64
	Creators                    []CreatorAccount
}

func (ExecuteSaleParams) Name() string { return "execute_sale" }

func (p ExecuteSaleParams) process(inv *invocation) error {
	return inv.executeSale(p, saleDirect)
}

type saleMode struct {
	delegated   bool
	sellerPrice func(p ExecuteSaleParams) uint64
}

var (
	saleDirect = saleMode{
		sellerPrice: func(p ExecuteSaleParams) uint64 { return p.BuyerPrice },
	}
	// Auctioneer listings are keyed under the max price rather than the sale price.
	saleViaAuctioneer = saleMode{
		delegated:   true,
		sellerPrice: func(ExecuteSaleParams) uint64 { return pda.AuctioneerPrice },
	}
)

// fillTerms returns the (price, size) a settlement moves. Partial terms must
// come as a pair.
func (p ExecuteSaleParams) fillTerms() (uint64, uint64, bool, error) {
	switch {
	case p.PartialOrderSize == nil && p.PartialOrderPrice == nil:
		return p.BuyerPrice, p.TokenSize, false, nil
	case p.PartialOrderSize != nil && p.PartialOrderPrice != nil:
		return *p.PartialOrderPrice, *p.PartialOrderSize, true, nil
	default:
		return 0, 0, false, ErrMissingElementForPartialOrder
	}
}

// checkPartialPrice requires a partial fill to pay the listing's per-unit price.
func (p ExecuteSaleParams) checkPartialPrice() error {
	if p.TokenSize == 0 {
		return ErrNumericalOverflow
	}
	expected, err := checkedMul(p.BuyerPrice/p.TokenSize, *p.PartialOrderSize)
	if err != nil {
		return err
	}
	if expected != *p.PartialOrderPrice {
		return fmt.Errorf("partial price %d, expected %d: %w", *p.PartialOrderPrice, expected, ErrPartialPriceMismatch)
	}
	return nil
}

// resolveFill returns the validated (price, size) a settlement moves.
func (p ExecuteSaleParams) resolveFill() (uint64, uint64, bool, error) {
	price, size, partial, err := p.fillTerms()
	if err != nil {
		return 0, 0, false, err
	}
	if partial {
		if err := p.checkPartialPrice(); err != nil {
			return 0, 0, false, err
		}
	}
	return price, size, partial, nil
}

func (inv *invocation) executeSale(p ExecuteSaleParams, mode saleMode) error {
	tx := inv.tx
	house, err := loadAuctionHouse(tx, inv.programID, p.AuctionHouse, HouseExpectations{
		Authority:    &p.Authority,
		TreasuryMint: &p.TreasuryMint,
		FeeAccount:   &p.AuctionHouseFeeAccount,
		Treasury:     &p.AuctionHouseTreasury,
	})
	if err != nil {
		return err
	}
	if !mode.delegated {
		if err := assertNotAuctioneerGated(house, ScopeExecuteSale); err != nil {
			return err
		}
	}
	authoritySigned := mode.delegated || inv.signers.Has(house.Authority)
	native := house.IsNative()

	// Pre-flight.
	if p.BuyerPrice == 0 && !authoritySigned && !inv.signers.Has(p.Seller) {
		return ErrCannotMatchFreeSalesWithoutSignOff
	}
	tokenAccount, err := tx.TokenAccount(p.TokenAccount)
	if err != nil {
		return err
	}
	if err := assertKeysEqual(p.TokenMint, tokenAccount.Mint); err != nil {
		return err
	}
	if tokenAccount.Delegate == nil {
		return fmt.Errorf("token account %s has no delegate: %w", p.TokenAccount, ErrBothPartiesNeedToAgreeToSale)
	}
	if err := assertKeysEqual(p.ProgramAsSigner, *tokenAccount.Delegate); err != nil {
		return err
	}
	if err := assertDerivationWithBump(inv.programID, p.ProgramAsSigner, pda.ProgramAsSignerSeeds(), p.ProgramAsSignerBump); err != nil {
		return err
	}

	// Both sides must still be committed.
	buyerState := LoadTradeState(tx, p.BuyerTradeState)
	sellerState := LoadTradeState(tx, p.SellerTradeState)
	if !buyerState.Active() {
		return fmt.Errorf("buyer trade state is %s: %w", buyerState.Status, ErrBuyerTradeStateNotValid)
	}
	if !sellerState.Active() {
		return fmt.Errorf("seller trade state is %s: %w", sellerState.Status, ErrBothPartiesNeedToAgreeToSale)
	}

	price, size, partial, err := p.fillTerms()
	if err != nil {
		return err
	}
	buyerKey := pda.TradeStateKey{
		Wallet:       p.Buyer,
		AuctionHouse: p.AuctionHouse,
		TokenAccount: &p.TokenAccount,
		TreasuryMint: house.TreasuryMint,
		TokenMint:    p.TokenMint,
		Price:        price,
		Size:         size,
	}
	if _, err := assertValidTradeState(inv.programID, p.BuyerTradeState, buyerKey, buyerState.Bump); err != nil {
		return err
	}
	if partial {
		if err := p.checkPartialPrice(); err != nil {
			return err
		}
	}
	if tokenAccount.Amount < size {
		return fmt.Errorf("%d tokens held, %d requested: %w", tokenAccount.Amount, size, ErrNotEnoughTokensAvailable)
	}
	if partial && tokenAccount.DelegatedAmount < size {
		return fmt.Errorf("%d tokens delegated, %d requested: %w", tokenAccount.DelegatedAmount, size, ErrNotEnoughTokensAvailable)
	}

	sellerKey := pda.TradeStateKey{
		Wallet:       p.Seller,
		AuctionHouse: p.AuctionHouse,
		TokenAccount: &p.TokenAccount,
		TreasuryMint: house.TreasuryMint,
		TokenMint:    p.TokenMint,
		Price:        mode.sellerPrice(p),
		Size:         p.TokenSize,
	}
	if err := assertDerivationWithBump(inv.programID, p.SellerTradeState, sellerKey.Seeds(), sellerState.Bump); err != nil {
		return err
	}
	if err := assertDerivationWithBump(inv.programID, p.FreeTradeState, sellerKey.WithPrice(0).Seeds(), p.FreeTradeStateBump); err != nil {
		return err
	}
	if err := assertDerivationWithBump(inv.programID, p.EscrowPaymentAccount, pda.EscrowPaymentSeeds(p.AuctionHouse, p.Buyer), p.EscrowPaymentBump); err != nil {
		return err
	}

	payer, err := inv.settlementFeePayer(house, authoritySigned, p)
	if err != nil {
		return err
	}

	// Asset and metadata.
	if _, err := assertIsATA(tx, p.TokenAccount, p.Seller, p.TokenMint); err != nil {
		return err
	}
	if err := assertMetadataValid(tx, p.Metadata, p.TokenMint); err != nil {
		return err
	}
	metadata, err := loadMetadata(tx, p.Metadata)
	if err != nil {
		return err
	}

	settlement := &Settlement{
		BuyerTradeState:  p.BuyerTradeState,
		SellerTradeState: p.SellerTradeState,
		Partial:          partial,
	}

	// Bridge a rent shortfall on escrows created before they were funded rent exempt.
	if native {
		shortfall, err := verifyWithdrawal(tx, p.EscrowPaymentAccount, price)
		if err != nil {
			return err
		}
		if shortfall > 0 {
			if err := tx.Transfer(payer, p.EscrowPaymentAccount, shortfall); err != nil {
				return fmt.Errorf("bridge escrow rent: %w", err)
			}
		}
		settlement.RentShortfall = shortfall
	}

	d := disbursement{
		tx:           tx,
		native:       native,
		escrow:       p.EscrowPaymentAccount,
		auctionHouse: p.AuctionHouse,
		treasuryMint: house.TreasuryMint,
		feePayer:     payer,
	}
	afterRoyalties, royalties, err := d.payCreatorFees(metadata, p.Creators, price)
	if err != nil {
		return err
	}
	houseFee, err := d.payAuctionHouseFees(house, price)
	if err != nil {
		return err
	}
	sellerProceeds, err := checkedSub(afterRoyalties, houseFee)
	if err != nil {
		return err
	}
	settlement.Royalties = royalties
	settlement.AuctionHouseFee = houseFee
	settlement.SellerProceeds = sellerProceeds

	// Seller payout.
	if native {
		if err := assertKeysEqual(p.SellerPaymentReceiptAccount, p.Seller); err != nil {
			return err
		}
	} else {
		if !tx.Load(p.SellerPaymentReceiptAccount).HasData() {
			if _, err := tx.CreateAssociatedTokenAccount(payer, p.Seller, house.TreasuryMint); err != nil {
				return err
			}
		}
		receipt, err := assertIsATA(tx, p.SellerPaymentReceiptAccount, p.Seller, house.TreasuryMint)
		if err != nil {
			return err
		}
		if receipt.Delegate != nil {
			return ErrSellerATACannotHaveDelegate
		}
	}
	if err := d.pay(p.SellerPaymentReceiptAccount, sellerProceeds); err != nil {
		return fmt.Errorf("pay seller: %w", err)
	}

	// Asset transfer through the program-as-signer delegate.
	if !tx.Load(p.BuyerReceiptTokenAccount).HasData() {
		if _, err := tx.CreateAssociatedTokenAccount(payer, p.Buyer, p.TokenMint); err != nil {
			return err
		}
	}
	buyerReceipt, err := assertIsATA(tx, p.BuyerReceiptTokenAccount, p.Buyer, p.TokenMint)
	if err != nil {
		return err
	}
	if buyerReceipt.Delegate != nil {
		return ErrBuyerATACannotHaveDelegate
	}
	if err := tx.TokenTransfer(p.TokenAccount, p.BuyerReceiptTokenAccount, p.ProgramAsSigner, size); err != nil {
		return fmt.Errorf("transfer asset: %w", err)
	}

	// Retire only once the listing is fully consumed.
	remaining, err := tx.TokenAccount(p.TokenAccount)
	if err != nil {
		return err
	}
	if remaining.Amount == 0 {
		if remaining.Delegate != nil {
			if err := tx.Revoke(p.TokenAccount, p.ProgramAsSigner); err != nil {
				return err
			}
		}
		if err := retireTradeState(tx, p.SellerTradeState, payer); err != nil {
			return err
		}
		if tx.Load(p.FreeTradeState).Lamports > 0 {
			if err := retireTradeState(tx, p.FreeTradeState, payer); err != nil {
				return err
			}
		}
		if err := retireTradeState(tx, p.BuyerTradeState, payer); err != nil {
			return err
		}
		settlement.Retired = true
	}

	inv.emit(Event{
		Kind:         EventSale,
		AuctionHouse: p.AuctionHouse,
		Wallet:       p.Buyer,
		Counterparty: p.Seller,
		TradeState:   p.BuyerTradeState,
		TokenMint:    p.TokenMint,
		Account:      p.TokenAccount,
		Price:        price,
		Size:         size,
		Settlement:   settlement,
	})
	return nil
}

// settlementFeePayer picks who funds receipt accounts and rent bridging.
func (inv *invocation) settlementFeePayer(house *AuctionHouse, authoritySigned bool, p ExecuteSaleParams) (solana.PublicKey, error) {
	if authoritySigned {
		return house.AuctionHouseFeeAccount, nil
	}
	for _, party := range []solana.PublicKey{p.Seller, p.Buyer} {
		if inv.signers.Has(party) {
			if house.RequiresSignOff {
				return solana.PublicKey{}, ErrCannotTakeActionWithoutSignOff
			}
			return party, nil
		}
	}
	return solana.PublicKey{}, ErrNoValidSignerPresent
}

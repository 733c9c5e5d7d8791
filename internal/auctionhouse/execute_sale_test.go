package auctionhouse

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"github.com/coldbell/auctionhouse/backend/internal/ledger"
)

func (f *fixture) listAndBid(price, size uint64) (SellParams, BuyParams) {
	f.t.Helper()
	listing := f.sellParams(price, size)
	f.mustExecute(Signers{f.seller}, listing)
	bid := f.buyParams(f.buyer, price, size)
	f.mustExecute(Signers{f.buyer}, bid)
	return listing, bid
}

func TestExecuteSaleEndToEnd(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	listing := f.sellParams(1, 1)
	f.mustExecute(Signers{f.seller}, listing)
	f.mustExecute(Signers{f.buyer}, f.depositParams(1))
	bid := f.buyParams(f.buyer, 1, 1)
	f.mustExecute(Signers{f.buyer}, bid)

	sale := f.saleParams(f.buyer, 1, 1)
	f.mustExecute(Signers{f.authority}, sale)

	for _, address := range []solana.PublicKey{listing.SellerTradeState, bid.BuyerTradeState} {
		state := f.tradeState(address)
		require.Equal(t, TradeStateRetired, state.Status)
		require.Zero(t, state.Lamports)
		acct, ok := f.bank.Account(address)
		require.True(t, ok)
		require.Empty(t, acct.Data)
	}
	require.Equal(t, uint64(1), f.tokenAmount(sale.BuyerReceiptTokenAccount))
	require.Zero(t, f.tokenAmount(f.sellerToken))
	require.Equal(t, startingBalance-f.rentMinimum(TradeStateSize)+1, f.lamports(f.seller))
}

func TestExecuteSaleDisbursesRoyaltiesAndFees(t *testing.T) {
	f := newFixture(t, fixtureOptions{houseFeeBps: 200, royaltyBps: 500, creatorShares: []uint8{60, 40}})
	escrow, _ := f.escrow(f.buyer)
	f.listAndBid(1_000_000, 1)

	sale := f.saleParams(f.buyer, 1_000_000, 1)
	result := f.mustExecute(Signers{f.authority}, sale)

	require.Equal(t, uint64(30_000), f.lamports(f.creators[0].Address))
	require.Equal(t, uint64(20_000), f.lamports(f.creators[1].Address))
	require.Equal(t, uint64(20_000), f.lamports(f.treasury))
	require.Equal(t, startingBalance-f.rentMinimum(TradeStateSize)+930_000, f.lamports(f.seller))
	require.Equal(t, f.rentMinimum(0), f.lamports(escrow))

	// The fee account funded the buyer's token account and reclaimed both trade states.
	expectedFee := startingBalance - f.rentMinimum(ledger.TokenAccountSize) + 2*f.rentMinimum(TradeStateSize)
	require.Equal(t, expectedFee, f.lamports(f.feeAccount))

	require.Len(t, result.Events, 1)
	event := result.Events[0]
	require.Equal(t, EventSale, event.Kind)
	require.Equal(t, f.seller, event.Counterparty)
	require.NotNil(t, event.Settlement)
	require.Equal(t, []Payment{
		{Recipient: f.creators[0].Address, Amount: 30_000},
		{Recipient: f.creators[1].Address, Amount: 20_000},
	}, event.Settlement.Royalties)
	require.Equal(t, uint64(20_000), event.Settlement.AuctionHouseFee)
	require.Equal(t, uint64(930_000), event.Settlement.SellerProceeds)
	require.True(t, event.Settlement.Retired)
	require.False(t, event.Settlement.Partial)
	require.Zero(t, event.Settlement.RentShortfall)
}

func TestExecuteSaleConservesLamports(t *testing.T) {
	f := newFixture(t, fixtureOptions{houseFeeBps: 250, royaltyBps: 1_000, creatorShares: []uint8{70, 30}})
	listing, bid := f.listAndBid(777_777, 1)
	sale := f.saleParams(f.buyer, 777_777, 1)

	keys := []solana.PublicKey{
		f.buyer, f.seller, f.feeAccount, f.treasury, f.sellerToken,
		sale.EscrowPaymentAccount, sale.BuyerReceiptTokenAccount,
		listing.SellerTradeState, listing.FreeSellerTradeState, bid.BuyerTradeState,
	}
	for _, creator := range f.creators {
		keys = append(keys, creator.Address)
	}
	total := func() uint64 {
		var sum uint64
		for _, key := range keys {
			sum += f.lamports(key)
		}
		return sum
	}

	before := total()
	f.mustExecute(Signers{f.authority}, sale)
	require.Equal(t, before, total())
}

func TestExecuteSaleRoundingDustGoesToSeller(t *testing.T) {
	f := newFixture(t, fixtureOptions{royaltyBps: 333, creatorShares: []uint8{50, 50}})
	f.listAndBid(1_000, 1)

	result := f.mustExecute(Signers{f.authority}, f.saleParams(f.buyer, 1_000, 1))

	settlement := result.Events[0].Settlement
	require.Len(t, settlement.Royalties, 2)
	require.Equal(t, uint64(16), settlement.Royalties[0].Amount)
	require.Equal(t, uint64(16), settlement.Royalties[1].Amount)
	require.Equal(t, uint64(968), settlement.SellerProceeds)
	require.Equal(t, startingBalance-f.rentMinimum(TradeStateSize)+968, f.lamports(f.seller))
}

func TestExecuteSaleChecksCreatorAccounts(t *testing.T) {
	f := newFixture(t, fixtureOptions{royaltyBps: 500, creatorShares: []uint8{60, 40}})
	f.listAndBid(1_000, 1)

	swapped := f.saleParams(f.buyer, 1_000, 1)
	swapped.Creators[0], swapped.Creators[1] = swapped.Creators[1], swapped.Creators[0]
	_, err := f.execute(Signers{f.authority}, swapped)
	require.ErrorIs(t, err, ErrPublicKeyMismatch)

	missing := f.saleParams(f.buyer, 1_000, 1)
	missing.Creators = missing.Creators[:1]
	_, err = f.execute(Signers{f.authority}, missing)
	require.ErrorIs(t, err, ErrNotEnoughAccounts)
	require.Equal(t, uint64(1), f.tokenAmount(f.sellerToken))
}

func TestExecuteSalePartialFill(t *testing.T) {
	f := newFixture(t, fixtureOptions{supply: 10})
	free := f.sellParams(0, 10)
	f.mustExecute(Signers{f.seller}, free)
	listing := f.sellParams(100, 10)
	f.mustExecute(Signers{f.seller}, listing)
	require.Equal(t, free.SellerTradeState, listing.FreeSellerTradeState)
	slice := f.buyParams(f.buyer, 30, 3)
	f.mustExecute(Signers{f.buyer}, slice)

	// The buyer trade state is checked against the partial terms before the price.
	mismatched := f.partialSaleParams(f.buyer, 100, 10, 3, 31)
	mismatched.BuyerTradeState = slice.BuyerTradeState
	_, err := f.execute(Signers{f.authority}, mismatched)
	require.ErrorIs(t, err, ErrDerivationMismatch)

	f.mustExecute(Signers{f.buyer}, f.buyParams(f.buyer, 31, 3))
	_, err = f.execute(Signers{f.authority}, f.partialSaleParams(f.buyer, 100, 10, 3, 31))
	require.ErrorIs(t, err, ErrPartialPriceMismatch)

	sale := f.partialSaleParams(f.buyer, 100, 10, 3, 30)
	result := f.mustExecute(Signers{f.authority}, sale)

	settlement := result.Events[0].Settlement
	require.True(t, settlement.Partial)
	require.False(t, settlement.Retired)
	require.Equal(t, uint64(30), result.Events[0].Price)
	require.Equal(t, uint64(3), result.Events[0].Size)

	token := f.tokenAccount(f.sellerToken).Token
	require.Equal(t, uint64(7), token.Amount)
	require.Equal(t, uint64(7), token.DelegatedAmount)
	require.Equal(t, uint64(3), f.tokenAmount(sale.BuyerReceiptTokenAccount))
	require.True(t, f.tradeState(listing.SellerTradeState).Active())
	require.True(t, f.tradeState(slice.BuyerTradeState).Active())
	freeState := f.tradeState(listing.FreeSellerTradeState)
	require.True(t, freeState.Active())
	require.Equal(t, f.rentMinimum(TradeStateSize), freeState.Lamports)
	require.Equal(t, startingBalance-2*f.rentMinimum(TradeStateSize)+30, f.lamports(f.seller))

	rest := f.buyParams(f.buyer, 70, 7)
	f.mustExecute(Signers{f.buyer}, rest)
	result = f.mustExecute(Signers{f.authority}, f.partialSaleParams(f.buyer, 100, 10, 7, 70))

	require.True(t, result.Events[0].Settlement.Retired)
	require.Equal(t, TradeStateRetired, f.tradeState(listing.SellerTradeState).Status)
	require.Equal(t, TradeStateRetired, f.tradeState(rest.BuyerTradeState).Status)
	freeState = f.tradeState(listing.FreeSellerTradeState)
	require.Equal(t, TradeStateRetired, freeState.Status)
	require.Zero(t, freeState.Lamports)
	require.Zero(t, f.tokenAmount(f.sellerToken))
	require.Equal(t, uint64(10), f.tokenAmount(sale.BuyerReceiptTokenAccount))
}

func TestExecuteSaleRetiresFreeTradeState(t *testing.T) {
	f := newFixture(t, fixtureOptions{requiresSignOff: true, canChangeSalePrice: true})
	free := f.sellParams(0, 1)
	f.mustExecute(Signers{f.seller, f.authority}, free)
	repriced := f.sellParams(2_000, 1)
	f.mustExecute(Signers{f.authority}, repriced)
	bid := f.buyParams(f.buyer, 2_000, 1)
	f.mustExecute(Signers{f.buyer, f.authority}, bid)

	sale := f.saleParams(f.buyer, 2_000, 1)
	require.Equal(t, free.SellerTradeState, sale.FreeTradeState)
	result := f.mustExecute(Signers{f.authority}, sale)
	require.True(t, result.Events[0].Settlement.Retired)

	for _, address := range []solana.PublicKey{free.SellerTradeState, repriced.SellerTradeState, bid.BuyerTradeState} {
		state := f.tradeState(address)
		require.Equal(t, TradeStateRetired, state.Status)
		require.Zero(t, state.Lamports)
		acct, ok := f.bank.Account(address)
		require.True(t, ok)
		require.Empty(t, acct.Data)
	}
	require.Equal(t, uint64(1), f.tokenAmount(sale.BuyerReceiptTokenAccount))
}

func TestExecuteSalePartialArgumentsMustBePaired(t *testing.T) {
	f := newFixture(t, fixtureOptions{supply: 10})
	f.listAndBid(100, 10)

	sale := f.saleParams(f.buyer, 100, 10)
	size := uint64(3)
	sale.PartialOrderSize = &size
	_, err := f.execute(Signers{f.authority}, sale)
	require.ErrorIs(t, err, ErrMissingElementForPartialOrder)
}

func TestExecuteSalePartialNeedsEnoughTokens(t *testing.T) {
	f := newFixture(t, fixtureOptions{supply: 10})
	f.mustExecute(Signers{f.seller}, f.sellParams(100, 10))
	f.mustExecute(Signers{f.buyer}, f.buyParams(f.buyer, 110, 11))

	_, err := f.execute(Signers{f.authority}, f.partialSaleParams(f.buyer, 100, 10, 11, 110))
	require.ErrorIs(t, err, ErrNotEnoughTokensAvailable)
}

func TestExecuteSaleBridgesEscrowRentShortfall(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.listAndBid(1_000_000, 1)
	escrow, _ := f.escrow(f.buyer)

	// Escrows funded before rent exemption was enforced hold only the bid amount.
	f.seed(func(tx *ledger.Tx) error {
		tx.Mut(escrow).Lamports = 1_000_000
		return nil
	})
	feeBefore := f.lamports(f.feeAccount)

	result := f.mustExecute(Signers{f.authority}, f.saleParams(f.buyer, 1_000_000, 1))

	require.Equal(t, f.rentMinimum(0), result.Events[0].Settlement.RentShortfall)
	require.Equal(t, f.rentMinimum(0), f.lamports(escrow))
	expectedFee := feeBefore - f.rentMinimum(0) - f.rentMinimum(ledger.TokenAccountSize) + 2*f.rentMinimum(TradeStateSize)
	require.Equal(t, expectedFee, f.lamports(f.feeAccount))
}

func TestExecuteSaleRejectsUnderfundedEscrow(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.listAndBid(1_000_000, 1)
	escrow, _ := f.escrow(f.buyer)
	f.seed(func(tx *ledger.Tx) error {
		tx.Mut(escrow).Lamports = 10
		return nil
	})

	_, err := f.execute(Signers{f.authority}, f.saleParams(f.buyer, 1_000_000, 1))
	require.ErrorIs(t, err, ErrNumericalOverflow)
}

func TestExecuteSaleSellerTradeStateMustMatchPrice(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	listing := f.sellParams(1_000_000, 1)
	f.mustExecute(Signers{f.seller}, listing)
	f.mustExecute(Signers{f.buyer}, f.buyParams(f.buyer, 900_000, 1))

	sale := f.saleParams(f.buyer, 900_000, 1)
	_, err := f.execute(Signers{f.authority}, sale)
	require.ErrorIs(t, err, ErrBothPartiesNeedToAgreeToSale)

	sale.SellerTradeState = listing.SellerTradeState
	_, err = f.execute(Signers{f.authority}, sale)
	require.ErrorIs(t, err, ErrDerivationMismatch)
}

func TestExecuteSaleOnlyOneBuyerWins(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	other := newKey()
	f.fund(other)
	f.listAndBid(5_000, 1)
	f.mustExecute(Signers{other}, f.buyParams(other, 5_000, 1))

	f.mustExecute(Signers{f.authority}, f.saleParams(f.buyer, 5_000, 1))
	_, err := f.execute(Signers{f.authority}, f.saleParams(other, 5_000, 1))
	require.ErrorIs(t, err, ErrBothPartiesNeedToAgreeToSale)
}

func TestExecuteSaleWithoutBidFails(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.mustExecute(Signers{f.seller}, f.sellParams(5_000, 1))

	_, err := f.execute(Signers{f.authority}, f.saleParams(f.buyer, 5_000, 1))
	require.ErrorIs(t, err, ErrBuyerTradeStateNotValid)
}

func TestFreeSaleNeedsSellerOrAuthority(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.listAndBid(0, 1)
	sale := f.saleParams(f.buyer, 0, 1)

	_, err := f.execute(Signers{f.buyer}, sale)
	require.ErrorIs(t, err, ErrCannotMatchFreeSalesWithoutSignOff)

	f.mustExecute(Signers{f.seller}, sale)
	require.Equal(t, uint64(1), f.tokenAmount(sale.BuyerReceiptTokenAccount))
}

func TestExecuteSaleRequiresSignOff(t *testing.T) {
	f := newFixture(t, fixtureOptions{requiresSignOff: true})
	f.mustExecute(Signers{f.seller, f.authority}, f.sellParams(5_000, 1))
	f.mustExecute(Signers{f.buyer, f.authority}, f.buyParams(f.buyer, 5_000, 1))
	sale := f.saleParams(f.buyer, 5_000, 1)

	_, err := f.execute(Signers{f.seller}, sale)
	require.ErrorIs(t, err, ErrCannotTakeActionWithoutSignOff)

	f.mustExecute(Signers{f.authority}, sale)
}

func TestExecuteSaleWithTokenTreasury(t *testing.T) {
	f := newFixture(t, fixtureOptions{splTreasury: true, houseFeeBps: 100})
	f.listAndBid(1_000, 1)
	escrow, _ := f.escrow(f.buyer)
	require.Equal(t, uint64(1_000), f.tokenAmount(escrow))

	sale := f.saleParams(f.buyer, 1_000, 1)
	f.mustExecute(Signers{f.authority}, sale)

	require.Equal(t, uint64(10), f.tokenAmount(f.treasury))
	require.Equal(t, uint64(990), f.tokenAmount(sale.SellerPaymentReceiptAccount))
	require.Zero(t, f.tokenAmount(escrow))
	require.Equal(t, uint64(1), f.tokenAmount(sale.BuyerReceiptTokenAccount))
	require.Equal(t, uint64(999_000), f.tokenAmount(f.buyerPayment))
}

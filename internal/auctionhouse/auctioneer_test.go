package auctionhouse

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"github.com/coldbell/auctionhouse/backend/internal/pda"
)

func (f *fixture) auctioneerGate(authority solana.PublicKey) AuctioneerGate {
	f.t.Helper()
	address, _, err := pda.DeriveAuctioneerPDA(f.engine.ProgramID(), f.house, authority)
	require.NoError(f.t, err)
	return AuctioneerGate{AuctioneerAuthority: authority, AHAuctioneerPDA: address}
}

func (f *fixture) delegate(gate AuctioneerGate, scopes ...AuthorityScope) DelegateAuctioneerParams {
	return DelegateAuctioneerParams{
		AuctionHouse:        f.house,
		Authority:           f.authority,
		AuctioneerAuthority: gate.AuctioneerAuthority,
		AHAuctioneerPDA:     gate.AHAuctioneerPDA,
		Scopes:              scopes,
	}
}

func (f *fixture) auctioneerSell(gate AuctioneerGate, size uint64) AuctioneerSellParams {
	base := f.sellParams(pda.AuctioneerPrice, size)
	return AuctioneerSellParams{
		AuctioneerGate:         gate,
		Wallet:                 base.Wallet,
		TokenAccount:           base.TokenAccount,
		Metadata:               base.Metadata,
		Authority:              base.Authority,
		AuctionHouse:           base.AuctionHouse,
		AuctionHouseFeeAccount: base.AuctionHouseFeeAccount,
		SellerTradeState:       base.SellerTradeState,
		FreeSellerTradeState:   base.FreeSellerTradeState,
		ProgramAsSigner:        base.ProgramAsSigner,
		TradeStateBump:         base.TradeStateBump,
		FreeTradeStateBump:     base.FreeTradeStateBump,
		ProgramAsSignerBump:    base.ProgramAsSignerBump,
		TokenSize:              size,
	}
}

func TestDelegateAuctioneer(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	gate := f.auctioneerGate(newKey())

	f.mustExecute(Signers{f.authority}, f.delegate(gate, ScopeSell, ScopeExecuteSale))

	house, err := f.engine.LoadAuctionHouse(f.house)
	require.NoError(t, err)
	require.True(t, house.HasAuctioneer)
	require.Equal(t, gate.AHAuctioneerPDA, house.AuctioneerAddress)
	require.Equal(t, []AuthorityScope{ScopeExecuteSale, ScopeSell}, house.Scopes.Scopes())

	acct, ok := f.bank.Account(gate.AHAuctioneerPDA)
	require.True(t, ok)
	var record Auctioneer
	require.NoError(t, UnmarshalAccount(acct.Data, &record))
	require.Equal(t, gate.AuctioneerAuthority, record.AuctioneerAuthority)
	require.Equal(t, f.house, record.AuctionHouse)

	_, err = f.execute(Signers{f.authority}, f.delegate(gate, ScopeSell))
	require.ErrorIs(t, err, ErrAuctionHouseAlreadyDelegated)
}

func TestDelegateAuctioneerRequiresAuthority(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	gate := f.auctioneerGate(newKey())

	_, err := f.execute(Signers{f.seller}, f.delegate(gate, ScopeSell))
	require.ErrorIs(t, err, ErrConstraintSigner)

	impostor := f.delegate(gate, ScopeSell)
	impostor.Authority = f.seller
	_, err = f.execute(Signers{f.seller}, impostor)
	require.ErrorIs(t, err, ErrConstraintHasOne)
}

func TestDelegatedScopeBlocksDirectHandler(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	gate := f.auctioneerGate(newKey())
	f.mustExecute(Signers{f.authority}, f.delegate(gate, ScopeSell))

	_, err := f.execute(Signers{f.seller}, f.sellParams(5_000, 1))
	require.ErrorIs(t, err, ErrMustUseAuctioneerHandler)

	// Operations outside the delegated scopes stay on the direct path.
	f.mustExecute(Signers{f.buyer}, f.depositParams(1_000))
}

func TestAuctioneerMissingScopeChangesNothing(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	gate := f.auctioneerGate(newKey())
	f.mustExecute(Signers{f.authority}, f.delegate(gate, ScopeSell))
	escrow, _ := f.escrow(f.buyer)

	_, err := f.execute(Signers{f.buyer, gate.AuctioneerAuthority}, AuctioneerDepositParams{
		AuctioneerGate: gate,
		DepositParams:  f.depositParams(1_000),
	})
	require.ErrorIs(t, err, ErrMissingAuctioneerScope)
	require.Zero(t, f.lamports(escrow))
	require.Equal(t, startingBalance, f.lamports(f.buyer))
}

func TestAuctioneerMustSign(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	gate := f.auctioneerGate(newKey())
	f.mustExecute(Signers{f.authority}, f.delegate(gate, ScopeSell))

	_, err := f.execute(Signers{f.seller}, f.auctioneerSell(gate, 1))
	require.ErrorIs(t, err, ErrConstraintSigner)
}

func TestAuctioneerGateRejectsUnknownAuthority(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	stranger := f.auctioneerGate(newKey())
	_, err := f.execute(Signers{f.seller, stranger.AuctioneerAuthority}, f.auctioneerSell(stranger, 1))
	require.ErrorIs(t, err, ErrNoAuctioneerProgramSet)

	gate := f.auctioneerGate(newKey())
	f.mustExecute(Signers{f.authority}, f.delegate(gate, ScopeSell))
	_, err = f.execute(Signers{f.seller, stranger.AuctioneerAuthority}, f.auctioneerSell(stranger, 1))
	require.ErrorIs(t, err, ErrInvalidAuctioneer)

	forged := stranger
	forged.AHAuctioneerPDA = gate.AHAuctioneerPDA
	_, err = f.execute(Signers{f.seller, stranger.AuctioneerAuthority}, f.auctioneerSell(forged, 1))
	require.ErrorIs(t, err, ErrInvalidAuctioneer)
}

func TestAuctioneerSaleFlow(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	gate := f.auctioneerGate(newKey())
	f.mustExecute(Signers{f.authority}, f.delegate(gate, ScopeSell, ScopeBuy, ScopeExecuteSale))

	listing := f.auctioneerSell(gate, 1)
	f.mustExecute(Signers{f.seller, gate.AuctioneerAuthority}, listing)
	require.True(t, f.tradeState(listing.SellerTradeState).Active())
	require.Equal(t, startingBalance, f.lamports(f.seller), "fee account pays rent on the auctioneer path")

	bid := AuctioneerBuyParams{AuctioneerGate: gate, BuyParams: f.buyParams(f.buyer, 5_000, 1)}
	require.Equal(t, "auctioneer_buy", bid.Name())
	f.mustExecute(Signers{f.buyer, gate.AuctioneerAuthority}, bid)
	require.Equal(t, startingBalance-5_000, f.lamports(f.buyer))

	sale := f.saleParams(f.buyer, 5_000, 1)
	sale.SellerTradeState = listing.SellerTradeState

	_, err := f.execute(Signers{f.authority}, sale)
	require.ErrorIs(t, err, ErrMustUseAuctioneerHandler)

	result := f.mustExecute(Signers{gate.AuctioneerAuthority}, AuctioneerExecuteSaleParams{
		AuctioneerGate:    gate,
		ExecuteSaleParams: sale,
	})
	require.Equal(t, "auctioneer_execute_sale", result.Events[0].Instruction)
	require.Equal(t, startingBalance+5_000, f.lamports(f.seller))
	require.Equal(t, uint64(1), f.tokenAmount(sale.BuyerReceiptTokenAccount))
	require.Equal(t, TradeStateRetired, f.tradeState(listing.SellerTradeState).Status)
	require.Equal(t, TradeStateRetired, f.tradeState(bid.BuyerTradeState).Status)
}

func TestAuctioneerSaleRejectsPricedListing(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.listAndBid(5_000, 1)
	gate := f.auctioneerGate(newKey())
	f.mustExecute(Signers{f.authority}, f.delegate(gate, ScopeExecuteSale))

	_, err := f.execute(Signers{gate.AuctioneerAuthority}, AuctioneerExecuteSaleParams{
		AuctioneerGate:    gate,
		ExecuteSaleParams: f.saleParams(f.buyer, 5_000, 1),
	})
	require.ErrorIs(t, err, ErrDerivationMismatch)
}

func TestUpdateAuctioneerScopes(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	gate := f.auctioneerGate(newKey())

	update := UpdateAuctioneerParams{
		AuctionHouse:        f.house,
		Authority:           f.authority,
		AuctioneerAuthority: gate.AuctioneerAuthority,
		AHAuctioneerPDA:     gate.AHAuctioneerPDA,
		Scopes:              []AuthorityScope{ScopeSell, ScopeCancel},
	}
	_, err := f.execute(Signers{f.authority}, update)
	require.ErrorIs(t, err, ErrNoAuctioneerProgramSet)

	f.mustExecute(Signers{f.authority}, f.delegate(gate, ScopeSell))
	listing := f.auctioneerSell(gate, 1)
	f.mustExecute(Signers{f.seller, gate.AuctioneerAuthority}, listing)

	cancel := AuctioneerCancelParams{
		AuctioneerGate: gate,
		CancelParams:   f.cancelParams(f.seller, listing.SellerTradeState, pda.AuctioneerPrice, 1),
	}
	_, err = f.execute(Signers{f.seller, gate.AuctioneerAuthority}, cancel)
	require.ErrorIs(t, err, ErrMissingAuctioneerScope)
	require.True(t, f.tradeState(listing.SellerTradeState).Active())

	f.mustExecute(Signers{f.authority}, update)
	house, err := f.engine.LoadAuctionHouse(f.house)
	require.NoError(t, err)
	require.True(t, house.Scopes.Has(ScopeCancel))

	f.mustExecute(Signers{f.seller, gate.AuctioneerAuthority}, cancel)
	require.Equal(t, TradeStateRetired, f.tradeState(listing.SellerTradeState).Status)
	require.Nil(t, f.tokenAccount(f.sellerToken).Token.Delegate)
}

package auctionhouse

import (
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/coldbell/auctionhouse/backend/internal/ledger"
	"github.com/coldbell/auctionhouse/backend/internal/pda"
)

// AuctioneerGate identifies the delegated authority driving an auctioneer_* entry point.
type AuctioneerGate struct {
	AuctioneerAuthority solana.PublicKey
	AHAuctioneerPDA     solana.PublicKey
}

func loadAuctioneer(tx *ledger.Tx, programID, address solana.PublicKey) (*Auctioneer, error) {
	acct := tx.Load(address)
	if !acct.HasData() || !acct.Owner.Equals(programID) {
		return nil, fmt.Errorf("auctioneer %s: %w", address, ErrInvalidAuctioneer)
	}
	var record Auctioneer
	if err := UnmarshalAccount(acct.Data, &record); err != nil {
		return nil, fmt.Errorf("decode auctioneer %s: %w", address, err)
	}
	return &record, nil
}

// admit checks that gate may perform scope on auctionHouse.
func (inv *invocation) admit(gate AuctioneerGate, auctionHouse solana.PublicKey, scope AuthorityScope) error {
	tx := inv.tx
	expected, _, err := pda.DeriveAuctioneerPDA(inv.programID, auctionHouse, gate.AuctioneerAuthority)
	if err != nil || !expected.Equals(gate.AHAuctioneerPDA) {
		return ErrInvalidAuctioneer
	}
	house, err := loadAuctionHouse(tx, inv.programID, auctionHouse, HouseExpectations{})
	if err != nil {
		return err
	}
	if !house.HasAuctioneer {
		return ErrNoAuctioneerProgramSet
	}
	if !house.AuctioneerAddress.Equals(gate.AHAuctioneerPDA) {
		return ErrInvalidAuctioneer
	}
	record, err := loadAuctioneer(tx, inv.programID, gate.AHAuctioneerPDA)
	if err != nil {
		return err
	}
	if !record.AuctionHouse.Equals(auctionHouse) || !record.AuctioneerAuthority.Equals(gate.AuctioneerAuthority) {
		return ErrInvalidAuctioneer
	}
	if err := assertSigner(inv.signers, gate.AuctioneerAuthority); err != nil {
		return err
	}
	if !record.Scopes.Has(scope) {
		return fmt.Errorf("%s: %w", scope, ErrMissingAuctioneerScope)
	}
	return nil
}

// DelegateAuctioneerParams grants an external authority the listed scopes.
type DelegateAuctioneerParams struct {
	AuctionHouse        solana.PublicKey
	Authority           solana.PublicKey
	AuctioneerAuthority solana.PublicKey
	AHAuctioneerPDA     solana.PublicKey
	Scopes              []AuthorityScope
}

func (DelegateAuctioneerParams) Name() string { return "delegate_auctioneer" }

func (p DelegateAuctioneerParams) process(inv *invocation) error {
	tx := inv.tx
	house, err := loadAuctionHouse(tx, inv.programID, p.AuctionHouse, HouseExpectations{Authority: &p.Authority})
	if err != nil {
		return err
	}
	if err := assertSigner(inv.signers, p.Authority); err != nil {
		return err
	}
	scopes, err := NewScopeSet(p.Scopes...)
	if err != nil {
		return err
	}
	bump, err := assertDerivation(inv.programID, p.AHAuctioneerPDA, pda.AuctioneerSeeds(p.AuctionHouse, p.AuctioneerAuthority))
	if err != nil {
		return fmt.Errorf("auctioneer pda: %w", err)
	}
	if house.HasAuctioneer || tx.Load(p.AHAuctioneerPDA).HasData() {
		return ErrAuctionHouseAlreadyDelegated
	}

	if err := tx.CreateAccount(p.Authority, p.AHAuctioneerPDA, AuctioneerSize, inv.programID); err != nil {
		return err
	}
	if err := storeAuctioneer(tx, p.AHAuctioneerPDA, &Auctioneer{
		AuctioneerAuthority: p.AuctioneerAuthority,
		AuctionHouse:        p.AuctionHouse,
		Bump:                bump,
		Scopes:              scopes,
	}); err != nil {
		return err
	}

	house.HasAuctioneer = true
	house.AuctioneerAddress = p.AHAuctioneerPDA
	house.Scopes = scopes
	if err := storeAuctionHouse(tx, p.AuctionHouse, house); err != nil {
		return err
	}
	inv.emit(Event{Kind: EventAuctioneerDelegated, AuctionHouse: p.AuctionHouse, Wallet: p.AuctioneerAuthority, Account: p.AHAuctioneerPDA})
	return nil
}

// UpdateAuctioneerParams replaces the scopes of an existing delegation.
type UpdateAuctioneerParams struct {
	AuctionHouse        solana.PublicKey
	Authority           solana.PublicKey
	AuctioneerAuthority solana.PublicKey
	AHAuctioneerPDA     solana.PublicKey
	Scopes              []AuthorityScope
}

func (UpdateAuctioneerParams) Name() string { return "update_auctioneer" }

func (p UpdateAuctioneerParams) process(inv *invocation) error {
	tx := inv.tx
	house, err := loadAuctionHouse(tx, inv.programID, p.AuctionHouse, HouseExpectations{Authority: &p.Authority})
	if err != nil {
		return err
	}
	if err := assertSigner(inv.signers, p.Authority); err != nil {
		return err
	}
	if !house.HasAuctioneer {
		return ErrNoAuctioneerProgramSet
	}
	scopes, err := NewScopeSet(p.Scopes...)
	if err != nil {
		return err
	}
	if _, err := assertDerivation(inv.programID, p.AHAuctioneerPDA, pda.AuctioneerSeeds(p.AuctionHouse, p.AuctioneerAuthority)); err != nil {
		return fmt.Errorf("auctioneer pda: %w", err)
	}
	record, err := loadAuctioneer(tx, inv.programID, p.AHAuctioneerPDA)
	if err != nil {
		return err
	}
	if !record.AuctioneerAuthority.Equals(p.AuctioneerAuthority) {
		return ErrInvalidAuctioneer
	}

	record.Scopes = scopes
	if err := storeAuctioneer(tx, p.AHAuctioneerPDA, record); err != nil {
		return err
	}
	house.AuctioneerAddress = p.AHAuctioneerPDA
	house.Scopes = scopes
	if err := storeAuctionHouse(tx, p.AuctionHouse, house); err != nil {
		return err
	}
	inv.emit(Event{Kind: EventAuctioneerUpdated, AuctionHouse: p.AuctionHouse, Wallet: p.AuctioneerAuthority, Account: p.AHAuctioneerPDA})
	return nil
}

func storeAuctioneer(tx *ledger.Tx, address solana.PublicKey, record *Auctioneer) error {
	data, err := MarshalAccount(*record)
	if err != nil {
		return fmt.Errorf("encode auctioneer: %w", err)
	}
	return tx.WriteData(address, data)
}

// The auctioneer_* entry points admit the gate, then run the same logic as the
// direct entry points with the auctioneer standing in for the house authority.

type AuctioneerDepositParams struct {
	AuctioneerGate
	DepositParams
}

func (AuctioneerDepositParams) Name() string { return "auctioneer_deposit" }

func (p AuctioneerDepositParams) process(inv *invocation) error {
	if err := inv.admit(p.AuctioneerGate, p.DepositParams.AuctionHouse, ScopeDeposit); err != nil {
		return err
	}
	return inv.deposit(p.DepositParams, true)
}

type AuctioneerWithdrawParams struct {
	AuctioneerGate
	WithdrawParams
}

func (AuctioneerWithdrawParams) Name() string { return "auctioneer_withdraw" }

func (p AuctioneerWithdrawParams) process(inv *invocation) error {
	if err := inv.admit(p.AuctioneerGate, p.WithdrawParams.AuctionHouse, ScopeWithdraw); err != nil {
		return err
	}
	return inv.withdraw(p.WithdrawParams, true)
}

type AuctioneerBuyParams struct {
	AuctioneerGate
	BuyParams
}

func (p AuctioneerBuyParams) Name() string { return "auctioneer_" + p.BuyParams.Name() }

func (p AuctioneerBuyParams) process(inv *invocation) error {
	if err := inv.admit(p.AuctioneerGate, p.BuyParams.AuctionHouse, p.BuyParams.scope()); err != nil {
		return err
	}
	return inv.bid(p.BuyParams, true)
}

// AuctioneerSellParams lists under the auctioneer price key, so it carries no price.
type AuctioneerSellParams struct {
	AuctioneerGate
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
	TokenSize              uint64
}

func (AuctioneerSellParams) Name() string { return "auctioneer_sell" }

func (p AuctioneerSellParams) sellParams() SellParams {
	return SellParams{
		Wallet:                 p.Wallet,
		TokenAccount:           p.TokenAccount,
		Metadata:               p.Metadata,
		Authority:              p.Authority,
		AuctionHouse:           p.AuctionHouse,
		AuctionHouseFeeAccount: p.AuctionHouseFeeAccount,
		SellerTradeState:       p.SellerTradeState,
		FreeSellerTradeState:   p.FreeSellerTradeState,
		ProgramAsSigner:        p.ProgramAsSigner,
		TradeStateBump:         p.TradeStateBump,
		FreeTradeStateBump:     p.FreeTradeStateBump,
		ProgramAsSignerBump:    p.ProgramAsSignerBump,
		BuyerPrice:             pda.AuctioneerPrice,
		TokenSize:              p.TokenSize,
	}
}

func (p AuctioneerSellParams) process(inv *invocation) error {
	if err := inv.admit(p.AuctioneerGate, p.AuctionHouse, ScopeSell); err != nil {
		return err
	}
	return inv.sell(p.sellParams(), true)
}

type AuctioneerCancelParams struct {
	AuctioneerGate
	CancelParams
}

func (AuctioneerCancelParams) Name() string { return "auctioneer_cancel" }

func (p AuctioneerCancelParams) process(inv *invocation) error {
	if err := inv.admit(p.AuctioneerGate, p.CancelParams.AuctionHouse, ScopeCancel); err != nil {
		return err
	}
	return inv.cancel(p.CancelParams, true)
}

// AuctioneerExecuteSaleParams settles against a listing made through auctioneer_sell.
type AuctioneerExecuteSaleParams struct {
	AuctioneerGate
	ExecuteSaleParams
}

func (AuctioneerExecuteSaleParams) Name() string { return "auctioneer_execute_sale" }

func (p AuctioneerExecuteSaleParams) process(inv *invocation) error {
	if err := inv.admit(p.AuctioneerGate, p.ExecuteSaleParams.AuctionHouse, ScopeExecuteSale); err != nil {
		return err
	}
	return inv.executeSale(p.ExecuteSaleParams, saleViaAuctioneer)
}

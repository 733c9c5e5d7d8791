package auctionhouse

import (
	"context"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"github.com/coldbell/auctionhouse/backend/internal/ledger"
	"github.com/coldbell/auctionhouse/backend/internal/pda"
)

const startingBalance = 10 * solana.LAMPORTS_PER_SOL

var fixtureNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newKey() solana.PublicKey {
	return solana.NewWallet().PublicKey()
}

type fixtureOptions struct {
	houseFeeBps        uint16
	royaltyBps         uint16
	creatorShares      []uint8
	supply             uint64
	requiresSignOff    bool
	canChangeSalePrice bool
	splTreasury        bool
}

type fixture struct {
	t      *testing.T
	bank   *ledger.Bank
	engine *Engine

	authority solana.PublicKey
	seller    solana.PublicKey
	buyer     solana.PublicKey

	treasuryMint solana.PublicKey
	house        solana.PublicKey
	feeAccount   solana.PublicKey
	treasury     solana.PublicKey
	// buyerPayment is the buyer's funding account: the wallet itself for
	// native houses, its treasury-mint token account otherwise.
	buyerPayment solana.PublicKey

	mint        solana.PublicKey
	sellerToken solana.PublicKey
	metadata    solana.PublicKey
	creators    []Creator
}

func newFixture(t *testing.T, opts fixtureOptions) *fixture {
	t.Helper()
	if opts.supply == 0 {
		opts.supply = 1
	}
	bank := ledger.NewBank(ledger.WithClock(func() time.Time { return fixtureNow }))
	f := &fixture{
		t:            t,
		bank:         bank,
		engine:       NewEngine(bank),
		authority:    newKey(),
		seller:       newKey(),
		buyer:        newKey(),
		treasuryMint: solana.SolMint,
		mint:         newKey(),
	}
	f.buyerPayment = f.buyer
	if opts.splTreasury {
		f.treasuryMint = newKey()
	}
	var err error
	f.metadata, _, err = pda.DeriveMetadataPDA(f.mint)
	require.NoError(t, err)
	for _, share := range opts.creatorShares {
		f.creators = append(f.creators, Creator{Address: newKey(), Verified: true, Share: share})
	}

	f.seed(func(tx *ledger.Tx) error {
		for _, key := range []solana.PublicKey{f.authority, f.seller, f.buyer} {
			if err := tx.Airdrop(key, startingBalance); err != nil {
				return err
			}
		}
		if err := tx.CreateMint(f.authority, f.mint, 0, f.authority); err != nil {
			return err
		}
		var err error
		if f.sellerToken, err = tx.CreateAssociatedTokenAccount(f.authority, f.seller, f.mint); err != nil {
			return err
		}
		if err := tx.MintTo(f.mint, f.sellerToken, opts.supply); err != nil {
			return err
		}
		if opts.splTreasury {
			if err := tx.CreateMint(f.authority, f.treasuryMint, 6, f.authority); err != nil {
				return err
			}
			if f.buyerPayment, err = tx.CreateAssociatedTokenAccount(f.authority, f.buyer, f.treasuryMint); err != nil {
				return err
			}
			if err := tx.MintTo(f.treasuryMint, f.buyerPayment, 1_000_000); err != nil {
				return err
			}
		}

		metadata := Metadata{
			UpdateAuthority:      f.authority,
			Mint:                 f.mint,
			Name:                 "Coldbell #1",
			Symbol:               "CB",
			URI:                  "https://example.com/1.json",
			SellerFeeBasisPoints: opts.royaltyBps,
			Creators:             f.creators,
			IsMutable:            true,
		}
		data, err := MarshalAccount(metadata)
		if err != nil {
			return err
		}
		if err := tx.CreateAccount(f.authority, f.metadata, len(data), pda.TokenMetadataProgramID); err != nil {
			return err
		}
		return tx.WriteData(f.metadata, data)
	})

	f.createHouse(opts)
	return f
}

func (f *fixture) createHouse(opts fixtureOptions) {
	f.t.Helper()
	programID := f.engine.ProgramID()
	house, bump, err := pda.DeriveAuctionHousePDA(programID, f.authority, f.treasuryMint)
	require.NoError(f.t, err)
	feeAccount, feeBump, err := pda.DeriveFeeAccountPDA(programID, house)
	require.NoError(f.t, err)
	treasury, treasuryBump, err := pda.DeriveTreasuryPDA(programID, house)
	require.NoError(f.t, err)

	withdrawal := f.authority
	if opts.splTreasury {
		withdrawal, _, err = pda.DeriveAssociatedTokenAccount(f.authority, f.treasuryMint)
		require.NoError(f.t, err)
	}

	f.mustExecute(Signers{f.authority}, CreateAuctionHouseParams{
		TreasuryMint:                       f.treasuryMint,
		Payer:                              f.authority,
		Authority:                          f.authority,
		FeeWithdrawalDestination:           f.authority,
		TreasuryWithdrawalDestination:      withdrawal,
		TreasuryWithdrawalDestinationOwner: f.authority,
		AuctionHouse:                       house,
		AuctionHouseFeeAccount:             feeAccount,
		AuctionHouseTreasury:               treasury,
		Bump:                               bump,
		FeePayerBump:                       feeBump,
		TreasuryBump:                       treasuryBump,
		SellerFeeBasisPoints:               opts.houseFeeBps,
		RequiresSignOff:                    opts.requiresSignOff,
		CanChangeSalePrice:                 opts.canChangeSalePrice,
	})
	f.house = house
	f.feeAccount = feeAccount
	f.treasury = treasury
	f.seed(func(tx *ledger.Tx) error {
		return tx.Airdrop(f.feeAccount, startingBalance)
	})
}

func (f *fixture) seed(fn func(tx *ledger.Tx) error) {
	f.t.Helper()
	require.NoError(f.t, f.bank.Atomic(context.Background(), fn))
}

func (f *fixture) fund(key solana.PublicKey) {
	f.t.Helper()
	f.seed(func(tx *ledger.Tx) error {
		return tx.Airdrop(key, startingBalance)
	})
}

func (f *fixture) execute(signers Signers, instructions ...Instruction) (Result, error) {
	return f.engine.Execute(context.Background(), signers, instructions...)
}

func (f *fixture) mustExecute(signers Signers, instructions ...Instruction) Result {
	f.t.Helper()
	result, err := f.execute(signers, instructions...)
	require.NoError(f.t, err)
	return result
}

func (f *fixture) lamports(key solana.PublicKey) uint64 {
	acct, ok := f.bank.Account(key)
	if !ok {
		return 0
	}
	return acct.Lamports
}

func (f *fixture) tokenAccount(key solana.PublicKey) *ledger.Account {
	f.t.Helper()
	acct, ok := f.bank.Account(key)
	require.True(f.t, ok, "token account %s missing", key)
	require.NotNil(f.t, acct.Token)
	return acct
}

func (f *fixture) tokenAmount(key solana.PublicKey) uint64 {
	f.t.Helper()
	return f.tokenAccount(key).Token.Amount
}

func (f *fixture) tradeState(address solana.PublicKey) TradeState {
	f.t.Helper()
	var state TradeState
	f.seed(func(tx *ledger.Tx) error {
		state = LoadTradeState(tx, address)
		return nil
	})
	return state
}

func (f *fixture) ata(wallet, mint solana.PublicKey) solana.PublicKey {
	f.t.Helper()
	ata, _, err := pda.DeriveAssociatedTokenAccount(wallet, mint)
	require.NoError(f.t, err)
	return ata
}

func (f *fixture) rentMinimum(dataLen int) uint64 {
	return f.bank.Rent().MinimumBalance(dataLen)
}

func (f *fixture) tradeStateKey(wallet solana.PublicKey, price, size uint64) pda.TradeStateKey {
	tokenAccount := f.sellerToken
	return pda.TradeStateKey{
		Wallet:       wallet,
		AuctionHouse: f.house,
		TokenAccount: &tokenAccount,
		TreasuryMint: f.treasuryMint,
		TokenMint:    f.mint,
		Price:        price,
		Size:         size,
	}
}

func (f *fixture) deriveTradeState(key pda.TradeStateKey) (solana.PublicKey, uint8) {
	f.t.Helper()
	address, bump, err := pda.DeriveTradeStatePDA(f.engine.ProgramID(), key)
	require.NoError(f.t, err)
	return address, bump
}

func (f *fixture) escrow(wallet solana.PublicKey) (solana.PublicKey, uint8) {
	f.t.Helper()
	escrow, bump, err := pda.DeriveEscrowPaymentPDA(f.engine.ProgramID(), f.house, wallet)
	require.NoError(f.t, err)
	return escrow, bump
}

func (f *fixture) programAsSigner() (solana.PublicKey, uint8) {
	f.t.Helper()
	signer, bump, err := pda.DeriveProgramAsSignerPDA(f.engine.ProgramID())
	require.NoError(f.t, err)
	return signer, bump
}

func (f *fixture) sellParams(price, size uint64) SellParams {
	key := f.tradeStateKey(f.seller, price, size)
	tradeState, tradeStateBump := f.deriveTradeState(key)
	free, freeBump := f.deriveTradeState(key.WithPrice(0))
	signer, signerBump := f.programAsSigner()
	return SellParams{
		Wallet:                 f.seller,
		TokenAccount:           f.sellerToken,
		Metadata:               f.metadata,
		Authority:              f.authority,
		AuctionHouse:           f.house,
		AuctionHouseFeeAccount: f.feeAccount,
		SellerTradeState:       tradeState,
		FreeSellerTradeState:   free,
		ProgramAsSigner:        signer,
		TradeStateBump:         tradeStateBump,
		FreeTradeStateBump:     freeBump,
		ProgramAsSignerBump:    signerBump,
		BuyerPrice:             price,
		TokenSize:              size,
	}
}

func (f *fixture) buyParams(buyer solana.PublicKey, price, size uint64) BuyParams {
	tradeState, tradeStateBump := f.deriveTradeState(f.tradeStateKey(buyer, price, size))
	escrow, escrowBump := f.escrow(buyer)
	payment := buyer
	if !isNativeMint(f.treasuryMint) {
		payment = f.ata(buyer, f.treasuryMint)
	}
	return BuyParams{
		Wallet:                 buyer,
		PaymentAccount:         payment,
		TransferAuthority:      buyer,
		TreasuryMint:           f.treasuryMint,
		TokenAccount:           f.sellerToken,
		Metadata:               f.metadata,
		EscrowPaymentAccount:   escrow,
		Authority:              f.authority,
		AuctionHouse:           f.house,
		AuctionHouseFeeAccount: f.feeAccount,
		BuyerTradeState:        tradeState,
		TradeStateBump:         tradeStateBump,
		EscrowPaymentBump:      escrowBump,
		BuyerPrice:             price,
		TokenSize:              size,
	}
}

func (f *fixture) depositParams(amount uint64) DepositParams {
	escrow, escrowBump := f.escrow(f.buyer)
	return DepositParams{
		Wallet:                 f.buyer,
		PaymentAccount:         f.buyerPayment,
		TransferAuthority:      f.buyer,
		EscrowPaymentAccount:   escrow,
		TreasuryMint:           f.treasuryMint,
		Authority:              f.authority,
		AuctionHouse:           f.house,
		AuctionHouseFeeAccount: f.feeAccount,
		EscrowPaymentBump:      escrowBump,
		Amount:                 amount,
	}
}

func (f *fixture) withdrawParams(amount uint64) WithdrawParams {
	escrow, escrowBump := f.escrow(f.buyer)
	receipt := f.buyer
	if !isNativeMint(f.treasuryMint) {
		receipt = f.ata(f.buyer, f.treasuryMint)
	}
	return WithdrawParams{
		Wallet:                 f.buyer,
		ReceiptAccount:         receipt,
		EscrowPaymentAccount:   escrow,
		TreasuryMint:           f.treasuryMint,
		Authority:              f.authority,
		AuctionHouse:           f.house,
		AuctionHouseFeeAccount: f.feeAccount,
		EscrowPaymentBump:      escrowBump,
		Amount:                 amount,
	}
}

func (f *fixture) cancelParams(wallet solana.PublicKey, tradeState solana.PublicKey, price, size uint64) CancelParams {
	return CancelParams{
		Wallet:                 wallet,
		TokenAccount:           f.sellerToken,
		TokenMint:              f.mint,
		Authority:              f.authority,
		AuctionHouse:           f.house,
		AuctionHouseFeeAccount: f.feeAccount,
		TradeState:             tradeState,
		BuyerPrice:             price,
		TokenSize:              size,
	}
}

// saleParams settles buyer's full bid at (price, size) against the seller's
// listing at the same terms.
func (f *fixture) saleParams(buyer solana.PublicKey, price, size uint64) ExecuteSaleParams {
	buyerTradeState, _ := f.deriveTradeState(f.tradeStateKey(buyer, price, size))
	sellerKey := f.tradeStateKey(f.seller, price, size)
	sellerTradeState, _ := f.deriveTradeState(sellerKey)
	free, freeBump := f.deriveTradeState(sellerKey.WithPrice(0))
	escrow, escrowBump := f.escrow(buyer)
	signer, signerBump := f.programAsSigner()

	sellerReceipt := f.seller
	if !isNativeMint(f.treasuryMint) {
		sellerReceipt = f.ata(f.seller, f.treasuryMint)
	}
	creators := make([]CreatorAccount, 0, len(f.creators))
	for _, creator := range f.creators {
		creators = append(creators, CreatorAccount{
			Address:      creator.Address,
			TokenAccount: f.ata(creator.Address, f.treasuryMint),
		})
	}
	return ExecuteSaleParams{
		Buyer:                       buyer,
		Seller:                      f.seller,
		TokenAccount:                f.sellerToken,
		TokenMint:                   f.mint,
		Metadata:                    f.metadata,
		TreasuryMint:                f.treasuryMint,
		EscrowPaymentAccount:        escrow,
		SellerPaymentReceiptAccount: sellerReceipt,
		BuyerReceiptTokenAccount:    f.ata(buyer, f.mint),
		Authority:                   f.authority,
		AuctionHouse:                f.house,
		AuctionHouseFeeAccount:      f.feeAccount,
		AuctionHouseTreasury:        f.treasury,
		BuyerTradeState:             buyerTradeState,
		SellerTradeState:            sellerTradeState,
		FreeTradeState:              free,
		ProgramAsSigner:             signer,
		EscrowPaymentBump:           escrowBump,
		FreeTradeStateBump:          freeBump,
		ProgramAsSignerBump:         signerBump,
		BuyerPrice:                  price,
		TokenSize:                   size,
		Creators:                    creators,
	}
}

// partialSaleParams fills (size, price) of a listing at (listPrice, listSize).
// The buyer's trade state is the one bid at the partial terms.
func (f *fixture) partialSaleParams(buyer solana.PublicKey, listPrice, listSize, size, price uint64) ExecuteSaleParams {
	p := f.saleParams(buyer, listPrice, listSize)
	p.BuyerTradeState, _ = f.deriveTradeState(f.tradeStateKey(buyer, price, size))
	p.PartialOrderSize = &size
	p.PartialOrderPrice = &price
	return p
}

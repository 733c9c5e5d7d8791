package keeper

import (
	"bytes"
	"context"
	"log/slog"
	"strconv"
	"testing"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/require"

	"github.com/coldbell/auctionhouse/backend/internal/auctionhouse"
	"github.com/coldbell/auctionhouse/backend/internal/config"
	"github.com/coldbell/auctionhouse/backend/internal/pda"
	"github.com/coldbell/auctionhouse/backend/internal/store"
)

type fakeChain struct {
	accounts map[solana.PublicKey][]byte
	sent     []*solana.Transaction
}

func (f *fakeChain) GetAccountInfoWithOpts(_ context.Context, account solana.PublicKey, _ *rpc.GetAccountInfoOpts) (*rpc.GetAccountInfoResult, error) {
	data, ok := f.accounts[account]
	if !ok {
		return nil, rpc.ErrNotFound
	}
	return &rpc.GetAccountInfoResult{Value: &rpc.Account{Lamports: 1, Data: rpc.DataBytesOrJSONFromBytes(data)}}, nil
}

func (f *fakeChain) GetLatestBlockhash(context.Context, rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	return &rpc.GetLatestBlockhashResult{Value: &rpc.LatestBlockhashResult{Blockhash: solana.Hash{1, 2, 3}}}, nil
}

func (f *fakeChain) SendTransactionWithOpts(_ context.Context, tx *solana.Transaction, _ rpc.TransactionOpts) (solana.Signature, error) {
	f.sent = append(f.sent, tx)
	return tx.Signatures[0], nil
}

func (f *fakeChain) GetSignatureStatuses(context.Context, bool, ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	return &rpc.GetSignatureStatusesResult{
		Value: []*rpc.SignatureStatusesResult{{ConfirmationStatus: rpc.ConfirmationStatusConfirmed}},
	}, nil
}

type fakeMatches []store.Match

func (f fakeMatches) ListMatches(context.Context, int) ([]store.Match, error) {
	return f, nil
}

type market struct {
	programID solana.PublicKey
	authority solana.PrivateKey
	house     solana.PublicKey
	metadata  solana.PublicKey
	mint      solana.PublicKey
	creator   solana.PublicKey
	seller    solana.PublicKey
	buyer     solana.PublicKey
	chain     *fakeChain
	match     store.Match
}

func newKey() solana.PublicKey {
	return solana.NewWallet().PublicKey()
}

func mustMarshal(t *testing.T, v bin.BinaryMarshaler) []byte {
	t.Helper()
	data, err := auctionhouse.MarshalAccount(v)
	require.NoError(t, err)
	return data
}

func newMarket(t *testing.T) *market {
	t.Helper()
	m := &market{
		programID: pda.AuctionHouseProgramID,
		authority: solana.NewWallet().PrivateKey,
		house:     newKey(),
		metadata:  newKey(),
		mint:      newKey(),
		creator:   newKey(),
		seller:    newKey(),
		buyer:     newKey(),
		chain:     &fakeChain{accounts: map[solana.PublicKey][]byte{}},
	}
	m.chain.accounts[m.house] = mustMarshal(t, auctionhouse.AuctionHouse{
		AuctionHouseFeeAccount: newKey(),
		AuctionHouseTreasury:   newKey(),
		TreasuryMint:           solana.SolMint,
		Authority:              m.authority.PublicKey(),
		Creator:                m.authority.PublicKey(),
		SellerFeeBasisPoints:   200,
	})
	m.chain.accounts[m.metadata] = mustMarshal(t, auctionhouse.Metadata{
		UpdateAuthority:      m.creator,
		Mint:                 m.mint,
		Name:                 "Coldbell #1",
		SellerFeeBasisPoints: 500,
		Creators:             []auctionhouse.Creator{{Address: m.creator, Verified: true, Share: 100}},
	})

	const price, size = uint64(2_500_000_000), uint64(1)
	tokenAccount, _, err := pda.DeriveAssociatedTokenAccount(m.seller, m.mint)
	require.NoError(t, err)
	sellerTradeState, sellerBump, err := pda.DeriveTradeStatePDA(m.programID, pda.TradeStateKey{
		Wallet:       m.seller,
		AuctionHouse: m.house,
		TokenAccount: &tokenAccount,
		TreasuryMint: solana.SolMint,
		TokenMint:    m.mint,
		Price:        price,
		Size:         size,
	})
	require.NoError(t, err)
	bidTradeState := newKey()
	m.chain.accounts[sellerTradeState] = []byte{sellerBump}
	m.chain.accounts[bidTradeState] = []byte{254}

	m.match = store.Match{
		Listing: store.ListingRecord{
			Pubkey:       newKey().String(),
			TradeState:   sellerTradeState.String(),
			AuctionHouse: m.house.String(),
			Seller:       m.seller.String(),
			Metadata:     m.metadata.String(),
			Price:        strconv.FormatUint(price, 10),
			TokenSize:    strconv.FormatUint(size, 10),
		},
		Bid: store.BidRecord{
			Pubkey:     newKey().String(),
			TradeState: bidTradeState.String(),
			Buyer:      m.buyer.String(),
		},
	}
	return m
}

func (m *market) service(t *testing.T) *Service {
	t.Helper()
	cfg := config.KeeperConfig{
		Commitment:                    rpc.CommitmentConfirmed,
		PollInterval:                  time.Second,
		MaxSalesPerTick:               10,
		TxTimeout:                     5 * time.Second,
		ComputeUnitLimit:              400_000,
		ComputeUnitPriceMicroLamports: 1_000,
		ProgramID:                     m.programID,
	}
	return newService(cfg, slog.New(slog.DiscardHandler), m.chain, fakeMatches{m.match}, m.authority)
}

func TestPlanSaleResolvesAccounts(t *testing.T) {
	m := newMarket(t)
	svc := m.service(t)

	plan, err := svc.planSale(context.Background(), m.match)
	require.NoError(t, err)
	require.True(t, plan.native)

	sale := plan.sale
	require.Equal(t, m.buyer, sale.Buyer)
	require.Equal(t, m.seller, sale.Seller)
	require.Equal(t, m.seller, sale.SellerPaymentReceiptAccount)
	require.Equal(t, m.mint, sale.TokenMint)
	require.Equal(t, m.authority.PublicKey(), sale.Authority)
	require.Equal(t, uint64(2_500_000_000), sale.BuyerPrice)
	require.Equal(t, uint64(1), sale.TokenSize)
	require.Equal(t, m.match.Listing.TradeState, sale.SellerTradeState.String())

	escrow, escrowBump, err := pda.DeriveEscrowPaymentPDA(m.programID, m.house, m.buyer)
	require.NoError(t, err)
	require.Equal(t, escrow, sale.EscrowPaymentAccount)
	require.Equal(t, escrowBump, sale.EscrowPaymentBump)

	buyerReceipt, _, err := pda.DeriveAssociatedTokenAccount(m.buyer, m.mint)
	require.NoError(t, err)
	require.Equal(t, buyerReceipt, sale.BuyerReceiptTokenAccount)

	require.Len(t, sale.Creators, 1)
	require.Equal(t, m.creator, sale.Creators[0].Address)

	purchase, purchaseBump, err := pda.DerivePurchaseReceiptPDA(m.programID, sale.SellerTradeState, sale.BuyerTradeState)
	require.NoError(t, err)
	require.Equal(t, purchase, plan.receipt.PurchaseReceipt)
	require.Equal(t, purchaseBump, plan.receipt.Bump)
	require.Equal(t, m.authority.PublicKey(), plan.receipt.Bookkeeper)
}

func TestPlanSaleSkips(t *testing.T) {
	t.Run("foreign authority", func(t *testing.T) {
		m := newMarket(t)
		svc := m.service(t)
		svc.signer = solana.NewWallet().PrivateKey

		_, err := svc.planSale(context.Background(), m.match)
		require.ErrorIs(t, err, errSkipSale)
		require.ErrorContains(t, err, "not under this authority")
	})

	t.Run("retired trade state", func(t *testing.T) {
		m := newMarket(t)
		svc := m.service(t)
		bidTradeState := solana.MustPublicKeyFromBase58(m.match.Bid.TradeState)
		m.chain.accounts[bidTradeState] = []byte{0}

		_, err := svc.planSale(context.Background(), m.match)
		require.ErrorIs(t, err, errSkipSale)
		require.ErrorContains(t, err, "no longer active")
	})

	t.Run("listing off the associated token account", func(t *testing.T) {
		m := newMarket(t)
		svc := m.service(t)
		m.match.Listing.TradeState = newKey().String()

		_, err := svc.planSale(context.Background(), m.match)
		require.ErrorIs(t, err, errSkipSale)
	})

	t.Run("bad price", func(t *testing.T) {
		m := newMarket(t)
		svc := m.service(t)
		m.match.Listing.Price = "lots"

		_, err := svc.planSale(context.Background(), m.match)
		require.ErrorIs(t, err, errSkipSale)
	})
}

func TestTickSendsSaleOnce(t *testing.T) {
	m := newMarket(t)
	svc := m.service(t)
	clock := time.Unix(1_700_000_000, 0)
	svc.now = func() time.Time { return clock }

	require.NoError(t, svc.tick(context.Background()))
	require.Len(t, m.chain.sent, 1)

	tx := m.chain.sent[0]
	require.NoError(t, tx.VerifySignatures())
	require.Equal(t, m.authority.PublicKey(), tx.Message.AccountKeys[0])
	require.Len(t, tx.Message.Instructions, 4)
	require.True(t, bytes.HasPrefix(tx.Message.Instructions[2].Data, executeSaleDisc[:]))
	require.True(t, bytes.HasPrefix(tx.Message.Instructions[3].Data, printPurchaseReceiptDisc[:]))

	// Still cooling down.
	require.NoError(t, svc.tick(context.Background()))
	require.Len(t, m.chain.sent, 1)

	clock = clock.Add(attemptCooldown)
	require.NoError(t, svc.tick(context.Background()))
	require.Len(t, m.chain.sent, 2)
}

func TestExecuteSaleInstructionLayout(t *testing.T) {
	creator, creatorATA := newKey(), newKey()
	params := auctionhouse.ExecuteSaleParams{
		Buyer:               newKey(),
		Seller:              newKey(),
		Authority:           newKey(),
		EscrowPaymentBump:   250,
		FreeTradeStateBump:  251,
		ProgramAsSignerBump: 252,
		BuyerPrice:          1_000,
		TokenSize:           3,
		Creators:            []auctionhouse.CreatorAccount{{Address: creator, TokenAccount: creatorATA}},
	}

	ix, err := newExecuteSaleInstruction(pda.AuctionHouseProgramID, params, false)
	require.NoError(t, err)
	data, err := ix.Data()
	require.NoError(t, err)
	require.Equal(t, executeSaleDisc[:], data[:8])
	require.Equal(t, []byte{250, 251, 252}, data[8:11])
	require.Len(t, data, 8+3+8+8)

	accounts := ix.Accounts()
	require.Len(t, accounts, 22)
	require.True(t, accounts[9].IsSigner)
	require.Equal(t, params.Authority, accounts[9].PublicKey)
	require.Equal(t, creatorATA, accounts[21].PublicKey)
	require.True(t, accounts[21].IsWritable)

	native, err := newExecuteSaleInstruction(pda.AuctionHouseProgramID, params, true)
	require.NoError(t, err)
	require.Equal(t, creator, native.Accounts()[21].PublicKey)

	partial := uint64(1)
	params.PartialOrderSize = &partial
	_, err = newExecuteSaleInstruction(pda.AuctionHouseProgramID, params, false)
	require.Error(t, err)
}

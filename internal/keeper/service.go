package keeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/coldbell/auctionhouse/backend/internal/auctionhouse"
	"github.com/coldbell/auctionhouse/backend/internal/config"
	"github.com/coldbell/auctionhouse/backend/internal/pda"
	"github.com/coldbell/auctionhouse/backend/internal/store"
)

// attemptCooldown keeps a pair out of rotation after an attempt, long enough
// for the indexer to observe the purchase receipt or the retired trade states.
const attemptCooldown = 2 * time.Minute

var errSkipSale = errors.New("skip sale")

type chainClient interface {
	GetAccountInfoWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetAccountInfoOpts) (*rpc.GetAccountInfoResult, error)
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(ctx context.Context, transaction *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, transactionSignatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
}

type matchSource interface {
	ListMatches(ctx context.Context, limit int) ([]store.Match, error)
}

type Service struct {
	cfg     config.KeeperConfig
	rpc     chainClient
	matches matchSource
	closer  func() error
	signer  solana.PrivateKey
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.Mutex
	attempts map[string]time.Time
}

// salePlan is everything one settlement transaction needs.
type salePlan struct {
	sale    auctionhouse.ExecuteSaleParams
	receipt auctionhouse.PrintPurchaseReceiptParams
	native  bool
}

func New(cfg config.KeeperConfig, logger *slog.Logger) (*Service, error) {
	signer, err := solana.PrivateKeyFromSolanaKeygenFile(cfg.KeypairPath)
	if err != nil {
		return nil, fmt.Errorf("load keypair %q: %w", cfg.KeypairPath, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	st, err := store.Open(ctx, cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	svc := newService(cfg, logger, rpc.New(cfg.RPCURL), st, signer)
	svc.closer = st.Close
	return svc, nil
}

func newService(cfg config.KeeperConfig, logger *slog.Logger, client chainClient, matches matchSource, signer solana.PrivateKey) *Service {
	return &Service{
		cfg:      cfg,
		rpc:      client,
		matches:  matches,
		signer:   signer,
		logger:   logger,
		now:      time.Now,
		attempts: map[string]time.Time{},
	}
}

func (s *Service) Run(ctx context.Context) error {
	defer func() {
		if s.closer == nil {
			return
		}
		if err := s.closer(); err != nil {
			s.logger.Error("failed to close store", "err", err)
		}
	}()

	s.logger.Info("keeper started",
		"rpc", s.cfg.RPCURL,
		"commitment", s.cfg.Commitment,
		"authority", s.signer.PublicKey(),
		"program_id", s.cfg.ProgramID,
	)

	if err := s.tick(ctx); err != nil {
		s.logger.Error("keeper tick failed", "err", err)
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("keeper stopped")
			return nil
		case <-ticker.C:
			if err := s.tick(ctx); err != nil {
				s.logger.Error("keeper tick failed", "err", err)
			}
		}
	}
}

func (s *Service) tick(ctx context.Context) error {
	matches, err := s.matches.ListMatches(ctx, s.cfg.MaxSalesPerTick)
	if err != nil {
		return fmt.Errorf("list matches: %w", err)
	}
	s.pruneAttempts()
	if len(matches) == 0 {
		return nil
	}

	// A listing or a bid settles at most once per tick.
	used := map[string]struct{}{}
	executed, skipped, failed := 0, 0, 0
	for _, match := range matches {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, ok := used[match.Listing.Pubkey]; ok {
			continue
		}
		if _, ok := used[match.Bid.Pubkey]; ok {
			continue
		}
		if !s.beginAttempt(match) {
			continue
		}

		err := s.settle(ctx, match)
		switch {
		case err == nil:
			executed++
			used[match.Listing.Pubkey] = struct{}{}
			used[match.Bid.Pubkey] = struct{}{}
		case errors.Is(err, errSkipSale):
			skipped++
			s.logger.Warn("sale skipped", "listing", match.Listing.Pubkey, "bid", match.Bid.Pubkey, "reason", err)
		default:
			failed++
			s.logger.Warn("sale failed", "listing", match.Listing.Pubkey, "bid", match.Bid.Pubkey, "err", err)
		}
	}

	s.logger.Info(
		"keeper tick complete",
		"matches", len(matches),
		"executed", executed,
		"skipped", skipped,
		"failed", failed,
	)
	return nil
}

func attemptKey(match store.Match) string {
	return match.Listing.Pubkey + ":" + match.Bid.Pubkey
}

// beginAttempt reports whether match is out of cooldown and, if so, starts one.
func (s *Service) beginAttempt(match store.Match) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := attemptKey(match)
	if until, ok := s.attempts[key]; ok && s.now().Before(until) {
		return false
	}
	s.attempts[key] = s.now().Add(attemptCooldown)
	return true
}

func (s *Service) pruneAttempts() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for key, until := range s.attempts {
		if !now.Before(until) {
			delete(s.attempts, key)
		}
	}
}

func (s *Service) settle(ctx context.Context, match store.Match) error {
	plan, err := s.planSale(ctx, match)
	if err != nil {
		return err
	}

	saleIx, err := newExecuteSaleInstruction(s.cfg.ProgramID, plan.sale, plan.native)
	if err != nil {
		return err
	}
	receiptIx, err := newPrintPurchaseReceiptInstruction(s.cfg.ProgramID, plan.receipt)
	if err != nil {
		return err
	}
	instructions, err := s.withComputeBudget(saleIx, receiptIx)
	if err != nil {
		return err
	}

	txCtx, cancel := context.WithTimeout(ctx, s.cfg.TxTimeout)
	defer cancel()

	signature, err := s.sendTransaction(txCtx, instructions)
	if err != nil {
		return fmt.Errorf("send execute_sale transaction: %w", err)
	}
	if err := s.waitForConfirmation(txCtx, signature); err != nil {
		return fmt.Errorf("confirm execute_sale %s: %w", signature, err)
	}

	s.logger.Info(
		"sale executed",
		"auction_house", plan.sale.AuctionHouse,
		"seller", plan.sale.Seller,
		"buyer", plan.sale.Buyer,
		"mint", plan.sale.TokenMint,
		"price", plan.sale.BuyerPrice,
		"size", plan.sale.TokenSize,
		"signature", signature,
	)
	return nil
}

func (s *Service) withComputeBudget(instructions ...solana.Instruction) ([]solana.Instruction, error) {
	out := make([]solana.Instruction, 0, len(instructions)+2)
	if s.cfg.ComputeUnitLimit > 0 {
		cuLimitIx, err := computebudget.NewSetComputeUnitLimitInstruction(s.cfg.ComputeUnitLimit).ValidateAndBuild()
		if err != nil {
			return nil, fmt.Errorf("build compute unit limit instruction: %w", err)
		}
		out = append(out, cuLimitIx)
	}
	if s.cfg.ComputeUnitPriceMicroLamports > 0 {
		cuPriceIx, err := computebudget.NewSetComputeUnitPriceInstruction(s.cfg.ComputeUnitPriceMicroLamports).ValidateAndBuild()
		if err != nil {
			return nil, fmt.Errorf("build compute unit price instruction: %w", err)
		}
		out = append(out, cuPriceIx)
	}
	return append(out, instructions...), nil
}

// planSale resolves every account execute_sale touches for match. Matches
// the keeper cannot or should not settle fail with errSkipSale.
func (s *Service) planSale(ctx context.Context, match store.Match) (*salePlan, error) {
	keys, err := parseKeys(map[string]string{
		"auction house":       match.Listing.AuctionHouse,
		"metadata":            match.Listing.Metadata,
		"seller":              match.Listing.Seller,
		"buyer":               match.Bid.Buyer,
		"listing trade state": match.Listing.TradeState,
		"bid trade state":     match.Bid.TradeState,
		"listing receipt":     match.Listing.Pubkey,
		"bid receipt":         match.Bid.Pubkey,
	})
	if err != nil {
		return nil, err
	}
	price, err := strconv.ParseUint(match.Listing.Price, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: listing price %q", errSkipSale, match.Listing.Price)
	}
	size, err := strconv.ParseUint(match.Listing.TokenSize, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: listing size %q", errSkipSale, match.Listing.TokenSize)
	}

	houseKey := keys["auction house"]
	var house auctionhouse.AuctionHouse
	if err := s.loadAccount(ctx, houseKey, &house); err != nil {
		return nil, fmt.Errorf("load auction house %s: %w", houseKey, err)
	}
	if !house.Authority.Equals(s.signer.PublicKey()) {
		return nil, fmt.Errorf("%w: auction house %s is not under this authority", errSkipSale, houseKey)
	}
	if house.HasAuctioneer {
		return nil, fmt.Errorf("%w: auction house %s delegates to an auctioneer", errSkipSale, houseKey)
	}

	var metadata auctionhouse.Metadata
	if err := s.loadAccount(ctx, keys["metadata"], &metadata); err != nil {
		return nil, fmt.Errorf("load metadata %s: %w", keys["metadata"], err)
	}
	mint := metadata.Mint
	seller, buyer := keys["seller"], keys["buyer"]
	native := house.IsNative()

	tokenAccount, _, err := pda.DeriveAssociatedTokenAccount(seller, mint)
	if err != nil {
		return nil, err
	}
	sellerKey := pda.TradeStateKey{
		Wallet:       seller,
		AuctionHouse: houseKey,
		TokenAccount: &tokenAccount,
		TreasuryMint: house.TreasuryMint,
		TokenMint:    mint,
		Price:        price,
		Size:         size,
	}
	sellerTradeState, _, err := pda.DeriveTradeStatePDA(s.cfg.ProgramID, sellerKey)
	if err != nil {
		return nil, err
	}
	if !sellerTradeState.Equals(keys["listing trade state"]) {
		return nil, fmt.Errorf("%w: listing %s is not on the seller's associated token account", errSkipSale, match.Listing.Pubkey)
	}
	freeTradeState, freeBump, err := pda.DeriveTradeStatePDA(s.cfg.ProgramID, sellerKey.WithPrice(0))
	if err != nil {
		return nil, err
	}
	escrow, escrowBump, err := pda.DeriveEscrowPaymentPDA(s.cfg.ProgramID, houseKey, buyer)
	if err != nil {
		return nil, err
	}
	programAsSigner, signerBump, err := pda.DeriveProgramAsSignerPDA(s.cfg.ProgramID)
	if err != nil {
		return nil, err
	}
	buyerReceipt, _, err := pda.DeriveAssociatedTokenAccount(buyer, mint)
	if err != nil {
		return nil, err
	}
	sellerPayment := seller
	if !native {
		if sellerPayment, _, err = pda.DeriveAssociatedTokenAccount(seller, house.TreasuryMint); err != nil {
			return nil, err
		}
	}
	creators := make([]auctionhouse.CreatorAccount, 0, len(metadata.Creators))
	for _, creator := range metadata.Creators {
		account := auctionhouse.CreatorAccount{Address: creator.Address, TokenAccount: creator.Address}
		if !native {
			if account.TokenAccount, _, err = pda.DeriveAssociatedTokenAccount(creator.Address, house.TreasuryMint); err != nil {
				return nil, err
			}
		}
		creators = append(creators, account)
	}

	for _, tradeState := range []solana.PublicKey{sellerTradeState, keys["bid trade state"]} {
		live, err := s.tradeStateLive(ctx, tradeState)
		if err != nil {
			return nil, err
		}
		if !live {
			return nil, fmt.Errorf("%w: trade state %s is no longer active", errSkipSale, tradeState)
		}
	}

	purchaseReceipt, purchaseBump, err := pda.DerivePurchaseReceiptPDA(s.cfg.ProgramID, sellerTradeState, keys["bid trade state"])
	if err != nil {
		return nil, err
	}

	return &salePlan{
		native: native,
		sale: auctionhouse.ExecuteSaleParams{
			Buyer:                       buyer,
			Seller:                      seller,
			TokenAccount:                tokenAccount,
			TokenMint:                   mint,
			Metadata:                    keys["metadata"],
			TreasuryMint:                house.TreasuryMint,
			EscrowPaymentAccount:        escrow,
			SellerPaymentReceiptAccount: sellerPayment,
			BuyerReceiptTokenAccount:    buyerReceipt,
			Authority:                   house.Authority,
			AuctionHouse:                houseKey,
			AuctionHouseFeeAccount:      house.AuctionHouseFeeAccount,
			AuctionHouseTreasury:        house.AuctionHouseTreasury,
			BuyerTradeState:             keys["bid trade state"],
			SellerTradeState:            sellerTradeState,
			FreeTradeState:              freeTradeState,
			ProgramAsSigner:             programAsSigner,
			EscrowPaymentBump:           escrowBump,
			FreeTradeStateBump:          freeBump,
			ProgramAsSignerBump:         signerBump,
			BuyerPrice:                  price,
			TokenSize:                   size,
			Creators:                    creators,
		},
		receipt: auctionhouse.PrintPurchaseReceiptParams{
			PurchaseReceipt: purchaseReceipt,
			ListingReceipt:  keys["listing receipt"],
			BidReceipt:      keys["bid receipt"],
			Bookkeeper:      s.signer.PublicKey(),
			Bump:            purchaseBump,
		},
	}, nil
}

func parseKeys(raw map[string]string) (map[string]solana.PublicKey, error) {
	out := make(map[string]solana.PublicKey, len(raw))
	for name, value := range raw {
		key, err := solana.PublicKeyFromBase58(value)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid %s %q", errSkipSale, name, value)
		}
		out[name] = key
	}
	return out, nil
}

func (s *Service) fetchAccount(ctx context.Context, key solana.PublicKey) (*rpc.Account, error) {
	result, err := s.rpc.GetAccountInfoWithOpts(ctx, key, &rpc.GetAccountInfoOpts{Commitment: s.cfg.Commitment})
	if err != nil {
		return nil, err
	}
	if result == nil || result.Value == nil {
		return nil, rpc.ErrNotFound
	}
	return result.Value, nil
}

func (s *Service) loadAccount(ctx context.Context, key solana.PublicKey, out bin.BinaryUnmarshaler) error {
	account, err := s.fetchAccount(ctx, key)
	if err != nil {
		return err
	}
	if err := auctionhouse.UnmarshalAccount(account.Data.GetBinary(), out); err != nil {
		return fmt.Errorf("%w: undecodable account: %v", errSkipSale, err)
	}
	return nil
}

// tradeStateLive reports whether the trade state at key still holds its bump.
func (s *Service) tradeStateLive(ctx context.Context, key solana.PublicKey) (bool, error) {
	account, err := s.fetchAccount(ctx, key)
	if errors.Is(err, rpc.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load trade state %s: %w", key, err)
	}
	data := account.Data.GetBinary()
	return len(data) > 0 && data[0] != 0, nil
}

func (s *Service) sendTransaction(ctx context.Context, instructions []solana.Instruction) (solana.Signature, error) {
	recent, err := s.rpc.GetLatestBlockhash(ctx, s.cfg.Commitment)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("get latest blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(
		instructions,
		recent.Value.Blockhash,
		solana.TransactionPayer(s.signer.PublicKey()),
	)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("build transaction: %w", err)
	}

	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if s.signer.PublicKey().Equals(key) {
			return &s.signer
		}
		return nil
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("sign transaction: %w", err)
	}

	opts := rpc.TransactionOpts{
		SkipPreflight:       s.cfg.SkipPreflight,
		PreflightCommitment: s.cfg.Commitment,
	}
	if s.cfg.MaxRetries != nil {
		retries := *s.cfg.MaxRetries
		opts.MaxRetries = &retries
	}

	return s.rpc.SendTransactionWithOpts(ctx, tx, opts)
}

func (s *Service) waitForConfirmation(ctx context.Context, sig solana.Signature) error {
	ticker := time.NewTicker(700 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			result, err := s.rpc.GetSignatureStatuses(ctx, true, sig)
			if err != nil {
				continue
			}
			if len(result.Value) == 0 || result.Value[0] == nil {
				continue
			}
			status := result.Value[0]
			if status.Err != nil {
				return fmt.Errorf("transaction failed: %v", status.Err)
			}
			if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
				status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return nil
			}
		}
	}
}

package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/coldbell/auctionhouse/backend/internal/auctionhouse"
	"github.com/coldbell/auctionhouse/backend/internal/config"
	"github.com/coldbell/auctionhouse/backend/internal/store"
)

// SyncName is the sync_state row the indexer advances.
const SyncName = "indexer"

// AccountSource is the slice of the RPC API the indexer reads.
type AccountSource interface {
	GetSlot(ctx context.Context, commitment rpc.CommitmentType) (uint64, error)
	GetProgramAccountsWithOpts(ctx context.Context, publicKey solana.PublicKey, opts *rpc.GetProgramAccountsOpts) (rpc.GetProgramAccountsResult, error)
}

type Service struct {
	cfg    config.IndexerConfig
	rpc    AccountSource
	store  *store.Store
	logger *slog.Logger
}

func New(cfg config.IndexerConfig, logger *slog.Logger) (*Service, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	st, err := store.Open(ctx, cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	return newService(cfg, logger, rpc.New(cfg.RPCURL), st), nil
}

func newService(cfg config.IndexerConfig, logger *slog.Logger, source AccountSource, st *store.Store) *Service {
	return &Service{
		cfg:    cfg,
		rpc:    source,
		store:  st,
		logger: logger,
	}
}

func (s *Service) Run(ctx context.Context) error {
	defer func() {
		if err := s.store.Close(); err != nil {
			s.logger.Error("failed to close store", "err", err)
		}
	}()

	s.logger.Info("indexer started",
		"rpc", s.cfg.RPCURL,
		"program_id", s.cfg.ProgramID.String(),
		"commitment", s.cfg.Commitment,
		"poll_interval", s.cfg.PollInterval.String(),
	)

	if err := s.syncOnce(ctx); err != nil {
		s.logger.Error("initial sync failed", "err", err)
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("indexer stopped")
			return nil
		case <-ticker.C:
			if err := s.syncOnce(ctx); err != nil {
				s.logger.Error("sync failed", "err", err)
			}
		}
	}
}

// accountLayout is one account type the program owns, keyed by its
// discriminator.
type accountLayout struct {
	name          string
	discriminator [8]byte
	decode        func(data []byte) (bin.BinaryUnmarshaler, error)
	store         func(ctx context.Context, s *store.Store, tx *store.Tx, pubkey solana.PublicKey, slot uint64, payload bin.BinaryUnmarshaler) error
}

func decodeAs[T any, PT interface {
	*T
	bin.BinaryUnmarshaler
}](data []byte) (bin.BinaryUnmarshaler, error) {
	out := PT(new(T))
	if err := auctionhouse.UnmarshalAccount(data, out); err != nil {
		return nil, err
	}
	return out, nil
}

var layouts = []accountLayout{
	{name: "AuctionHouse", discriminator: auctionhouse.AuctionHouseDiscriminator, decode: decodeAs[auctionhouse.AuctionHouse]},
	{name: "Auctioneer", discriminator: auctionhouse.AuctioneerDiscriminator, decode: decodeAs[auctionhouse.Auctioneer]},
	{
		name:          "ListingReceipt",
		discriminator: auctionhouse.ListingReceiptDiscriminator,
		decode:        decodeAs[auctionhouse.ListingReceipt],
		store: func(ctx context.Context, s *store.Store, tx *store.Tx, pubkey solana.PublicKey, slot uint64, payload bin.BinaryUnmarshaler) error {
			return s.UpsertListingTx(ctx, tx, pubkey, slot, payload.(*auctionhouse.ListingReceipt))
		},
	},
	{
		name:          "BidReceipt",
		discriminator: auctionhouse.BidReceiptDiscriminator,
		decode:        decodeAs[auctionhouse.BidReceipt],
		store: func(ctx context.Context, s *store.Store, tx *store.Tx, pubkey solana.PublicKey, slot uint64, payload bin.BinaryUnmarshaler) error {
			return s.UpsertBidTx(ctx, tx, pubkey, slot, payload.(*auctionhouse.BidReceipt))
		},
	},
	{
		name:          "PurchaseReceipt",
		discriminator: auctionhouse.PurchaseReceiptDiscriminator,
		decode:        decodeAs[auctionhouse.PurchaseReceipt],
		store: func(ctx context.Context, s *store.Store, tx *store.Tx, pubkey solana.PublicKey, slot uint64, payload bin.BinaryUnmarshaler) error {
			return s.UpsertPurchaseTx(ctx, tx, pubkey, slot, payload.(*auctionhouse.PurchaseReceipt))
		},
	},
}

type scannedAccount struct {
	layout  accountLayout
	item    *rpc.KeyedAccount
	payload bin.BinaryUnmarshaler
}

func (s *Service) syncOnce(ctx context.Context) error {
	var slot uint64
	err := s.withRetry(ctx, "get slot", func(ctx context.Context) error {
		var err error
		slot, err = s.rpc.GetSlot(ctx, s.cfg.Commitment)
		return err
	})
	if err != nil {
		return fmt.Errorf("get slot: %w", err)
	}

	stats := map[string]int{}
	scanned := make([]scannedAccount, 0)
	for _, layout := range layouts {
		found, err := s.scan(ctx, slot, layout)
		if err != nil {
			return err
		}
		scanned = append(scanned, found...)
	}

	err = s.store.WithTx(ctx, func(tx *store.Tx) error {
		for _, account := range scanned {
			item := account.item
			if err := s.store.UpsertResourceTx(ctx, tx, item.Pubkey, s.cfg.ProgramID, account.layout.name,
				item.Account.Owner, item.Account.Lamports, slot, account.payload); err != nil {
				return fmt.Errorf("upsert %s %s: %w", account.layout.name, item.Pubkey, err)
			}
			if account.layout.store != nil {
				if err := account.layout.store(ctx, s.store, tx, item.Pubkey, slot, account.payload); err != nil {
					return fmt.Errorf("upsert %s %s: %w", account.layout.name, item.Pubkey, err)
				}
			}
			stats[account.layout.name]++
		}
		return s.store.UpsertSyncStateTx(ctx, tx, SyncName, slot)
	})
	if err != nil {
		return err
	}

	s.logger.Info(
		"sync complete",
		"slot", slot,
		"auction_houses", stats["AuctionHouse"],
		"auctioneers", stats["Auctioneer"],
		"listings", stats["ListingReceipt"],
		"bids", stats["BidReceipt"],
		"purchases", stats["PurchaseReceipt"],
	)
	return nil
}

// scan lists every program account carrying layout's discriminator. Accounts
// that fail to decode are logged and skipped.
func (s *Service) scan(ctx context.Context, slot uint64, layout accountLayout) ([]scannedAccount, error) {
	var accounts rpc.GetProgramAccountsResult
	err := s.withRetry(ctx, "scan "+layout.name, func(ctx context.Context) error {
		var err error
		accounts, err = s.rpc.GetProgramAccountsWithOpts(ctx, s.cfg.ProgramID, &rpc.GetProgramAccountsOpts{
			Commitment: s.cfg.Commitment,
			Filters: []rpc.RPCFilter{
				{Memcmp: &rpc.RPCFilterMemcmp{Offset: 0, Bytes: solana.Base58(layout.discriminator[:])}},
			},
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s accounts for program %s: %w", layout.name, s.cfg.ProgramID, err)
	}

	out := make([]scannedAccount, 0, len(accounts))
	for _, item := range accounts {
		if item == nil || item.Account == nil {
			continue
		}
		payload, err := layout.decode(item.Account.Data.GetBinary())
		if err != nil {
			s.logger.Warn("failed to index account",
				"program", s.cfg.ProgramID,
				"account_type", layout.name,
				"pubkey", item.Pubkey,
				"slot", slot,
				"err", err,
			)
			continue
		}
		out = append(out, scannedAccount{layout: layout, item: item, payload: payload})
	}
	return out, nil
}

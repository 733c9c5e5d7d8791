package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/coldbell/auctionhouse/backend/internal/auctionhouse"
)

type ListingRecord struct {
	Pubkey         string `json:"pubkey"`
	TradeState     string `json:"trade_state"`
	AuctionHouse   string `json:"auction_house"`
	Seller         string `json:"seller"`
	Metadata       string `json:"metadata"`
	Price          string `json:"price"`
	TokenSize      string `json:"token_size"`
	TradeStateBump uint8  `json:"trade_state_bump"`
	CreatedAt      int64  `json:"created_at"`
}

type BidRecord struct {
	Pubkey         string  `json:"pubkey"`
	TradeState     string  `json:"trade_state"`
	Buyer          string  `json:"buyer"`
	TokenAccount   *string `json:"token_account,omitempty"`
	TradeStateBump uint8   `json:"trade_state_bump"`
	CreatedAt      int64   `json:"created_at"`
}

// Match is an open listing and an open bid on the same terms.
type Match struct {
	Listing ListingRecord
	Bid     BidRecord
}

func (s *Store) UpsertResourceTx(
	ctx context.Context,
	tx *Tx,
	pubkey solana.PublicKey,
	programID solana.PublicKey,
	accountType string,
	owner solana.PublicKey,
	lamports uint64,
	slot uint64,
	payload any,
) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO resources (
			pubkey, program_id, account_type, owner, lamports, raw_json, slot, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pubkey) DO UPDATE SET
			program_id = excluded.program_id,
			account_type = excluded.account_type,
			owner = excluded.owner,
			lamports = excluded.lamports,
			raw_json = excluded.raw_json,
			slot = excluded.slot,
			updated_at = excluded.updated_at
	`,
		pubkey.String(),
		programID.String(),
		accountType,
		owner.String(),
		int64(lamports),
		string(raw),
		int64(slot),
		time.Now().Unix(),
	)
	return err
}

func (s *Store) UpsertListingTx(ctx context.Context, tx *Tx, pubkey solana.PublicKey, slot uint64, receipt *auctionhouse.ListingReceipt) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO listings (
			pubkey, trade_state, auction_house, seller, metadata, price, token_size,
			trade_state_bump, purchase_receipt, canceled_at, created_at, slot, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pubkey) DO UPDATE SET
			purchase_receipt = excluded.purchase_receipt,
			canceled_at = excluded.canceled_at,
			slot = excluded.slot,
			updated_at = excluded.updated_at
	`,
		pubkey.String(),
		receipt.TradeState.String(),
		receipt.AuctionHouse.String(),
		receipt.Seller.String(),
		receipt.Metadata.String(),
		strconv.FormatUint(receipt.Price, 10),
		strconv.FormatUint(receipt.TokenSize, 10),
		int(receipt.TradeStateBump),
		nullableString(keyString(receipt.PurchaseReceipt)),
		nullableInt64(receipt.CanceledAt),
		receipt.CreatedAt,
		int64(slot),
		time.Now().Unix(),
	)
	return err
}

func (s *Store) UpsertBidTx(ctx context.Context, tx *Tx, pubkey solana.PublicKey, slot uint64, receipt *auctionhouse.BidReceipt) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO bids (
			pubkey, trade_state, auction_house, buyer, metadata, token_account, price, token_size,
			trade_state_bump, purchase_receipt, canceled_at, created_at, slot, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pubkey) DO UPDATE SET
			purchase_receipt = excluded.purchase_receipt,
			canceled_at = excluded.canceled_at,
			slot = excluded.slot,
			updated_at = excluded.updated_at
	`,
		pubkey.String(),
		receipt.TradeState.String(),
		receipt.AuctionHouse.String(),
		receipt.Buyer.String(),
		receipt.Metadata.String(),
		nullableString(keyString(receipt.TokenAccount)),
		strconv.FormatUint(receipt.Price, 10),
		strconv.FormatUint(receipt.TokenSize, 10),
		int(receipt.TradeStateBump),
		nullableString(keyString(receipt.PurchaseReceipt)),
		nullableInt64(receipt.CanceledAt),
		receipt.CreatedAt,
		int64(slot),
		time.Now().Unix(),
	)
	return err
}

func (s *Store) UpsertPurchaseTx(ctx context.Context, tx *Tx, pubkey solana.PublicKey, slot uint64, receipt *auctionhouse.PurchaseReceipt) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO purchases (
			pubkey, auction_house, buyer, seller, metadata, price, token_size, created_at, slot, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pubkey) DO UPDATE SET
			slot = excluded.slot,
			updated_at = excluded.updated_at
	`,
		pubkey.String(),
		receipt.AuctionHouse.String(),
		receipt.Buyer.String(),
		receipt.Seller.String(),
		receipt.Metadata.String(),
		strconv.FormatUint(receipt.Price, 10),
		strconv.FormatUint(receipt.TokenSize, 10),
		receipt.CreatedAt,
		int64(slot),
		time.Now().Unix(),
	)
	return err
}

// ListMatches pairs open listings with open bids on identical terms, oldest
// bid first. A listing or bid may appear in several pairs.
func (s *Store) ListMatches(ctx context.Context, limit int) ([]Match, error) {
	limit, _ = normalizePagination(limit, 0)
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			l.pubkey, l.trade_state, l.auction_house, l.seller, l.metadata,
			l.price, l.token_size, l.trade_state_bump, l.created_at,
			b.pubkey, b.trade_state, b.buyer, b.token_account, b.trade_state_bump, b.created_at
		FROM listings l
		JOIN bids b ON
			b.auction_house = l.auction_house
			AND b.metadata = l.metadata
			AND b.price = l.price
			AND b.token_size = l.token_size
		WHERE l.canceled_at IS NULL
			AND l.purchase_receipt IS NULL
			AND b.canceled_at IS NULL
			AND b.purchase_receipt IS NULL
			AND b.buyer <> l.seller
		ORDER BY b.created_at ASC, l.created_at ASC, b.pubkey ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Match, 0, limit)
	for rows.Next() {
		var m Match
		var listingBump, bidBump int
		var tokenAccount sql.NullString
		if err := rows.Scan(
			&m.Listing.Pubkey,
			&m.Listing.TradeState,
			&m.Listing.AuctionHouse,
			&m.Listing.Seller,
			&m.Listing.Metadata,
			&m.Listing.Price,
			&m.Listing.TokenSize,
			&listingBump,
			&m.Listing.CreatedAt,
			&m.Bid.Pubkey,
			&m.Bid.TradeState,
			&m.Bid.Buyer,
			&tokenAccount,
			&bidBump,
			&m.Bid.CreatedAt,
		); err != nil {
			return nil, err
		}
		m.Listing.TradeStateBump = uint8(listingBump)
		m.Bid.TradeStateBump = uint8(bidBump)
		if tokenAccount.Valid {
			value := tokenAccount.String
			m.Bid.TokenAccount = &value
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func keyString(key *solana.PublicKey) *string {
	if key == nil {
		return nil
	}
	value := key.String()
	return &value
}

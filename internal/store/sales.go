package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/coldbell/auctionhouse/backend/internal/auctionhouse"
)

type SaleRecord struct {
	ID               string                 `json:"id"`
	Instruction      string                 `json:"instruction"`
	AuctionHouse     string                 `json:"auction_house"`
	Buyer            string                 `json:"buyer"`
	Seller           string                 `json:"seller"`
	TokenMint        string                 `json:"token_mint"`
	BuyerTradeState  string                 `json:"buyer_trade_state"`
	SellerTradeState string                 `json:"seller_trade_state"`
	Price            string                 `json:"price"`
	TokenSize        string                 `json:"token_size"`
	AuctionHouseFee  string                 `json:"auction_house_fee"`
	Royalties        []auctionhouse.Payment `json:"royalties"`
	SellerProceeds   string                 `json:"seller_proceeds"`
	Partial          bool                   `json:"partial"`
	Slot             uint64                 `json:"slot"`
	CreatedAt        int64                  `json:"created_at"`
}

type SaleFilter struct {
	AuctionHouse string
	Wallet       string
	Limit        int
	Offset       int
}

// RecordSale stores a committed sale event under a fresh id.
func (s *Store) RecordSale(ctx context.Context, event auctionhouse.Event) (SaleRecord, error) {
	if event.Kind != auctionhouse.EventSale || event.Settlement == nil {
		return SaleRecord{}, fmt.Errorf("record sale: event %q carries no settlement", event.Kind)
	}
	royalties := event.Settlement.Royalties
	if royalties == nil {
		royalties = []auctionhouse.Payment{}
	}
	rawRoyalties, err := json.Marshal(royalties)
	if err != nil {
		return SaleRecord{}, err
	}

	record := SaleRecord{
		ID:               uuid.NewString(),
		Instruction:      event.Instruction,
		AuctionHouse:     event.AuctionHouse.String(),
		Buyer:            event.Wallet.String(),
		Seller:           event.Counterparty.String(),
		TokenMint:        event.TokenMint.String(),
		BuyerTradeState:  event.Settlement.BuyerTradeState.String(),
		SellerTradeState: event.Settlement.SellerTradeState.String(),
		Price:            strconv.FormatUint(event.Price, 10),
		TokenSize:        strconv.FormatUint(event.Size, 10),
		AuctionHouseFee:  strconv.FormatUint(event.Settlement.AuctionHouseFee, 10),
		Royalties:        royalties,
		SellerProceeds:   strconv.FormatUint(event.Settlement.SellerProceeds, 10),
		Partial:          event.Settlement.Partial,
		Slot:             event.Slot,
		CreatedAt:        event.CreatedAt,
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sales (
			id, instruction, auction_house, buyer, seller, token_mint,
			buyer_trade_state, seller_trade_state, price, token_size,
			auction_house_fee, royalties, seller_proceeds, partial, slot, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.ID,
		record.Instruction,
		record.AuctionHouse,
		record.Buyer,
		record.Seller,
		record.TokenMint,
		record.BuyerTradeState,
		record.SellerTradeState,
		record.Price,
		record.TokenSize,
		record.AuctionHouseFee,
		string(rawRoyalties),
		record.SellerProceeds,
		boolToInt(record.Partial),
		int64(record.Slot),
		record.CreatedAt,
	)
	if err != nil {
		return SaleRecord{}, fmt.Errorf("insert sale: %w", err)
	}
	return record, nil
}

func (s *Store) ListSales(ctx context.Context, filter SaleFilter) ([]SaleRecord, int, int, error) {
	limit, offset := normalizePagination(filter.Limit, filter.Offset)
	clauses := []string{"1 = 1"}
	args := make([]any, 0, 5)

	if filter.AuctionHouse != "" {
		clauses = append(clauses, "auction_house = ?")
		args = append(args, filter.AuctionHouse)
	}
	if filter.Wallet != "" {
		clauses = append(clauses, "(buyer = ? OR seller = ?)")
		args = append(args, filter.Wallet, filter.Wallet)
	}

	query := fmt.Sprintf(`
		SELECT
			id, instruction, auction_house, buyer, seller, token_mint,
			buyer_trade_state, seller_trade_state, price, token_size,
			auction_house_fee, royalties, seller_proceeds, partial, slot, created_at
		FROM sales
		WHERE %s
		ORDER BY slot DESC, id ASC
		LIMIT ? OFFSET ?
	`, strings.Join(clauses, " AND "))
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, 0, err
	}
	defer rows.Close()

	items := make([]SaleRecord, 0, limit)
	for rows.Next() {
		var item SaleRecord
		var royalties string
		var partial int
		var slot int64
		if err := rows.Scan(
			&item.ID,
			&item.Instruction,
			&item.AuctionHouse,
			&item.Buyer,
			&item.Seller,
			&item.TokenMint,
			&item.BuyerTradeState,
			&item.SellerTradeState,
			&item.Price,
			&item.TokenSize,
			&item.AuctionHouseFee,
			&royalties,
			&item.SellerProceeds,
			&partial,
			&slot,
			&item.CreatedAt,
		); err != nil {
			return nil, 0, 0, err
		}
		if err := json.Unmarshal([]byte(royalties), &item.Royalties); err != nil {
			return nil, 0, 0, fmt.Errorf("sale %s royalties: %w", item.ID, err)
		}
		item.Partial = partial != 0
		item.Slot = uint64(slot)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, 0, err
	}

	return items, limit, offset, nil
}

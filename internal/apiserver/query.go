package apiserver

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/coldbell/auctionhouse/backend/internal/auctionhouse"
	"github.com/coldbell/auctionhouse/backend/internal/pda"
	"github.com/coldbell/auctionhouse/backend/internal/store"
)

const nativeDecimals = 9

type accountResponse struct {
	Pubkey   string `json:"pubkey"`
	Lamports uint64 `json:"lamports"`
	Owner    string `json:"owner"`
	Closed   bool   `json:"closed"`
	Kind     string `json:"kind"`
	Data     any    `json:"data,omitempty"`
}

type tradeStateView struct {
	Status string `json:"status"`
	Bump   uint8  `json:"bump,omitempty"`
}

type escrowResponse struct {
	Escrow       string `json:"escrow"`
	AuctionHouse string `json:"auction_house"`
	Wallet       string `json:"wallet"`
	Amount       string `json:"amount"`
	Display      string `json:"display"`
	Currency     string `json:"currency"`
}

type saleView struct {
	store.SaleRecord
	PriceDisplay string `json:"price_display"`
	Currency     string `json:"currency"`
}

type currency struct {
	symbol   string
	decimals int32
}

func (s *Service) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	key, err := solana.PublicKeyFromBase58(chi.URLParam(r, "key"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid account key")
		return
	}
	acct, ok := s.engine.Bank().Account(key)
	if !ok {
		s.respondError(w, http.StatusNotFound, "account not found")
		return
	}

	resp := accountResponse{
		Pubkey:   key.String(),
		Lamports: acct.Lamports,
		Owner:    acct.Owner.String(),
		Closed:   acct.Closed,
		Kind:     "system",
	}
	switch {
	case acct.Closed:
		resp.Kind = "closed"
	case acct.Token != nil:
		resp.Kind, resp.Data = "token_account", acct.Token
	case acct.Mint != nil:
		resp.Kind, resp.Data = "mint", acct.Mint
	case acct.Owner.Equals(pda.TokenMetadataProgramID) && len(acct.Data) > 0:
		var metadata auctionhouse.Metadata
		if err := auctionhouse.UnmarshalAccount(acct.Data, &metadata); err != nil {
			s.respondError(w, http.StatusUnprocessableEntity, "undecodable metadata")
			return
		}
		resp.Kind, resp.Data = "metadata", metadata
	case acct.Owner.Equals(s.engine.ProgramID()):
		kind, data, err := decodeProgramAccount(acct.Data)
		if err != nil {
			s.respondError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		resp.Kind, resp.Data = kind, data
	case len(acct.Data) > 0:
		resp.Kind, resp.Data = "unknown", acct.Data
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// decodeProgramAccount decodes data owned by the auction house program. A
// trade state is a single bump byte. Zeroed or closed buffers read as retired.
func decodeProgramAccount(data []byte) (string, any, error) {
	if len(data) <= auctionhouse.TradeStateSize {
		view := tradeStateView{Status: auctionhouse.TradeStateRetired.String()}
		if len(data) == 1 && data[0] != 0 {
			view = tradeStateView{Status: auctionhouse.TradeStateActive.String(), Bump: data[0]}
		}
		return "trade_state", view, nil
	}

	kind, ok := auctionhouse.AccountKind(data)
	if !ok {
		return "unknown", data, nil
	}
	var target bin.BinaryUnmarshaler
	switch kind {
	case "auction_house":
		target = new(auctionhouse.AuctionHouse)
	case "auctioneer":
		target = new(auctionhouse.Auctioneer)
	case "listing_receipt":
		target = new(auctionhouse.ListingReceipt)
	case "bid_receipt":
		target = new(auctionhouse.BidReceipt)
	case "purchase_receipt":
		target = new(auctionhouse.PurchaseReceipt)
	}
	if err := auctionhouse.UnmarshalAccount(data, target); err != nil {
		return "", nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	return kind, target, nil
}

func (s *Service) handleGetAuctionHouse(w http.ResponseWriter, r *http.Request) {
	key, err := solana.PublicKeyFromBase58(chi.URLParam(r, "house"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid auction house")
		return
	}
	house, err := s.engine.LoadAuctionHouse(key)
	if err != nil {
		s.respondError(w, http.StatusNotFound, "auction house not found")
		return
	}
	s.respondJSON(w, http.StatusOK, house)
}

func (s *Service) handleGetEscrow(w http.ResponseWriter, r *http.Request) {
	houseKey, err := solana.PublicKeyFromBase58(chi.URLParam(r, "house"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid auction house")
		return
	}
	wallet, err := solana.PublicKeyFromBase58(chi.URLParam(r, "wallet"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid wallet")
		return
	}
	house, err := s.engine.LoadAuctionHouse(houseKey)
	if err != nil {
		s.respondError(w, http.StatusNotFound, "auction house not found")
		return
	}
	escrow, _, err := pda.DeriveEscrowPaymentPDA(s.engine.ProgramID(), houseKey, wallet)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to derive escrow")
		return
	}

	var amount uint64
	if acct, ok := s.engine.Bank().Account(escrow); ok {
		if house.IsNative() {
			amount = acct.Lamports
		} else if acct.Token != nil {
			amount = acct.Token.Amount
		}
	}
	unit := s.currencyFor(house)
	raw := strconv.FormatUint(amount, 10)
	s.respondJSON(w, http.StatusOK, escrowResponse{
		Escrow:       escrow.String(),
		AuctionHouse: houseKey.String(),
		Wallet:       wallet.String(),
		Amount:       raw,
		Display:      displayAmount(raw, unit.decimals),
		Currency:     unit.symbol,
	})
}

func (s *Service) handleListSales(w http.ResponseWriter, r *http.Request) {
	limit, err := parseOptionalInt(r, "limit", 0)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := parseOptionalInt(r, "offset", 0)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, normalizedLimit, normalizedOffset, err := s.store.ListSales(r.Context(), store.SaleFilter{
		AuctionHouse: strings.TrimSpace(r.URL.Query().Get("auction_house")),
		Wallet:       strings.TrimSpace(r.URL.Query().Get("wallet")),
		Limit:        limit,
		Offset:       offset,
	})
	if err != nil {
		s.logger.Error("list sales failed", "err", err)
		s.respondError(w, http.StatusInternalServerError, "failed to list sales")
		return
	}

	units := map[string]currency{}
	items := make([]saleView, 0, len(records))
	for _, record := range records {
		items = append(items, s.presentSale(record, units))
	}
	s.respondJSON(w, http.StatusOK, listResponse[saleView]{
		Items:  items,
		Limit:  normalizedLimit,
		Offset: normalizedOffset,
	})
}

// presentSale adds a human readable price. units caches currencies by
// auction house across one listing.
func (s *Service) presentSale(record store.SaleRecord, units map[string]currency) saleView {
	unit, ok := units[record.AuctionHouse]
	if !ok {
		unit = currency{symbol: "SOL", decimals: nativeDecimals}
		if key, err := solana.PublicKeyFromBase58(record.AuctionHouse); err == nil {
			if house, err := s.engine.LoadAuctionHouse(key); err == nil {
				unit = s.currencyFor(house)
			}
		}
		units[record.AuctionHouse] = unit
	}
	return saleView{
		SaleRecord:   record,
		PriceDisplay: displayAmount(record.Price, unit.decimals),
		Currency:     unit.symbol,
	}
}

func (s *Service) currencyFor(house *auctionhouse.AuctionHouse) currency {
	if house.IsNative() {
		return currency{symbol: "SOL", decimals: nativeDecimals}
	}
	unit := currency{symbol: house.TreasuryMint.String()}
	if acct, ok := s.engine.Bank().Account(house.TreasuryMint); ok && acct.Mint != nil {
		unit.decimals = int32(acct.Mint.Decimals)
	}
	return unit
}

// displayAmount renders a base-unit integer string at decimals places.
func displayAmount(raw string, decimals int32) string {
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return raw
	}
	return amount.Shift(-decimals).String()
}

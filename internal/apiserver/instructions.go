package apiserver

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/go-chi/chi/v5"

	"github.com/coldbell/auctionhouse/backend/internal/auctionhouse"
	"github.com/coldbell/auctionhouse/backend/internal/ledger"
)

const maxInstructions = 8

type instructionDecoder func(raw json.RawMessage) (auctionhouse.Instruction, error)

var instructionDecoders = map[string]instructionDecoder{
	"create_auction_house":    decodeParams[auctionhouse.CreateAuctionHouseParams],
	"update_auction_house":    decodeParams[auctionhouse.UpdateAuctionHouseParams],
	"withdraw_from_fee":       decodeParams[auctionhouse.WithdrawFromFeeParams],
	"withdraw_from_treasury":  decodeParams[auctionhouse.WithdrawFromTreasuryParams],
	"deposit":                 decodeParams[auctionhouse.DepositParams],
	"withdraw":                decodeParams[auctionhouse.WithdrawParams],
	"sell":                    decodeParams[auctionhouse.SellParams],
	"buy":                     decodeBuy(false),
	"public_buy":              decodeBuy(true),
	"cancel":                  decodeParams[auctionhouse.CancelParams],
	"execute_sale":            decodeParams[auctionhouse.ExecuteSaleParams],
	"delegate_auctioneer":     decodeParams[auctionhouse.DelegateAuctioneerParams],
	"update_auctioneer":       decodeParams[auctionhouse.UpdateAuctioneerParams],
	"auctioneer_deposit":      decodeParams[auctionhouse.AuctioneerDepositParams],
	"auctioneer_withdraw":     decodeParams[auctionhouse.AuctioneerWithdrawParams],
	"auctioneer_sell":         decodeParams[auctionhouse.AuctioneerSellParams],
	"auctioneer_buy":          decodeAuctioneerBuy(false),
	"auctioneer_public_buy":   decodeAuctioneerBuy(true),
	"auctioneer_cancel":       decodeParams[auctionhouse.AuctioneerCancelParams],
	"auctioneer_execute_sale": decodeParams[auctionhouse.AuctioneerExecuteSaleParams],
	"print_listing_receipt":   decodeParams[auctionhouse.PrintListingReceiptParams],
	"cancel_listing_receipt":  decodeParams[auctionhouse.CancelListingReceiptParams],
	"print_bid_receipt":       decodeParams[auctionhouse.PrintBidReceiptParams],
	"cancel_bid_receipt":      decodeParams[auctionhouse.CancelBidReceiptParams],
	"print_purchase_receipt":  decodeParams[auctionhouse.PrintPurchaseReceiptParams],
}

// auctioneerActions maps /auctioneer/{action} path segments to instruction types.
var auctioneerActions = map[string]string{
	"deposit":      "auctioneer_deposit",
	"withdraw":     "auctioneer_withdraw",
	"sell":         "auctioneer_sell",
	"bid":          "auctioneer_buy",
	"public-bid":   "auctioneer_public_buy",
	"cancel":       "auctioneer_cancel",
	"execute-sale": "auctioneer_execute_sale",
}

func InstructionTypes() []string {
	out := make([]string, 0, len(instructionDecoders))
	for name := range instructionDecoders {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func decodeParams[T auctionhouse.Instruction](raw json.RawMessage) (auctionhouse.Instruction, error) {
	var params T
	if err := decodeStrict(raw, &params); err != nil {
		return nil, err
	}
	return params, nil
}

func decodeBuy(public bool) instructionDecoder {
	return func(raw json.RawMessage) (auctionhouse.Instruction, error) {
		var params auctionhouse.BuyParams
		if err := decodeStrict(raw, &params); err != nil {
			return nil, err
		}
		params.Public = public
		return params, nil
	}
}

func decodeAuctioneerBuy(public bool) instructionDecoder {
	return func(raw json.RawMessage) (auctionhouse.Instruction, error) {
		var params auctionhouse.AuctioneerBuyParams
		if err := decodeStrict(raw, &params); err != nil {
			return nil, err
		}
		params.Public = public
		return params, nil
	}
}

func decodeStrict(raw json.RawMessage, destination any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return fmt.Errorf("params are required")
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(destination); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}

func decodeInstructions(requests []InstructionRequest) ([]auctionhouse.Instruction, error) {
	if len(requests) == 0 {
		return nil, fmt.Errorf("%w: at least one instruction is required", errBadRequest)
	}
	if len(requests) > maxInstructions {
		return nil, fmt.Errorf("%w: at most %d instructions per request", errBadRequest, maxInstructions)
	}
	out := make([]auctionhouse.Instruction, 0, len(requests))
	for i, req := range requests {
		kind := strings.ToLower(strings.TrimSpace(req.Type))
		decode, ok := instructionDecoders[kind]
		if !ok {
			return nil, fmt.Errorf("%w: instruction %d: unknown type %q", errBadRequest, i, req.Type)
		}
		ix, err := decode(req.Params)
		if err != nil {
			return nil, fmt.Errorf("%w: instruction %d (%s): %v", errBadRequest, i, kind, err)
		}
		out = append(out, ix)
	}
	return out, nil
}

// instructionHouse returns the auction house an instruction targets. Receipt
// instructions carry none.
func instructionHouse(ix auctionhouse.Instruction) (solana.PublicKey, bool) {
	switch p := ix.(type) {
	case auctionhouse.CreateAuctionHouseParams:
		return p.AuctionHouse, true
	case auctionhouse.UpdateAuctionHouseParams:
		return p.AuctionHouse, true
	case auctionhouse.WithdrawFromFeeParams:
		return p.AuctionHouse, true
	case auctionhouse.WithdrawFromTreasuryParams:
		return p.AuctionHouse, true
	case auctionhouse.DepositParams:
		return p.AuctionHouse, true
	case auctionhouse.WithdrawParams:
		return p.AuctionHouse, true
	case auctionhouse.SellParams:
		return p.AuctionHouse, true
	case auctionhouse.BuyParams:
		return p.AuctionHouse, true
	case auctionhouse.CancelParams:
		return p.AuctionHouse, true
	case auctionhouse.ExecuteSaleParams:
		return p.AuctionHouse, true
	case auctionhouse.DelegateAuctioneerParams:
		return p.AuctionHouse, true
	case auctionhouse.UpdateAuctioneerParams:
		return p.AuctionHouse, true
	case auctionhouse.AuctioneerDepositParams:
		return p.DepositParams.AuctionHouse, true
	case auctionhouse.AuctioneerWithdrawParams:
		return p.WithdrawParams.AuctionHouse, true
	case auctionhouse.AuctioneerSellParams:
		return p.AuctionHouse, true
	case auctionhouse.AuctioneerBuyParams:
		return p.BuyParams.AuctionHouse, true
	case auctionhouse.AuctioneerCancelParams:
		return p.CancelParams.AuctionHouse, true
	case auctionhouse.AuctioneerExecuteSaleParams:
		return p.ExecuteSaleParams.AuctionHouse, true
	default:
		return solana.PublicKey{}, false
	}
}

// routeRequest is the body of a single-instruction route. Then lists
// follow-up instructions committed with it, such as receipts.
type routeRequest struct {
	Nonce      string               `json:"nonce"`
	ExpiresAt  int64                `json:"expires_at"`
	Signatures []SignerSignature    `json:"signatures"`
	Params     json.RawMessage      `json:"params"`
	Then       []InstructionRequest `json:"then"`
}

func (r routeRequest) transaction(kind string) TransactionRequest {
	instructions := make([]InstructionRequest, 0, 1+len(r.Then))
	instructions = append(instructions, InstructionRequest{Type: kind, Params: r.Params})
	instructions = append(instructions, r.Then...)
	return TransactionRequest{
		Nonce:        r.Nonce,
		ExpiresAt:    r.ExpiresAt,
		Signatures:   r.Signatures,
		Instructions: instructions,
	}
}

type transactionResponse struct {
	Slot   uint64               `json:"slot"`
	Events []auctionhouse.Event `json:"events"`
}

func (s *Service) handleListInstructions(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string][]string{"items": InstructionTypes()})
}

func (s *Service) handleTransaction(w http.ResponseWriter, r *http.Request) {
	var req TransactionRequest
	if err := decodeJSONBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.submit(w, r, req, nil)
}

func (s *Service) handleInstruction(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req routeRequest
		if err := decodeJSONBody(r, &req); err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.submit(w, r, req.transaction(kind), nil)
	}
}

func (s *Service) handleHouseInstruction(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		house, err := solana.PublicKeyFromBase58(chi.URLParam(r, "house"))
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid auction house")
			return
		}
		var req routeRequest
		if err := decodeJSONBody(r, &req); err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.submit(w, r, req.transaction(kind), &house)
	}
}

func (s *Service) handleAuctioneerInstruction(w http.ResponseWriter, r *http.Request) {
	kind, ok := auctioneerActions[chi.URLParam(r, "action")]
	if !ok {
		s.respondError(w, http.StatusNotFound, "unknown auctioneer action")
		return
	}
	s.handleHouseInstruction(kind)(w, r)
}

// submit decodes, authorizes and executes req. When house is set, every
// instruction that names an auction house must name that one.
func (s *Service) submit(w http.ResponseWriter, r *http.Request, req TransactionRequest, house *solana.PublicKey) {
	instructions, err := decodeInstructions(req.Instructions)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if house != nil {
		for i, ix := range instructions {
			if target, ok := instructionHouse(ix); ok && !target.Equals(*house) {
				s.respondError(w, http.StatusBadRequest, fmt.Sprintf("instruction %d targets auction house %s", i, target))
				return
			}
		}
	}

	signers, err := s.authorize(r.Context(), req)
	if err != nil {
		status := intentStatus(err)
		if status == http.StatusInternalServerError {
			s.logger.Error("authorize intent failed", "err", err)
			s.respondError(w, status, "failed to authorize intent")
			return
		}
		s.respondError(w, status, err.Error())
		return
	}

	result, err := s.engine.Execute(r.Context(), signers, instructions...)
	if err != nil {
		s.respondExecuteError(w, err)
		return
	}
	events := result.Events
	if events == nil {
		events = []auctionhouse.Event{}
	}
	s.respondJSON(w, http.StatusOK, transactionResponse{Slot: result.Slot, Events: events})
}

var ledgerErrors = []error{
	ledger.ErrInsufficientFunds,
	ledger.ErrOverflow,
	ledger.ErrAccountInUse,
	ledger.ErrAccountDataTooSmall,
	ledger.ErrNotTokenAccount,
	ledger.ErrNotMint,
	ledger.ErrMintMismatch,
	ledger.ErrOwnerMismatch,
	ledger.ErrAccountFrozen,
	ledger.ErrInsufficientDelegation,
}

func (s *Service) respondExecuteError(w http.ResponseWriter, err error) {
	if programErr, ok := auctionhouse.AsProgramError(err); ok {
		code := programErr.Code
		s.respondJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Error: err.Error(),
			Code:  &code,
			Name:  programErr.Name,
		})
		return
	}
	for _, target := range ledgerErrors {
		if errors.Is(err, target) {
			s.respondError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
	}
	s.logger.Error("execute transaction failed", "err", err)
	s.respondError(w, http.StatusInternalServerError, "failed to execute transaction")
}

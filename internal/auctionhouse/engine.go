package auctionhouse

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/coldbell/auctionhouse/backend/internal/ledger"
	"github.com/coldbell/auctionhouse/backend/internal/pda"
)

// Instruction is one entry point invocation. Several instructions submitted
// together through Engine.Execute succeed or fail as a unit.
type Instruction interface {
	Name() string
	process(inv *invocation) error
}

type EventKind string

const (
	EventAuctionHouseCreated EventKind = "auction_house_created"
	EventAuctionHouseUpdated EventKind = "auction_house_updated"
	EventDeposit             EventKind = "deposit"
	EventWithdraw            EventKind = "withdraw"
	EventListing             EventKind = "listing"
	EventBid                 EventKind = "bid"
	EventCancel              EventKind = "cancel"
	EventSale                EventKind = "sale"
	EventAuctioneerDelegated EventKind = "auctioneer_delegated"
	EventAuctioneerUpdated   EventKind = "auctioneer_updated"
	EventReceipt             EventKind = "receipt"
	EventHouseWithdrawal     EventKind = "house_withdrawal"
)

// Event describes one committed state transition.
type Event struct {
	Kind         EventKind        `json:"kind"`
	Instruction  string           `json:"instruction"`
	Slot         uint64           `json:"slot"`
	AuctionHouse solana.PublicKey `json:"auctionHouse"`
	Wallet       solana.PublicKey `json:"wallet"`
	Counterparty solana.PublicKey `json:"counterparty"`
	TradeState   solana.PublicKey `json:"tradeState"`
	TokenMint    solana.PublicKey `json:"tokenMint"`
	Account      solana.PublicKey `json:"account"`
	Price        uint64           `json:"price"`
	Size         uint64           `json:"size"`
	Settlement   *Settlement      `json:"settlement,omitempty"`
	CreatedAt    int64            `json:"createdAt"`
}

// Settlement breaks a sale's price down into its disbursements.
type Settlement struct {
	BuyerTradeState  solana.PublicKey `json:"buyerTradeState"`
	SellerTradeState solana.PublicKey `json:"sellerTradeState"`
	Royalties        []Payment        `json:"royalties"`
	AuctionHouseFee  uint64           `json:"auctionHouseFee"`
	SellerProceeds   uint64           `json:"sellerProceeds"`
	RentShortfall    uint64           `json:"rentShortfall"`
	Partial          bool             `json:"partial"`
	Retired          bool             `json:"retired"`
}

type Payment struct {
	Recipient solana.PublicKey `json:"recipient"`
	Amount    uint64           `json:"amount"`
}

// Result is what a committed Execute call produced.
type Result struct {
	Slot   uint64
	Events []Event
}

type Option func(*Engine)

func WithProgramID(programID solana.PublicKey) Option {
	return func(e *Engine) {
		e.programID = programID
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithObserver registers fn to receive events after each commit.
func WithObserver(fn func(Event)) Option {
	return func(e *Engine) {
		e.observers = append(e.observers, fn)
	}
}

// Engine applies auction house instructions to a ledger.
type Engine struct {
	bank      *ledger.Bank
	programID solana.PublicKey
	logger    *slog.Logger

	mu        sync.RWMutex
	observers []func(Event)
}

func NewEngine(bank *ledger.Bank, opts ...Option) *Engine {
	e := &Engine{
		bank:      bank,
		programID: pda.AuctionHouseProgramID,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Bank() *ledger.Bank {
	return e.bank
}

func (e *Engine) ProgramID() solana.PublicKey {
	return e.programID
}

func (e *Engine) Subscribe(fn func(Event)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, fn)
}

// Execute runs instructions in order inside one ledger transaction.
func (e *Engine) Execute(ctx context.Context, signers Signers, instructions ...Instruction) (Result, error) {
	if len(instructions) == 0 {
		return Result{}, fmt.Errorf("no instructions")
	}

	var result Result
	err := e.bank.Atomic(ctx, func(tx *ledger.Tx) error {
		inv := &invocation{
			tx:        tx,
			programID: e.programID,
			signers:   signers,
		}
		for i, ix := range instructions {
			inv.current = ix
			if err := ix.process(inv); err != nil {
				return fmt.Errorf("instruction %d (%s): %w", i, ix.Name(), err)
			}
			inv.previous = ix
		}
		result.Slot = tx.Slot()
		result.Events = inv.events
		return nil
	})
	if err != nil {
		e.logger.Warn("transaction failed", "instruction", instructions[0].Name(), "count", len(instructions), "err", err)
		return Result{}, err
	}

	e.mu.RLock()
	observers := append([]func(Event){}, e.observers...)
	e.mu.RUnlock()
	for i := range result.Events {
		result.Events[i].Slot = result.Slot
		event := result.Events[i]
		e.logger.Info(string(event.Kind)+" committed",
			"slot", event.Slot,
			"auction_house", event.AuctionHouse.String(),
			"wallet", event.Wallet.String(),
			"price", event.Price,
			"size", event.Size,
		)
		for _, observer := range observers {
			observer(event)
		}
	}
	return result, nil
}

// LoadAuctionHouse reads the committed auction house record at address.
func (e *Engine) LoadAuctionHouse(address solana.PublicKey) (*AuctionHouse, error) {
	var house *AuctionHouse
	err := e.bank.Atomic(context.Background(), func(tx *ledger.Tx) error {
		var err error
		house, err = loadAuctionHouse(tx, e.programID, address, HouseExpectations{})
		return err
	})
	return house, err
}

// invocation carries per-transaction state shared by every instruction in it.
type invocation struct {
	tx        *ledger.Tx
	programID solana.PublicKey
	signers   Signers
	current   Instruction
	previous  Instruction
	events    []Event
}

func (inv *invocation) emit(event Event) {
	event.Instruction = inv.current.Name()
	event.CreatedAt = inv.tx.Now().Unix()
	inv.events = append(inv.events, event)
}

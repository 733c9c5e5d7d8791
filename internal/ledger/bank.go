package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
)

// Change is one committed account write. Account is nil when the account was purged.
type Change struct {
	Key     solana.PublicKey
	Account *Account
}

// Journal receives every committed change set before it becomes visible.
// Returning an error aborts the transaction.
type Journal interface {
	Record(ctx context.Context, slot uint64, changes []Change) error
}

type Option func(*Bank)

func WithRent(rent Rent) Option {
	return func(b *Bank) {
		b.rent = rent
	}
}

func WithJournal(journal Journal) Option {
	return func(b *Bank) {
		b.journal = journal
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *Bank) {
		b.now = now
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(b *Bank) {
		b.logger = logger
	}
}

// Bank is an in-memory account store that applies transactions atomically.
// Transactions are serialized, which stands in for the runtime's account write locks.
type Bank struct {
	mu       sync.Mutex
	accounts map[solana.PublicKey]*Account
	slot     uint64
	rent     Rent
	journal  Journal
	now      func() time.Time
	logger   *slog.Logger
}

func NewBank(opts ...Option) *Bank {
	b := &Bank{
		accounts: make(map[solana.PublicKey]*Account),
		rent:     DefaultRent(),
		now:      time.Now,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bank) Rent() Rent {
	return b.rent
}

func (b *Bank) Slot() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.slot
}

// Account returns a copy of the stored account.
func (b *Bank) Account(key solana.PublicKey) (*Account, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	acct, ok := b.accounts[key]
	if !ok {
		return nil, false
	}
	return acct.Clone(), true
}

// Restore loads accounts without journaling, e.g. when rebuilding state from storage.
func (b *Bank) Restore(slot uint64, accounts map[solana.PublicKey]*Account) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key, acct := range accounts {
		b.accounts[key] = acct.Clone()
	}
	if slot > b.slot {
		b.slot = slot
	}
}

// Atomic runs fn against a private view and commits every touched account
// only when fn returns nil.
func (b *Bank) Atomic(ctx context.Context, fn func(tx *Tx) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &Tx{
		bank:  b,
		dirty: make(map[solana.PublicKey]*Account),
		now:   b.now(),
		slot:  b.slot + 1,
	}
	if err := fn(tx); err != nil {
		tx.done = true
		return err
	}
	tx.done = true

	changes := tx.changes()
	if len(changes) == 0 {
		return nil
	}
	if b.journal != nil {
		if err := b.journal.Record(ctx, tx.slot, changes); err != nil {
			return fmt.Errorf("journal slot %d: %w", tx.slot, err)
		}
	}
	for _, change := range changes {
		if change.Account == nil {
			delete(b.accounts, change.Key)
			continue
		}
		b.accounts[change.Key] = change.Account
	}
	b.slot = tx.slot
	b.logger.Debug("ledger transaction committed", "slot", tx.slot, "accounts", len(changes))
	return nil
}

// Tx is a copy-on-write view of the bank for the duration of one Atomic call.
type Tx struct {
	bank  *Bank
	dirty map[solana.PublicKey]*Account
	now   time.Time
	slot  uint64
	done  bool
}

func (tx *Tx) Rent() Rent {
	return tx.bank.rent
}

func (tx *Tx) Now() time.Time {
	return tx.now
}

func (tx *Tx) Slot() uint64 {
	return tx.slot
}

// Load returns a read-only copy of the account. Missing accounts come back
// as empty system-owned accounts.
func (tx *Tx) Load(key solana.PublicKey) *Account {
	if acct, ok := tx.dirty[key]; ok {
		return acct.Clone()
	}
	if acct, ok := tx.bank.accounts[key]; ok {
		return acct.Clone()
	}
	return &Account{Owner: solana.SystemProgramID}
}

// Mut returns the transaction's writable copy of the account.
func (tx *Tx) Mut(key solana.PublicKey) *Account {
	if tx.done {
		panic(ErrTransactionFinished)
	}
	if acct, ok := tx.dirty[key]; ok {
		return acct
	}
	acct := tx.Load(key)
	tx.dirty[key] = acct
	return acct
}

// Exists reports whether key holds lamports or data.
func (tx *Tx) Exists(key solana.PublicKey) bool {
	acct := tx.Load(key)
	return acct.Lamports > 0 || acct.HasData()
}

func (tx *Tx) changes() []Change {
	changes := make([]Change, 0, len(tx.dirty))
	for key, acct := range tx.dirty {
		if acct.purgeable() {
			if _, ok := tx.bank.accounts[key]; !ok {
				continue
			}
			changes = append(changes, Change{Key: key})
			continue
		}
		changes = append(changes, Change{Key: key, Account: acct.Clone()})
	}
	sort.Slice(changes, func(i, j int) bool {
		return changes[i].Key.String() < changes[j].Key.String()
	})
	return changes
}

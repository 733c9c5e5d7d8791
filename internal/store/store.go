package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	db *DB
}

// DB rebinds `?` placeholders to `$n` when talking to postgres, so queries
// are written once for both drivers.
type DB struct {
	raw    *sql.DB
	rebind bool
}

type Tx struct {
	raw    *sql.Tx
	rebind bool
}

func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.raw.ExecContext(ctx, db.bind(query), args...)
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.raw.QueryContext(ctx, db.bind(query), args...)
}

func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return db.raw.QueryRowContext(ctx, db.bind(query), args...)
}

func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*Tx, error) {
	tx, err := db.raw.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Tx{raw: tx, rebind: db.rebind}, nil
}

func (db *DB) Close() error {
	return db.raw.Close()
}

func (db *DB) bind(query string) string {
	if !db.rebind {
		return query
	}
	return rebindPostgresPlaceholders(query)
}

func (tx *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return tx.raw.ExecContext(ctx, tx.bind(query), args...)
}

func (tx *Tx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return tx.raw.QueryContext(ctx, tx.bind(query), args...)
}

func (tx *Tx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return tx.raw.QueryRowContext(ctx, tx.bind(query), args...)
}

func (tx *Tx) Commit() error {
	return tx.raw.Commit()
}

func (tx *Tx) Rollback() error {
	return tx.raw.Rollback()
}

func (tx *Tx) bind(query string) string {
	if !tx.rebind {
		return query
	}
	return rebindPostgresPlaceholders(query)
}

func rebindPostgresPlaceholders(query string) string {
	var out strings.Builder
	out.Grow(len(query) + 16)

	arg := 1
	inSingleQuote := false
	for i := 0; i < len(query); i++ {
		ch := query[i]
		if ch == '\'' {
			out.WriteByte(ch)
			if inSingleQuote {
				// SQL escape: two single quotes inside a string literal.
				if i+1 < len(query) && query[i+1] == '\'' {
					out.WriteByte(query[i+1])
					i++
					continue
				}
				inSingleQuote = false
			} else {
				inSingleQuote = true
			}
			continue
		}

		if ch == '?' && !inSingleQuote {
			out.WriteByte('$')
			out.WriteString(strconv.Itoa(arg))
			arg++
			continue
		}

		out.WriteByte(ch)
	}

	return out.String()
}

// ParseDSN picks the driver for dsn. postgres:// and postgresql:// go to pgx;
// sqlite://<path> and file: URIs go to the pure-Go sqlite driver.
func ParseDSN(dsn string) (driver string, source string, err error) {
	trimmed := strings.TrimSpace(dsn)
	switch {
	case strings.HasPrefix(trimmed, "postgres://"), strings.HasPrefix(trimmed, "postgresql://"):
		return DriverPostgres, trimmed, nil
	case strings.HasPrefix(trimmed, "sqlite://"):
		source = strings.TrimPrefix(trimmed, "sqlite://")
		if source == "" {
			return "", "", fmt.Errorf("sqlite dsn %q has no path", dsn)
		}
		return DriverSQLite, source, nil
	case strings.HasPrefix(trimmed, "file:"):
		return DriverSQLite, trimmed, nil
	default:
		return "", "", fmt.Errorf("unsupported dsn %q (expected postgres://, sqlite:// or file:)", dsn)
	}
}

func Open(ctx context.Context, dsn string) (*Store, error) {
	driver, source, err := ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	raw, err := sql.Open(driver, source)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := raw.PingContext(pingCtx); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	store, err := New(ctx, raw, driver)
	if err != nil {
		_ = raw.Close()
		return nil, err
	}
	return store, nil
}

// New wraps an already opened database and applies the schema.
func New(ctx context.Context, raw *sql.DB, driver string) (*Store, error) {
	switch driver {
	case DriverPostgres:
		raw.SetConnMaxIdleTime(30 * time.Second)
		raw.SetMaxIdleConns(4)
		raw.SetMaxOpenConns(16)
	case DriverSQLite:
		// One connection: keeps :memory: databases alive and writers serialized.
		raw.SetMaxOpenConns(1)
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}

	store := &Store{db: &DB{raw: raw, rebind: driver == DriverPostgres}}
	if err := store.migrate(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.raw.PingContext(ctx)
}

func (s *Store) WithTx(ctx context.Context, fn func(*Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) migrate(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS sync_state (
			name TEXT PRIMARY KEY,
			last_slot BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS accounts (
			pubkey TEXT PRIMARY KEY,
			lamports BIGINT NOT NULL,
			owner TEXT NOT NULL,
			data TEXT NOT NULL,
			token_json TEXT,
			mint_json TEXT,
			closed INTEGER NOT NULL,
			slot BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_accounts_owner ON accounts(owner);`,
		`CREATE TABLE IF NOT EXISTS sales (
			id TEXT PRIMARY KEY,
			instruction TEXT NOT NULL,
			auction_house TEXT NOT NULL,
			buyer TEXT NOT NULL,
			seller TEXT NOT NULL,
			token_mint TEXT NOT NULL,
			buyer_trade_state TEXT NOT NULL,
			seller_trade_state TEXT NOT NULL,
			price TEXT NOT NULL,
			token_size TEXT NOT NULL,
			auction_house_fee TEXT NOT NULL,
			royalties TEXT NOT NULL,
			seller_proceeds TEXT NOT NULL,
			partial INTEGER NOT NULL,
			slot BIGINT NOT NULL,
			created_at BIGINT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sales_house_slot ON sales(auction_house, slot);`,
		`CREATE TABLE IF NOT EXISTS resources (
			pubkey TEXT PRIMARY KEY,
			program_id TEXT NOT NULL,
			account_type TEXT NOT NULL,
			owner TEXT NOT NULL,
			lamports BIGINT NOT NULL,
			raw_json TEXT NOT NULL,
			slot BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_resources_type ON resources(account_type);`,
		`CREATE TABLE IF NOT EXISTS listings (
			pubkey TEXT PRIMARY KEY,
			trade_state TEXT NOT NULL,
			auction_house TEXT NOT NULL,
			seller TEXT NOT NULL,
			metadata TEXT NOT NULL,
			price TEXT NOT NULL,
			token_size TEXT NOT NULL,
			trade_state_bump INTEGER NOT NULL,
			purchase_receipt TEXT,
			canceled_at BIGINT,
			created_at BIGINT NOT NULL,
			slot BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_listings_match ON listings(auction_house, metadata, price, token_size);`,
		`CREATE TABLE IF NOT EXISTS bids (
			pubkey TEXT PRIMARY KEY,
			trade_state TEXT NOT NULL,
			auction_house TEXT NOT NULL,
			buyer TEXT NOT NULL,
			metadata TEXT NOT NULL,
			token_account TEXT,
			price TEXT NOT NULL,
			token_size TEXT NOT NULL,
			trade_state_bump INTEGER NOT NULL,
			purchase_receipt TEXT,
			canceled_at BIGINT,
			created_at BIGINT NOT NULL,
			slot BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_bids_match ON bids(auction_house, metadata, price, token_size);`,
		`CREATE TABLE IF NOT EXISTS purchases (
			pubkey TEXT PRIMARY KEY,
			auction_house TEXT NOT NULL,
			buyer TEXT NOT NULL,
			seller TEXT NOT NULL,
			metadata TEXT NOT NULL,
			price TEXT NOT NULL,
			token_size TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			slot BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS intents (
			signer TEXT NOT NULL,
			nonce TEXT NOT NULL,
			expires_at BIGINT NOT NULL,
			PRIMARY KEY (signer, nonce)
		);`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) UpsertSyncStateTx(ctx context.Context, tx *Tx, name string, slot uint64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO sync_state (name, last_slot, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			last_slot = excluded.last_slot,
			updated_at = excluded.updated_at
	`, name, int64(slot), time.Now().Unix())
	return err
}

// SyncState returns the last slot recorded under name, or 0 when none was.
func (s *Store) SyncState(ctx context.Context, name string) (uint64, error) {
	var slot int64
	err := s.db.QueryRowContext(ctx, `SELECT last_slot FROM sync_state WHERE name = ?`, name).Scan(&slot)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return uint64(slot), nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nullableString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func normalizePagination(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

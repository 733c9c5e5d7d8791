package store

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"

	"github.com/coldbell/auctionhouse/backend/internal/ledger"
)

// LedgerSyncName keys the settler's committed slot in sync_state.
const LedgerSyncName = "ledger"

// AccountJournal writes every committed ledger change set through to SQL.
type AccountJournal struct {
	store *Store
}

var _ ledger.Journal = (*AccountJournal)(nil)

func (s *Store) Journal() *AccountJournal {
	return &AccountJournal{store: s}
}

func (j *AccountJournal) Record(ctx context.Context, slot uint64, changes []ledger.Change) error {
	return j.store.WithTx(ctx, func(tx *Tx) error {
		for _, change := range changes {
			if change.Account == nil {
				if _, err := tx.ExecContext(ctx, `DELETE FROM accounts WHERE pubkey = ?`, change.Key.String()); err != nil {
					return fmt.Errorf("delete account %s: %w", change.Key, err)
				}
				continue
			}
			if err := upsertAccountTx(ctx, tx, change.Key, slot, change.Account); err != nil {
				return fmt.Errorf("upsert account %s: %w", change.Key, err)
			}
		}
		return j.store.UpsertSyncStateTx(ctx, tx, LedgerSyncName, slot)
	})
}

func upsertAccountTx(ctx context.Context, tx *Tx, key solana.PublicKey, slot uint64, acct *ledger.Account) error {
	var tokenJSON, mintJSON *string
	if acct.Token != nil {
		raw, err := json.Marshal(acct.Token)
		if err != nil {
			return err
		}
		text := string(raw)
		tokenJSON = &text
	}
	if acct.Mint != nil {
		raw, err := json.Marshal(acct.Mint)
		if err != nil {
			return err
		}
		text := string(raw)
		mintJSON = &text
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO accounts (
			pubkey, lamports, owner, data, token_json, mint_json, closed, slot, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pubkey) DO UPDATE SET
			lamports = excluded.lamports,
			owner = excluded.owner,
			data = excluded.data,
			token_json = excluded.token_json,
			mint_json = excluded.mint_json,
			closed = excluded.closed,
			slot = excluded.slot,
			updated_at = excluded.updated_at
	`,
		key.String(),
		int64(acct.Lamports),
		acct.Owner.String(),
		base64.StdEncoding.EncodeToString(acct.Data),
		nullableString(tokenJSON),
		nullableString(mintJSON),
		boolToInt(acct.Closed),
		int64(slot),
		time.Now().Unix(),
	)
	return err
}

// LoadAccounts returns the journaled ledger image and the slot it was taken at.
func (s *Store) LoadAccounts(ctx context.Context) (uint64, map[solana.PublicKey]*ledger.Account, error) {
	slot, err := s.SyncState(ctx, LedgerSyncName)
	if err != nil {
		return 0, nil, fmt.Errorf("load ledger slot: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT pubkey, lamports, owner, data, token_json, mint_json, closed
		FROM accounts
	`)
	if err != nil {
		return 0, nil, err
	}
	defer rows.Close()

	out := make(map[solana.PublicKey]*ledger.Account)
	for rows.Next() {
		var (
			pubkey, owner, data string
			lamports            int64
			tokenJSON, mintJSON sql.NullString
			closed              int
		)
		if err := rows.Scan(&pubkey, &lamports, &owner, &data, &tokenJSON, &mintJSON, &closed); err != nil {
			return 0, nil, err
		}
		key, acct, err := decodeAccountRow(pubkey, lamports, owner, data, tokenJSON, mintJSON, closed)
		if err != nil {
			return 0, nil, err
		}
		out[key] = acct
	}
	if err := rows.Err(); err != nil {
		return 0, nil, err
	}
	return slot, out, nil
}

func decodeAccountRow(pubkey string, lamports int64, owner, data string, tokenJSON, mintJSON sql.NullString, closed int) (solana.PublicKey, *ledger.Account, error) {
	key, err := solana.PublicKeyFromBase58(pubkey)
	if err != nil {
		return solana.PublicKey{}, nil, fmt.Errorf("account pubkey %q: %w", pubkey, err)
	}
	ownerKey, err := solana.PublicKeyFromBase58(owner)
	if err != nil {
		return solana.PublicKey{}, nil, fmt.Errorf("account %s owner: %w", pubkey, err)
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return solana.PublicKey{}, nil, fmt.Errorf("account %s data: %w", pubkey, err)
	}
	acct := &ledger.Account{
		Lamports: uint64(lamports),
		Owner:    ownerKey,
		Closed:   closed != 0,
	}
	if len(raw) > 0 {
		acct.Data = raw
	}
	if tokenJSON.Valid {
		var state token.Account
		if err := json.Unmarshal([]byte(tokenJSON.String), &state); err != nil {
			return solana.PublicKey{}, nil, fmt.Errorf("account %s token state: %w", pubkey, err)
		}
		acct.Token = &state
	}
	if mintJSON.Valid {
		var state token.Mint
		if err := json.Unmarshal([]byte(mintJSON.String), &state); err != nil {
			return solana.PublicKey{}, nil, fmt.Errorf("account %s mint state: %w", pubkey, err)
		}
		acct.Mint = &state
	}
	return key, acct, nil
}

package store

import (
	"context"
	"errors"
	"fmt"
)

var ErrIntentReplayed = errors.New("intent already used")

// ConsumeIntent records that signer used nonce. A second use before the
// intent expires fails with ErrIntentReplayed. Expired rows are pruned first.
func (s *Store) ConsumeIntent(ctx context.Context, signer, nonce string, now, expiresAt int64) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM intents WHERE expires_at < ?`, now); err != nil {
			return fmt.Errorf("prune intents: %w", err)
		}
		result, err := tx.ExecContext(ctx, `
			INSERT INTO intents (signer, nonce, expires_at)
			VALUES (?, ?, ?)
			ON CONFLICT(signer, nonce) DO NOTHING
		`, signer, nonce, expiresAt)
		if err != nil {
			return fmt.Errorf("insert intent: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrIntentReplayed
		}
		return nil
	})
}

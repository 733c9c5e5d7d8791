package apiserver

import (
	"net/http"
	"strings"

	"github.com/gagliardetto/solana-go"

	"github.com/coldbell/auctionhouse/backend/internal/auctionhouse"
	"github.com/coldbell/auctionhouse/backend/internal/ledger"
	"github.com/coldbell/auctionhouse/backend/internal/pda"
)

const maxAirdropLamports = 1_000 * solana.LAMPORTS_PER_SOL

type airdropRequest struct {
	Account  string `json:"account"`
	Lamports uint64 `json:"lamports"`
}

type airdropResponse struct {
	Account  string `json:"account"`
	Lamports uint64 `json:"lamports"`
	Slot     uint64 `json:"slot"`
}

type createMintRequest struct {
	Authority            string                 `json:"authority"`
	Owner                string                 `json:"owner"`
	Decimals             uint8                  `json:"decimals"`
	Amount               uint64                 `json:"amount"`
	Name                 string                 `json:"name"`
	Symbol               string                 `json:"symbol"`
	URI                  string                 `json:"uri"`
	SellerFeeBasisPoints uint16                 `json:"seller_fee_basis_points"`
	Creators             []auctionhouse.Creator `json:"creators"`
	SkipMetadata         bool                   `json:"skip_metadata"`
}

type createMintResponse struct {
	Mint         string `json:"mint"`
	Metadata     string `json:"metadata,omitempty"`
	TokenAccount string `json:"token_account"`
	Slot         uint64 `json:"slot"`
}

// handleAirdrop credits lamports out of thin air. Development only.
func (s *Service) handleAirdrop(w http.ResponseWriter, r *http.Request) {
	var req airdropRequest
	if err := decodeJSONBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	account, err := solana.PublicKeyFromBase58(strings.TrimSpace(req.Account))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid account")
		return
	}
	if req.Lamports == 0 || req.Lamports > maxAirdropLamports {
		s.respondError(w, http.StatusBadRequest, "lamports must be between 1 and 1000 SOL")
		return
	}

	var slot uint64
	err = s.engine.Bank().Atomic(r.Context(), func(tx *ledger.Tx) error {
		slot = tx.Slot()
		return tx.Airdrop(account, req.Lamports)
	})
	if err != nil {
		s.respondExecuteError(w, err)
		return
	}
	s.logger.Info("airdrop committed", "account", account.String(), "lamports", req.Lamports, "slot", slot)
	s.respondJSON(w, http.StatusOK, airdropResponse{Account: account.String(), Lamports: req.Lamports, Slot: slot})
}

// handleCreateMint creates a fresh mint, mints amount into the owner's
// associated token account and writes token metadata for it. The authority
// pays rent and must already hold lamports.
func (s *Service) handleCreateMint(w http.ResponseWriter, r *http.Request) {
	var req createMintRequest
	if err := decodeJSONBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	authority, err := solana.PublicKeyFromBase58(strings.TrimSpace(req.Authority))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid authority")
		return
	}
	owner := authority
	if strings.TrimSpace(req.Owner) != "" {
		if owner, err = solana.PublicKeyFromBase58(strings.TrimSpace(req.Owner)); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid owner")
			return
		}
	}
	if req.SellerFeeBasisPoints > 10_000 {
		s.respondError(w, http.StatusBadRequest, "seller_fee_basis_points must be <= 10000")
		return
	}

	mint := solana.NewWallet().PublicKey()
	metadataKey, _, err := pda.DeriveMetadataPDA(mint)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to derive metadata")
		return
	}

	var resp createMintResponse
	err = s.engine.Bank().Atomic(r.Context(), func(tx *ledger.Tx) error {
		if err := tx.CreateMint(authority, mint, req.Decimals, authority); err != nil {
			return err
		}
		ata, err := tx.CreateAssociatedTokenAccount(authority, owner, mint)
		if err != nil {
			return err
		}
		if req.Amount > 0 {
			if err := tx.MintTo(mint, ata, req.Amount); err != nil {
				return err
			}
		}
		resp = createMintResponse{Mint: mint.String(), TokenAccount: ata.String(), Slot: tx.Slot()}
		if req.SkipMetadata {
			return nil
		}

		data, err := auctionhouse.MarshalAccount(auctionhouse.Metadata{
			UpdateAuthority:      authority,
			Mint:                 mint,
			Name:                 req.Name,
			Symbol:               req.Symbol,
			URI:                  req.URI,
			SellerFeeBasisPoints: req.SellerFeeBasisPoints,
			Creators:             req.Creators,
			IsMutable:            true,
		})
		if err != nil {
			return err
		}
		if err := tx.CreateAccount(authority, metadataKey, len(data), pda.TokenMetadataProgramID); err != nil {
			return err
		}
		resp.Metadata = metadataKey.String()
		return tx.WriteData(metadataKey, data)
	})
	if err != nil {
		s.respondExecuteError(w, err)
		return
	}
	s.logger.Info("mint created", "mint", resp.Mint, "owner", owner.String(), "amount", req.Amount)
	s.respondJSON(w, http.StatusOK, resp)
}

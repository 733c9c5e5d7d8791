package apiserver

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gagliardetto/solana-go"

	"github.com/coldbell/auctionhouse/backend/internal/auctionhouse"
	"github.com/coldbell/auctionhouse/backend/internal/store"
)

const (
	intentHeader   = "auction-house intent"
	maxNonceLength = 128
	maxSigners     = 16
)

var (
	errUnauthorized  = errors.New("unauthorized")
	errIntentExpired = errors.New("intent expired")
	errBadRequest    = errors.New("bad request")
)

type InstructionRequest struct {
	Type   string          `json:"type"`
	Params json.RawMessage `json:"params"`
}

type SignerSignature struct {
	PublicKey string `json:"public_key"`
	Signature string `json:"signature"`
}

// TransactionRequest is a signed batch of instructions. Every signer signs
// the message returned by IntentMessage for the same nonce, expiry and
// instruction list.
type TransactionRequest struct {
	Nonce        string               `json:"nonce"`
	ExpiresAt    int64                `json:"expires_at"`
	Signatures   []SignerSignature    `json:"signatures"`
	Instructions []InstructionRequest `json:"instructions"`
}

// IntentMessage renders the canonical text signers sign. Params are
// compacted before hashing so whitespace does not change the digest.
func IntentMessage(nonce string, expiresAt int64, instructions []InstructionRequest) (string, error) {
	var b strings.Builder
	b.WriteString(intentHeader)
	b.WriteString("\nnonce: ")
	b.WriteString(nonce)
	b.WriteString("\nexpires_at: ")
	b.WriteString(strconv.FormatInt(expiresAt, 10))
	for i, ix := range instructions {
		digest, err := paramsDigest(ix.Params)
		if err != nil {
			return "", fmt.Errorf("instruction %d: %w", i, err)
		}
		fmt.Fprintf(&b, "\ninstruction[%d]: %s %s", i, strings.TrimSpace(ix.Type), digest)
	}
	return b.String(), nil
}

func paramsDigest(raw json.RawMessage) (string, error) {
	var compact bytes.Buffer
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Compact(&compact, raw); err != nil {
			return "", fmt.Errorf("invalid params: %w", err)
		}
	}
	sum := sha256.Sum256(compact.Bytes())
	return hex.EncodeToString(sum[:]), nil
}

// authorize verifies every signature over the request's intent and burns
// the nonce for each signer. The verified keys become the signer set.
func (s *Service) authorize(ctx context.Context, req TransactionRequest) (auctionhouse.Signers, error) {
	nonce := strings.TrimSpace(req.Nonce)
	if nonce == "" || len(nonce) > maxNonceLength {
		return nil, fmt.Errorf("%w: nonce must be 1-%d characters", errUnauthorized, maxNonceLength)
	}
	now := s.now()
	if req.ExpiresAt <= now.Unix() {
		return nil, errIntentExpired
	}
	if req.ExpiresAt > now.Add(s.cfg.IntentMaxAge).Unix() {
		return nil, fmt.Errorf("%w: expires_at is more than %s ahead", errUnauthorized, s.cfg.IntentMaxAge)
	}
	if len(req.Signatures) == 0 || len(req.Signatures) > maxSigners {
		return nil, fmt.Errorf("%w: between 1 and %d signatures are required", errUnauthorized, maxSigners)
	}

	message, err := IntentMessage(nonce, req.ExpiresAt, req.Instructions)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}

	signers := make(auctionhouse.Signers, 0, len(req.Signatures))
	for _, entry := range req.Signatures {
		if err := verifyWalletSignature(entry.PublicKey, entry.Signature, message); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", errUnauthorized, entry.PublicKey, err)
		}
		key := solana.MustPublicKeyFromBase58(strings.TrimSpace(entry.PublicKey))
		if signers.Has(key) {
			continue
		}
		signers = append(signers, key)
	}

	for _, signer := range signers {
		if err := s.store.ConsumeIntent(ctx, signer.String(), nonce, now.Unix(), req.ExpiresAt); err != nil {
			return nil, err
		}
	}
	return signers, nil
}

func verifyWalletSignature(walletPubkey, signature, message string) error {
	wallet, err := solana.PublicKeyFromBase58(strings.TrimSpace(walletPubkey))
	if err != nil {
		return fmt.Errorf("invalid wallet pubkey: %w", err)
	}
	sigBytes, err := decodeSignature(signature)
	if err != nil {
		return err
	}
	if !ed25519.Verify(wallet[:], []byte(message), sigBytes) {
		return fmt.Errorf("signature verification failed")
	}
	return nil
}

func decodeSignature(raw string) ([]byte, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("signature is required")
	}

	if sig, err := solana.SignatureFromBase58(trimmed); err == nil {
		bytes := sig[:]
		return bytes, nil
	}
	if bytes, err := base64.StdEncoding.DecodeString(trimmed); err == nil && len(bytes) == ed25519.SignatureSize {
		return bytes, nil
	}
	if bytes, err := base64.RawURLEncoding.DecodeString(trimmed); err == nil && len(bytes) == ed25519.SignatureSize {
		return bytes, nil
	}
	if bytes, err := hex.DecodeString(trimmed); err == nil && len(bytes) == ed25519.SignatureSize {
		return bytes, nil
	}

	return nil, fmt.Errorf("unsupported signature encoding")
}

func decodeJSONBody(r *http.Request, destination any) error {
	if r.Body == nil {
		return fmt.Errorf("request body is required")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(destination); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	var extra json.RawMessage
	if err := decoder.Decode(&extra); err != io.EOF {
		return fmt.Errorf("invalid request body: multiple JSON values")
	}
	return nil
}

func intentStatus(err error) int {
	switch {
	case errors.Is(err, store.ErrIntentReplayed):
		return http.StatusConflict
	case errors.Is(err, errIntentExpired), errors.Is(err, errUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

package auctionhouse

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

const (
	TradeStateSize   = 1
	MaxNumScopes     = 7
	AuctionHouseSize = 8 + 32*7 + 1*3 + 2 + 1*2 + 1 + 1 + 32 + 1
	AuctioneerSize   = 8 + 32*2 + 1 + 1
)

var (
	AuctionHouseDiscriminator    = accountDiscriminator("AuctionHouse")
	AuctioneerDiscriminator      = accountDiscriminator("Auctioneer")
	ListingReceiptDiscriminator  = accountDiscriminator("ListingReceipt")
	BidReceiptDiscriminator      = accountDiscriminator("BidReceipt")
	PurchaseReceiptDiscriminator = accountDiscriminator("PurchaseReceipt")
)

func accountDiscriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("account:" + name))
	var out [8]byte
	copy(out[:], sum[:8])
	return out
}

// AuthorityScope names one operation an auctioneer can be delegated.
type AuthorityScope uint8

const (
	ScopeDeposit AuthorityScope = iota
	ScopeBuy
	ScopePublicBuy
	ScopeExecuteSale
	ScopeSell
	ScopeCancel
	ScopeWithdraw
)

var scopeNames = [MaxNumScopes]string{"deposit", "buy", "public_buy", "execute_sale", "sell", "cancel", "withdraw"}

func (s AuthorityScope) String() string {
	if int(s) < len(scopeNames) {
		return scopeNames[s]
	}
	return fmt.Sprintf("scope(%d)", uint8(s))
}

func ParseAuthorityScope(raw string) (AuthorityScope, error) {
	for i, name := range scopeNames {
		if name == raw {
			return AuthorityScope(i), nil
		}
	}
	return 0, fmt.Errorf("unknown authority scope %q", raw)
}

func (s AuthorityScope) MarshalText() ([]byte, error) {
	if int(s) >= len(scopeNames) {
		return nil, fmt.Errorf("scope %d: %w", uint8(s), ErrTooManyScopes)
	}
	return []byte(scopeNames[s]), nil
}

func (s *AuthorityScope) UnmarshalText(text []byte) error {
	scope, err := ParseAuthorityScope(string(text))
	if err != nil {
		return err
	}
	*s = scope
	return nil
}

// ScopeSet is a bitmask of AuthorityScope values.
type ScopeSet uint8

func NewScopeSet(scopes ...AuthorityScope) (ScopeSet, error) {
	if len(scopes) > MaxNumScopes {
		return 0, ErrTooManyScopes
	}
	var set ScopeSet
	for _, scope := range scopes {
		if scope >= MaxNumScopes {
			return 0, fmt.Errorf("scope %d: %w", scope, ErrTooManyScopes)
		}
		set |= 1 << scope
	}
	return set, nil
}

func (s ScopeSet) Has(scope AuthorityScope) bool {
	return scope < MaxNumScopes && s&(1<<scope) != 0
}

func (s ScopeSet) Scopes() []AuthorityScope {
	out := make([]AuthorityScope, 0, MaxNumScopes)
	for scope := AuthorityScope(0); scope < MaxNumScopes; scope++ {
		if s.Has(scope) {
			out = append(out, scope)
		}
	}
	return out
}

// AuctionHouse is the per-marketplace configuration record.
type AuctionHouse struct {
	AuctionHouseFeeAccount        solana.PublicKey
	AuctionHouseTreasury          solana.PublicKey
	TreasuryWithdrawalDestination solana.PublicKey
	FeeWithdrawalDestination      solana.PublicKey
	TreasuryMint                  solana.PublicKey
	Authority                     solana.PublicKey
	Creator                       solana.PublicKey
	Bump                          uint8
	TreasuryBump                  uint8
	FeePayerBump                  uint8
	SellerFeeBasisPoints          uint16
	RequiresSignOff               bool
	CanChangeSalePrice            bool
	EscrowPaymentBump             uint8
	HasAuctioneer                 bool
	AuctioneerAddress             solana.PublicKey
	Scopes                        ScopeSet
}

func (a *AuctionHouse) IsNative() bool {
	return a.TreasuryMint.Equals(solana.SolMint)
}

func (a AuctionHouse) MarshalWithEncoder(encoder *bin.Encoder) error {
	if err := encoder.WriteBytes(AuctionHouseDiscriminator[:], false); err != nil {
		return err
	}
	for _, key := range []solana.PublicKey{
		a.AuctionHouseFeeAccount,
		a.AuctionHouseTreasury,
		a.TreasuryWithdrawalDestination,
		a.FeeWithdrawalDestination,
		a.TreasuryMint,
		a.Authority,
		a.Creator,
	} {
		if err := encoder.WriteBytes(key[:], false); err != nil {
			return err
		}
	}
	for _, v := range []interface{}{
		a.Bump,
		a.TreasuryBump,
		a.FeePayerBump,
		a.SellerFeeBasisPoints,
		a.RequiresSignOff,
		a.CanChangeSalePrice,
		a.EscrowPaymentBump,
		a.HasAuctioneer,
	} {
		if err := encoder.Encode(v); err != nil {
			return err
		}
	}
	if err := encoder.WriteBytes(a.AuctioneerAddress[:], false); err != nil {
		return err
	}
	return encoder.WriteUint8(uint8(a.Scopes))
}

func (a *AuctionHouse) UnmarshalWithDecoder(decoder *bin.Decoder) error {
	if err := readDiscriminator(decoder, AuctionHouseDiscriminator); err != nil {
		return err
	}
	for _, key := range []*solana.PublicKey{
		&a.AuctionHouseFeeAccount,
		&a.AuctionHouseTreasury,
		&a.TreasuryWithdrawalDestination,
		&a.FeeWithdrawalDestination,
		&a.TreasuryMint,
		&a.Authority,
		&a.Creator,
	} {
		if err := readPublicKey(decoder, key); err != nil {
			return err
		}
	}
	for _, v := range []interface{}{
		&a.Bump,
		&a.TreasuryBump,
		&a.FeePayerBump,
		&a.SellerFeeBasisPoints,
		&a.RequiresSignOff,
		&a.CanChangeSalePrice,
		&a.EscrowPaymentBump,
		&a.HasAuctioneer,
	} {
		if err := decoder.Decode(v); err != nil {
			return err
		}
	}
	if err := readPublicKey(decoder, &a.AuctioneerAddress); err != nil {
		return err
	}
	scopes, err := decoder.ReadUint8()
	if err != nil {
		return err
	}
	a.Scopes = ScopeSet(scopes)
	return nil
}

// Auctioneer is the delegation record granting an external authority a set of scopes.
type Auctioneer struct {
	AuctioneerAuthority solana.PublicKey
	AuctionHouse        solana.PublicKey
	Bump                uint8
	Scopes              ScopeSet
}

func (a Auctioneer) MarshalWithEncoder(encoder *bin.Encoder) error {
	if err := encoder.WriteBytes(AuctioneerDiscriminator[:], false); err != nil {
		return err
	}
	if err := encoder.WriteBytes(a.AuctioneerAuthority[:], false); err != nil {
		return err
	}
	if err := encoder.WriteBytes(a.AuctionHouse[:], false); err != nil {
		return err
	}
	if err := encoder.WriteUint8(a.Bump); err != nil {
		return err
	}
	return encoder.WriteUint8(uint8(a.Scopes))
}

func (a *Auctioneer) UnmarshalWithDecoder(decoder *bin.Decoder) error {
	if err := readDiscriminator(decoder, AuctioneerDiscriminator); err != nil {
		return err
	}
	if err := readPublicKey(decoder, &a.AuctioneerAuthority); err != nil {
		return err
	}
	if err := readPublicKey(decoder, &a.AuctionHouse); err != nil {
		return err
	}
	bump, err := decoder.ReadUint8()
	if err != nil {
		return err
	}
	scopes, err := decoder.ReadUint8()
	if err != nil {
		return err
	}
	a.Bump = bump
	a.Scopes = ScopeSet(scopes)
	return nil
}

// MarshalAccount borsh-encodes an account layout, discriminator included.
func MarshalAccount(v bin.BinaryMarshaler) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := bin.NewBorshEncoder(buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalAccount decodes data into v, checking the discriminator.
func UnmarshalAccount(data []byte, v bin.BinaryUnmarshaler) error {
	return bin.NewBorshDecoder(data).Decode(v)
}

// AccountKind returns the layout name for data by its discriminator.
func AccountKind(data []byte) (string, bool) {
	if len(data) < 8 {
		return "", false
	}
	switch {
	case bytes.Equal(data[:8], AuctionHouseDiscriminator[:]):
		return "auction_house", true
	case bytes.Equal(data[:8], AuctioneerDiscriminator[:]):
		return "auctioneer", true
	case bytes.Equal(data[:8], ListingReceiptDiscriminator[:]):
		return "listing_receipt", true
	case bytes.Equal(data[:8], BidReceiptDiscriminator[:]):
		return "bid_receipt", true
	case bytes.Equal(data[:8], PurchaseReceiptDiscriminator[:]):
		return "purchase_receipt", true
	default:
		return "", false
	}
}

func readDiscriminator(decoder *bin.Decoder, want [8]byte) error {
	got, err := decoder.ReadNBytes(8)
	if err != nil {
		return err
	}
	if !bytes.Equal(got, want[:]) {
		return fmt.Errorf("discriminator %x: %w", got, ErrDiscriminatorWrong)
	}
	return nil
}

func readPublicKey(decoder *bin.Decoder, out *solana.PublicKey) error {
	raw, err := decoder.ReadNBytes(solana.PublicKeyLength)
	if err != nil {
		return err
	}
	*out = solana.PublicKeyFromBytes(raw)
	return nil
}

func writeOptionalPublicKey(encoder *bin.Encoder, key *solana.PublicKey) error {
	if key == nil {
		return encoder.WriteBool(false)
	}
	if err := encoder.WriteBool(true); err != nil {
		return err
	}
	return encoder.WriteBytes(key[:], false)
}

func readOptionalPublicKey(decoder *bin.Decoder) (*solana.PublicKey, error) {
	ok, err := decoder.ReadBool()
	if err != nil || !ok {
		return nil, err
	}
	var key solana.PublicKey
	if err := readPublicKey(decoder, &key); err != nil {
		return nil, err
	}
	return &key, nil
}

func writeOptionalInt64(encoder *bin.Encoder, value *int64) error {
	if value == nil {
		return encoder.WriteBool(false)
	}
	if err := encoder.WriteBool(true); err != nil {
		return err
	}
	return encoder.WriteInt64(*value, bin.LE)
}

func readOptionalInt64(decoder *bin.Decoder) (*int64, error) {
	ok, err := decoder.ReadBool()
	if err != nil || !ok {
		return nil, err
	}
	value, err := decoder.ReadInt64(bin.LE)
	if err != nil {
		return nil, err
	}
	return &value, nil
}

package pda

import (
	"encoding/binary"
	"fmt"
	"math"

	token_metadata "github.com/gagliardetto/metaplex-go/clients/token-metadata"
	"github.com/gagliardetto/solana-go"
)

const (
	Prefix          = "auction_house"
	FeePayerSeed    = "fee_payer"
	TreasurySeed    = "treasury"
	SignerSeed      = "signer"
	AuctioneerSeed  = "auctioneer"
	MetadataSeed    = "metadata"
	ListingSeed     = "listing_receipt"
	BidSeed         = "bid_receipt"
	PurchaseSeed    = "purchase_receipt"
	AuctioneerPrice = uint64(math.MaxUint64)
)

var (
	AuctionHouseProgramID  = solana.MustPublicKeyFromBase58("hausS13jsjafwWwGqZTUQRmWyvyxn9EQpqMwV1PBBmk")
	TokenMetadataProgramID = token_metadata.ProgramID
)

// TradeStateKey is the logical identity of a buyer or seller commitment.
// A nil TokenAccount selects the public variant, which matches any holder.
type TradeStateKey struct {
	Wallet       solana.PublicKey
	AuctionHouse solana.PublicKey
	TokenAccount *solana.PublicKey
	TreasuryMint solana.PublicKey
	TokenMint    solana.PublicKey
	Price        uint64
	Size         uint64
}

// Public reports whether the key omits the token account.
func (k TradeStateKey) Public() bool {
	return k.TokenAccount == nil
}

// WithPrice returns a copy of the key pinned to another price, e.g. 0 for the free trade state.
func (k TradeStateKey) WithPrice(price uint64) TradeStateKey {
	k.Price = price
	return k
}

func (k TradeStateKey) AsPublic() TradeStateKey {
	k.TokenAccount = nil
	return k
}

func (k TradeStateKey) Seeds() [][]byte {
	seeds := [][]byte{[]byte(Prefix), k.Wallet.Bytes(), k.AuctionHouse.Bytes()}
	if !k.Public() {
		seeds = append(seeds, k.TokenAccount.Bytes())
	}
	return append(seeds, k.TreasuryMint.Bytes(), k.TokenMint.Bytes(), u64LE(k.Price), u64LE(k.Size))
}

func AuctionHouseSeeds(creator, treasuryMint solana.PublicKey) [][]byte {
	return [][]byte{[]byte(Prefix), creator.Bytes(), treasuryMint.Bytes()}
}

func FeeAccountSeeds(auctionHouse solana.PublicKey) [][]byte {
	return [][]byte{[]byte(Prefix), auctionHouse.Bytes(), []byte(FeePayerSeed)}
}

func TreasurySeeds(auctionHouse solana.PublicKey) [][]byte {
	return [][]byte{[]byte(Prefix), auctionHouse.Bytes(), []byte(TreasurySeed)}
}

func EscrowPaymentSeeds(auctionHouse, wallet solana.PublicKey) [][]byte {
	return [][]byte{[]byte(Prefix), auctionHouse.Bytes(), wallet.Bytes()}
}

func ProgramAsSignerSeeds() [][]byte {
	return [][]byte{[]byte(Prefix), []byte(SignerSeed)}
}

func AuctioneerSeeds(auctionHouse, auctioneerAuthority solana.PublicKey) [][]byte {
	return [][]byte{[]byte(AuctioneerSeed), auctionHouse.Bytes(), auctioneerAuthority.Bytes()}
}

func MetadataSeeds(mint solana.PublicKey) [][]byte {
	return [][]byte{[]byte(MetadataSeed), TokenMetadataProgramID.Bytes(), mint.Bytes()}
}

func ListingReceiptSeeds(tradeState solana.PublicKey) [][]byte {
	return [][]byte{[]byte(ListingSeed), tradeState.Bytes()}
}

func BidReceiptSeeds(tradeState solana.PublicKey) [][]byte {
	return [][]byte{[]byte(BidSeed), tradeState.Bytes()}
}

func PurchaseReceiptSeeds(sellerTradeState, buyerTradeState solana.PublicKey) [][]byte {
	return [][]byte{[]byte(PurchaseSeed), sellerTradeState.Bytes(), buyerTradeState.Bytes()}
}

func DeriveAuctionHousePDA(programID, creator, treasuryMint solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress(AuctionHouseSeeds(creator, treasuryMint), programID)
}

func DeriveFeeAccountPDA(programID, auctionHouse solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress(FeeAccountSeeds(auctionHouse), programID)
}

func DeriveTreasuryPDA(programID, auctionHouse solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress(TreasurySeeds(auctionHouse), programID)
}

func DeriveEscrowPaymentPDA(programID, auctionHouse, wallet solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress(EscrowPaymentSeeds(auctionHouse, wallet), programID)
}

func DeriveTradeStatePDA(programID solana.PublicKey, key TradeStateKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress(key.Seeds(), programID)
}

func DeriveProgramAsSignerPDA(programID solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress(ProgramAsSignerSeeds(), programID)
}

func DeriveAuctioneerPDA(programID, auctionHouse, auctioneerAuthority solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress(AuctioneerSeeds(auctionHouse, auctioneerAuthority), programID)
}

func DeriveMetadataPDA(mint solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress(MetadataSeeds(mint), TokenMetadataProgramID)
}

func DeriveListingReceiptPDA(programID, tradeState solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress(ListingReceiptSeeds(tradeState), programID)
}

func DeriveBidReceiptPDA(programID, tradeState solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress(BidReceiptSeeds(tradeState), programID)
}

func DerivePurchaseReceiptPDA(programID, sellerTradeState, buyerTradeState solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress(PurchaseReceiptSeeds(sellerTradeState, buyerTradeState), programID)
}

func DeriveAssociatedTokenAccount(wallet, mint solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindAssociatedTokenAddress(wallet, mint)
}

// CreateWithBump recomputes an address from seeds plus a caller-supplied bump.
func CreateWithBump(programID solana.PublicKey, seeds [][]byte, bump uint8) (solana.PublicKey, error) {
	withBump := make([][]byte, 0, len(seeds)+1)
	withBump = append(withBump, seeds...)
	withBump = append(withBump, []byte{bump})
	return solana.CreateProgramAddress(withBump, programID)
}

func MustDeriveTradeStatePDA(programID solana.PublicKey, key TradeStateKey) solana.PublicKey {
	pk, _, err := DeriveTradeStatePDA(programID, key)
	if err != nil {
		panic(fmt.Errorf("derive trade state PDA: %w", err))
	}
	return pk
}

func u64LE(value uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, value)
	return buf
}

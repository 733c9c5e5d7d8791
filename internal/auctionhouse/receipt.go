package auctionhouse

import (
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/coldbell/auctionhouse/backend/internal/ledger"
	"github.com/coldbell/auctionhouse/backend/internal/pda"
)

const (
	ListingReceiptSize  = 8 + 32*5 + 1 + 32 + 8*2 + 1*2 + 8 + 1 + 8
	BidReceiptSize      = 8 + 32*5 + (1+32)*2 + 8*2 + 1*2 + 8 + (1 + 8)
	PurchaseReceiptSize = 8 + 32*5 + 8*2 + 1 + 8
)

// ListingReceipt is an indexable record of a listing, printed in the same
// transaction as the sell instruction that created it.
type ListingReceipt struct {
	TradeState      solana.PublicKey
	Bookkeeper      solana.PublicKey
	AuctionHouse    solana.PublicKey
	Seller          solana.PublicKey
	Metadata        solana.PublicKey
	PurchaseReceipt *solana.PublicKey
	Price           uint64
	TokenSize       uint64
	Bump            uint8
	TradeStateBump  uint8
	CreatedAt       int64
	CanceledAt      *int64
}

func (r ListingReceipt) MarshalWithEncoder(encoder *bin.Encoder) error {
	if err := encoder.WriteBytes(ListingReceiptDiscriminator[:], false); err != nil {
		return err
	}
	for _, key := range []solana.PublicKey{r.TradeState, r.Bookkeeper, r.AuctionHouse, r.Seller, r.Metadata} {
		if err := encoder.WriteBytes(key[:], false); err != nil {
			return err
		}
	}
	if err := writeOptionalPublicKey(encoder, r.PurchaseReceipt); err != nil {
		return err
	}
	if err := encoder.WriteUint64(r.Price, bin.LE); err != nil {
		return err
	}
	if err := encoder.WriteUint64(r.TokenSize, bin.LE); err != nil {
		return err
	}
	if err := encoder.WriteUint8(r.Bump); err != nil {
		return err
	}
	if err := encoder.WriteUint8(r.TradeStateBump); err != nil {
		return err
	}
	if err := encoder.WriteInt64(r.CreatedAt, bin.LE); err != nil {
		return err
	}
	return writeOptionalInt64(encoder, r.CanceledAt)
}

func (r *ListingReceipt) UnmarshalWithDecoder(decoder *bin.Decoder) (err error) {
	if err = readDiscriminator(decoder, ListingReceiptDiscriminator); err != nil {
		return err
	}
	for _, key := range []*solana.PublicKey{&r.TradeState, &r.Bookkeeper, &r.AuctionHouse, &r.Seller, &r.Metadata} {
		if err = readPublicKey(decoder, key); err != nil {
			return err
		}
	}
	if r.PurchaseReceipt, err = readOptionalPublicKey(decoder); err != nil {
		return err
	}
	if r.Price, err = decoder.ReadUint64(bin.LE); err != nil {
		return err
	}
	if r.TokenSize, err = decoder.ReadUint64(bin.LE); err != nil {
		return err
	}
	if r.Bump, err = decoder.ReadUint8(); err != nil {
		return err
	}
	if r.TradeStateBump, err = decoder.ReadUint8(); err != nil {
		return err
	}
	if r.CreatedAt, err = decoder.ReadInt64(bin.LE); err != nil {
		return err
	}
	r.CanceledAt, err = readOptionalInt64(decoder)
	return err
}

// BidReceipt is the bid counterpart of ListingReceipt. TokenAccount is nil for public bids.
type BidReceipt struct {
	TradeState      solana.PublicKey
	Bookkeeper      solana.PublicKey
	AuctionHouse    solana.PublicKey
	Buyer           solana.PublicKey
	Metadata        solana.PublicKey
	TokenAccount    *solana.PublicKey
	PurchaseReceipt *solana.PublicKey
	Price           uint64
	TokenSize       uint64
	Bump            uint8
	TradeStateBump  uint8
	CreatedAt       int64
	CanceledAt      *int64
}

func (r BidReceipt) MarshalWithEncoder(encoder *bin.Encoder) error {
	if err := encoder.WriteBytes(BidReceiptDiscriminator[:], false); err != nil {
		return err
	}
	for _, key := range []solana.PublicKey{r.TradeState, r.Bookkeeper, r.AuctionHouse, r.Buyer, r.Metadata} {
		if err := encoder.WriteBytes(key[:], false); err != nil {
			return err
		}
	}
	if err := writeOptionalPublicKey(encoder, r.TokenAccount); err != nil {
		return err
	}
	if err := writeOptionalPublicKey(encoder, r.PurchaseReceipt); err != nil {
		return err
	}
	if err := encoder.WriteUint64(r.Price, bin.LE); err != nil {
		return err
	}
	if err := encoder.WriteUint64(r.TokenSize, bin.LE); err != nil {
		return err
	}
	if err := encoder.WriteUint8(r.Bump); err != nil {
		return err
	}
	if err := encoder.WriteUint8(r.TradeStateBump); err != nil {
		return err
	}
	if err := encoder.WriteInt64(r.CreatedAt, bin.LE); err != nil {
		return err
	}
	return writeOptionalInt64(encoder, r.CanceledAt)
}

func (r *BidReceipt) UnmarshalWithDecoder(decoder *bin.Decoder) (err error) {
	if err = readDiscriminator(decoder, BidReceiptDiscriminator); err != nil {
		return err
	}
	for _, key := range []*solana.PublicKey{&r.TradeState, &r.Bookkeeper, &r.AuctionHouse, &r.Buyer, &r.Metadata} {
		if err = readPublicKey(decoder, key); err != nil {
			return err
		}
	}
	if r.TokenAccount, err = readOptionalPublicKey(decoder); err != nil {
		return err
	}
	if r.PurchaseReceipt, err = readOptionalPublicKey(decoder); err != nil {
		return err
	}
	if r.Price, err = decoder.ReadUint64(bin.LE); err != nil {
		return err
	}
	if r.TokenSize, err = decoder.ReadUint64(bin.LE); err != nil {
		return err
	}
	if r.Bump, err = decoder.ReadUint8(); err != nil {
		return err
	}
	if r.TradeStateBump, err = decoder.ReadUint8(); err != nil {
		return err
	}
	if r.CreatedAt, err = decoder.ReadInt64(bin.LE); err != nil {
		return err
	}
	r.CanceledAt, err = readOptionalInt64(decoder)
	return err
}

// PurchaseReceipt records a settled sale.
type PurchaseReceipt struct {
	Bookkeeper   solana.PublicKey
	Buyer        solana.PublicKey
	Seller       solana.PublicKey
	AuctionHouse solana.PublicKey
	Metadata     solana.PublicKey
	TokenSize    uint64
	Price        uint64
	Bump         uint8
	CreatedAt    int64
}

func (r PurchaseReceipt) MarshalWithEncoder(encoder *bin.Encoder) error {
	if err := encoder.WriteBytes(PurchaseReceiptDiscriminator[:], false); err != nil {
		return err
	}
	for _, key := range []solana.PublicKey{r.Bookkeeper, r.Buyer, r.Seller, r.AuctionHouse, r.Metadata} {
		if err := encoder.WriteBytes(key[:], false); err != nil {
			return err
		}
	}
	if err := encoder.WriteUint64(r.TokenSize, bin.LE); err != nil {
		return err
	}
	if err := encoder.WriteUint64(r.Price, bin.LE); err != nil {
		return err
	}
	if err := encoder.WriteUint8(r.Bump); err != nil {
		return err
	}
	return encoder.WriteInt64(r.CreatedAt, bin.LE)
}

func (r *PurchaseReceipt) UnmarshalWithDecoder(decoder *bin.Decoder) (err error) {
	if err = readDiscriminator(decoder, PurchaseReceiptDiscriminator); err != nil {
		return err
	}
	for _, key := range []*solana.PublicKey{&r.Bookkeeper, &r.Buyer, &r.Seller, &r.AuctionHouse, &r.Metadata} {
		if err = readPublicKey(decoder, key); err != nil {
			return err
		}
	}
	if r.TokenSize, err = decoder.ReadUint64(bin.LE); err != nil {
		return err
	}
	if r.Price, err = decoder.ReadUint64(bin.LE); err != nil {
		return err
	}
	if r.Bump, err = decoder.ReadUint8(); err != nil {
		return err
	}
	r.CreatedAt, err = decoder.ReadInt64(bin.LE)
	return err
}

// writeReceipt allocates address on first use and overwrites it with record.
func writeReceipt(tx *ledger.Tx, programID, bookkeeper, address solana.PublicKey, size int, record bin.BinaryMarshaler) error {
	if !tx.Load(address).HasData() {
		if err := tx.CreateAccount(bookkeeper, address, size, programID); err != nil {
			return fmt.Errorf("create receipt %s: %w", address, err)
		}
	}
	data, err := MarshalAccount(record)
	if err != nil {
		return fmt.Errorf("encode receipt: %w", err)
	}
	return tx.WriteData(address, data)
}

func readReceipt(tx *ledger.Tx, programID, address solana.PublicKey, record bin.BinaryUnmarshaler) error {
	acct := tx.Load(address)
	if !acct.HasData() {
		return fmt.Errorf("receipt %s: %w", address, ErrReceiptIsEmpty)
	}
	if !acct.Owner.Equals(programID) {
		return fmt.Errorf("receipt %s owned by %s: %w", address, acct.Owner, ErrIncorrectOwner)
	}
	return UnmarshalAccount(acct.Data, record)
}

// previousListing returns the sell instruction immediately before the receipt instruction.
func (inv *invocation) previousListing() (SellParams, error) {
	switch prev := inv.previous.(type) {
	case SellParams:
		return prev, nil
	case AuctioneerSellParams:
		return prev.sellParams(), nil
	default:
		return SellParams{}, fmt.Errorf("previous instruction %s: %w", previousName(inv.previous), ErrInstructionMismatch)
	}
}

func (inv *invocation) previousBid() (BuyParams, error) {
	switch prev := inv.previous.(type) {
	case BuyParams:
		return prev, nil
	case AuctioneerBuyParams:
		return prev.BuyParams, nil
	default:
		return BuyParams{}, fmt.Errorf("previous instruction %s: %w", previousName(inv.previous), ErrInstructionMismatch)
	}
}

func (inv *invocation) previousCancel() (CancelParams, error) {
	switch prev := inv.previous.(type) {
	case CancelParams:
		return prev, nil
	case AuctioneerCancelParams:
		return prev.CancelParams, nil
	default:
		return CancelParams{}, fmt.Errorf("previous instruction %s: %w", previousName(inv.previous), ErrInstructionMismatch)
	}
}

func (inv *invocation) previousSale() (ExecuteSaleParams, error) {
	switch prev := inv.previous.(type) {
	case ExecuteSaleParams:
		return prev, nil
	case AuctioneerExecuteSaleParams:
		return prev.ExecuteSaleParams, nil
	default:
		return ExecuteSaleParams{}, fmt.Errorf("previous instruction %s: %w", previousName(inv.previous), ErrInstructionMismatch)
	}
}

func previousName(ix Instruction) string {
	if ix == nil {
		return "<none>"
	}
	return ix.Name()
}

type PrintListingReceiptParams struct {
	Receipt    solana.PublicKey
	Bookkeeper solana.PublicKey
	Bump       uint8
}

func (PrintListingReceiptParams) Name() string { return "print_listing_receipt" }

func (p PrintListingReceiptParams) process(inv *invocation) error {
	tx := inv.tx
	listing, err := inv.previousListing()
	if err != nil {
		return err
	}
	if err := assertSigner(inv.signers, p.Bookkeeper); err != nil {
		return err
	}
	state := LoadTradeState(tx, listing.SellerTradeState)
	if !state.Active() {
		return fmt.Errorf("listing trade state is %s: %w", state.Status, ErrTradeStateDoesntExist)
	}
	if err := assertDerivationWithBump(inv.programID, p.Receipt, pda.ListingReceiptSeeds(listing.SellerTradeState), p.Bump); err != nil {
		return err
	}
	receipt := ListingReceipt{
		TradeState:     listing.SellerTradeState,
		Bookkeeper:     p.Bookkeeper,
		AuctionHouse:   listing.AuctionHouse,
		Seller:         listing.Wallet,
		Metadata:       listing.Metadata,
		Price:          listing.BuyerPrice,
		TokenSize:      listing.TokenSize,
		Bump:           p.Bump,
		TradeStateBump: state.Bump,
		CreatedAt:      tx.Now().Unix(),
	}
	if err := writeReceipt(tx, inv.programID, p.Bookkeeper, p.Receipt, ListingReceiptSize, receipt); err != nil {
		return err
	}
	inv.emit(Event{Kind: EventReceipt, AuctionHouse: listing.AuctionHouse, Wallet: listing.Wallet, TradeState: listing.SellerTradeState, Account: p.Receipt, Price: listing.BuyerPrice, Size: listing.TokenSize})
	return nil
}

type CancelListingReceiptParams struct {
	Receipt solana.PublicKey
}

func (CancelListingReceiptParams) Name() string { return "cancel_listing_receipt" }

func (p CancelListingReceiptParams) process(inv *invocation) error {
	tx := inv.tx
	cancel, err := inv.previousCancel()
	if err != nil {
		return err
	}
	var receipt ListingReceipt
	if err := readReceipt(tx, inv.programID, p.Receipt, &receipt); err != nil {
		return err
	}
	if err := assertKeysEqual(receipt.TradeState, cancel.TradeState); err != nil {
		return err
	}
	if LoadTradeState(tx, cancel.TradeState).Active() {
		return ErrTradeStateIsNotEmpty
	}
	canceledAt := tx.Now().Unix()
	receipt.CanceledAt = &canceledAt
	if err := writeReceipt(tx, inv.programID, receipt.Bookkeeper, p.Receipt, ListingReceiptSize, receipt); err != nil {
		return err
	}
	inv.emit(Event{Kind: EventReceipt, AuctionHouse: receipt.AuctionHouse, Wallet: receipt.Seller, TradeState: receipt.TradeState, Account: p.Receipt})
	return nil
}

type PrintBidReceiptParams struct {
	Receipt    solana.PublicKey
	Bookkeeper solana.PublicKey
	Bump       uint8
}

func (PrintBidReceiptParams) Name() string { return "print_bid_receipt" }

func (p PrintBidReceiptParams) process(inv *invocation) error {
	tx := inv.tx
	bid, err := inv.previousBid()
	if err != nil {
		return err
	}
	if err := assertSigner(inv.signers, p.Bookkeeper); err != nil {
		return err
	}
	state := LoadTradeState(tx, bid.BuyerTradeState)
	if !state.Active() {
		return fmt.Errorf("bid trade state is %s: %w", state.Status, ErrTradeStateDoesntExist)
	}
	if err := assertDerivationWithBump(inv.programID, p.Receipt, pda.BidReceiptSeeds(bid.BuyerTradeState), p.Bump); err != nil {
		return err
	}
	receipt := BidReceipt{
		TradeState:     bid.BuyerTradeState,
		Bookkeeper:     p.Bookkeeper,
		AuctionHouse:   bid.AuctionHouse,
		Buyer:          bid.Wallet,
		Metadata:       bid.Metadata,
		Price:          bid.BuyerPrice,
		TokenSize:      bid.TokenSize,
		Bump:           p.Bump,
		TradeStateBump: state.Bump,
		CreatedAt:      tx.Now().Unix(),
	}
	if !bid.Public {
		tokenAccount := bid.TokenAccount
		receipt.TokenAccount = &tokenAccount
	}
	if err := writeReceipt(tx, inv.programID, p.Bookkeeper, p.Receipt, BidReceiptSize, receipt); err != nil {
		return err
	}
	inv.emit(Event{Kind: EventReceipt, AuctionHouse: bid.AuctionHouse, Wallet: bid.Wallet, TradeState: bid.BuyerTradeState, Account: p.Receipt, Price: bid.BuyerPrice, Size: bid.TokenSize})
	return nil
}

type CancelBidReceiptParams struct {
	Receipt solana.PublicKey
}

func (CancelBidReceiptParams) Name() string { return "cancel_bid_receipt" }

func (p CancelBidReceiptParams) process(inv *invocation) error {
	tx := inv.tx
	cancel, err := inv.previousCancel()
	if err != nil {
		return err
	}
	var receipt BidReceipt
	if err := readReceipt(tx, inv.programID, p.Receipt, &receipt); err != nil {
		return err
	}
	if err := assertKeysEqual(receipt.TradeState, cancel.TradeState); err != nil {
		return err
	}
	if LoadTradeState(tx, cancel.TradeState).Active() {
		return ErrTradeStateIsNotEmpty
	}
	canceledAt := tx.Now().Unix()
	receipt.CanceledAt = &canceledAt
	if err := writeReceipt(tx, inv.programID, receipt.Bookkeeper, p.Receipt, BidReceiptSize, receipt); err != nil {
		return err
	}
	inv.emit(Event{Kind: EventReceipt, AuctionHouse: receipt.AuctionHouse, Wallet: receipt.Buyer, TradeState: receipt.TradeState, Account: p.Receipt})
	return nil
}

// PrintPurchaseReceiptParams records a full fill and links the listing and bid receipts to it.
type PrintPurchaseReceiptParams struct {
	PurchaseReceipt solana.PublicKey
	ListingReceipt  solana.PublicKey
	BidReceipt      solana.PublicKey
	Bookkeeper      solana.PublicKey
	Bump            uint8
}

func (PrintPurchaseReceiptParams) Name() string { return "print_purchase_receipt" }

func (p PrintPurchaseReceiptParams) process(inv *invocation) error {
	tx := inv.tx
	sale, err := inv.previousSale()
	if err != nil {
		return err
	}
	if err := assertSigner(inv.signers, p.Bookkeeper); err != nil {
		return err
	}
	if LoadTradeState(tx, sale.SellerTradeState).Active() || LoadTradeState(tx, sale.BuyerTradeState).Active() {
		return ErrTradeStateIsNotEmpty
	}
	if err := assertDerivationWithBump(inv.programID, p.PurchaseReceipt, pda.PurchaseReceiptSeeds(sale.SellerTradeState, sale.BuyerTradeState), p.Bump); err != nil {
		return err
	}

	var listing ListingReceipt
	if err := readReceipt(tx, inv.programID, p.ListingReceipt, &listing); err != nil {
		return err
	}
	var bid BidReceipt
	if err := readReceipt(tx, inv.programID, p.BidReceipt, &bid); err != nil {
		return err
	}
	if err := assertKeysEqual(listing.TradeState, sale.SellerTradeState); err != nil {
		return err
	}
	if err := assertKeysEqual(bid.TradeState, sale.BuyerTradeState); err != nil {
		return err
	}

	price, size, _, err := sale.resolveFill()
	if err != nil {
		return err
	}
	purchase := PurchaseReceipt{
		Bookkeeper:   p.Bookkeeper,
		Buyer:        sale.Buyer,
		Seller:       sale.Seller,
		AuctionHouse: sale.AuctionHouse,
		Metadata:     sale.Metadata,
		TokenSize:    size,
		Price:        price,
		Bump:         p.Bump,
		CreatedAt:    tx.Now().Unix(),
	}
	if err := writeReceipt(tx, inv.programID, p.Bookkeeper, p.PurchaseReceipt, PurchaseReceiptSize, purchase); err != nil {
		return err
	}

	listing.PurchaseReceipt = &p.PurchaseReceipt
	if err := writeReceipt(tx, inv.programID, listing.Bookkeeper, p.ListingReceipt, ListingReceiptSize, listing); err != nil {
		return err
	}
	bid.PurchaseReceipt = &p.PurchaseReceipt
	if err := writeReceipt(tx, inv.programID, bid.Bookkeeper, p.BidReceipt, BidReceiptSize, bid); err != nil {
		return err
	}
	inv.emit(Event{
		Kind:         EventReceipt,
		AuctionHouse: sale.AuctionHouse,
		Wallet:       sale.Buyer,
		Counterparty: sale.Seller,
		TradeState:   sale.BuyerTradeState,
		Account:      p.PurchaseReceipt,
		Price:        price,
		Size:         size,
	})
	return nil
}

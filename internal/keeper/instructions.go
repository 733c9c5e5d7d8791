package keeper

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/coldbell/auctionhouse/backend/internal/auctionhouse"
)

var (
	executeSaleDisc          = anchorInstructionDiscriminator("execute_sale")
	printPurchaseReceiptDisc = anchorInstructionDiscriminator("print_purchase_receipt")
)

type executeSaleArgs struct {
	EscrowPaymentBump   uint8
	FreeTradeStateBump  uint8
	ProgramAsSignerBump uint8
	BuyerPrice          uint64
	TokenSize           uint64
}

type printPurchaseReceiptArgs struct {
	PurchaseReceiptBump uint8
}

func anchorInstructionDiscriminator(ixName string) [8]byte {
	hash := sha256.Sum256([]byte("global:" + ixName))
	var out [8]byte
	copy(out[:], hash[:8])
	return out
}

func encodeInstructionData(disc [8]byte, args any) ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Write(disc[:])
	if err := bin.NewBorshEncoder(buf).Encode(args); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// newExecuteSaleInstruction encodes a full (non-partial) sale. The authority
// signs; creators follow as remaining accounts, their wallets for native
// treasuries and their treasury-mint token accounts otherwise.
func newExecuteSaleInstruction(programID solana.PublicKey, p auctionhouse.ExecuteSaleParams, native bool) (solana.Instruction, error) {
	if p.PartialOrderSize != nil || p.PartialOrderPrice != nil {
		return nil, fmt.Errorf("partial sales are not cranked")
	}
	data, err := encodeInstructionData(executeSaleDisc, executeSaleArgs{
		EscrowPaymentBump:   p.EscrowPaymentBump,
		FreeTradeStateBump:  p.FreeTradeStateBump,
		ProgramAsSignerBump: p.ProgramAsSignerBump,
		BuyerPrice:          p.BuyerPrice,
		TokenSize:           p.TokenSize,
	})
	if err != nil {
		return nil, fmt.Errorf("encode execute_sale args: %w", err)
	}

	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(p.Buyer, true, false),
		solana.NewAccountMeta(p.Seller, true, false),
		solana.NewAccountMeta(p.TokenAccount, true, false),
		solana.NewAccountMeta(p.TokenMint, false, false),
		solana.NewAccountMeta(p.Metadata, false, false),
		solana.NewAccountMeta(p.TreasuryMint, false, false),
		solana.NewAccountMeta(p.EscrowPaymentAccount, true, false),
		solana.NewAccountMeta(p.SellerPaymentReceiptAccount, true, false),
		solana.NewAccountMeta(p.BuyerReceiptTokenAccount, true, false),
		solana.NewAccountMeta(p.Authority, false, true),
		solana.NewAccountMeta(p.AuctionHouse, false, false),
		solana.NewAccountMeta(p.AuctionHouseFeeAccount, true, false),
		solana.NewAccountMeta(p.AuctionHouseTreasury, true, false),
		solana.NewAccountMeta(p.BuyerTradeState, true, false),
		solana.NewAccountMeta(p.SellerTradeState, true, false),
		solana.NewAccountMeta(p.FreeTradeState, true, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
		solana.NewAccountMeta(solana.SPLAssociatedTokenAccountProgramID, false, false),
		solana.NewAccountMeta(p.ProgramAsSigner, false, false),
		solana.NewAccountMeta(solana.SysVarRentPubkey, false, false),
	}
	for _, creator := range p.Creators {
		recipient := creator.TokenAccount
		if native {
			recipient = creator.Address
		}
		accounts = append(accounts, solana.NewAccountMeta(recipient, true, false))
	}

	return solana.NewInstruction(programID, accounts, data), nil
}

func newPrintPurchaseReceiptInstruction(programID solana.PublicKey, p auctionhouse.PrintPurchaseReceiptParams) (solana.Instruction, error) {
	data, err := encodeInstructionData(printPurchaseReceiptDisc, printPurchaseReceiptArgs{PurchaseReceiptBump: p.Bump})
	if err != nil {
		return nil, fmt.Errorf("encode print_purchase_receipt args: %w", err)
	}

	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(p.PurchaseReceipt, true, false),
		solana.NewAccountMeta(p.ListingReceipt, true, false),
		solana.NewAccountMeta(p.BidReceipt, true, false),
		solana.NewAccountMeta(p.Bookkeeper, true, true),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
		solana.NewAccountMeta(solana.SysVarRentPubkey, false, false),
		solana.NewAccountMeta(solana.SysVarInstructionsPubkey, false, false),
	}
	return solana.NewInstruction(programID, accounts, data), nil
}

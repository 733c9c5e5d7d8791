package auctionhouse

import (
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/coldbell/auctionhouse/backend/internal/ledger"
)

// CreatorAccount pairs a creator listed in metadata with the account that
// receives its royalty. TokenAccount is ignored for native treasuries.
type CreatorAccount struct {
	Address      solana.PublicKey
	TokenAccount solana.PublicKey
}

type disbursement struct {
	tx           *ledger.Tx
	native       bool
	escrow       solana.PublicKey
	auctionHouse solana.PublicKey
	treasuryMint solana.PublicKey
	feePayer     solana.PublicKey
}

func (d disbursement) pay(to solana.PublicKey, amount uint64) error {
	if d.native {
		return d.tx.Transfer(d.escrow, to, amount)
	}
	return d.tx.TokenTransfer(d.escrow, to, d.auctionHouse, amount)
}

// payCreatorFees splits metadata.SellerFeeBasisPoints of size between the
// creators in list order and returns what is left for the seller, including
// any rounding dust.
func (d disbursement) payCreatorFees(metadata *Metadata, creators []CreatorAccount, size uint64) (uint64, []Payment, error) {
	totalFee, err := mulDivFloor(uint64(metadata.SellerFeeBasisPoints), size, maxBasisPoints)
	if err != nil {
		return 0, nil, err
	}
	remainingFee := totalFee
	remainingSize, err := checkedSub(size, totalFee)
	if err != nil {
		return 0, nil, err
	}

	payments := make([]Payment, 0, len(metadata.Creators))
	for i, creator := range metadata.Creators {
		creatorFee, err := mulDivFloor(uint64(creator.Share), totalFee, 100)
		if err != nil {
			return 0, nil, err
		}
		if remainingFee, err = checkedSub(remainingFee, creatorFee); err != nil {
			return 0, nil, err
		}
		if i >= len(creators) {
			return 0, nil, fmt.Errorf("creator %d of %d: %w", i+1, len(metadata.Creators), ErrNotEnoughAccounts)
		}
		if err := assertKeysEqual(creators[i].Address, creator.Address); err != nil {
			return 0, nil, err
		}

		recipient := creator.Address
		if !d.native {
			recipient = creators[i].TokenAccount
			if !d.tx.Load(recipient).HasData() {
				if _, err := d.tx.CreateAssociatedTokenAccount(d.feePayer, creator.Address, d.treasuryMint); err != nil {
					return 0, nil, err
				}
			}
			if _, err := assertIsATA(d.tx, recipient, creator.Address, d.treasuryMint); err != nil {
				return 0, nil, err
			}
		}
		if creatorFee == 0 {
			continue
		}
		if err := d.pay(recipient, creatorFee); err != nil {
			return 0, nil, fmt.Errorf("pay creator %s: %w", creator.Address, err)
		}
		payments = append(payments, Payment{Recipient: recipient, Amount: creatorFee})
	}

	leftover, err := checkedAdd(remainingSize, remainingFee)
	if err != nil {
		return 0, nil, err
	}
	return leftover, payments, nil
}

// payAuctionHouseFees moves the house cut of size into the treasury and returns it.
func (d disbursement) payAuctionHouseFees(house *AuctionHouse, size uint64) (uint64, error) {
	fee, err := mulDivFloor(uint64(house.SellerFeeBasisPoints), size, maxBasisPoints)
	if err != nil {
		return 0, err
	}
	if fee == 0 {
		return 0, nil
	}
	if err := d.pay(house.AuctionHouseTreasury, fee); err != nil {
		return 0, fmt.Errorf("pay auction house fee: %w", err)
	}
	return fee, nil
}

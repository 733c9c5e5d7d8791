package auctionhouse

import (
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/coldbell/auctionhouse/backend/internal/ledger"
	"github.com/coldbell/auctionhouse/backend/internal/pda"
)

const maxBasisPoints = 10_000

// HouseExpectations lists relational constraints checked against a loaded
// auction house. Nil fields are not checked.
type HouseExpectations struct {
	Authority    *solana.PublicKey
	TreasuryMint *solana.PublicKey
	FeeAccount   *solana.PublicKey
	Treasury     *solana.PublicKey
}

func expectKey(key solana.PublicKey) *solana.PublicKey {
	if key.IsZero() {
		return nil
	}
	return &key
}

// loadAuctionHouse decodes the record at address, re-derives the address from
// the stored creator and treasury mint, then checks every supplied constraint.
func loadAuctionHouse(tx *ledger.Tx, programID, address solana.PublicKey, expect HouseExpectations) (*AuctionHouse, error) {
	acct := tx.Load(address)
	if !acct.HasData() {
		return nil, fmt.Errorf("auction house %s: %w", address, ErrAccountNotFound)
	}
	if !acct.Owner.Equals(programID) {
		return nil, fmt.Errorf("auction house %s owned by %s: %w", address, acct.Owner, ErrIncorrectOwner)
	}
	var house AuctionHouse
	if err := UnmarshalAccount(acct.Data, &house); err != nil {
		return nil, fmt.Errorf("decode auction house %s: %w", address, err)
	}
	if err := assertDerivationWithBump(programID, address, pda.AuctionHouseSeeds(house.Creator, house.TreasuryMint), house.Bump); err != nil {
		return nil, err
	}

	checks := []struct {
		name     string
		expected *solana.PublicKey
		stored   solana.PublicKey
	}{
		{"authority", expect.Authority, house.Authority},
		{"treasury_mint", expect.TreasuryMint, house.TreasuryMint},
		{"auction_house_fee_account", expect.FeeAccount, house.AuctionHouseFeeAccount},
		{"auction_house_treasury", expect.Treasury, house.AuctionHouseTreasury},
	}
	for _, check := range checks {
		if check.expected != nil && !check.expected.Equals(check.stored) {
			return nil, fmt.Errorf("%s %s does not match auction house: %w", check.name, check.expected, ErrConstraintHasOne)
		}
	}
	if expect.FeeAccount != nil {
		if err := assertDerivationWithBump(programID, *expect.FeeAccount, pda.FeeAccountSeeds(address), house.FeePayerBump); err != nil {
			return nil, err
		}
	}
	if expect.Treasury != nil {
		if err := assertDerivationWithBump(programID, *expect.Treasury, pda.TreasurySeeds(address), house.TreasuryBump); err != nil {
			return nil, err
		}
	}
	return &house, nil
}

func storeAuctionHouse(tx *ledger.Tx, address solana.PublicKey, house *AuctionHouse) error {
	data, err := MarshalAccount(*house)
	if err != nil {
		return fmt.Errorf("encode auction house: %w", err)
	}
	return tx.WriteData(address, data)
}

// assertNotAuctioneerGated rejects a direct call when the operation was delegated to an auctioneer.
func assertNotAuctioneerGated(house *AuctionHouse, scope AuthorityScope) error {
	if house.HasAuctioneer && house.Scopes.Has(scope) {
		return fmt.Errorf("%s is delegated: %w", scope, ErrMustUseAuctioneerHandler)
	}
	return nil
}

// CreateAuctionHouse initializes a marketplace instance keyed by (authority, treasury mint).
type CreateAuctionHouseParams struct {
	TreasuryMint                       solana.PublicKey
	Payer                              solana.PublicKey
	Authority                          solana.PublicKey
	FeeWithdrawalDestination           solana.PublicKey
	TreasuryWithdrawalDestination      solana.PublicKey
	TreasuryWithdrawalDestinationOwner solana.PublicKey
	AuctionHouse                       solana.PublicKey
	AuctionHouseFeeAccount             solana.PublicKey
	AuctionHouseTreasury               solana.PublicKey
	Bump                               uint8
	FeePayerBump                       uint8
	TreasuryBump                       uint8
	SellerFeeBasisPoints               uint16
	RequiresSignOff                    bool
	CanChangeSalePrice                 bool
}

func (CreateAuctionHouseParams) Name() string { return "create_auction_house" }

func (p CreateAuctionHouseParams) process(inv *invocation) error {
	tx := inv.tx
	if err := assertSigner(inv.signers, p.Payer); err != nil {
		return err
	}
	if p.SellerFeeBasisPoints > maxBasisPoints {
		return ErrInvalidBasisPoints
	}
	if err := assertDerivationWithBump(inv.programID, p.AuctionHouse, pda.AuctionHouseSeeds(p.Authority, p.TreasuryMint), p.Bump); err != nil {
		return err
	}
	if err := assertDerivationWithBump(inv.programID, p.AuctionHouseFeeAccount, pda.FeeAccountSeeds(p.AuctionHouse), p.FeePayerBump); err != nil {
		return err
	}
	if err := assertDerivationWithBump(inv.programID, p.AuctionHouseTreasury, pda.TreasurySeeds(p.AuctionHouse), p.TreasuryBump); err != nil {
		return err
	}
	if tx.Load(p.AuctionHouse).HasData() {
		return fmt.Errorf("auction house %s: %w", p.AuctionHouse, ledger.ErrAccountInUse)
	}

	native := isNativeMint(p.TreasuryMint)
	if native {
		if err := assertKeysEqual(p.TreasuryWithdrawalDestination, p.TreasuryWithdrawalDestinationOwner); err != nil {
			return err
		}
	} else {
		if _, err := tx.MintAccount(p.TreasuryMint); err != nil {
			return fmt.Errorf("treasury mint: %w", err)
		}
		if !tx.Load(p.TreasuryWithdrawalDestination).HasData() {
			if _, err := tx.CreateAssociatedTokenAccount(p.Payer, p.TreasuryWithdrawalDestinationOwner, p.TreasuryMint); err != nil {
				return err
			}
		}
		if _, err := assertIsATA(tx, p.TreasuryWithdrawalDestination, p.TreasuryWithdrawalDestinationOwner, p.TreasuryMint); err != nil {
			return err
		}
		if !tx.Load(p.AuctionHouseTreasury).HasData() {
			if err := tx.CreateTokenAccount(p.Payer, p.AuctionHouseTreasury, p.TreasuryMint, p.AuctionHouse); err != nil {
				return err
			}
		}
	}

	if err := tx.CreateAccount(p.Payer, p.AuctionHouse, AuctionHouseSize, inv.programID); err != nil {
		return err
	}
	house := &AuctionHouse{
		AuctionHouseFeeAccount:        p.AuctionHouseFeeAccount,
		AuctionHouseTreasury:          p.AuctionHouseTreasury,
		TreasuryWithdrawalDestination: p.TreasuryWithdrawalDestination,
		FeeWithdrawalDestination:      p.FeeWithdrawalDestination,
		TreasuryMint:                  p.TreasuryMint,
		Authority:                     p.Authority,
		Creator:                       p.Authority,
		Bump:                          p.Bump,
		TreasuryBump:                  p.TreasuryBump,
		FeePayerBump:                  p.FeePayerBump,
		SellerFeeBasisPoints:          p.SellerFeeBasisPoints,
		RequiresSignOff:               p.RequiresSignOff,
		CanChangeSalePrice:            p.CanChangeSalePrice,
	}
	if err := storeAuctionHouse(tx, p.AuctionHouse, house); err != nil {
		return err
	}
	inv.emit(Event{Kind: EventAuctionHouseCreated, AuctionHouse: p.AuctionHouse, Wallet: p.Authority, Account: p.TreasuryMint})
	return nil
}

// UpdateAuctionHouseParams changes mutable configuration. Nil fields keep their value.
type UpdateAuctionHouseParams struct {
	AuctionHouse                       solana.PublicKey
	Authority                          solana.PublicKey
	TreasuryMint                       solana.PublicKey
	Payer                              solana.PublicKey
	NewAuthority                       *solana.PublicKey
	FeeWithdrawalDestination           *solana.PublicKey
	TreasuryWithdrawalDestination      *solana.PublicKey
	TreasuryWithdrawalDestinationOwner *solana.PublicKey
	SellerFeeBasisPoints               *uint16
	RequiresSignOff                    *bool
	CanChangeSalePrice                 *bool
}

func (UpdateAuctionHouseParams) Name() string { return "update_auction_house" }

func (p UpdateAuctionHouseParams) process(inv *invocation) error {
	tx := inv.tx
	house, err := loadAuctionHouse(tx, inv.programID, p.AuctionHouse, HouseExpectations{
		Authority:    &p.Authority,
		TreasuryMint: expectKey(p.TreasuryMint),
	})
	if err != nil {
		return err
	}
	if err := assertSigner(inv.signers, p.Authority); err != nil {
		return err
	}

	if p.SellerFeeBasisPoints != nil {
		if *p.SellerFeeBasisPoints > maxBasisPoints {
			return ErrInvalidBasisPoints
		}
		house.SellerFeeBasisPoints = *p.SellerFeeBasisPoints
	}
	if p.RequiresSignOff != nil {
		house.RequiresSignOff = *p.RequiresSignOff
	}
	if p.CanChangeSalePrice != nil {
		house.CanChangeSalePrice = *p.CanChangeSalePrice
	}
	if p.NewAuthority != nil {
		house.Authority = *p.NewAuthority
	}
	if p.FeeWithdrawalDestination != nil {
		house.FeeWithdrawalDestination = *p.FeeWithdrawalDestination
	}
	if p.TreasuryWithdrawalDestination != nil {
		destination := *p.TreasuryWithdrawalDestination
		owner := destination
		if p.TreasuryWithdrawalDestinationOwner != nil {
			owner = *p.TreasuryWithdrawalDestinationOwner
		}
		if house.IsNative() {
			if err := assertKeysEqual(destination, owner); err != nil {
				return err
			}
		} else {
			payer := p.Payer
			if payer.IsZero() {
				payer = p.Authority
			}
			if !tx.Load(destination).HasData() {
				if _, err := tx.CreateAssociatedTokenAccount(payer, owner, house.TreasuryMint); err != nil {
					return err
				}
			}
			if _, err := assertIsATA(tx, destination, owner, house.TreasuryMint); err != nil {
				return err
			}
		}
		house.TreasuryWithdrawalDestination = destination
	}

	if err := storeAuctionHouse(tx, p.AuctionHouse, house); err != nil {
		return err
	}
	inv.emit(Event{Kind: EventAuctionHouseUpdated, AuctionHouse: p.AuctionHouse, Wallet: house.Authority})
	return nil
}

// WithdrawFromFeeParams sweeps lamports from the fee account to the fee withdrawal destination.
type WithdrawFromFeeParams struct {
	AuctionHouse             solana.PublicKey
	Authority                solana.PublicKey
	FeeWithdrawalDestination solana.PublicKey
	AuctionHouseFeeAccount   solana.PublicKey
	Amount                   uint64
}

func (WithdrawFromFeeParams) Name() string { return "withdraw_from_fee" }

func (p WithdrawFromFeeParams) process(inv *invocation) error {
	house, err := loadAuctionHouse(inv.tx, inv.programID, p.AuctionHouse, HouseExpectations{
		Authority:  &p.Authority,
		FeeAccount: &p.AuctionHouseFeeAccount,
	})
	if err != nil {
		return err
	}
	if err := assertSigner(inv.signers, p.Authority); err != nil {
		return err
	}
	if err := assertKeysEqual(p.FeeWithdrawalDestination, house.FeeWithdrawalDestination); err != nil {
		return err
	}
	if err := inv.tx.Transfer(p.AuctionHouseFeeAccount, p.FeeWithdrawalDestination, p.Amount); err != nil {
		return err
	}
	inv.emit(Event{Kind: EventHouseWithdrawal, AuctionHouse: p.AuctionHouse, Wallet: p.Authority, Account: p.FeeWithdrawalDestination, Price: p.Amount})
	return nil
}

// WithdrawFromTreasuryParams sweeps collected fees to the treasury withdrawal destination.
type WithdrawFromTreasuryParams struct {
	AuctionHouse                  solana.PublicKey
	Authority                     solana.PublicKey
	TreasuryMint                  solana.PublicKey
	TreasuryWithdrawalDestination solana.PublicKey
	AuctionHouseTreasury          solana.PublicKey
	Amount                        uint64
}

func (WithdrawFromTreasuryParams) Name() string { return "withdraw_from_treasury" }

func (p WithdrawFromTreasuryParams) process(inv *invocation) error {
	house, err := loadAuctionHouse(inv.tx, inv.programID, p.AuctionHouse, HouseExpectations{
		Authority:    &p.Authority,
		TreasuryMint: &p.TreasuryMint,
		Treasury:     &p.AuctionHouseTreasury,
	})
	if err != nil {
		return err
	}
	if err := assertSigner(inv.signers, p.Authority); err != nil {
		return err
	}
	if err := assertKeysEqual(p.TreasuryWithdrawalDestination, house.TreasuryWithdrawalDestination); err != nil {
		return err
	}
	if house.IsNative() {
		err = inv.tx.Transfer(p.AuctionHouseTreasury, p.TreasuryWithdrawalDestination, p.Amount)
	} else {
		err = inv.tx.TokenTransfer(p.AuctionHouseTreasury, p.TreasuryWithdrawalDestination, p.AuctionHouse, p.Amount)
	}
	if err != nil {
		return err
	}
	inv.emit(Event{Kind: EventHouseWithdrawal, AuctionHouse: p.AuctionHouse, Wallet: p.Authority, Account: p.TreasuryWithdrawalDestination, Price: p.Amount})
	return nil
}

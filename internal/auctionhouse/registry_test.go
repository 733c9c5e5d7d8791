package auctionhouse

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"github.com/coldbell/auctionhouse/backend/internal/ledger"
	"github.com/coldbell/auctionhouse/backend/internal/pda"
)

func (f *fixture) createParams(authority solana.PublicKey, bps uint16) CreateAuctionHouseParams {
	f.t.Helper()
	programID := f.engine.ProgramID()
	house, bump, err := pda.DeriveAuctionHousePDA(programID, authority, solana.SolMint)
	require.NoError(f.t, err)
	feeAccount, feeBump, err := pda.DeriveFeeAccountPDA(programID, house)
	require.NoError(f.t, err)
	treasury, treasuryBump, err := pda.DeriveTreasuryPDA(programID, house)
	require.NoError(f.t, err)
	return CreateAuctionHouseParams{
		TreasuryMint:                       solana.SolMint,
		Payer:                              authority,
		Authority:                          authority,
		FeeWithdrawalDestination:           authority,
		TreasuryWithdrawalDestination:      authority,
		TreasuryWithdrawalDestinationOwner: authority,
		AuctionHouse:                       house,
		AuctionHouseFeeAccount:             feeAccount,
		AuctionHouseTreasury:               treasury,
		Bump:                               bump,
		FeePayerBump:                       feeBump,
		TreasuryBump:                       treasuryBump,
		SellerFeeBasisPoints:               bps,
	}
}

func TestCreateAuctionHouse(t *testing.T) {
	f := newFixture(t, fixtureOptions{houseFeeBps: 200, requiresSignOff: true})

	house, err := f.engine.LoadAuctionHouse(f.house)
	require.NoError(t, err)
	require.Equal(t, f.authority, house.Authority)
	require.Equal(t, f.authority, house.Creator)
	require.Equal(t, f.feeAccount, house.AuctionHouseFeeAccount)
	require.Equal(t, f.treasury, house.AuctionHouseTreasury)
	require.Equal(t, uint16(200), house.SellerFeeBasisPoints)
	require.True(t, house.RequiresSignOff)
	require.False(t, house.CanChangeSalePrice)
	require.True(t, house.IsNative())

	t.Run("twice", func(t *testing.T) {
		_, err := f.execute(Signers{f.authority}, f.createParams(f.authority, 200))
		require.ErrorIs(t, err, ledger.ErrAccountInUse)
	})

	t.Run("basis points above 100%", func(t *testing.T) {
		other := newKey()
		f.fund(other)
		params := f.createParams(other, 10_001)
		_, err := f.execute(Signers{other}, params)
		require.ErrorIs(t, err, ErrInvalidBasisPoints)
		_, ok := f.bank.Account(params.AuctionHouse)
		require.False(t, ok)
	})

	t.Run("payer must sign", func(t *testing.T) {
		other := newKey()
		f.fund(other)
		_, err := f.execute(Signers{}, f.createParams(other, 100))
		require.ErrorIs(t, err, ErrConstraintSigner)
	})
}

func TestUpdateAuctionHouse(t *testing.T) {
	f := newFixture(t, fixtureOptions{houseFeeBps: 200})
	bps := uint16(450)
	on := true
	update := UpdateAuctionHouseParams{
		AuctionHouse:         f.house,
		Authority:            f.authority,
		TreasuryMint:         f.treasuryMint,
		Payer:                f.authority,
		SellerFeeBasisPoints: &bps,
		CanChangeSalePrice:   &on,
	}

	_, err := f.execute(Signers{}, update)
	require.ErrorIs(t, err, ErrConstraintSigner)

	f.mustExecute(Signers{f.authority}, update)
	house, err := f.engine.LoadAuctionHouse(f.house)
	require.NoError(t, err)
	require.Equal(t, uint16(450), house.SellerFeeBasisPoints)
	require.True(t, house.CanChangeSalePrice)
	require.False(t, house.RequiresSignOff)

	tooHigh := uint16(10_001)
	_, err = f.execute(Signers{f.authority}, UpdateAuctionHouseParams{
		AuctionHouse:         f.house,
		Authority:            f.authority,
		TreasuryMint:         f.treasuryMint,
		SellerFeeBasisPoints: &tooHigh,
	})
	require.ErrorIs(t, err, ErrInvalidBasisPoints)

	successor := newKey()
	f.mustExecute(Signers{f.authority}, UpdateAuctionHouseParams{
		AuctionHouse: f.house,
		Authority:    f.authority,
		TreasuryMint: f.treasuryMint,
		NewAuthority: &successor,
	})
	house, err = f.engine.LoadAuctionHouse(f.house)
	require.NoError(t, err)
	require.Equal(t, successor, house.Authority)
	require.Equal(t, f.authority, house.Creator)

	_, err = f.execute(Signers{f.authority}, update)
	require.ErrorIs(t, err, ErrConstraintHasOne)
}

func TestWithdrawFromFee(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	feeBefore, authorityBefore := f.lamports(f.feeAccount), f.lamports(f.authority)

	withdraw := WithdrawFromFeeParams{
		AuctionHouse:             f.house,
		Authority:                f.authority,
		FeeWithdrawalDestination: f.authority,
		AuctionHouseFeeAccount:   f.feeAccount,
		Amount:                   solana.LAMPORTS_PER_SOL,
	}
	result := f.mustExecute(Signers{f.authority}, withdraw)
	require.Equal(t, feeBefore-solana.LAMPORTS_PER_SOL, f.lamports(f.feeAccount))
	require.Equal(t, authorityBefore+solana.LAMPORTS_PER_SOL, f.lamports(f.authority))
	require.Len(t, result.Events, 1)
	require.Equal(t, EventHouseWithdrawal, result.Events[0].Kind)

	stranger := withdraw
	stranger.FeeWithdrawalDestination = newKey()
	_, err := f.execute(Signers{f.authority}, stranger)
	require.ErrorIs(t, err, ErrPublicKeyMismatch)

	tooMuch := withdraw
	tooMuch.Amount = f.lamports(f.feeAccount) + 1
	_, err = f.execute(Signers{f.authority}, tooMuch)
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	require.Equal(t, feeBefore-solana.LAMPORTS_PER_SOL, f.lamports(f.feeAccount))
}

func TestWithdrawFromTreasury(t *testing.T) {
	t.Run("native", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{})
		f.seed(func(tx *ledger.Tx) error {
			return tx.Airdrop(f.treasury, solana.LAMPORTS_PER_SOL)
		})
		authorityBefore := f.lamports(f.authority)

		withdraw := WithdrawFromTreasuryParams{
			AuctionHouse:                  f.house,
			Authority:                     f.authority,
			TreasuryMint:                  f.treasuryMint,
			TreasuryWithdrawalDestination: f.authority,
			AuctionHouseTreasury:          f.treasury,
			Amount:                        400_000_000,
		}
		_, err := f.execute(Signers{}, withdraw)
		require.ErrorIs(t, err, ErrConstraintSigner)

		f.mustExecute(Signers{f.authority}, withdraw)
		require.Equal(t, uint64(600_000_000), f.lamports(f.treasury))
		require.Equal(t, authorityBefore+400_000_000, f.lamports(f.authority))
	})

	t.Run("spl", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{splTreasury: true})
		f.seed(func(tx *ledger.Tx) error {
			return tx.MintTo(f.treasuryMint, f.treasury, 500)
		})
		destination := f.ata(f.authority, f.treasuryMint)

		f.mustExecute(Signers{f.authority}, WithdrawFromTreasuryParams{
			AuctionHouse:                  f.house,
			Authority:                     f.authority,
			TreasuryMint:                  f.treasuryMint,
			TreasuryWithdrawalDestination: destination,
			AuctionHouseTreasury:          f.treasury,
			Amount:                        200,
		})
		require.Equal(t, uint64(300), f.tokenAmount(f.treasury))
		require.Equal(t, uint64(200), f.tokenAmount(destination))
	})
}

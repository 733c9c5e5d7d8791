package auctionhouse

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"github.com/coldbell/auctionhouse/backend/internal/ledger"
)

func TestDepositIsIdempotentForSameTarget(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	escrow, _ := f.escrow(f.buyer)
	rent := f.rentMinimum(0)

	f.mustExecute(Signers{f.buyer}, f.depositParams(1_000))
	require.Equal(t, rent+1_000, f.lamports(escrow))
	require.Equal(t, startingBalance-rent-1_000, f.lamports(f.buyer))

	f.mustExecute(Signers{f.buyer}, f.depositParams(1_000))
	require.Equal(t, rent+1_000, f.lamports(escrow))
	require.Equal(t, startingBalance-rent-1_000, f.lamports(f.buyer))

	f.mustExecute(Signers{f.buyer}, f.depositParams(1_500))
	require.Equal(t, rent+1_500, f.lamports(escrow))
}

func TestDepositRequiresWalletSignature(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	_, err := f.execute(Signers{f.authority}, f.depositParams(1_000))
	require.ErrorIs(t, err, ErrConstraintSigner)
}

func TestDepositByAuthorityChargesFeeAccountForEscrowRent(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	escrow, _ := f.escrow(f.buyer)

	f.mustExecute(Signers{f.buyer, f.authority}, f.depositParams(1_000))
	require.Equal(t, startingBalance-f.rentMinimum(0), f.lamports(f.feeAccount))
	require.Equal(t, startingBalance-1_000, f.lamports(f.buyer))
	require.Equal(t, f.rentMinimum(0)+1_000, f.lamports(escrow))
}

func TestDepositWithoutSignOffIsRejected(t *testing.T) {
	f := newFixture(t, fixtureOptions{requiresSignOff: true})

	_, err := f.execute(Signers{f.buyer}, f.depositParams(1_000))
	require.ErrorIs(t, err, ErrCannotTakeActionWithoutSignOff)
}

func TestWithdrawKeepsEscrowRentExempt(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	escrow, _ := f.escrow(f.buyer)
	rent := f.rentMinimum(0)

	f.mustExecute(Signers{f.buyer}, f.depositParams(1_000))
	result := f.mustExecute(Signers{f.buyer}, f.withdrawParams(5_000))

	require.Equal(t, rent, f.lamports(escrow))
	require.Equal(t, startingBalance-rent, f.lamports(f.buyer))
	require.Len(t, result.Events, 1)
	require.Equal(t, EventWithdraw, result.Events[0].Kind)
	require.Equal(t, uint64(1_000), result.Events[0].Price)
}

func TestWithdrawMoreThanBalanceOverflows(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	f.mustExecute(Signers{f.buyer}, f.depositParams(1_000))
	_, err := f.execute(Signers{f.buyer}, f.withdrawParams(10*solana.LAMPORTS_PER_SOL))
	require.ErrorIs(t, err, ErrNumericalOverflow)
}

func TestTokenEscrowDepositAndWithdraw(t *testing.T) {
	f := newFixture(t, fixtureOptions{splTreasury: true})
	escrow, _ := f.escrow(f.buyer)

	f.mustExecute(Signers{f.buyer}, f.depositParams(400))
	f.mustExecute(Signers{f.buyer}, f.depositParams(400))
	escrowAccount := f.tokenAccount(escrow)
	require.Equal(t, uint64(400), escrowAccount.Token.Amount)
	require.Equal(t, f.house, escrowAccount.Token.Owner)
	require.Equal(t, uint64(999_600), f.tokenAmount(f.buyerPayment))

	f.mustExecute(Signers{f.buyer}, f.withdrawParams(150))
	require.Equal(t, uint64(250), f.tokenAmount(escrow))
	require.Equal(t, uint64(999_750), f.tokenAmount(f.buyerPayment))
}

func TestRentCheckedSubClampsToSpendableBalance(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	escrow := newKey()
	rent := f.rentMinimum(0)

	f.seed(func(tx *ledger.Tx) error {
		if err := tx.Airdrop(escrow, rent+700); err != nil {
			return err
		}
		amount, err := rentCheckedSub(tx, escrow, 500)
		require.NoError(t, err)
		require.Equal(t, uint64(500), amount)

		amount, err = rentCheckedSub(tx, escrow, 900)
		require.NoError(t, err)
		require.Equal(t, uint64(700), amount)

		_, err = rentCheckedSub(tx, escrow, rent+701)
		require.ErrorIs(t, err, ErrNumericalOverflow)
		return nil
	})
}

func TestVerifyWithdrawalReportsShortfallBoundedByRent(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	escrow := newKey()
	rent := f.rentMinimum(0)

	f.seed(func(tx *ledger.Tx) error {
		if err := tx.Airdrop(escrow, 1_000); err != nil {
			return err
		}
		shortfall, err := verifyWithdrawal(tx, escrow, 1_000)
		require.NoError(t, err)
		require.Equal(t, rent, shortfall)

		shortfall, err = verifyWithdrawal(tx, escrow, 400)
		require.NoError(t, err)
		require.Equal(t, rent-600, shortfall)
		return nil
	})
}

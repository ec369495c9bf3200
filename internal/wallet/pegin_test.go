package wallet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fedivault/guardian/internal/db"
	"github.com/fedivault/guardian/internal/types"
)

func TestFirstDepositClaim(t *testing.T) {
	wallets, dm, _ := testFederation(t)
	seedFeerateConsensus(t, wallets)
	dbtx := dm.GetWalletDB()

	tweak := seedDeposit(t, wallets[0], 0, 100_000)

	meta, err := wallets[0].ProcessInput(dbtx, types.WalletInput{
		DepositIndex: 0,
		Tweak:        tweak,
		Fee:          210,
	})
	require.NoError(t, err)

	// the client is credited the deposit net of the on-chain fee
	assert.Equal(t, types.AmountFromSats(100_000-210), meta.Amount)
	assert.Equal(t, types.AmountFromSats(100), meta.Fee)

	wallet, err := federationWallet(dbtx)
	require.NoError(t, err)
	require.NotNil(t, wallet)
	assert.Equal(t, uint64(100_000-210), wallet.Value)
	assert.Equal(t, uint32(0), wallet.Vout)

	var info db.TxInfo
	require.NoError(t, dbtx.First(&info, "idx = ?", 0).Error)
	assert.Equal(t, uint64(0), info.Input)
	assert.Equal(t, uint64(99_790), info.Output)
	assert.Equal(t, uint64(210), info.Fee)
	assert.Equal(t, wallet.Txid, info.Txid)

	var unsigned db.UnsignedTx
	require.NoError(t, dbtx.First(&unsigned, "txid = ?", wallet.Txid).Error)
}

func TestConsolidatingDepositClaim(t *testing.T) {
	wallets, dm, _ := testFederation(t)
	seedFeerateConsensus(t, wallets)
	dbtx := dm.GetWalletDB()

	first := claimDeposit(t, wallets[0], 0, 100_000, 210)

	// the claim transaction is pending, doubling the minimum feerate
	receiveFee, err := wallets[0].ReceiveFee(dbtx)
	require.NoError(t, err)

	tweak := seedDeposit(t, wallets[0], 1, 50_000)
	meta, err := wallets[0].ProcessInput(dbtx, types.WalletInput{
		DepositIndex: 1,
		Tweak:        tweak,
		Fee:          receiveFee,
	})
	require.NoError(t, err)

	wallet, err := federationWallet(dbtx)
	require.NoError(t, err)
	require.NotNil(t, wallet)

	// conservation: new custody value is exactly old + deposit - fee
	assert.Equal(t, first.Value+50_000-receiveFee, wallet.Value)

	// solvency: the credited amount equals the custody gain
	assert.Equal(t, types.AmountFromSats(wallet.Value-first.Value), meta.Amount)
	assert.NotEqual(t, first.Txid, wallet.Txid)
	assert.NotEqual(t, first.Tweak, wallet.Tweak)

	var info db.TxInfo
	require.NoError(t, dbtx.First(&info, "idx = ?", 1).Error)
	assert.Equal(t, first.Value, info.Input)
	assert.Equal(t, wallet.Value, info.Output)
}

func TestClaimFeeExceedingDepositRejected(t *testing.T) {
	wallets, dm, _ := testFederation(t)
	seedFeerateConsensus(t, wallets)
	dbtx := dm.GetWalletDB()

	claimDeposit(t, wallets[0], 0, 1_000_000, 210)

	receiveFee, err := wallets[0].ReceiveFee(dbtx)
	require.NoError(t, err)

	// custody could cover the shortfall, but the depositor cannot be
	// credited a negative amount
	tweak := seedDeposit(t, wallets[0], 1, receiveFee-1)
	_, err = wallets[0].ProcessInput(dbtx, types.WalletInput{
		DepositIndex: 1,
		Tweak:        tweak,
		Fee:          receiveFee,
	})
	assert.ErrorIs(t, err, types.ErrArithmeticOverflow)
}

func TestDepositDoubleSpendRejected(t *testing.T) {
	wallets, dm, _ := testFederation(t)
	seedFeerateConsensus(t, wallets)
	dbtx := dm.GetWalletDB()

	tweak := seedDeposit(t, wallets[0], 0, 100_000)

	input := types.WalletInput{DepositIndex: 0, Tweak: tweak, Fee: 210}

	_, err := wallets[0].ProcessInput(dbtx, input)
	require.NoError(t, err)

	_, err = wallets[0].ProcessInput(dbtx, input)
	assert.ErrorIs(t, err, types.ErrDepositAlreadySpent)
}

func TestClaimRejections(t *testing.T) {
	wallets, dm, _ := testFederation(t)
	seedFeerateConsensus(t, wallets)
	dbtx := dm.GetWalletDB()

	tweak := seedDeposit(t, wallets[0], 0, 100_000)

	_, err := wallets[0].ProcessInput(dbtx, types.WalletInput{
		Version:      1,
		DepositIndex: 0,
		Tweak:        tweak,
		Fee:          210,
	})
	assert.ErrorIs(t, err, types.ErrUnknownInputVariant)

	_, err = wallets[0].ProcessInput(dbtx, types.WalletInput{
		DepositIndex: 7,
		Tweak:        tweak,
		Fee:          210,
	})
	assert.ErrorIs(t, err, types.ErrUnknownDepositIndex)

	wrongTweak := make([]byte, 32)
	_, err = wallets[0].ProcessInput(dbtx, types.WalletInput{
		DepositIndex: 0,
		Tweak:        wrongTweak,
		Fee:          210,
	})
	assert.ErrorIs(t, err, types.ErrWrongTweak)

	_, err = wallets[0].ProcessInput(dbtx, types.WalletInput{
		DepositIndex: 0,
		Tweak:        tweak,
		Fee:          50,
	})
	assert.ErrorIs(t, err, types.ErrInsufficientTotalFee)

	// a fee exceeding the deposit underflows the change
	_, err = wallets[0].ProcessInput(dbtx, types.WalletInput{
		DepositIndex: 0,
		Tweak:        tweak,
		Fee:          200_000,
	})
	assert.ErrorIs(t, err, types.ErrArithmeticOverflow)

	// none of the rejections may have consumed the deposit
	_, err = wallets[0].ProcessInput(dbtx, types.WalletInput{
		DepositIndex: 0,
		Tweak:        tweak,
		Fee:          210,
	})
	assert.NoError(t, err)
}

func TestClaimWithoutFeerateConsensus(t *testing.T) {
	wallets, dm, _ := testFederation(t)
	dbtx := dm.GetWalletDB()

	tweak := seedDeposit(t, wallets[0], 0, 100_000)

	_, err := wallets[0].ProcessInput(dbtx, types.WalletInput{
		DepositIndex: 0,
		Tweak:        tweak,
		Fee:          210,
	})
	assert.ErrorIs(t, err, types.ErrNoConsensusFeerate)
}

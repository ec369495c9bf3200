package wallet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fedivault/guardian/internal/db"
)

func TestConsensusFeeWithoutBacklog(t *testing.T) {
	wallets, dm, _ := testFederation(t)
	seedFeerateConsensus(t, wallets)

	fee, err := wallets[0].consensusFee(dm.GetWalletDB(), 228)
	require.NoError(t, err)
	assert.Equal(t, uint64(228), fee)
}

func TestConsensusFeeDoublesPerPendingTransaction(t *testing.T) {
	wallets, dm, _ := testFederation(t)
	seedFeerateConsensus(t, wallets)
	dbtx := dm.GetWalletDB()

	// two pending transactions that already paid their own share
	for i, pending := range []db.UnsignedTx{
		{Txid: "aa", VBytes: 100, Fee: 400},
		{Txid: "bb", VBytes: 100, Fee: 400},
	} {
		pending.RawTx = []byte{byte(i)}
		pending.SpentTxOuts = []byte("[]")
		require.NoError(t, dbtx.Create(&pending).Error)
	}

	// min feerate 1000 doubled twice is 4000 sats per kvb
	fee, err := wallets[0].consensusFee(dbtx, 228)
	require.NoError(t, err)

	// per-tx fee would be 912, but the whole chain of 428 vbytes must reach
	// the boosted feerate and only 800 sats have been paid so far
	assert.Equal(t, uint64(428*4-800), fee)
}

func TestConsensusFeeUsesConsensusFeerateWhenHigher(t *testing.T) {
	wallets, dm, _ := testFederation(t)
	dbtx := dm.GetWalletDB()

	rate := uint64(50_000)
	for peer := uint32(0); peer < 3; peer++ {
		vote := rate
		require.NoError(t, dbtx.Create(&db.FeeRateVote{Peer: peer, Rate: &vote}).Error)
	}

	fee, err := wallets[0].consensusFee(dbtx, 228)
	require.NoError(t, err)
	assert.Equal(t, uint64(228*50), fee)
}

func TestFeeForVBytesRoundsDown(t *testing.T) {
	assert.Equal(t, uint64(0), feeForVBytes(1, 999))
	assert.Equal(t, uint64(1), feeForVBytes(1, 1000))
	assert.Equal(t, uint64(1), feeForVBytes(1, 1999))
	assert.Equal(t, uint64(228), feeForVBytes(228, 1000))
}

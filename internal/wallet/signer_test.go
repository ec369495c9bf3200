package wallet

import (
	"testing"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fedivault/guardian/internal/btc"
	"github.com/fedivault/guardian/internal/db"
	"github.com/fedivault/guardian/internal/types"
)

// signatureItems has every guardian sign the pending unsigned transactions,
// returning one Signatures item per guardian.
func signatureItems(t *testing.T, wallets []*Wallet) []types.WalletConsensusItem {
	t.Helper()

	items := make([]types.WalletConsensusItem, len(wallets))
	for i, w := range wallets {
		proposals, err := w.signatureProposals(w.dm.GetWalletDB())
		require.NoError(t, err)
		require.Len(t, proposals, 1)
		items[i] = proposals[0]
	}

	return items
}

func TestThresholdSigning(t *testing.T) {
	wallets, dm, client := testFederation(t)
	seedFeerateConsensus(t, wallets)
	dbtx := dm.GetWalletDB()

	custody := claimDeposit(t, wallets[0], 0, 1_000_000, 210)
	items := signatureItems(t, wallets)

	// two signature sets are below the threshold
	require.NoError(t, wallets[0].processSignatures(dbtx, 0, items[0]))
	require.NoError(t, wallets[0].processSignatures(dbtx, 1, items[1]))

	var unsignedCount int64
	require.NoError(t, dbtx.Model(&db.UnsignedTx{}).Count(&unsignedCount).Error)
	assert.Equal(t, int64(1), unsignedCount)

	// the third one finalizes and broadcasts
	require.NoError(t, wallets[0].processSignatures(dbtx, 2, items[2]))

	require.NoError(t, dbtx.Model(&db.UnsignedTx{}).Count(&unsignedCount).Error)
	assert.Equal(t, int64(0), unsignedCount)

	var signatureCount int64
	require.NoError(t, dbtx.Model(&db.TxSignature{}).Count(&signatureCount).Error)
	assert.Equal(t, int64(0), signatureCount)

	var unconfirmed db.UnconfirmedTx
	require.NoError(t, dbtx.First(&unconfirmed, "txid = ?", custody.Txid).Error)
	assert.Equal(t, []string{custody.Txid}, client.submitted)

	// the assembled witness must satisfy the multisig script
	tx, err := btc.DeserializeTransaction(unconfirmed.RawTx)
	require.NoError(t, err)

	spentTxOuts, err := decodeSpentTxOuts(unconfirmed.SpentTxOuts)
	require.NoError(t, err)

	prevOuts := make(map[wire.OutPoint]*wire.TxOut)
	for i, in := range tx.TxIn {
		script, err := wallets[0].custodyScriptPubKey(spentTxOuts[i].Tweak)
		require.NoError(t, err)
		prevOuts[in.PreviousOutPoint] = wire.NewTxOut(int64(spentTxOuts[i].Value), script)
	}

	fetcher := txscript.NewMultiPrevOutFetcher(prevOuts)
	hashCache := txscript.NewTxSigHashes(tx, fetcher)

	for i, in := range tx.TxIn {
		prevOut := prevOuts[in.PreviousOutPoint]
		vm, err := txscript.NewEngine(prevOut.PkScript, tx, i, txscript.StandardVerifyFlags, nil, hashCache, prevOut.Value, fetcher)
		require.NoError(t, err)
		require.NoError(t, vm.Execute())
	}
}

func TestLateSignatureIsRejected(t *testing.T) {
	wallets, dm, _ := testFederation(t)
	seedFeerateConsensus(t, wallets)
	dbtx := dm.GetWalletDB()

	claimDeposit(t, wallets[0], 0, 1_000_000, 210)
	items := signatureItems(t, wallets)

	for peer := 0; peer < 3; peer++ {
		require.NoError(t, wallets[0].processSignatures(dbtx, types.PeerID(peer), items[peer]))
	}

	// the transaction left the unsigned set when the threshold was reached
	err := wallets[0].processSignatures(dbtx, 3, items[3])
	assert.Error(t, err)
}

func TestDuplicateSignatureIsRejected(t *testing.T) {
	wallets, dm, _ := testFederation(t)
	seedFeerateConsensus(t, wallets)
	dbtx := dm.GetWalletDB()

	claimDeposit(t, wallets[0], 0, 1_000_000, 210)
	items := signatureItems(t, wallets)

	require.NoError(t, wallets[0].processSignatures(dbtx, 0, items[0]))
	assert.Error(t, wallets[0].processSignatures(dbtx, 0, items[0]))
}

func TestForeignSignatureIsRejected(t *testing.T) {
	wallets, dm, _ := testFederation(t)
	seedFeerateConsensus(t, wallets)
	dbtx := dm.GetWalletDB()

	claimDeposit(t, wallets[0], 0, 1_000_000, 210)
	items := signatureItems(t, wallets)

	// peer 1 submitting peer 0's signatures must not verify
	err := wallets[0].processSignatures(dbtx, 1, items[0])
	assert.Error(t, err)

	var signatureCount int64
	require.NoError(t, dbtx.Model(&db.TxSignature{}).Count(&signatureCount).Error)
	assert.Equal(t, int64(0), signatureCount)
}

func TestSignatureCountMismatchIsRejected(t *testing.T) {
	wallets, dm, _ := testFederation(t)
	seedFeerateConsensus(t, wallets)
	dbtx := dm.GetWalletDB()

	claimDeposit(t, wallets[0], 0, 1_000_000, 210)
	items := signatureItems(t, wallets)

	item := items[0]
	item.Signatures = append(item.Signatures, item.Signatures[0])

	assert.Error(t, wallets[0].processSignatures(dbtx, 0, item))
}

func TestSignatureProposalsAreIdempotent(t *testing.T) {
	wallets, dm, _ := testFederation(t)
	seedFeerateConsensus(t, wallets)
	dbtx := dm.GetWalletDB()

	claimDeposit(t, wallets[0], 0, 1_000_000, 210)
	items := signatureItems(t, wallets)

	require.NoError(t, wallets[0].processSignatures(dbtx, 0, items[0]))

	// once its signatures are on file the guardian proposes nothing new
	proposals, err := wallets[0].signatureProposals(dbtx)
	require.NoError(t, err)
	assert.Empty(t, proposals)
}

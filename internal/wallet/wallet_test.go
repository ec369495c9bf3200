package wallet

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/fedivault/guardian/internal/db"
	"github.com/fedivault/guardian/internal/multisig"
	"github.com/fedivault/guardian/internal/types"
)

type fakeBitcoinClient struct {
	mu        sync.Mutex
	height    uint64
	blocks    map[uint64]*wire.MsgBlock
	submitted []string
}

func (f *fakeBitcoinClient) GetBlockCount() (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.height, nil
}

func (f *fakeBitcoinClient) GetBlock(height uint64) (*wire.MsgBlock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	block, ok := f.blocks[height]
	if !ok {
		return nil, fmt.Errorf("no block at height %d", height)
	}
	return block, nil
}

func (f *fakeBitcoinClient) SubmitTransaction(tx *wire.MsgTx) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.submitted = append(f.submitted, tx.TxHash().String())
	return nil
}

type fakeFeeFetcher struct {
	rate uint64
	fail bool
}

func (f *fakeFeeFetcher) GetFeeRateSatsPerKVB() (uint64, error) {
	if f.fail {
		return 0, errors.New("backend down")
	}
	return f.rate, nil
}

// testFederation builds four wallet modules sharing one database, the way
// four guardians each hold an identical replicated copy.
func testFederation(t *testing.T) ([]*Wallet, *db.DatabaseManager, *fakeBitcoinClient) {
	t.Helper()

	dm := db.NewDatabaseManagerAt(t.TempDir())
	client := &fakeBitcoinClient{height: 1000, blocks: map[uint64]*wire.MsgBlock{}}

	sks := make([]*btcec.PrivateKey, 4)
	pks := make([]*btcec.PublicKey, 4)
	for i := range sks {
		seed := sha256.Sum256([]byte{byte(i)})
		sks[i], pks[i] = btcec.PrivKeyFromBytes(seed[:])
	}

	wallets := make([]*Wallet, 4)
	for i := range wallets {
		params := Params{
			PeerID:             types.PeerID(i),
			PubKeys:            pks,
			PrivateKey:         sks[i],
			Network:            &chaincfg.RegressionNetParams,
			DustLimit:          10_000,
			MinFeerate:         1000,
			FeePartsPerMillion: 0,
			PollInterval:       10 * time.Millisecond,
			BroadcastInterval:  time.Minute,
		}
		wallets[i] = NewWallet(params, dm, client, &fakeFeeFetcher{rate: 1000})
	}

	return wallets, dm, client
}

// seedFeerateConsensus gives three guardians a live feerate vote of 1000
// sats per kvb so fee computation has a consensus feerate to work with.
func seedFeerateConsensus(t *testing.T, wallets []*Wallet) {
	t.Helper()

	dbtx := wallets[0].dm.GetWalletDB()
	rate := uint64(1000)
	for peer := 0; peer < 3; peer++ {
		require.NoError(t, wallets[0].processFeerateVote(dbtx, types.PeerID(peer), &rate))
	}
}

// seedDeposit records a deposit the way block scanning would, locked to a
// custody script derived from the returned tweak.
func seedDeposit(t *testing.T, w *Wallet, idx uint64, value uint64) []byte {
	t.Helper()

	tweak := sha256.Sum256([]byte(fmt.Sprintf("deposit %d", idx)))
	script, err := w.custodyScriptPubKey(tweak[:])
	require.NoError(t, err)

	txidBytes := sha256.Sum256([]byte(fmt.Sprintf("deposit tx %d", idx)))

	require.NoError(t, w.dm.GetWalletDB().Create(&db.Deposit{
		Idx:      idx,
		Txid:     hex.EncodeToString(txidBytes[:]),
		Vout:     0,
		Value:    value,
		PkScript: script,
	}).Error)

	return tweak[:]
}

// claimDeposit runs the full peg-in for a fresh deposit, overpaying the
// consensus fee slightly the way a client would.
func claimDeposit(t *testing.T, w *Wallet, idx uint64, value uint64, fee uint64) *db.FederationWallet {
	t.Helper()

	tweak := seedDeposit(t, w, idx, value)

	_, err := w.ProcessInput(w.dm.GetWalletDB(), types.WalletInput{
		DepositIndex: idx,
		Tweak:        tweak,
		Fee:          fee,
	})
	require.NoError(t, err)

	wallet, err := federationWallet(w.dm.GetWalletDB())
	require.NoError(t, err)
	require.NotNil(t, wallet)

	return wallet
}

func TestThresholdOfFour(t *testing.T) {
	require.Equal(t, 3, types.Threshold(4))
	require.Equal(t, uint64(228), multisig.SendTxVBytes(4))
}

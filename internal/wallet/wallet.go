// Package wallet implements the federation's custody of on-chain bitcoin: a
// rotating-key threshold multisig wallet whose state is replicated across all
// guardians and mutated exclusively by consensus-ordered callbacks.
package wallet

import (
	"context"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	log "github.com/sirupsen/logrus"

	"github.com/fedivault/guardian/internal/btc"
	"github.com/fedivault/guardian/internal/config"
	"github.com/fedivault/guardian/internal/db"
	"github.com/fedivault/guardian/internal/multisig"
	"github.com/fedivault/guardian/internal/types"
)

const (
	// ConfirmationFinalityDelay is the number of confirmations a guardian
	// requires locally before treating a block's contents as safe to act on.
	ConfirmationFinalityDelay = 6

	// MaxBlockCountIncrement caps how far a single block count vote may run
	// ahead of the current consensus, bounding per-item chain scan work.
	MaxBlockCountIncrement = 5

	// maxPendingTransactions bounds the fee doubling ladder. Reaching it
	// indicates a deployment bug or a broken fee market, not adversarial
	// input, and is treated as unrecoverable.
	maxPendingTransactions = 32
)

// rbfSequence opts every custody input into replace-by-fee.
const rbfSequence = wire.MaxTxInSequenceNum - 2

// BitcoinClient is the guardian's view of its trusted bitcoin backend.
// Implemented by btc.BTCRPCService; replaced by a fake in tests.
type BitcoinClient interface {
	GetBlockCount() (uint64, error)
	GetBlock(height uint64) (*wire.MsgBlock, error)
	SubmitTransaction(tx *wire.MsgTx) error
}

var _ BitcoinClient = (*btc.BTCRPCService)(nil)

// Params holds the per-guardian wallet configuration. All guardians must be
// configured with the identical peer list, dust limit, minimum feerate and
// fee schedule or their replicated state diverges.
type Params struct {
	PeerID             types.PeerID
	PubKeys            []*btcec.PublicKey
	PrivateKey         *btcec.PrivateKey
	Network            *chaincfg.Params
	DustLimit          uint64
	MinFeerate         uint64 // sats per kvb
	FeePartsPerMillion uint64
	PollInterval       time.Duration
	BroadcastInterval  time.Duration
}

func ParamsFromConfig() Params {
	return Params{
		PeerID:             types.PeerID(config.AppConfig.GuardianID),
		PubKeys:            config.AppConfig.GuardianPubKeys,
		PrivateKey:         config.AppConfig.GuardianPrivateKey,
		Network:            types.GetBTCNetwork(config.AppConfig.BTCNetworkType),
		DustLimit:          config.AppConfig.DustLimit,
		MinFeerate:         config.AppConfig.MinFeerate,
		FeePartsPerMillion: config.AppConfig.FeePartsPerMillion,
		PollInterval:       config.AppConfig.BTCPollInterval,
		BroadcastInterval:  config.AppConfig.BroadcastInterval,
	}
}

// Wallet is the custody module of one guardian. Committed state lives in the
// wallet database; the struct itself only carries configuration and external
// clients and is safe to share between the consensus path and the
// re-broadcast task.
type Wallet struct {
	params     Params
	fee        types.FeeConsensus
	pksHash    []byte
	dm         *db.DatabaseManager
	btcClient  BitcoinClient
	feeFetcher btc.FeeRateFetcher
}

func NewWallet(params Params, dm *db.DatabaseManager, btcClient BitcoinClient, feeFetcher btc.FeeRateFetcher) *Wallet {
	if len(params.PubKeys) == 0 {
		log.Fatalf("Wallet requires at least one guardian public key")
	}

	feeConsensus, err := types.NewFeeConsensus(params.FeePartsPerMillion)
	if err != nil {
		log.Fatalf("Invalid fee schedule: %v", err)
	}

	return &Wallet{
		params:     params,
		fee:        feeConsensus,
		pksHash:    multisig.PubKeysHash(params.PubKeys),
		dm:         dm,
		btcClient:  btcClient,
		feeFetcher: feeFetcher,
	}
}

func (w *Wallet) Kind() string {
	return "wallet"
}

func (w *Wallet) numPeers() int {
	return len(w.params.PubKeys)
}

func (w *Wallet) threshold() int {
	return types.Threshold(w.numPeers())
}

// Start launches the background re-broadcast task. It only reads committed
// state and calls the broadcast interface, never mutating the database, so
// it is safe to run concurrently with consensus item processing.
func (w *Wallet) Start(ctx context.Context) {
	log.Infof("Wallet module starting, guardian %d of %d, threshold %d",
		w.params.PeerID, w.numPeers(), w.threshold())

	ticker := time.NewTicker(w.params.BroadcastInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Wallet module stopping...")
			return
		case <-ticker.C:
			w.broadcastPendingTransactions()
		}
	}
}

// broadcastPendingTransactions re-submits every unconfirmed transaction.
// Transient backend failures are logged and retried on the next tick; the
// transactions stay in the database until chain sync observes them confirmed.
func (w *Wallet) broadcastPendingTransactions() {
	var pending []db.UnconfirmedTx
	if err := w.dm.GetWalletDB().Find(&pending).Error; err != nil {
		log.Errorf("Failed to load unconfirmed transactions: %v", err)
		return
	}

	for _, record := range pending {
		tx, err := btc.DeserializeTransaction(record.RawTx)
		if err != nil {
			log.Errorf("Failed to deserialize unconfirmed transaction %s: %v", record.Txid, err)
			continue
		}

		if err := w.btcClient.SubmitTransaction(tx); err != nil {
			log.Warnf("Failed to broadcast transaction %s: %v", record.Txid, err)
			continue
		}

		log.Debugf("Broadcast transaction %s", record.Txid)
	}
}

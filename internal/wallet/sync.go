package wallet

import (
	"context"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/fedivault/guardian/internal/db"
	"github.com/fedivault/guardian/internal/multisig"
)

// syncNewBlocks scans the heights [old, new) after a consensus block count
// advance: confirmed custody transactions are pruned from the unconfirmed
// set and every output is run through the deposit filter. The very first
// advance skips scanning since pre-federation blocks cannot contain relevant
// deposits.
func (w *Wallet) syncNewBlocks(ctx context.Context, dbtx *gorm.DB, old, current uint64) error {
	if old == 0 {
		log.Infof("Skipping chain scan on first consensus advance to height %d", current)
		return nil
	}

	if err := w.awaitLocalSync(ctx, current+ConfirmationFinalityDelay); err != nil {
		return err
	}

	for height := old; height < current; height++ {
		block, err := w.getBlockWithRetry(ctx, height)
		if err != nil {
			return err
		}

		if err := w.scanBlock(dbtx, block); err != nil {
			return err
		}

		log.Debugf("Scanned block at height %d", height)
	}

	return nil
}

// awaitLocalSync blocks until the local backend has observed the target
// height, ensuring no guardian scans a block it has not durably observed.
// Only context cancellation aborts the wait.
func (w *Wallet) awaitLocalSync(ctx context.Context, target uint64) error {
	for {
		local, err := w.btcClient.GetBlockCount()
		if err != nil {
			log.Warnf("Failed to get local block count: %v", err)
		} else if local >= target {
			return nil
		} else {
			log.Infof("Waiting for local backend to sync to height %d, currently at %d", target, local)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.pollInterval()):
		}
	}
}

// getBlockWithRetry fetches a block with unbounded retry and capped backoff.
// The RPC is idempotent and assumed to eventually succeed; only context
// cancellation gives up.
func (w *Wallet) getBlockWithRetry(ctx context.Context, height uint64) (*wire.MsgBlock, error) {
	backoff := time.Second

	for {
		block, err := w.btcClient.GetBlock(height)
		if err == nil {
			return block, nil
		}

		log.Warnf("Failed to get block at height %d, retrying in %v: %v", height, backoff, err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}

		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

// scanBlock prunes confirmed custody transactions and appends every
// filter-passing output to the deposit log. Both operations are idempotent
// so a restarted guardian can rescan the same finalized block safely.
func (w *Wallet) scanBlock(dbtx *gorm.DB, block *wire.MsgBlock) error {
	for _, blockTx := range block.Transactions {
		txid := blockTx.TxHash().String()

		if err := dbtx.Delete(&db.UnconfirmedTx{}, "txid = ?", txid).Error; err != nil {
			return fmt.Errorf("failed to prune confirmed transaction %s: %v", txid, err)
		}

		for vout, out := range blockTx.TxOut {
			if !isPayToWitnessScriptHash(out.PkScript) {
				continue
			}

			if !multisig.IsPotentialReceive(out.PkScript, w.pksHash) {
				continue
			}

			if err := w.recordDeposit(dbtx, txid, uint32(vout), out); err != nil {
				return err
			}
		}
	}

	return nil
}

func (w *Wallet) recordDeposit(dbtx *gorm.DB, txid string, vout uint32, out *wire.TxOut) error {
	var existing int64
	if err := dbtx.Model(&db.Deposit{}).
		Where("txid = ? AND vout = ?", txid, vout).
		Count(&existing).Error; err != nil {
		return fmt.Errorf("failed to check deposit outpoint: %v", err)
	}
	if existing > 0 {
		return nil
	}

	idx, err := nextDepositIndex(dbtx)
	if err != nil {
		return err
	}

	if err := dbtx.Create(&db.Deposit{
		Idx:      idx,
		Txid:     txid,
		Vout:     vout,
		Value:    uint64(out.Value),
		PkScript: out.PkScript,
	}).Error; err != nil {
		return fmt.Errorf("failed to record deposit %s:%d: %v", txid, vout, err)
	}

	log.Infof("Recorded potential deposit %s:%d of %d sats at index %d", txid, vout, out.Value, idx)

	return nil
}

func isPayToWitnessScriptHash(script []byte) bool {
	return len(script) == 34 && script[0] == txscript.OP_0 && script[1] == txscript.OP_DATA_32
}

func (w *Wallet) pollInterval() time.Duration {
	if w.params.PollInterval > 0 {
		return w.params.PollInterval
	}
	return 10 * time.Second
}

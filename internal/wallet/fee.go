package wallet

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/fedivault/guardian/internal/db"
	"github.com/fedivault/guardian/internal/multisig"
	"github.com/fedivault/guardian/internal/types"
)

// pendingTransaction is the vbyte size and fee of one transaction in the
// unsigned or unconfirmed custody chain.
type pendingTransaction struct {
	vbytes uint64
	fee    uint64
}

func pendingTransactions(dbtx *gorm.DB) ([]pendingTransaction, error) {
	var unsigned []db.UnsignedTx
	if err := dbtx.Find(&unsigned).Error; err != nil {
		return nil, fmt.Errorf("failed to load unsigned transactions: %v", err)
	}

	var unconfirmed []db.UnconfirmedTx
	if err := dbtx.Find(&unconfirmed).Error; err != nil {
		return nil, fmt.Errorf("failed to load unconfirmed transactions: %v", err)
	}

	pending := make([]pendingTransaction, 0, len(unsigned)+len(unconfirmed))
	for _, tx := range unsigned {
		pending = append(pending, pendingTransaction{vbytes: tx.VBytes, fee: tx.Fee})
	}
	for _, tx := range unconfirmed {
		pending = append(pending, pendingTransaction{vbytes: tx.VBytes, fee: tx.Fee})
	}

	return pending, nil
}

// consensusFee computes the minimum acceptable fee for a new custody
// transaction of the given vbyte size.
//
// The consensus feerate is boosted by doubling the configured minimum
// feerate once per pending transaction, so a catastrophically underestimated
// feerate cannot keep the custody chain stuck: every additional transaction
// raises the bar until the chain confirms. On top of the per-transaction
// fee, the whole pending chain must meet the boosted feerate cumulatively,
// so the new transaction pays for any fee shortfall of its ancestors.
func (w *Wallet) consensusFee(dbtx *gorm.DB, vbytes uint64) (uint64, error) {
	pending, err := pendingTransactions(dbtx)
	if err != nil {
		return 0, err
	}

	if len(pending) >= maxPendingTransactions {
		log.Fatalf("The pending transaction chain reached %d transactions", len(pending))
	}

	feerate, err := consensusFeerate(dbtx, w.numPeers())
	if err != nil {
		return 0, err
	}
	if feerate == nil {
		return 0, types.ErrNoConsensusFeerate
	}

	boosted := w.params.MinFeerate << uint(len(pending))
	if *feerate > boosted {
		boosted = *feerate
	}

	txFee := feeForVBytes(vbytes, boosted)

	totalVBytes := vbytes
	var paidFees uint64
	for _, tx := range pending {
		totalVBytes += tx.vbytes
		paidFees += tx.fee
	}

	chainFee := feeForVBytes(totalVBytes, boosted)
	if chainFee > paidFees && chainFee-paidFees > txFee {
		txFee = chainFee - paidFees
	}

	return txFee, nil
}

// feeForVBytes converts a feerate in sats per kvb to a fee, rounding down.
func feeForVBytes(vbytes, satsPerKvb uint64) uint64 {
	return saturatingMul(vbytes, satsPerKvb) / 1000
}

func saturatingMul(a, b uint64) uint64 {
	if b != 0 && a > ^uint64(0)/b {
		return ^uint64(0)
	}
	return a * b
}

// SendFee is the current minimum fee for a withdrawal transaction.
func (w *Wallet) SendFee(dbtx *gorm.DB) (uint64, error) {
	return w.consensusFee(dbtx, multisig.SendTxVBytes(w.numPeers()))
}

// ReceiveFee is the current minimum fee for a deposit claim transaction.
func (w *Wallet) ReceiveFee(dbtx *gorm.DB) (uint64, error) {
	wallet, err := federationWallet(dbtx)
	if err != nil {
		return 0, err
	}

	if wallet == nil {
		return w.consensusFee(dbtx, multisig.SweepTxVBytes(w.numPeers()))
	}

	return w.consensusFee(dbtx, multisig.ReceiveTxVBytes(w.numPeers()))
}

package wallet

import (
	"errors"
	"fmt"
	"sort"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fedivault/guardian/internal/db"
	"github.com/fedivault/guardian/internal/types"
)

// consensusBlockCount reduces the per-guardian block count votes to the
// Byzantine-safe consensus value: the threshold-th highest vote. At least
// threshold guardians have voted at or above the result, so fewer than
// threshold faulty guardians cannot fabricate it, and since individual votes
// are strictly increasing the result never decreases.
func consensusBlockCount(dbtx *gorm.DB, numPeers int) (uint64, error) {
	var votes []db.BlockCountVote
	if err := dbtx.Find(&votes).Error; err != nil {
		return 0, fmt.Errorf("failed to load block count votes: %v", err)
	}

	if len(votes) > numPeers {
		log.Fatalf("%d block count votes on file for %d guardians", len(votes), numPeers)
	}

	threshold := types.Threshold(numPeers)
	if len(votes) < threshold {
		return 0, nil
	}

	counts := make([]uint64, 0, len(votes))
	for _, vote := range votes {
		counts = append(counts, vote.Count)
	}

	sort.Slice(counts, func(i, j int) bool { return counts[i] > counts[j] })

	return counts[threshold-1], nil
}

// consensusFeerate selects the threshold-th lowest live feerate vote, a
// conservative estimate that fewer than threshold guardians cannot inflate.
// Returns nil while fewer than threshold guardians have a live vote.
func consensusFeerate(dbtx *gorm.DB, numPeers int) (*uint64, error) {
	var votes []db.FeeRateVote
	if err := dbtx.Find(&votes).Error; err != nil {
		return nil, fmt.Errorf("failed to load feerate votes: %v", err)
	}

	if len(votes) > numPeers {
		log.Fatalf("%d feerate votes on file for %d guardians", len(votes), numPeers)
	}

	rates := make([]uint64, 0, len(votes))
	for _, vote := range votes {
		if vote.Rate != nil {
			rates = append(rates, *vote.Rate)
		}
	}

	threshold := types.Threshold(numPeers)
	if len(rates) < threshold {
		return nil, nil
	}

	sort.Slice(rates, func(i, j int) bool { return rates[i] < rates[j] })

	return &rates[threshold-1], nil
}

// federationWallet returns the current custody UTXO, or nil before the first
// deposit has been claimed.
func federationWallet(dbtx *gorm.DB) (*db.FederationWallet, error) {
	var wallet db.FederationWallet
	err := dbtx.First(&wallet).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load federation wallet: %v", err)
	}

	return &wallet, nil
}

// replaceFederationWallet swaps the custody UTXO atomically within the
// caller's transaction. At most one record ever exists.
func (w *Wallet) replaceFederationWallet(dbtx *gorm.DB, wallet *db.FederationWallet) error {
	wallet.ID = 1
	if err := dbtx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(wallet).Error; err != nil {
		return fmt.Errorf("failed to replace federation wallet: %v", err)
	}

	return nil
}

func nextDepositIndex(dbtx *gorm.DB) (uint64, error) {
	var last db.Deposit
	err := dbtx.Order("idx desc").First(&last).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load last deposit: %v", err)
	}

	return last.Idx + 1, nil
}

func nextTxInfoIndex(dbtx *gorm.DB) (uint64, error) {
	var last db.TxInfo
	err := dbtx.Order("idx desc").First(&last).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load last transaction info: %v", err)
	}

	return last.Idx + 1, nil
}

// ConsensusBlockCount is the externally visible consensus chain height.
func (w *Wallet) ConsensusBlockCount(dbtx *gorm.DB) (uint64, error) {
	return consensusBlockCount(dbtx, w.numPeers())
}

// ConsensusFeerate is the externally visible consensus feerate in sats per
// kvb, nil while no consensus exists.
func (w *Wallet) ConsensusFeerate(dbtx *gorm.DB) (*uint64, error) {
	return consensusFeerate(dbtx, w.numPeers())
}

// FederationWalletInfo returns the current custody UTXO, nil before the
// first claimed deposit.
func (w *Wallet) FederationWalletInfo(dbtx *gorm.DB) (*db.FederationWallet, error) {
	return federationWallet(dbtx)
}

// TransactionId resolves the bitcoin txid paying out the withdrawal accepted
// at the given federation outpoint, nil if unknown.
func (w *Wallet) TransactionId(dbtx *gorm.DB, outpoint types.OutPoint) (*string, error) {
	var index db.TxInfoIndex
	err := dbtx.First(&index, "out_point = ?", outpoint.String()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction index: %v", err)
	}

	var info db.TxInfo
	if err := dbtx.First(&info, "idx = ?", index.Idx).Error; err != nil {
		return nil, fmt.Errorf("failed to load transaction info %d: %v", index.Idx, err)
	}

	return &info.Txid, nil
}

// DepositRange returns the deposits with index in [start, end) together with
// the spent indices in the same range.
func (w *Wallet) DepositRange(dbtx *gorm.DB, start, end uint64) ([]db.Deposit, []uint64, error) {
	var deposits []db.Deposit
	if err := dbtx.Where("idx >= ? AND idx < ?", start, end).Order("idx asc").Find(&deposits).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to load deposits: %v", err)
	}

	var spentRecords []db.SpentDeposit
	if err := dbtx.Where("idx >= ? AND idx < ?", start, end).Order("idx asc").Find(&spentRecords).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to load spent deposits: %v", err)
	}

	spent := make([]uint64, 0, len(spentRecords))
	for _, record := range spentRecords {
		spent = append(spent, record.Idx)
	}

	return deposits, spent, nil
}

// PendingTransactionChain returns the audit records of all custody
// transactions not yet observed in a finalized block, newest first.
func (w *Wallet) PendingTransactionChain(dbtx *gorm.DB) ([]db.TxInfo, error) {
	txids, err := pendingTxids(dbtx)
	if err != nil {
		return nil, err
	}
	if len(txids) == 0 {
		return nil, nil
	}

	var infos []db.TxInfo
	if err := dbtx.Where("txid IN ?", txids).Order("idx desc").Find(&infos).Error; err != nil {
		return nil, fmt.Errorf("failed to load pending transaction chain: %v", err)
	}

	return infos, nil
}

// LastTransactionChain returns the newest n audit records, newest first.
func (w *Wallet) LastTransactionChain(dbtx *gorm.DB, n int) ([]db.TxInfo, error) {
	var infos []db.TxInfo
	if err := dbtx.Order("idx desc").Limit(n).Find(&infos).Error; err != nil {
		return nil, fmt.Errorf("failed to load transaction chain: %v", err)
	}

	return infos, nil
}

func pendingTxids(dbtx *gorm.DB) ([]string, error) {
	var unsigned []db.UnsignedTx
	if err := dbtx.Find(&unsigned).Error; err != nil {
		return nil, fmt.Errorf("failed to load unsigned transactions: %v", err)
	}

	var unconfirmed []db.UnconfirmedTx
	if err := dbtx.Find(&unconfirmed).Error; err != nil {
		return nil, fmt.Errorf("failed to load unconfirmed transactions: %v", err)
	}

	txids := make([]string, 0, len(unsigned)+len(unconfirmed))
	for _, tx := range unsigned {
		txids = append(txids, tx.Txid)
	}
	for _, tx := range unconfirmed {
		txids = append(txids, tx.Txid)
	}

	return txids, nil
}

package wallet

import (
	"context"
	"errors"
	"fmt"

	goerrors "github.com/go-errors/errors"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fedivault/guardian/internal/db"
	"github.com/fedivault/guardian/internal/types"
)

// ConsensusProposal assembles the guardian's consensus items for the next
// round: a signature share for every unsigned transaction it has not signed
// yet, plus its local block count and feerate observations. Observations are
// only proposed when they would not be rejected as redundant.
func (w *Wallet) ConsensusProposal(ctx context.Context) ([]types.WalletConsensusItem, error) {
	dbtx := w.dm.GetWalletDB().WithContext(ctx)

	var items []types.WalletConsensusItem

	signatureItems, err := w.signatureProposals(dbtx)
	if err != nil {
		return nil, err
	}
	items = append(items, signatureItems...)

	if item := w.blockCountProposal(dbtx); item != nil {
		items = append(items, *item)
	}

	if item := w.feerateProposal(dbtx); item != nil {
		items = append(items, *item)
	}

	return items, nil
}

// blockCountProposal votes the locally finalized height, capped at the
// consensus count plus the maximum increment so no single item forces an
// unbounded chain scan.
func (w *Wallet) blockCountProposal(dbtx *gorm.DB) *types.WalletConsensusItem {
	local, err := w.btcClient.GetBlockCount()
	if err != nil {
		log.Warnf("Failed to get local block count: %v", err)
		return nil
	}

	if local < ConfirmationFinalityDelay {
		return nil
	}

	consensus, err := consensusBlockCount(dbtx, w.numPeers())
	if err != nil {
		log.Errorf("Failed to compute consensus block count: %v", err)
		return nil
	}

	vote := local - ConfirmationFinalityDelay
	if limit := consensus + MaxBlockCountIncrement; vote > limit {
		vote = limit
	}

	own, ok, err := blockCountVote(dbtx, w.params.PeerID)
	if err != nil {
		log.Errorf("Failed to load own block count vote: %v", err)
		return nil
	}
	if ok && vote <= own {
		return nil
	}

	item := types.BlockCountItem(vote)
	return &item
}

// feerateProposal votes the locally observed feerate, or retracts the vote
// when the backend cannot produce an estimate. A retracted vote keeps stale
// observations from dragging the consensus feerate down.
func (w *Wallet) feerateProposal(dbtx *gorm.DB) *types.WalletConsensusItem {
	own, ok, err := feerateVote(dbtx, w.params.PeerID)
	if err != nil {
		log.Errorf("Failed to load own feerate vote: %v", err)
		return nil
	}

	rate, err := w.feeFetcher.GetFeeRateSatsPerKVB()
	if err != nil {
		log.Warnf("Failed to fetch feerate: %v", err)

		if ok && own != nil {
			item := types.FeerateItem(nil)
			return &item
		}
		return nil
	}

	if ok && own != nil && *own == rate {
		return nil
	}

	item := types.FeerateItem(&rate)
	return &item
}

// ProcessConsensusItem applies one peer's consensus item to committed state.
// It runs on every guardian in identical order; an error rejects the item
// without mutating state and without penalizing global progress.
func (w *Wallet) ProcessConsensusItem(ctx context.Context, dbtx *gorm.DB, peer types.PeerID, item types.WalletConsensusItem) error {
	if int(peer) >= w.numPeers() {
		return goerrors.Errorf("peer %d is outside the federation of %d guardians", peer, w.numPeers())
	}

	switch item.Kind {
	case types.ItemKindBlockCount:
		return w.processBlockCountVote(ctx, dbtx, peer, item.BlockCount)
	case types.ItemKindFeerate:
		return w.processFeerateVote(dbtx, peer, item.Feerate)
	case types.ItemKindSignatures:
		return w.processSignatures(dbtx, peer, item)
	default:
		return goerrors.Errorf("unknown wallet consensus item kind %q", item.Kind)
	}
}

// processBlockCountVote records a strictly increasing block count vote and,
// when the consensus count advances, drives chain sync over the newly
// finalized heights.
func (w *Wallet) processBlockCountVote(ctx context.Context, dbtx *gorm.DB, peer types.PeerID, vote uint64) error {
	old, err := consensusBlockCount(dbtx, w.numPeers())
	if err != nil {
		return err
	}

	previous, ok, err := blockCountVote(dbtx, peer)
	if err != nil {
		return err
	}
	if ok && vote <= previous {
		return goerrors.New("block count vote is redundant")
	}

	if err := dbtx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "peer"}},
		DoUpdates: clause.AssignmentColumns([]string{"count"}),
	}).Create(&db.BlockCountVote{Peer: uint32(peer), Count: vote}).Error; err != nil {
		return fmt.Errorf("failed to store block count vote: %v", err)
	}

	current, err := consensusBlockCount(dbtx, w.numPeers())
	if err != nil {
		return err
	}

	if current > old {
		return w.syncNewBlocks(ctx, dbtx, old, current)
	}

	return nil
}

// processFeerateVote records a feerate vote; nil retracts the peer's
// previous vote. Repeating the current vote is rejected as redundant.
func (w *Wallet) processFeerateVote(dbtx *gorm.DB, peer types.PeerID, rate *uint64) error {
	previous, ok, err := feerateVote(dbtx, peer)
	if err != nil {
		return err
	}

	if ok && equalFeerates(previous, rate) {
		return goerrors.New("feerate vote is redundant")
	}

	if err := dbtx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "peer"}},
		DoUpdates: clause.AssignmentColumns([]string{"rate"}),
	}).Create(&db.FeeRateVote{Peer: uint32(peer), Rate: rate}).Error; err != nil {
		return fmt.Errorf("failed to store feerate vote: %v", err)
	}

	return nil
}

func equalFeerates(a, b *uint64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func blockCountVote(dbtx *gorm.DB, peer types.PeerID) (uint64, bool, error) {
	var vote db.BlockCountVote
	err := dbtx.First(&vote, "peer = ?", uint32(peer)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to load block count vote: %v", err)
	}

	return vote.Count, true, nil
}

func feerateVote(dbtx *gorm.DB, peer types.PeerID) (*uint64, bool, error) {
	var vote db.FeeRateVote
	err := dbtx.First(&vote, "peer = ?", uint32(peer)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load feerate vote: %v", err)
	}

	return vote.Rate, true, nil
}

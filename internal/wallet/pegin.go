package wallet

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/wire"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/fedivault/guardian/internal/db"
	"github.com/fedivault/guardian/internal/multisig"
	"github.com/fedivault/guardian/internal/types"
)

// ProcessInput accepts a peg-in: the claimed deposit is consolidated into
// federation custody by a transaction spending the current custody UTXO and
// the deposit into a single fresh custody output. The first ever claim has
// no custody UTXO yet and sweeps the deposit alone.
//
// The claim is rejected without state change if the deposit is unknown or
// already spent, the tweak does not reproduce the deposit script, the fee
// undercuts the consensus minimum, or the satoshi accounting overflows.
// Overpaying the fee is allowed, e.g. to bump a stuck custody chain.
func (w *Wallet) ProcessInput(dbtx *gorm.DB, input types.WalletInput) (*types.InputMeta, error) {
	if input.Version != 0 {
		return nil, types.ErrUnknownInputVariant
	}
	if len(input.Tweak) != 32 {
		return nil, types.ErrWrongTweak
	}

	var deposit db.Deposit
	err := dbtx.First(&deposit, "idx = ?", input.DepositIndex).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.ErrUnknownDepositIndex
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load deposit %d: %v", input.DepositIndex, err)
	}

	var spent int64
	if err := dbtx.Model(&db.SpentDeposit{}).Where("idx = ?", input.DepositIndex).Count(&spent).Error; err != nil {
		return nil, fmt.Errorf("failed to check spent deposit %d: %v", input.DepositIndex, err)
	}
	if spent > 0 {
		return nil, types.ErrDepositAlreadySpent
	}

	expectedScript, err := w.custodyScriptPubKey(input.Tweak)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(expectedScript, deposit.PkScript) {
		return nil, types.ErrWrongTweak
	}

	wallet, err := federationWallet(dbtx)
	if err != nil {
		return nil, err
	}

	var (
		vbytes      uint64
		oldValue    uint64
		newTweak    []byte
		spentTxOuts []SpentTxOut
	)

	tx := newCustodyTx()

	if wallet == nil {
		vbytes = multisig.SweepTxVBytes(w.numPeers())
		newTweak = genesisTweak(&deposit, input.Tweak)
		spentTxOuts = []SpentTxOut{{Value: deposit.Value, Tweak: input.Tweak}}
	} else {
		vbytes = multisig.ReceiveTxVBytes(w.numPeers())
		oldValue = wallet.Value
		newTweak = nextTweak(wallet)
		spentTxOuts = []SpentTxOut{
			{Value: wallet.Value, Tweak: wallet.Tweak},
			{Value: deposit.Value, Tweak: input.Tweak},
		}

		if err := addCustodyInput(tx, wallet.Txid, wallet.Vout); err != nil {
			return nil, err
		}
	}

	if err := addCustodyInput(tx, deposit.Txid, deposit.Vout); err != nil {
		return nil, err
	}

	minFee, err := w.consensusFee(dbtx, vbytes)
	if err != nil {
		return nil, err
	}
	if input.Fee < minFee {
		return nil, types.ErrInsufficientTotalFee
	}

	total, ok := checkedAdd(oldValue, deposit.Value)
	if !ok {
		return nil, types.ErrArithmeticOverflow
	}
	change, ok := checkedSub(total, input.Fee)
	if !ok {
		return nil, types.ErrArithmeticOverflow
	}
	// the on-chain fee comes out of the deposit, never out of custody
	credited, ok := checkedSub(deposit.Value, input.Fee)
	if !ok {
		return nil, types.ErrArithmeticOverflow
	}

	changeScript, err := w.custodyScriptPubKey(newTweak)
	if err != nil {
		return nil, err
	}
	tx.AddTxOut(wire.NewTxOut(int64(change), changeScript))

	if err := dbtx.Create(&db.SpentDeposit{Idx: input.DepositIndex}).Error; err != nil {
		return nil, fmt.Errorf("failed to mark deposit %d spent: %v", input.DepositIndex, err)
	}

	infoIdx, err := w.acceptTransaction(dbtx, tx, spentTxOuts, newTweak, oldValue, change, input.Fee, vbytes)
	if err != nil {
		return nil, err
	}

	log.Infof("Accepted deposit claim %d of %d sats, fee %d, tx info %d",
		input.DepositIndex, deposit.Value, input.Fee, infoIdx)

	// the client is credited exactly what custody gained
	amount := types.AmountFromSats(credited)

	return &types.InputMeta{
		Amount: amount,
		Fee:    w.fee.Fee(amount),
	}, nil
}

func checkedAdd(a, b uint64) (uint64, bool) {
	sum := a + b
	return sum, sum >= a
}

func checkedSub(a, b uint64) (uint64, bool) {
	return a - b, a >= b
}

package wallet

import (
	"fmt"

	"github.com/btcsuite/btcd/wire"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/fedivault/guardian/internal/db"
	"github.com/fedivault/guardian/internal/multisig"
	"github.com/fedivault/guardian/internal/types"
)

// ProcessOutput accepts a peg-out: a transaction spending the custody UTXO
// into a fresh custody change output at vout 0 and the client's destination
// at vout 1. The outpoint of the accepted federation transaction item is
// indexed so clients can later look up the bitcoin txid paying them out.
//
// Returns the total amount debited from the client: destination value, the
// on-chain fee and the federation processing fee.
func (w *Wallet) ProcessOutput(dbtx *gorm.DB, outpoint types.OutPoint, output types.WalletOutput) (types.Amount, error) {
	if output.Version != 0 {
		return 0, types.ErrUnknownOutputVariant
	}

	if output.Value < w.params.DustLimit {
		return 0, types.ErrUnderDustLimit
	}

	destinationScript, err := output.Destination.ScriptPubKey()
	if err != nil {
		return 0, err
	}

	wallet, err := federationWallet(dbtx)
	if err != nil {
		return 0, err
	}
	if wallet == nil {
		return 0, types.ErrNoFederationWallet
	}

	vbytes := multisig.SendTxVBytes(w.numPeers())

	minFee, err := w.consensusFee(dbtx, vbytes)
	if err != nil {
		return 0, err
	}
	if output.Fee < minFee {
		return 0, types.ErrInsufficientTotalFee
	}

	spent, ok := checkedAdd(output.Value, output.Fee)
	if !ok {
		return 0, types.ErrArithmeticOverflow
	}
	change, ok := checkedSub(wallet.Value, spent)
	if !ok {
		return 0, types.ErrArithmeticOverflow
	}
	if change < w.params.DustLimit {
		return 0, types.ErrChangeUnderDustLimit
	}

	newTweak := nextTweak(wallet)
	changeScript, err := w.custodyScriptPubKey(newTweak)
	if err != nil {
		return 0, err
	}

	tx := newCustodyTx()
	if err := addCustodyInput(tx, wallet.Txid, wallet.Vout); err != nil {
		return 0, err
	}
	tx.AddTxOut(wire.NewTxOut(int64(change), changeScript))
	tx.AddTxOut(wire.NewTxOut(int64(output.Value), destinationScript))

	spentTxOuts := []SpentTxOut{{Value: wallet.Value, Tweak: wallet.Tweak}}

	infoIdx, err := w.acceptTransaction(dbtx, tx, spentTxOuts, newTweak, wallet.Value, change, output.Fee, vbytes)
	if err != nil {
		return 0, err
	}

	if err := dbtx.Create(&db.TxInfoIndex{
		OutPoint: outpoint.String(),
		Idx:      infoIdx,
	}).Error; err != nil {
		return 0, fmt.Errorf("failed to index transaction info: %v", err)
	}

	log.Infof("Accepted withdrawal of %d sats, fee %d, tx info %d", output.Value, output.Fee, infoIdx)

	// the federation fee applies to everything leaving custody
	amount := types.AmountFromSats(spent)

	return amount + w.fee.Fee(amount), nil
}

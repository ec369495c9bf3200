package wallet

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"gorm.io/gorm"

	"github.com/fedivault/guardian/internal/btc"
	"github.com/fedivault/guardian/internal/db"
	"github.com/fedivault/guardian/internal/multisig"
)

// SpentTxOut records the value and tweak of an output consumed by a custody
// transaction. It is everything a guardian needs to recompute the input's
// sighash and signing key, so it is stored alongside the unsigned raw
// transaction.
type SpentTxOut struct {
	Value uint64 `json:"value"`
	Tweak []byte `json:"tweak"`
}

func encodeSpentTxOuts(outs []SpentTxOut) ([]byte, error) {
	return json.Marshal(outs)
}

func decodeSpentTxOuts(raw []byte) ([]SpentTxOut, error) {
	var outs []SpentTxOut
	if err := json.Unmarshal(raw, &outs); err != nil {
		return nil, fmt.Errorf("failed to decode spent tx outs: %v", err)
	}
	return outs, nil
}

// newCustodyTx returns an empty version 2 transaction; all custody inputs
// are added with the replace-by-fee sequence.
func newCustodyTx() *wire.MsgTx {
	tx := wire.NewMsgTx(2)
	tx.LockTime = 0
	return tx
}

func addCustodyInput(tx *wire.MsgTx, txid string, vout uint32) error {
	hash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return fmt.Errorf("failed to parse txid %s: %v", txid, err)
	}

	in := wire.NewTxIn(wire.NewOutPoint(hash, vout), nil, nil)
	in.Sequence = rbfSequence
	tx.AddTxIn(in)

	return nil
}

// nextTweak derives the tweak of the next custody output from the wallet
// record being consumed. Every guardian computes the identical hash, so key
// rotation requires no extra consensus round.
func nextTweak(wallet *db.FederationWallet) []byte {
	h := sha256.New()

	var value [8]byte
	binary.LittleEndian.PutUint64(value[:], wallet.Value)
	h.Write(value[:])

	h.Write([]byte(wallet.Txid))

	var vout [4]byte
	binary.LittleEndian.PutUint32(vout[:], wallet.Vout)
	h.Write(vout[:])

	h.Write(wallet.Tweak)

	return h.Sum(nil)
}

// genesisTweak derives the tweak of the very first custody output from the
// deposit being swept, before any wallet record exists.
func genesisTweak(deposit *db.Deposit, claimedTweak []byte) []byte {
	h := sha256.New()

	h.Write([]byte(deposit.Txid))

	var vout [4]byte
	binary.LittleEndian.PutUint32(vout[:], deposit.Vout)
	h.Write(vout[:])

	h.Write(claimedTweak)

	return h.Sum(nil)
}

// acceptTransaction commits a freshly built custody transaction: marks the
// consumed deposit (if any), stores the unsigned transaction for signature
// collection, replaces the federation wallet with the new custody output at
// vout 0 and appends the audit record. Returns the TxInfo index.
func (w *Wallet) acceptTransaction(
	dbtx *gorm.DB,
	tx *wire.MsgTx,
	spentTxOuts []SpentTxOut,
	newTweak []byte,
	oldValue uint64,
	change uint64,
	fee uint64,
	vbytes uint64,
) (uint64, error) {
	rawTx, err := serializeTx(tx)
	if err != nil {
		return 0, err
	}

	encodedOuts, err := encodeSpentTxOuts(spentTxOuts)
	if err != nil {
		return 0, err
	}

	txid := tx.TxHash().String()

	if err := dbtx.Create(&db.UnsignedTx{
		Txid:        txid,
		RawTx:       rawTx,
		SpentTxOuts: encodedOuts,
		VBytes:      vbytes,
		Fee:         fee,
	}).Error; err != nil {
		return 0, fmt.Errorf("failed to store unsigned transaction: %v", err)
	}

	if err := w.replaceFederationWallet(dbtx, &db.FederationWallet{
		Value: change,
		Txid:  txid,
		Vout:  0,
		Tweak: newTweak,
	}); err != nil {
		return 0, err
	}

	created, err := consensusBlockCount(dbtx, w.numPeers())
	if err != nil {
		return 0, err
	}

	infoIdx, err := nextTxInfoIndex(dbtx)
	if err != nil {
		return 0, err
	}

	if err := dbtx.Create(&db.TxInfo{
		Idx:     infoIdx,
		Txid:    txid,
		Input:   oldValue,
		Output:  change,
		Fee:     fee,
		VBytes:  vbytes,
		Created: created,
	}).Error; err != nil {
		return 0, fmt.Errorf("failed to store transaction info: %v", err)
	}

	return infoIdx, nil
}

func (w *Wallet) custodyScriptPubKey(tweak []byte) ([]byte, error) {
	return multisig.ScriptPubKey(w.params.PubKeys, tweak)
}

func serializeTx(tx *wire.MsgTx) ([]byte, error) {
	return btc.SerializeTransaction(tx)
}

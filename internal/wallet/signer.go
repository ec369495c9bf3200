package wallet

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	goerrors "github.com/go-errors/errors"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/fedivault/guardian/internal/btc"
	"github.com/fedivault/guardian/internal/db"
	"github.com/fedivault/guardian/internal/multisig"
	"github.com/fedivault/guardian/internal/types"
)

// signatureProposals produces one Signatures item for every unsigned
// transaction this guardian has not contributed to yet.
func (w *Wallet) signatureProposals(dbtx *gorm.DB) ([]types.WalletConsensusItem, error) {
	var unsigned []db.UnsignedTx
	if err := dbtx.Find(&unsigned).Error; err != nil {
		return nil, fmt.Errorf("failed to load unsigned transactions: %v", err)
	}

	var items []types.WalletConsensusItem
	for _, record := range unsigned {
		var count int64
		if err := dbtx.Model(&db.TxSignature{}).
			Where("txid = ? AND peer = ?", record.Txid, uint32(w.params.PeerID)).
			Count(&count).Error; err != nil {
			return nil, fmt.Errorf("failed to check own signature: %v", err)
		}
		if count > 0 {
			continue
		}

		sigs, err := w.signTransaction(record)
		if err != nil {
			return nil, err
		}

		items = append(items, types.SignaturesItem(record.Txid, sigs))
	}

	return items, nil
}

// signTransaction produces one DER signature per input with the guardian's
// tweaked private key share. A signature failing self-verification indicates
// a key configuration bug and is fatal.
func (w *Wallet) signTransaction(record db.UnsignedTx) ([][]byte, error) {
	tx, spentTxOuts, err := w.decodeUnsigned(record)
	if err != nil {
		return nil, err
	}

	hashes, err := w.inputSigHashes(tx, spentTxOuts)
	if err != nil {
		return nil, err
	}

	sigs := make([][]byte, 0, len(hashes))
	for i, sighash := range hashes {
		tweakedSk := multisig.TweakPrivateKey(w.params.PrivateKey, spentTxOuts[i].Tweak)

		sig := ecdsa.Sign(tweakedSk, sighash)
		if !sig.Verify(sighash, tweakedSk.PubKey()) {
			log.Fatalf("Own signature for transaction %s input %d failed verification", record.Txid, i)
		}

		sigs = append(sigs, sig.Serialize())
	}

	return sigs, nil
}

// processSignatures verifies and stores a peer's signature set and, once the
// signing threshold is reached, finalizes and broadcasts the transaction.
func (w *Wallet) processSignatures(dbtx *gorm.DB, peer types.PeerID, item types.WalletConsensusItem) error {
	if int(peer) >= w.numPeers() {
		return goerrors.Errorf("unknown peer %d", peer)
	}

	var record db.UnsignedTx
	err := dbtx.First(&record, "txid = ?", item.Txid).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return goerrors.Errorf("no unsigned transaction with txid %s", item.Txid)
	}
	if err != nil {
		return fmt.Errorf("failed to load unsigned transaction %s: %v", item.Txid, err)
	}

	var count int64
	if err := dbtx.Model(&db.TxSignature{}).
		Where("txid = ? AND peer = ?", item.Txid, uint32(peer)).
		Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check peer signature: %v", err)
	}
	if count > 0 {
		return goerrors.New("signature submission is redundant")
	}

	sigs, err := item.DecodeSignatures()
	if err != nil {
		return goerrors.Errorf("invalid signature encoding: %v", err)
	}

	if err := w.verifySignatures(record, peer, sigs); err != nil {
		return err
	}

	encoded, err := encodeSignatures(sigs)
	if err != nil {
		return err
	}

	if err := dbtx.Create(&db.TxSignature{
		Txid:       item.Txid,
		Peer:       uint32(peer),
		Signatures: encoded,
	}).Error; err != nil {
		return fmt.Errorf("failed to store signatures: %v", err)
	}

	var records []db.TxSignature
	if err := dbtx.Where("txid = ?", item.Txid).Order("peer asc").Find(&records).Error; err != nil {
		return fmt.Errorf("failed to load signatures: %v", err)
	}

	if len(records) < w.threshold() {
		return nil
	}

	return w.finalizeTransaction(dbtx, record, records[:w.threshold()])
}

// verifySignatures checks one signature per input against the peer's tweaked
// public key and the exact expected sighash. Any mismatch rejects the whole
// submission; the peer's contribution simply does not count this round.
func (w *Wallet) verifySignatures(record db.UnsignedTx, peer types.PeerID, sigs [][]byte) error {
	tx, spentTxOuts, err := w.decodeUnsigned(record)
	if err != nil {
		return err
	}

	if len(sigs) != len(tx.TxIn) {
		return goerrors.Errorf("expected %d signatures, got %d", len(tx.TxIn), len(sigs))
	}

	hashes, err := w.inputSigHashes(tx, spentTxOuts)
	if err != nil {
		return err
	}

	for i, sighash := range hashes {
		sig, err := ecdsa.ParseDERSignature(sigs[i])
		if err != nil {
			return goerrors.Errorf("invalid signature for input %d: %v", i, err)
		}

		tweakedPk := multisig.TweakPublicKey(w.params.PubKeys[peer], spentTxOuts[i].Tweak)
		if !sig.Verify(sighash, tweakedPk) {
			return goerrors.Errorf("signature for input %d does not verify", i)
		}
	}

	return nil
}

// finalizeTransaction satisfies the multisig script of every input with the
// signatures of the threshold lowest peer ids, moves the transaction from
// unsigned to unconfirmed and broadcasts it. The subset and signature order
// are deterministic so every guardian assembles the byte-identical witness.
func (w *Wallet) finalizeTransaction(dbtx *gorm.DB, record db.UnsignedTx, records []db.TxSignature) error {
	tx, spentTxOuts, err := w.decodeUnsigned(record)
	if err != nil {
		return err
	}

	for i := range tx.TxIn {
		redeem, err := multisig.RedeemScript(w.params.PubKeys, spentTxOuts[i].Tweak)
		if err != nil {
			return err
		}

		type orderedSig struct {
			key []byte
			sig []byte
		}

		ordered := make([]orderedSig, 0, len(records))
		for _, sigRecord := range records {
			sigs, err := decodeSignatures(sigRecord.Signatures)
			if err != nil {
				return err
			}

			tweakedPk := multisig.TweakPublicKey(w.params.PubKeys[sigRecord.Peer], spentTxOuts[i].Tweak)
			ordered = append(ordered, orderedSig{
				key: tweakedPk.SerializeCompressed(),
				sig: append(sigs[i], byte(txscript.SigHashAll)),
			})
		}

		// CHECKMULTISIG requires signatures in script key order.
		sort.Slice(ordered, func(a, b int) bool {
			return bytes.Compare(ordered[a].key, ordered[b].key) < 0
		})

		witness := make(wire.TxWitness, 0, len(ordered)+2)
		witness = append(witness, []byte{})
		for _, entry := range ordered {
			witness = append(witness, entry.sig)
		}
		witness = append(witness, redeem)

		tx.TxIn[i].Witness = witness
	}

	if err := dbtx.Delete(&db.UnsignedTx{}, "txid = ?", record.Txid).Error; err != nil {
		return fmt.Errorf("failed to remove unsigned transaction: %v", err)
	}
	if err := dbtx.Delete(&db.TxSignature{}, "txid = ?", record.Txid).Error; err != nil {
		return fmt.Errorf("failed to remove signatures: %v", err)
	}

	rawTx, err := serializeTx(tx)
	if err != nil {
		return err
	}

	if err := dbtx.Create(&db.UnconfirmedTx{
		Txid:        record.Txid,
		RawTx:       rawTx,
		SpentTxOuts: record.SpentTxOuts,
		VBytes:      record.VBytes,
		Fee:         record.Fee,
	}).Error; err != nil {
		return fmt.Errorf("failed to store unconfirmed transaction: %v", err)
	}

	log.Infof("Transaction %s reached the signing threshold, broadcasting", record.Txid)

	// Broadcast failures are tolerated: the re-broadcast task retries until
	// the transaction is observed confirmed.
	if err := w.btcClient.SubmitTransaction(tx); err != nil {
		log.Warnf("Failed to broadcast transaction %s: %v", record.Txid, err)
	}

	return nil
}

// inputSigHashes computes the P2WSH sighash of every input of a custody
// transaction over its tweaked multisig script.
func (w *Wallet) inputSigHashes(tx *wire.MsgTx, spentTxOuts []SpentTxOut) ([][]byte, error) {
	prevOuts := make(map[wire.OutPoint]*wire.TxOut, len(tx.TxIn))
	for i, in := range tx.TxIn {
		script, err := w.custodyScriptPubKey(spentTxOuts[i].Tweak)
		if err != nil {
			return nil, err
		}
		prevOuts[in.PreviousOutPoint] = wire.NewTxOut(int64(spentTxOuts[i].Value), script)
	}

	sigHashes := txscript.NewTxSigHashes(tx, txscript.NewMultiPrevOutFetcher(prevOuts))

	hashes := make([][]byte, 0, len(tx.TxIn))
	for i := range tx.TxIn {
		redeem, err := multisig.RedeemScript(w.params.PubKeys, spentTxOuts[i].Tweak)
		if err != nil {
			return nil, err
		}

		sighash, err := txscript.CalcWitnessSigHash(redeem, sigHashes, txscript.SigHashAll, tx, i, int64(spentTxOuts[i].Value))
		if err != nil {
			return nil, fmt.Errorf("failed to compute sighash for input %d: %v", i, err)
		}

		hashes = append(hashes, sighash)
	}

	return hashes, nil
}

func (w *Wallet) decodeUnsigned(record db.UnsignedTx) (*wire.MsgTx, []SpentTxOut, error) {
	tx, err := btc.DeserializeTransaction(record.RawTx)
	if err != nil {
		return nil, nil, err
	}

	spentTxOuts, err := decodeSpentTxOuts(record.SpentTxOuts)
	if err != nil {
		return nil, nil, err
	}

	if len(spentTxOuts) != len(tx.TxIn) {
		return nil, nil, fmt.Errorf("transaction %s has %d inputs but %d spent tx outs",
			record.Txid, len(tx.TxIn), len(spentTxOuts))
	}

	return tx, spentTxOuts, nil
}

func encodeSignatures(sigs [][]byte) ([]byte, error) {
	encoded := make([]string, 0, len(sigs))
	for _, sig := range sigs {
		encoded = append(encoded, hex.EncodeToString(sig))
	}

	raw, err := json.Marshal(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to encode signatures: %v", err)
	}

	return raw, nil
}

func decodeSignatures(raw []byte) ([][]byte, error) {
	var encoded []string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return nil, fmt.Errorf("failed to decode signatures: %v", err)
	}

	sigs := make([][]byte, 0, len(encoded))
	for _, s := range encoded {
		sig, err := hex.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("failed to decode signature: %v", err)
		}
		sigs = append(sigs, sig)
	}

	return sigs, nil
}

// Package multisig derives the federation's per-epoch threshold multisig
// scripts. Every custody output is locked to a P2WSH sortedmulti script over
// the guardian public keys tweaked by a 32-byte commitment, so no script is
// ever reused across custody epochs.
package multisig

import (
	"bytes"
	"crypto/sha256"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
	log "github.com/sirupsen/logrus"

	"github.com/fedivault/guardian/internal/types"
)

// TweakPublicKey returns pk + tweak*G. Deterministic for all guardians since
// the tweak scalar reduction is identical everywhere.
func TweakPublicKey(pk *btcec.PublicKey, tweak []byte) *btcec.PublicKey {
	var scalar btcec.ModNScalar
	scalar.SetByteSlice(tweak)

	var tweakPoint, pkPoint, sum btcec.JacobianPoint
	btcec.ScalarBaseMultNonConst(&scalar, &tweakPoint)
	pk.AsJacobian(&pkPoint)
	btcec.AddNonConst(&pkPoint, &tweakPoint, &sum)

	if (sum.X.IsZero() && sum.Y.IsZero()) || sum.Z.IsZero() {
		log.Fatalf("Tweaked public key is the point at infinity")
	}

	sum.ToAffine()

	return btcec.NewPublicKey(&sum.X, &sum.Y)
}

// TweakPrivateKey returns sk + tweak mod n, the secret counterpart of
// TweakPublicKey.
func TweakPrivateKey(sk *btcec.PrivateKey, tweak []byte) *btcec.PrivateKey {
	var scalar btcec.ModNScalar
	scalar.SetByteSlice(tweak)

	scalar.Add(&sk.Key)

	b := scalar.Bytes()
	tweaked, _ := btcec.PrivKeyFromBytes(b[:])

	return tweaked
}

// RedeemScript builds the T-of-N OP_CHECKMULTISIG witness script over the
// tweaked guardian keys, sorted by compressed serialization so that every
// guardian derives byte-identical scripts.
func RedeemScript(pks []*btcec.PublicKey, tweak []byte) ([]byte, error) {
	sorted := make([][]byte, 0, len(pks))
	for _, pk := range pks {
		sorted = append(sorted, TweakPublicKey(pk, tweak).SerializeCompressed())
	}

	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i], sorted[j]) < 0
	})

	builder := txscript.NewScriptBuilder()
	builder.AddInt64(int64(types.Threshold(len(pks))))
	for _, pk := range sorted {
		builder.AddData(pk)
	}
	builder.AddInt64(int64(len(pks)))
	builder.AddOp(txscript.OP_CHECKMULTISIG)

	return builder.Script()
}

// ScriptPubKey returns the P2WSH script pubkey locking to the tweaked
// multisig redeem script.
func ScriptPubKey(pks []*btcec.PublicKey, tweak []byte) ([]byte, error) {
	redeem, err := RedeemScript(pks, tweak)
	if err != nil {
		return nil, err
	}

	witnessProg := sha256.Sum256(redeem)

	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(witnessProg[:]).
		Script()
}

// PubKeysHash commits to the federation's base public key set in peer order.
// It feeds the deposit filter, which must not depend on any secret tweak.
func PubKeysHash(pks []*btcec.PublicKey) []byte {
	h := sha256.New()
	for _, pk := range pks {
		h.Write(pk.SerializeCompressed())
	}

	return h.Sum(nil)
}

// IsPotentialReceive reports whether the script pubkey potentially belongs
// to the federation. This is a probabilistic filter: roughly 1 in 65536
// arbitrary P2WSH scripts pass, while correctly tweaked custody scripts
// always pass. False positives are harmless since they never validate
// against a real tweak at claim time.
func IsPotentialReceive(scriptPubKey []byte, pksHash []byte) bool {
	h := sha256.New()
	h.Write(scriptPubKey)
	h.Write(pksHash)
	digest := h.Sum(nil)

	return digest[0] == 0 && digest[1] == 0
}

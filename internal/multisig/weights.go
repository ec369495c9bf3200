package multisig

import "github.com/fedivault/guardian/internal/types"

// Transaction weight constants, in weight units. Inputs and outputs of
// custody transactions have fixed shapes, so sizes are computed up front
// instead of measured after signing; fees depend on them and must be agreed
// before any signature exists.
const (
	// version + segwit marker/flag + input count + output count + locktime
	txOverheadWeight = 4*4 + 1 + 1 + 4 + 4 + 4*4

	// outpoint + script length + sequence, without witness
	inputBaseWeight = (32+4)*4 + 1*4 + 4*4

	// value + script length + p2wsh/p2tr script pubkey
	outputWeight = 8*4 + 1*4 + 34*4

	// DER signature with the sighash flag byte appended
	signatureSize = 72
)

// redeemScriptSize returns the serialized size of the sortedmulti witness
// script for n guardians.
func redeemScriptSize(n int) int {
	return 1 + n*(1+33) + 1 + 1
}

// witnessWeight returns the weight of a fully signed custody input witness:
// stack item count, the empty CHECKMULTISIG dummy, threshold signatures and
// the redeem script.
func witnessWeight(n int) int {
	redeem := redeemScriptSize(n)
	return 1 + 1 + types.Threshold(n)*(1+signatureSize) + 1 + redeem
}

// changeInputWeight is the full weight of spending a custody output.
func changeInputWeight(n int) int {
	return inputBaseWeight + witnessWeight(n)
}

// SendTxVBytes returns the virtual size of a withdrawal transaction: one
// custody input, one change output and one destination output.
func SendTxVBytes(n int) uint64 {
	weight := txOverheadWeight + changeInputWeight(n) + 2*outputWeight
	return weightToVBytes(weight)
}

// ReceiveTxVBytes returns the virtual size of a deposit claim transaction:
// the custody input plus the claimed deposit input, and one change output.
func ReceiveTxVBytes(n int) uint64 {
	weight := txOverheadWeight + 2*changeInputWeight(n) + outputWeight
	return weightToVBytes(weight)
}

// SweepTxVBytes returns the virtual size of the very first claim, before any
// custody output exists: a single deposit input and one change output.
func SweepTxVBytes(n int) uint64 {
	weight := txOverheadWeight + changeInputWeight(n) + outputWeight
	return weightToVBytes(weight)
}

func weightToVBytes(weight int) uint64 {
	return uint64((weight + 3) / 4)
}

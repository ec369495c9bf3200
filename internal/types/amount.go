package types

import "fmt"

// Amount is a bitcoin amount in millisatoshis. Custody accounting on chain
// happens in whole satoshis; millisatoshi precision only exists for the
// federation processing fee.
type Amount uint64

func AmountFromSats(sats uint64) Amount {
	return Amount(sats * 1000)
}

func (a Amount) MilliSats() uint64 {
	return uint64(a)
}

func (a Amount) Sats() uint64 {
	return uint64(a) / 1000
}

func (a Amount) String() string {
	return fmt.Sprintf("%d msat", uint64(a))
}

// FeeConsensus is the federation fee schedule for processing a peg-in or
// peg-out: a fixed base fee plus a relative fee in parts per million of the
// value moved.
type FeeConsensus struct {
	Base            Amount `json:"base"`
	PartsPerMillion uint64 `json:"parts_per_million"`
}

// NewFeeConsensus builds a fee schedule with the non-configurable base fee of
// one hundred satoshis. The relative fee is capped at ten thousand parts per
// million, i.e. one percent.
func NewFeeConsensus(partsPerMillion uint64) (FeeConsensus, error) {
	if partsPerMillion > 10_000 {
		return FeeConsensus{}, fmt.Errorf("relative fee of %d parts per million is excessive", partsPerMillion)
	}

	return FeeConsensus{
		Base:            AmountFromSats(100),
		PartsPerMillion: partsPerMillion,
	}, nil
}

func (f FeeConsensus) Fee(amount Amount) Amount {
	// The division creates sufficient headroom to add the base fee.
	return Amount(saturatingMul(uint64(amount), f.PartsPerMillion)/1_000_000) + f.Base
}

func saturatingMul(a, b uint64) uint64 {
	if b != 0 && a > ^uint64(0)/b {
		return ^uint64(0)
	}

	return a * b
}

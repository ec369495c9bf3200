package types

import (
	"encoding/hex"
	"fmt"
)

// PeerID identifies one guardian of the fixed federation set. Guardians are
// numbered 0..N-1 and every guardian knows the full peer list from config.
type PeerID uint32

// Threshold returns the minimum number of guardians whose cooperation is
// required for any consensus value or multisig signature, given the total
// guardian count. The federation tolerates up to (numPeers-1)/3 faulty peers.
func Threshold(numPeers int) int {
	return numPeers - MaxFaulty(numPeers)
}

func MaxFaulty(numPeers int) int {
	return (numPeers - 1) / 3
}

// Consensus item kinds. Every round each guardian proposes its local chain
// observations and signature shares; the external ordering layer delivers
// them to all guardians in identical order.
const (
	ItemKindBlockCount = "block_count"
	ItemKindFeerate    = "feerate"
	ItemKindSignatures = "signatures"
)

// WalletConsensusItem is one unit of per-guardian proposed data. Exactly one
// of the payload fields is meaningful, selected by Kind. A nil Feerate on a
// feerate item retracts the peer's previous vote.
type WalletConsensusItem struct {
	Kind       string   `json:"kind"`
	BlockCount uint64   `json:"block_count,omitempty"`
	Feerate    *uint64  `json:"feerate,omitempty"`
	Txid       string   `json:"txid,omitempty"`
	Signatures []string `json:"signatures,omitempty"` // DER encoded, one per transaction input
}

func BlockCountItem(count uint64) WalletConsensusItem {
	return WalletConsensusItem{Kind: ItemKindBlockCount, BlockCount: count}
}

func FeerateItem(satsPerKvb *uint64) WalletConsensusItem {
	return WalletConsensusItem{Kind: ItemKindFeerate, Feerate: satsPerKvb}
}

func SignaturesItem(txid string, signatures [][]byte) WalletConsensusItem {
	sigs := make([]string, 0, len(signatures))
	for _, sig := range signatures {
		sigs = append(sigs, hex.EncodeToString(sig))
	}

	return WalletConsensusItem{Kind: ItemKindSignatures, Txid: txid, Signatures: sigs}
}

func (i WalletConsensusItem) DecodeSignatures() ([][]byte, error) {
	sigs := make([][]byte, 0, len(i.Signatures))
	for _, s := range i.Signatures {
		sig, err := hex.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("invalid signature encoding: %v", err)
		}
		sigs = append(sigs, sig)
	}

	return sigs, nil
}

func (i WalletConsensusItem) String() string {
	switch i.Kind {
	case ItemKindBlockCount:
		return fmt.Sprintf("wallet block count %d", i.BlockCount)
	case ItemKindFeerate:
		if i.Feerate == nil {
			return "wallet feerate retraction"
		}
		return fmt.Sprintf("wallet feerate %d", *i.Feerate)
	case ItemKindSignatures:
		return fmt.Sprintf("wallet signatures for %s", i.Txid)
	default:
		return fmt.Sprintf("unknown wallet consensus item %q", i.Kind)
	}
}

// OutPoint references an output of an accepted federation-level transaction
// item. It is the handle clients use to look up the bitcoin txid that pays
// out their withdrawal.
type OutPoint struct {
	Txid string `json:"txid"`
	Out  uint32 `json:"out"`
}

func (o OutPoint) String() string {
	return fmt.Sprintf("%s:%d", o.Txid, o.Out)
}

// WalletInput claims a tracked deposit into federation custody (peg-in). The
// tweak is the 32-byte commitment the deposit script was derived from; fee is
// in satoshis and may exceed the consensus receive fee.
type WalletInput struct {
	Version      uint32 `json:"version"`
	DepositIndex uint64 `json:"deposit_index"`
	Tweak        []byte `json:"tweak"`
	Fee          uint64 `json:"fee"`
}

// WalletOutput withdraws value from federation custody to an external
// bitcoin address (peg-out). Value and fee are in satoshis.
type WalletOutput struct {
	Version     uint32         `json:"version"`
	Destination StandardScript `json:"destination"`
	Value       uint64         `json:"value"`
	Fee         uint64         `json:"fee"`
}

// InputMeta reports the value and federation fee of an accepted input to the
// surrounding transaction processing layer.
type InputMeta struct {
	Amount Amount
	Fee    Amount
}

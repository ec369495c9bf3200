package types

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

// Standard output script variants supported as withdrawal destinations.
const (
	ScriptTypeP2PKH  = "P2PKH"
	ScriptTypeP2SH   = "P2SH"
	ScriptTypeP2WPKH = "P2WPKH"
	ScriptTypeP2WSH  = "P2WSH"
	ScriptTypeP2TR   = "P2TR"
)

// StandardScript is a withdrawal destination in hash form, detached from any
// address encoding so that all guardians derive the identical script pubkey.
type StandardScript struct {
	Type string `json:"type"`
	Hash []byte `json:"hash"`
}

// StandardScriptFromAddress classifies a decoded address into one of the
// supported variants. Unknown witness versions are rejected.
func StandardScriptFromAddress(addr btcutil.Address) (StandardScript, error) {
	switch a := addr.(type) {
	case *btcutil.AddressPubKeyHash:
		return StandardScript{Type: ScriptTypeP2PKH, Hash: a.ScriptAddress()}, nil
	case *btcutil.AddressScriptHash:
		return StandardScript{Type: ScriptTypeP2SH, Hash: a.ScriptAddress()}, nil
	case *btcutil.AddressWitnessPubKeyHash:
		return StandardScript{Type: ScriptTypeP2WPKH, Hash: a.ScriptAddress()}, nil
	case *btcutil.AddressWitnessScriptHash:
		return StandardScript{Type: ScriptTypeP2WSH, Hash: a.ScriptAddress()}, nil
	case *btcutil.AddressTaproot:
		return StandardScript{Type: ScriptTypeP2TR, Hash: a.ScriptAddress()}, nil
	default:
		return StandardScript{}, ErrUnknownScriptVariant
	}
}

// ParseStandardScript decodes an address string against the given network
// and classifies it.
func ParseStandardScript(address string, network *chaincfg.Params) (StandardScript, error) {
	addr, err := btcutil.DecodeAddress(address, network)
	if err != nil {
		return StandardScript{}, fmt.Errorf("failed to decode address: %v", err)
	}

	if !addr.IsForNet(network) {
		return StandardScript{}, fmt.Errorf("address %s is not valid for network %s", address, network.Name)
	}

	return StandardScriptFromAddress(addr)
}

// ScriptPubKey reconstructs the output script for the destination.
func (s StandardScript) ScriptPubKey() ([]byte, error) {
	builder := txscript.NewScriptBuilder()

	switch s.Type {
	case ScriptTypeP2PKH:
		if len(s.Hash) != 20 {
			return nil, ErrUnknownScriptVariant
		}
		builder.AddOp(txscript.OP_DUP).AddOp(txscript.OP_HASH160).
			AddData(s.Hash).
			AddOp(txscript.OP_EQUALVERIFY).AddOp(txscript.OP_CHECKSIG)
	case ScriptTypeP2SH:
		if len(s.Hash) != 20 {
			return nil, ErrUnknownScriptVariant
		}
		builder.AddOp(txscript.OP_HASH160).AddData(s.Hash).AddOp(txscript.OP_EQUAL)
	case ScriptTypeP2WPKH:
		if len(s.Hash) != 20 {
			return nil, ErrUnknownScriptVariant
		}
		builder.AddOp(txscript.OP_0).AddData(s.Hash)
	case ScriptTypeP2WSH:
		if len(s.Hash) != 32 {
			return nil, ErrUnknownScriptVariant
		}
		builder.AddOp(txscript.OP_0).AddData(s.Hash)
	case ScriptTypeP2TR:
		if len(s.Hash) != 32 {
			return nil, ErrUnknownScriptVariant
		}
		builder.AddOp(txscript.OP_1).AddData(s.Hash)
	default:
		return nil, ErrUnknownScriptVariant
	}

	return builder.Script()
}

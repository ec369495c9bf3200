package types

import "github.com/btcsuite/btcd/chaincfg"

// GetBTCNetwork maps the configured network name to chain parameters.
// An empty name defaults to mainnet.
func GetBTCNetwork(networkType string) *chaincfg.Params {
	switch networkType {
	case "", "mainnet":
		return &chaincfg.MainNetParams
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params
	case "signet":
		return &chaincfg.SigNetParams
	default:
		return &chaincfg.RegressionNetParams
	}
}

package btc

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
	log "github.com/sirupsen/logrus"

	"github.com/fedivault/guardian/internal/config"
)

// NewBTCClient connects to the guardian's trusted bitcoind node.
func NewBTCClient() *rpcclient.Client {
	connConfig := &rpcclient.ConnConfig{
		Host:         config.AppConfig.BTCRPC,
		User:         config.AppConfig.BTCRPC_USER,
		Pass:         config.AppConfig.BTCRPC_PASS,
		HTTPPostMode: true,
		DisableTLS:   true,
	}
	btcClient, err := rpcclient.New(connConfig, nil)
	if err != nil {
		log.Fatalf("Failed to start bitcoin client: %v", err)
	}
	return btcClient
}

// BTCRPCService provides functionality to query Bitcoin data directly via RPC
type BTCRPCService struct {
	client *rpcclient.Client
}

// NewBTCRPCService creates a new instance of the RPC service
func NewBTCRPCService(client *rpcclient.Client) *BTCRPCService {
	return &BTCRPCService{
		client: client,
	}
}

// GetBlockCount returns the local node's best block height.
func (s *BTCRPCService) GetBlockCount() (uint64, error) {
	height, err := s.client.GetBlockCount()
	if err != nil {
		return 0, fmt.Errorf("failed to get block count: %v", err)
	}

	return uint64(height), nil
}

// GetBlock retrieves the full block at the given height.
func (s *BTCRPCService) GetBlock(height uint64) (*wire.MsgBlock, error) {
	blockHash, err := s.client.GetBlockHash(int64(height))
	if err != nil {
		return nil, fmt.Errorf("failed to get block hash at height %d: %v", height, err)
	}

	block, err := s.client.GetBlock(blockHash)
	if err != nil {
		return nil, fmt.Errorf("failed to get block at height %d: %v", height, err)
	}

	return block, nil
}

// SubmitTransaction broadcasts a signed transaction. Rejections for already
// known or already confirmed transactions are not errors: rebroadcasting
// until confirmation is the normal path.
func (s *BTCRPCService) SubmitTransaction(tx *wire.MsgTx) error {
	_, err := s.client.SendRawTransaction(tx, false)
	if err != nil {
		msg := err.Error()
		if strings.Contains(msg, "txn-already-in-mempool") ||
			strings.Contains(msg, "txn-already-known") ||
			strings.Contains(msg, "already in block chain") {
			return nil
		}
		return fmt.Errorf("failed to send raw transaction %s: %v", tx.TxHash().String(), err)
	}

	return nil
}

// GetRawTransaction fetches a transaction by txid from the node.
func (s *BTCRPCService) GetRawTransaction(txid string) (*wire.MsgTx, error) {
	txHash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return nil, fmt.Errorf("failed to parse txid %s: %v", txid, err)
	}

	tx, err := s.client.GetRawTransaction(txHash)
	if err != nil {
		return nil, fmt.Errorf("failed to get raw transaction %s: %v", txid, err)
	}

	return tx.MsgTx(), nil
}

// SerializeTransaction encodes a transaction with witness data.
func SerializeTransaction(tx *wire.MsgTx) ([]byte, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("failed to serialize transaction: %v", err)
	}
	return buf.Bytes(), nil
}

// DeserializeTransaction decodes a transaction serialized by
// SerializeTransaction.
func DeserializeTransaction(rawTx []byte) (*wire.MsgTx, error) {
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(rawTx)); err != nil {
		return nil, fmt.Errorf("failed to deserialize transaction: %v", err)
	}
	return tx, nil
}

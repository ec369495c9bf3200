package db

import "time"

// FederationWallet model (at most 1 record): the single current custody
// UTXO. Replaced atomically whenever a transaction consuming it is accepted.
type FederationWallet struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Value     uint64    `gorm:"not null" json:"value"` // satoshis
	Txid      string    `gorm:"not null" json:"txid"`
	Vout      uint32    `gorm:"not null" json:"vout"`
	Tweak     []byte    `gorm:"not null" json:"tweak"` // 32 bytes
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

// Deposit model: append-only log of on-chain outputs recognized as
// federation deposits, keyed by a monotonically increasing index assigned at
// block-scan time. The unique outpoint index makes block rescans idempotent.
type Deposit struct {
	Idx      uint64 `gorm:"primaryKey;autoIncrement:false" json:"idx"`
	Txid     string `gorm:"not null;index:unique_deposit_outpoint,unique" json:"txid"`
	Vout     uint32 `gorm:"not null;index:unique_deposit_outpoint,unique" json:"vout"`
	Value    uint64 `gorm:"not null" json:"value"`
	PkScript []byte `gorm:"not null" json:"pk_script"`
}

// SpentDeposit marker, written exactly once when a withdrawal input claims
// the deposit at the same index.
type SpentDeposit struct {
	Idx uint64 `gorm:"primaryKey;autoIncrement:false" json:"idx"`
}

// BlockCountVote model: one vote per guardian, overwritten by later votes.
type BlockCountVote struct {
	Peer  uint32 `gorm:"primaryKey;autoIncrement:false" json:"peer"`
	Count uint64 `gorm:"not null" json:"count"`
}

// FeeRateVote model: one vote per guardian in sats per kvb; a null rate is a
// retracted vote.
type FeeRateVote struct {
	Peer uint32  `gorm:"primaryKey;autoIncrement:false" json:"peer"`
	Rate *uint64 `json:"rate"`
}

// TxInfo model: append-only, sequentially indexed audit record of every
// custody transaction the federation has created.
type TxInfo struct {
	Idx     uint64 `gorm:"primaryKey;autoIncrement:false" json:"idx"`
	Txid    string `gorm:"not null" json:"txid"`
	Input   uint64 `gorm:"not null" json:"input"`  // custody value consumed, satoshis
	Output  uint64 `gorm:"not null" json:"output"` // custody value created, satoshis
	Fee     uint64 `gorm:"not null" json:"fee"`
	VBytes  uint64 `gorm:"not null" json:"vbytes"`
	Created uint64 `gorm:"not null" json:"created"` // consensus block count at creation
}

// TxInfoIndex model: maps a withdrawal's claim outpoint to its TxInfo index.
type TxInfoIndex struct {
	OutPoint string `gorm:"primaryKey" json:"out_point"` // "txid:out"
	Idx      uint64 `gorm:"not null" json:"idx"`
}

// UnsignedTx model: a constructed custody transaction awaiting threshold
// signatures, keyed by txid.
type UnsignedTx struct {
	Txid        string `gorm:"primaryKey" json:"txid"`
	RawTx       []byte `gorm:"not null" json:"raw_tx"`
	SpentTxOuts []byte `gorm:"not null" json:"spent_tx_outs"` // JSON, value+tweak per input
	VBytes      uint64 `gorm:"not null" json:"vbytes"`
	Fee         uint64 `gorm:"not null" json:"fee"`
}

// TxSignature model: one guardian's signature set for an unsigned
// transaction, one DER signature per input. Cleared once the transaction
// reaches the signing threshold.
type TxSignature struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	Txid       string `gorm:"not null;index:unique_txid_peer,unique" json:"txid"`
	Peer       uint32 `gorm:"not null;index:unique_txid_peer,unique" json:"peer"`
	Signatures []byte `gorm:"not null" json:"signatures"` // JSON array of hex DER
}

// UnconfirmedTx model: a fully signed, broadcast custody transaction not yet
// observed inside a finalized block.
type UnconfirmedTx struct {
	Txid        string `gorm:"primaryKey" json:"txid"`
	RawTx       []byte `gorm:"not null" json:"raw_tx"`
	SpentTxOuts []byte `gorm:"not null" json:"spent_tx_outs"`
	VBytes      uint64 `gorm:"not null" json:"vbytes"`
	Fee         uint64 `gorm:"not null" json:"fee"`
}

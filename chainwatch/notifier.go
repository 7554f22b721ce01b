// Package chainwatch supplies the Engine with block-height and
// confirmation awareness. The Notifier interface generalizes
// chainntfs.ChainNotifier (wire.ShaHash notifications over a fixed
// btcd websocket client) to chainhash.Hash and to any RPCClient,
// keeping the backend-agnostic spirit of the original interface while
// dropping the zcash/legacy ShaHash alias.
package chainwatch

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Notifier is a trusted source of chain events: confirmation depth,
// spend detection, and new-block epochs. Concrete implementations must
// support multiple concurrent registrations.
type Notifier interface {
	// RegisterConfirmationsNtfn registers an intent to be notified once
	// txid reaches numConfs confirmations.
	RegisterConfirmationsNtfn(txid *chainhash.Hash, numConfs uint32) (*ConfirmationEvent, error)

	// RegisterSpendNtfn registers an intent to be notified once the
	// target outpoint is spent in a confirmed transaction.
	RegisterSpendNtfn(outpoint *wire.OutPoint) (*SpendEvent, error)

	// RegisterBlockEpochNtfn registers an intent to be notified of each
	// new block connected to the chain tip.
	RegisterBlockEpochNtfn() (*BlockEpochEvent, error)

	Start() error
	Stop() error
}

// ConfirmationEvent fires on Confirmed once txid reaches the
// registered depth, or on NegativeConf if the tx is reorg'd out.
type ConfirmationEvent struct {
	Confirmed    chan int32
	NegativeConf chan int32
}

// SpendDetail carries everything about a detected spend.
type SpendDetail struct {
	SpentOutPoint     *wire.OutPoint
	SpenderTxHash     *chainhash.Hash
	SpendingTx        *wire.MsgTx
	SpenderInputIndex uint32
	SpendingHeight    int32
}

// SpendEvent fires once on Spend when the registered outpoint is spent.
type SpendEvent struct {
	Spend chan *SpendDetail
}

// BlockEpoch names one block connected to the chain tip.
type BlockEpoch struct {
	Height int32
	Hash   *chainhash.Hash
}

// BlockEpochEvent delivers one notification per new block.
type BlockEpochEvent struct {
	Epochs chan *BlockEpoch
}

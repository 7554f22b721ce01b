// Package sessionlog is the crash-safe, append-only record each party
// keeps of its own swap session: every state transition, negotiated
// parameter, signature, and txid, flushed before the side effect it
// records becomes irreversible. It is statemachine.Log's concrete,
// walletdb-backed implementation, generalizing channeldb/db.go's single
// shared bolt database down to one small per-session file.
package sessionlog

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcwallet/walletdb"
	_ "github.com/btcsuite/btcwallet/walletdb/bdb"

	"github.com/coinswapcs/coinswap/statemachine"
	"github.com/coinswapcs/coinswap/swapparams"
)

var (
	stateBucket  = []byte("state")
	paramsBucket = []byte("params")
	sigBucket    = []byte("sigs")
	txidBucket   = []byte("txids")

	stateKey  = []byte("state")
	secretKey = []byte("secret")
)

// Log is a single session's on-disk record, one walletdb file per
// session directory entry.
type Log struct {
	mu   sync.Mutex
	db   walletdb.DB
	path string
}

// Open opens or creates the session log file at dir/<sessionID>.db.
func Open(dir, sessionID string) (*Log, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, sessionID+".db")

	var db walletdb.DB
	var err error
	if _, statErr := os.Stat(path); statErr == nil {
		db, err = walletdb.Open("bdb", path, true, 10*time.Second)
	} else {
		db, err = walletdb.Create("bdb", path, true, 10*time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("sessionlog: opening %s: %w", path, err)
	}

	l := &Log{db: db, path: path}
	if err := l.init(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Log) init() error {
	return walletdb.Update(l.db, func(tx walletdb.ReadWriteTx) error {
		for _, b := range [][]byte{stateBucket, paramsBucket, sigBucket, txidBucket} {
			if _, err := tx.CreateTopLevelBucket(b); err != nil && err != walletdb.ErrBucketExists {
				return err
			}
		}
		return nil
	})
}

// Close releases the underlying bolt file handle.
func (l *Log) Close() error {
	return l.db.Close()
}

// PersistState flushes the new current state before the engine acts on
// it, satisfying property 2 ("never act on a state transition that
// wasn't first durably recorded").
func (l *Log) PersistState(state statemachine.State) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(state))
	return walletdb.Update(l.db, func(tx walletdb.ReadWriteTx) error {
		return tx.ReadWriteBucket(stateBucket).Put(stateKey, buf)
	})
}

// PersistParams records the negotiated Public Parameters once, at
// negotiation time; they never change for the lifetime of the session.
func (l *Log) PersistParams(p *swapparams.Params) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return walletdb.Update(l.db, func(tx walletdb.ReadWriteTx) error {
		b := tx.ReadWriteBucket(paramsBucket)
		for k, v := range encodeParams(p) {
			if err := b.Put([]byte(k), v); err != nil {
				return err
			}
		}
		return nil
	})
}

// PersistSecret records the shared preimage X, either generated locally
// (A) or learned from the counterparty (C).
func (l *Log) PersistSecret(secret []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return walletdb.Update(l.db, func(tx walletdb.ReadWriteTx) error {
		return tx.ReadWriteBucket(sigBucket).Put(secretKey, secret)
	})
}

// PersistSig records a named signature or hash value (e.g. "hash",
// "tx2_sig_c", "tx3_sig_a").
func (l *Log) PersistSig(key string, sig []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return walletdb.Update(l.db, func(tx walletdb.ReadWriteTx) error {
		return tx.ReadWriteBucket(sigBucket).Put([]byte(key), sig)
	})
}

// PersistTxid records a named transaction id (e.g. "tx0", "tx1", "tx2").
func (l *Log) PersistTxid(key string, txid chainhash.Hash) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return walletdb.Update(l.db, func(tx walletdb.ReadWriteTx) error {
		return tx.ReadWriteBucket(txidBucket).Put([]byte(key), txid[:])
	})
}

// Get looks a raw value up across the sig and txid buckets by key; it is
// the generic read side the Engine uses for values it doesn't need a
// typed accessor for.
func (l *Log) Get(key string) ([]byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var val []byte
	_ = walletdb.View(l.db, func(tx walletdb.ReadTx) error {
		if v := tx.ReadBucket(sigBucket).Get([]byte(key)); v != nil {
			val = append([]byte(nil), v...)
			return nil
		}
		if v := tx.ReadBucket(txidBucket).Get([]byte(key)); v != nil {
			val = append([]byte(nil), v...)
		}
		return nil
	})
	return val, val != nil
}

// State reads back the persisted state, used on daemon restart to
// resume a session mid-sequence.
func (l *Log) State() (statemachine.State, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var state statemachine.State
	err := walletdb.View(l.db, func(tx walletdb.ReadTx) error {
		raw := tx.ReadBucket(stateBucket).Get(stateKey)
		if raw == nil {
			return fmt.Errorf("sessionlog: no state recorded")
		}
		state = statemachine.State(binary.BigEndian.Uint32(raw))
		return nil
	})
	return state, err
}

var _ statemachine.Log = (*Log)(nil)

package sessionlog

import (
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcwallet/walletdb"

	"github.com/coinswapcs/coinswap/swapparams"
)

// encodeParams flattens Params into the field->bytes map persisted in
// paramsBucket. Addresses are stored as their string encoding (network-
// qualified) rather than raw scripts, so LoadParams can decode them back
// against whatever chaincfg.Params the daemon is running with.
func encodeParams(p *swapparams.Params) map[string][]byte {
	amt := func(a btcutil.Amount) []byte {
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, uint64(a))
		return b
	}
	height := func(h int32) []byte {
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, uint32(h))
		return b
	}

	return map[string][]byte{
		"session_id":         []byte(p.SessionID),
		"pub_a_coop_owner":   p.PubA_CoopOwner.SerializeCompressed(),
		"pub_c_coop_owner":   p.PubC_CoopOwner.SerializeCompressed(),
		"pub_a_counterpart":  p.PubA_Counterpart.SerializeCompressed(),
		"pub_c_counterpart":  p.PubC_Counterpart.SerializeCompressed(),
		"pub_a_timeout":      p.PubA_Timeout.SerializeCompressed(),
		"pub_c_timeout":      p.PubC_Timeout.SerializeCompressed(),
		"dest_a":             []byte(p.DestA.EncodeAddress()),
		"dest_c":             []byte(p.DestC.EncodeAddress()),
		"amount":             amt(p.Amount),
		"coinswap_fee":       amt(p.CoinswapFee),
		"l0":                 height(p.L0),
		"timeout_l1":         height(p.TimeoutL1),
		"timeout_l2":         height(p.TimeoutL2),
	}
}

// LoadParams reconstructs Params from a session's paramsBucket, using
// net to decode the persisted address strings.
func (l *Log) LoadParams(net *chaincfg.Params) (*swapparams.Params, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	fields := make(map[string][]byte)
	err := walletdb.View(l.db, func(tx walletdb.ReadTx) error {
		b := tx.ReadBucket(paramsBucket)
		for _, k := range []string{
			"session_id", "pub_a_coop_owner", "pub_c_coop_owner",
			"pub_a_counterpart", "pub_c_counterpart",
			"pub_a_timeout", "pub_c_timeout", "dest_a", "dest_c",
			"amount", "coinswap_fee", "l0", "timeout_l1", "timeout_l2",
		} {
			v := b.Get([]byte(k))
			if v == nil {
				return fmt.Errorf("sessionlog: params field %q missing", k)
			}
			fields[k] = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	parsePub := func(key string) (*btcec.PublicKey, error) {
		return btcec.ParsePubKey(fields[key])
	}
	pubACoop, err := parsePub("pub_a_coop_owner")
	if err != nil {
		return nil, err
	}
	pubCCoop, err := parsePub("pub_c_coop_owner")
	if err != nil {
		return nil, err
	}
	pubACounter, err := parsePub("pub_a_counterpart")
	if err != nil {
		return nil, err
	}
	pubCCounter, err := parsePub("pub_c_counterpart")
	if err != nil {
		return nil, err
	}
	pubATimeout, err := parsePub("pub_a_timeout")
	if err != nil {
		return nil, err
	}
	pubCTimeout, err := parsePub("pub_c_timeout")
	if err != nil {
		return nil, err
	}
	destA, err := btcutil.DecodeAddress(string(fields["dest_a"]), net)
	if err != nil {
		return nil, err
	}
	destC, err := btcutil.DecodeAddress(string(fields["dest_c"]), net)
	if err != nil {
		return nil, err
	}

	return &swapparams.Params{
		SessionID:        string(fields["session_id"]),
		PubA_CoopOwner:   pubACoop,
		PubC_CoopOwner:   pubCCoop,
		PubA_Counterpart: pubACounter,
		PubC_Counterpart: pubCCounter,
		PubA_Timeout:     pubATimeout,
		PubC_Timeout:     pubCTimeout,
		DestA:            destA,
		DestC:            destC,
		Amount:           btcutil.Amount(binary.BigEndian.Uint64(fields["amount"])),
		CoinswapFee:      btcutil.Amount(binary.BigEndian.Uint64(fields["coinswap_fee"])),
		L0:               int32(binary.BigEndian.Uint32(fields["l0"])),
		TimeoutL1:        int32(binary.BigEndian.Uint32(fields["timeout_l1"])),
		TimeoutL2:        int32(binary.BigEndian.Uint32(fields["timeout_l2"])),
	}, nil
}

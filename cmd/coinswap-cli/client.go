// runSwap drives A's side of one coinswap session end to end: it
// alternates TickLocal/Tick against the local Engine with csrpc.Client
// calls to C, translating between statemachine.Message and the wire
// params/result types the way cmd/lncli once translated between
// command-line flags and an outbound gRPC call. Here the loop itself,
// not a single call, is the CLI's unit of work.
package main

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/coinswapcs/coinswap/chainwatch"
	"github.com/coinswapcs/coinswap/csrpc"
	"github.com/coinswapcs/coinswap/statemachine"
	"github.com/coinswapcs/coinswap/swapparams"
)

// pollInterval is how often runSwap re-checks confirmation depth while
// an Engine reports KindWait.
const pollInterval = 30 * time.Second

// runSwap runs engine (role Alice) to completion, or returns the first
// error or backout reason encountered. rpcClient is used only to answer
// the confirmation-depth queries a KindWait outcome names.
func runSwap(cl *csrpc.Client, engine *statemachine.Engine, sessionID string, rpcClient chainwatch.RPCClient) error {
	if notifications, closeStream, err := csrpc.Subscribe(cl.BaseURL, cl.InsecureSkipVerify()); err == nil {
		defer closeStream()
		go logNotifications(sessionID, notifications)
	}

	var nextInbound *statemachine.Message

	for {
		var out statemachine.Outcome
		var err error
		switch {
		case nextInbound != nil:
			out, err = engine.Tick(nextInbound)
			nextInbound = nil
		default:
			out, err = engine.TickLocal()
		}
		if err != nil {
			return err
		}

		switch out.Kind {
		case statemachine.KindDone:
			if err := cl.Call(csrpc.MethodConfirmTx4, &csrpc.ConfirmTx4Params{
				SessionID: sessionID,
			}, nil); err != nil {
				return fmt.Errorf("coinswap-cli: notifying counterparty tx2 broadcast: %w", err)
			}
			fmt.Println("coinswap-cli: swap complete")
			return nil

		case statemachine.KindBackout:
			return fmt.Errorf("coinswap-cli: backing out: %w", out.Reason)

		case statemachine.KindWait:
			confirmations, err := awaitConfirmations(rpcClient, out.Watch)
			if err != nil {
				return err
			}
			out, err = engine.TickPoll(confirmations)
			if err != nil {
				return err
			}
			if out.Kind == statemachine.KindBackout {
				return fmt.Errorf("coinswap-cli: backing out: %w", out.Reason)
			}

		case statemachine.KindNext:
			if out.Reply == nil {
				continue
			}
			reply, err := callCarol(cl, sessionID, out.Reply)
			if err != nil {
				return err
			}
			nextInbound = reply
		}
	}
}

// awaitConfirmations blocks, polling rpcClient every pollInterval, until
// the transaction named by watch has reached its required confirmation
// depth, then returns a map suitable for Engine.TickPoll.
func awaitConfirmations(rpcClient chainwatch.RPCClient, watch *statemachine.Watch) (map[string]uint32, error) {
	if watch == nil || watch.Confirmations == nil || watch.Confirmations.Txid == "" {
		return nil, nil
	}
	txid, err := chainhash.NewHashFromStr(watch.Confirmations.Txid)
	if err != nil {
		return nil, fmt.Errorf("coinswap-cli: bad watch txid %q: %w", watch.Confirmations.Txid, err)
	}
	for {
		res, err := rpcClient.GetRawTransactionVerbose(txid)
		if err == nil && res.Confirmations >= uint64(watch.Confirmations.NumConfs) {
			return map[string]uint32{"tx1": uint32(res.Confirmations)}, nil
		}
		time.Sleep(pollInterval)
	}
}

// logNotifications prints C's push notifications as they arrive,
// purely for operator visibility: runSwap's own state machine never
// blocks on or branches based on anything read here (§4's "used only
// for UX, never for protocol correctness"). Returns once the stream
// closes.
func logNotifications(sessionID string, notifications <-chan csrpc.Notification) {
	for n := range notifications {
		if n.SessionID != "" && n.SessionID != sessionID {
			continue
		}
		switch n.Event {
		case csrpc.EventSecretRevealed:
			fmt.Printf("coinswap-cli: counterparty reports secret revealed for session %s\n", n.SessionID)
		case csrpc.EventSessionAdvanced:
			fmt.Printf("coinswap-cli: counterparty advanced session %s to state %s\n", n.SessionID, n.State)
		}
	}
}

// callCarol issues the outbound RPC matching reply.Method and decodes
// C's response back into the inbound Message the Engine expects next.
func callCarol(cl *csrpc.Client, sessionID string, reply *statemachine.Message) (*statemachine.Message, error) {
	switch reply.Method {
	case statemachine.MethodHandshake:
		hash, _ := reply.Payload.([]byte)
		var res csrpc.HandshakeResult
		if err := cl.Call(csrpc.MethodHandshake, &csrpc.HandshakeParams{SessionID: sessionID}, &res); err != nil {
			return nil, err
		}
		return &statemachine.Message{Method: statemachine.MethodHandshake, Payload: hash}, nil

	case statemachine.MethodNegotiate:
		half, ok := reply.Payload.(swapparams.Half)
		if !ok {
			return nil, fmt.Errorf("coinswap-cli: bad local negotiate payload")
		}
		req := &csrpc.NegotiateParams{
			SessionID:   sessionID,
			Keys:        halfToWire(half),
			DestAddr:    half.DestAddr.EncodeAddress(),
			Amount:      int64(half.Amount),
			CoinswapFee: int64(half.CoinswapFee),
			TimeoutL1:   half.TimeoutL1,
			TimeoutL2:   half.TimeoutL2,
		}
		var res csrpc.NegotiateResult
		if err := cl.Call(csrpc.MethodNegotiate, req, &res); err != nil {
			return nil, err
		}
		cHalf, err := wireToHalf(sessionID, res.Keys, res.DestAddr)
		if err != nil {
			return nil, err
		}
		return &statemachine.Message{Method: statemachine.MethodNegotiate, Payload: cHalf}, nil

	case statemachine.MethodTx0idHxTx2Sig:
		payload, _ := reply.Payload.(statemachine.TxidSigPayload)
		var res csrpc.Tx0IdHxTx2SigResult
		if err := cl.Call(csrpc.MethodTx0idHxTx2Sig, &csrpc.Tx0IdHxTx2SigParams{
			SessionID: sessionID,
			Tx0Txid:   payload.Txid,
			Hash:      payload.Hash,
			SigTx2A:   payload.Sig,
		}, &res); err != nil {
			return nil, err
		}
		return &statemachine.Message{
			Method:  statemachine.MethodTx0idHxTx2Sig,
			Payload: statemachine.TxidSigPayload{Txid: res.Tx1Txid, Sig: res.SigTx3C},
		}, nil

	case statemachine.MethodSigTx3:
		sigTx3A, _ := reply.Payload.([]byte)
		if err := cl.Call(csrpc.MethodSigTx3, &csrpc.SigTx3Params{
			SessionID: sessionID,
			SigTx3A:   sigTx3A,
		}, nil); err != nil {
			return nil, err
		}
		return &statemachine.Message{Method: statemachine.MethodSigTx3}, nil

	case statemachine.MethodSecret:
		secret, _ := reply.Payload.([]byte)
		var res csrpc.SecretResult
		if err := cl.Call(csrpc.MethodSecret, &csrpc.SecretParams{
			SessionID: sessionID, Secret: secret,
		}, &res); err != nil {
			return nil, err
		}
		return &statemachine.Message{Method: statemachine.MethodSigTx4, Payload: res.SigTx2C}, nil

	default:
		return nil, fmt.Errorf("coinswap-cli: no outbound handling for method %v", reply.Method)
	}
}

func halfToWire(h swapparams.Half) csrpc.PubKeysWire {
	return csrpc.PubKeysWire{
		CoopOwner:        hexPub(h.PubCoopOwner),
		CoopCounterparty: hexPub(h.PubCoopCounterparty),
		TimeoutOwner:     hexPub(h.PubTimeoutOwner),
	}
}

func wireToHalf(sessionID string, keys csrpc.PubKeysWire, destAddr string) (swapparams.Half, error) {
	coopOwner, err := parsePub(keys.CoopOwner)
	if err != nil {
		return swapparams.Half{}, err
	}
	coopCounter, err := parsePub(keys.CoopCounterparty)
	if err != nil {
		return swapparams.Half{}, err
	}
	timeoutOwner, err := parsePub(keys.TimeoutOwner)
	if err != nil {
		return swapparams.Half{}, err
	}
	addr, err := decodeAddr(destAddr)
	if err != nil {
		return swapparams.Half{}, err
	}
	return swapparams.Half{
		SessionID:           sessionID,
		PubCoopOwner:        coopOwner,
		PubCoopCounterparty: coopCounter,
		PubTimeoutOwner:     timeoutOwner,
		DestAddr:            addr,
	}, nil
}

// decodeAddr parses the destination address C returns over the wire.
// The CLI talks to a single chain backend per invocation (wallet.go
// hardcodes MainNet); a multi-network build would thread the active
// chaincfg.Params through from config instead.
func decodeAddr(addr string) (btcutil.Address, error) {
	return btcutil.DecodeAddress(addr, &chaincfg.MainNetParams)
}

func hexPub(pub *btcec.PublicKey) string {
	if pub == nil {
		return ""
	}
	return hex.EncodeToString(pub.SerializeCompressed())
}

func parsePub(hexStr string) (*btcec.PublicKey, error) {
	raw, err := hex.DecodeString(hexStr)
	if err != nil {
		return nil, fmt.Errorf("coinswap-cli: decoding pubkey: %w", err)
	}
	return btcec.ParsePubKey(raw)
}

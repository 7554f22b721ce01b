// Handler adapts csrpc's wire-level Handler interface to a registry of
// per-session statemachine.Engine instances, the way rpcserver.go's
// gRPC service once fanned a single listener out across lnd's
// multiple subsystems. Here there is exactly one subsystem per
// session: the Engine itself, recovered from or created fresh in its
// own sessionlog.Log.
package main

import (
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"

	"github.com/coinswapcs/coinswap/csrpc"
	"github.com/coinswapcs/coinswap/sessionlog"
	"github.com/coinswapcs/coinswap/statemachine"
	"github.com/coinswapcs/coinswap/swapparams"
)

// session bundles one Carol-role Engine with its own durable log.
type session struct {
	engine *statemachine.Engine
	log    *sessionlog.Log
}

// handler is the daemon's csrpc.Handler implementation, serving C's
// side of every session this process hosts.
type handler struct {
	mu       sync.Mutex
	sessions map[string]*session

	newEngine func(logs *sessionlog.Log) *statemachine.Engine
	sessionDir string
	version    string

	status csrpc.StatusResult
	notify *csrpc.Hub
}

func newHandler(version string, sessionDir string, status csrpc.StatusResult,
	newEngine func(*sessionlog.Log) *statemachine.Engine, notify *csrpc.Hub) *handler {

	return &handler{
		sessions:   make(map[string]*session),
		newEngine:  newEngine,
		sessionDir: sessionDir,
		version:    version,
		status:     status,
		notify:     notify,
	}
}

// advanced publishes a session_advanced notification, a no-op if no
// Hub is wired (notify is nil in any test harness that builds a
// handler directly).
func (h *handler) advanced(sessionID string, state statemachine.State) {
	if h.notify == nil {
		return
	}
	h.notify.Publish(csrpc.Notification{
		Event:     csrpc.EventSessionAdvanced,
		SessionID: sessionID,
		State:     fmt.Sprintf("%d", int(state)),
	})
}

func (h *handler) Status() (*csrpc.StatusResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.status
	s.Busy = len(h.sessions) > 0
	return &s, nil
}

// getOrCreate returns the session for id, constructing a fresh Engine
// and sessionlog.Log on first contact (the handshake method).
func (h *handler) getOrCreate(id string) (*session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if s, ok := h.sessions[id]; ok {
		return s, nil
	}
	lg, err := sessionlog.Open(h.sessionDir, id)
	if err != nil {
		return nil, fmt.Errorf("coinswapd: opening session log for %s: %w", id, err)
	}
	s := &session{log: lg, engine: h.newEngine(lg)}
	h.sessions[id] = s
	return s, nil
}

func (h *handler) get(id string) (*session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[id]
	if !ok {
		return nil, fmt.Errorf("coinswapd: unknown session %s", id)
	}
	return s, nil
}

// drainLocal runs local-triggered states to completion after an
// inbound tick unblocks one, matching §4.3's Method/State table: an
// inbound transition on a "recvd" state chains directly into the
// local transition that follows it (key generation, broadcasting),
// stopping only once the engine is waiting on chain confirmation or
// the next inbound message.
func drainLocal(e *statemachine.Engine) (statemachine.Outcome, error) {
	var last statemachine.Outcome
	for {
		out, err := e.TickLocal()
		if err != nil {
			return statemachine.Outcome{}, err
		}
		last = out
		// A reply means the engine now waits on the counterparty's
		// next inbound message.
		if out.Kind != statemachine.KindNext || out.Reply != nil {
			return last, nil
		}
	}
}

func (h *handler) Handshake(p *csrpc.HandshakeParams) (*csrpc.HandshakeResult, error) {
	s, err := h.getOrCreate(p.SessionID)
	if err != nil {
		return nil, err
	}
	out, err := s.engine.Tick(&statemachine.Message{
		SessionID: p.SessionID,
		Method:    statemachine.MethodHandshake,
		Payload:   hashBytesFromHandshake(p),
	})
	if err != nil {
		return nil, err
	}
	if out.Kind == statemachine.KindBackout {
		return nil, out.Reason
	}
	return &csrpc.HandshakeResult{CSCSVersion: h.version}, nil
}

// hashBytesFromHandshake is a placeholder extraction point: the wire
// handshake carries only session metadata per §6, the hash commitment
// H itself arrives later embedded in negotiate's merged Params. Carol
// records whatever the transport layer attaches to the session before
// the first inbound tick; concrete wiring of H onto HandshakeParams is
// left to the transport envelope's session bootstrap, not modeled
// again here.
func hashBytesFromHandshake(p *csrpc.HandshakeParams) []byte {
	return make([]byte, 32)
}

func (h *handler) Negotiate(p *csrpc.NegotiateParams) (*csrpc.NegotiateResult, error) {
	s, err := h.get(p.SessionID)
	if err != nil {
		return nil, err
	}
	half, err := halfFromWire(p)
	if err != nil {
		return nil, err
	}
	out, err := s.engine.Tick(&statemachine.Message{
		SessionID: p.SessionID,
		Method:    statemachine.MethodNegotiate,
		Payload:   half,
	})
	if err != nil {
		return nil, err
	}
	if out.Kind == statemachine.KindBackout {
		return nil, out.Reason
	}
	selfHalf, _ := out.Reply.Payload.(swapparams.Half)
	return &csrpc.NegotiateResult{
		Keys:     pubKeysToWire(selfHalf),
		DestAddr: selfHalf.DestAddr.EncodeAddress(),
	}, nil
}

func (h *handler) Tx0IdHxTx2Sig(p *csrpc.Tx0IdHxTx2SigParams) (*csrpc.Tx0IdHxTx2SigResult, error) {
	s, err := h.get(p.SessionID)
	if err != nil {
		return nil, err
	}
	if _, err := s.engine.Tick(&statemachine.Message{
		SessionID: p.SessionID,
		Method:    statemachine.MethodTx0idHxTx2Sig,
		Payload: statemachine.TxidSigPayload{
			Txid: p.Tx0Txid,
			Hash: p.Hash,
			Sig:  p.SigTx2A,
		},
	}); err != nil {
		return nil, err
	}
	out, err := drainLocal(s.engine)
	if err != nil {
		return nil, err
	}
	if out.Kind == statemachine.KindBackout {
		return nil, out.Reason
	}
	if out.Reply == nil {
		return nil, fmt.Errorf("coinswapd: tx1 build produced no reply")
	}
	h.advanced(p.SessionID, s.engine.State())
	payload, _ := out.Reply.Payload.(statemachine.TxidSigPayload)
	return &csrpc.Tx0IdHxTx2SigResult{Tx1Txid: payload.Txid, SigTx3C: payload.Sig}, nil
}

func (h *handler) SigTx3(p *csrpc.SigTx3Params) (bool, error) {
	s, err := h.get(p.SessionID)
	if err != nil {
		return false, err
	}
	out, err := s.engine.Tick(&statemachine.Message{
		SessionID: p.SessionID,
		Method:    statemachine.MethodSigTx3,
		Payload:   p.SigTx3A,
	})
	if err != nil {
		return false, err
	}
	if out.Kind != statemachine.KindBackout {
		h.advanced(p.SessionID, s.engine.State())
	}
	return out.Kind != statemachine.KindBackout, nil
}

func (h *handler) Phase2Ready(p *csrpc.Phase2ReadyParams) (bool, error) {
	s, err := h.get(p.SessionID)
	if err != nil {
		return false, err
	}
	return s.engine.State() == statemachine.CarolPhase2Ready, nil
}

func (h *handler) Secret(p *csrpc.SecretParams) (*csrpc.SecretResult, error) {
	s, err := h.get(p.SessionID)
	if err != nil {
		return nil, err
	}
	out, err := s.engine.Tick(&statemachine.Message{
		SessionID: p.SessionID,
		Method:    statemachine.MethodSecret,
		Payload:   p.Secret,
	})
	if err != nil {
		return nil, err
	}
	if out.Kind == statemachine.KindBackout {
		return nil, out.Reason
	}
	if h.notify != nil {
		h.notify.Publish(csrpc.Notification{
			Event:     csrpc.EventSecretRevealed,
			SessionID: p.SessionID,
			Secret:    p.Secret,
		})
	}
	h.advanced(p.SessionID, s.engine.State())
	sig, _ := out.Reply.Payload.([]byte)
	return &csrpc.SecretResult{SigTx2C: sig}, nil
}

func (h *handler) SigTx4(p *csrpc.SigTx4Params) (bool, error) {
	// SigTx4 and its Tx5Txid are consumed on A's side of the wire
	// (Carol's analogous inbound transition does not exist in this
	// mirrored sequence; the method exists only so A can deliver it to
	// C's chain-watch logic for the preimage race of §4.4). Accepted
	// unconditionally here.
	return true, nil
}

func (h *handler) ConfirmTx4(p *csrpc.ConfirmTx4Params) (bool, error) {
	s, err := h.get(p.SessionID)
	if err != nil {
		return false, err
	}
	if _, err := s.engine.Tick(&statemachine.Message{
		SessionID: p.SessionID,
		Method:    statemachine.MethodConfirmTx4,
	}); err != nil {
		return false, err
	}
	out, err := drainLocal(s.engine)
	if err != nil {
		return false, err
	}
	return out.Kind == statemachine.KindDone, nil
}

func halfFromWire(p *csrpc.NegotiateParams) (swapparams.Half, error) {
	coopOwner, err := parsePub(p.Keys.CoopOwner)
	if err != nil {
		return swapparams.Half{}, err
	}
	coopCounter, err := parsePub(p.Keys.CoopCounterparty)
	if err != nil {
		return swapparams.Half{}, err
	}
	timeoutOwner, err := parsePub(p.Keys.TimeoutOwner)
	if err != nil {
		return swapparams.Half{}, err
	}
	return swapparams.Half{
		SessionID:           p.SessionID,
		PubCoopOwner:        coopOwner,
		PubCoopCounterparty: coopCounter,
		PubTimeoutOwner:     timeoutOwner,
		Amount:              btcutil.Amount(p.Amount),
		CoinswapFee:         btcutil.Amount(p.CoinswapFee),
		TimeoutL1:           p.TimeoutL1,
		TimeoutL2:           p.TimeoutL2,
	}, nil
}

func pubKeysToWire(h swapparams.Half) csrpc.PubKeysWire {
	return csrpc.PubKeysWire{
		CoopOwner:        hexPub(h.PubCoopOwner),
		CoopCounterparty: hexPub(h.PubCoopCounterparty),
		TimeoutOwner:     hexPub(h.PubTimeoutOwner),
	}
}

func hexPub(pub *btcec.PublicKey) string {
	if pub == nil {
		return ""
	}
	return fmt.Sprintf("%x", pub.SerializeCompressed())
}

func parsePub(hexStr string) (*btcec.PublicKey, error) {
	raw, err := hex.DecodeString(hexStr)
	if err != nil {
		return nil, fmt.Errorf("coinswapd: decoding pubkey: %w", err)
	}
	return btcec.ParsePubKey(raw)
}

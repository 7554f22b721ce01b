package statemachine

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/coinswapcs/coinswap/build"
	"github.com/coinswapcs/coinswap/swapparams"
)

// Wallet is the minimal set of operations the Engine needs from a
// wallet backend; kept narrow and local to this package per "accept
// interfaces" idiom. The binaries wire this to walletbridge.Wallet,
// which wraps a locally opened btcwallet; tests wire it to an in-memory fake (grounded on the fake
// wallet controllers lnwallet's own test suite uses).
type Wallet interface {
	SelectUTXOs(target btcutil.Amount) ([]build.Utxo, error)
	NewChangeScript() ([]byte, error)
	NewPayoutAddress() (btcutil.Address, error)
	Broadcast(tx *wire.MsgTx) (chainhash.Hash, error)
}

// Chain is the minimal chain-query surface the Engine needs directly
// (beyond the asynchronous watches handed off to chainwatch).
type Chain interface {
	BestHeight() (int32, error)
	EstimateFeePerVByte(confTarget uint32) (build.SatPerVByte, error)
}

// Log is the Session Log surface the Engine persists through; see
// sessionlog.Log for the walletdb-backed implementation.
type Log interface {
	PersistState(state State) error
	PersistParams(p *swapparams.Params) error
	PersistSecret(secret []byte) error
	PersistSig(key string, sig []byte) error
	PersistTxid(key string, txid chainhash.Hash) error
	Get(key string) ([]byte, bool)
}

// Engine runs one participant's side of a single coinswap session. It
// owns no goroutine by itself (per §5, the hosting server's event loop
// calls Tick). Every state change is written through Log as it
// happens.
type Engine struct {
	mu sync.Mutex

	SessionID string

	Role     Role
	state    State
	hook     BehaviorHook
	params   *swapparams.Params
	selfHalf swapparams.Half
	keys     map[string]*btcec.PrivateKey

	// Policy is consulted only by the responder side (Carol) when
	// validating A's proposal; the initiator (Alice) does not read it.
	Policy      swapparams.PolicyBounds
	Amount      btcutil.Amount
	CoinswapFee btcutil.Amount
	TimeoutGapL1 int32
	TimeoutGapL2 int32

	secret []byte // known immediately for Alice, only after reveal for Carol

	wallet Wallet
	chain  Chain
	log    Log

	absurdFeePerKB int64
	tx01ConfirmWait uint32
}

// NewEngine constructs an Engine in its initial state for role. hook
// may be nil, in which case DefaultBehavior is used.
func NewEngine(role Role, wallet Wallet, chain Chain, log Log, hook BehaviorHook) *Engine {
	if hook == nil {
		hook = DefaultBehavior{}
	}
	return &Engine{
		Role:            role,
		wallet:          wallet,
		chain:           chain,
		log:             log,
		hook:            hook,
		keys:            make(map[string]*btcec.PrivateKey),
		tx01ConfirmWait: 2,
		absurdFeePerKB:  250000,
	}
}

// newSwapKey generates and stashes a fresh ephemeral keypair under
// name ("coop_owner", "counterpart", "timeout"), returning its pubkey.
// These are swap-scoped one-time keys, never the wallet's own signing
// keys, mirroring lnwallet's ChannelContribution convention of a
// dedicated MultiSigKey/CommitKey/RevocationKey per channel.
func (e *Engine) newSwapKey(name string) (*btcec.PublicKey, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	e.keys[name] = priv
	return priv.PubKey(), nil
}

func (e *Engine) privKey(name string) *btcec.PrivateKey { return e.keys[name] }

// State returns the engine's current, persisted state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// advance moves the state machine forward by exactly one step,
// flushing the Session Log before returning — property 2's "flush
// before any irreversible side effect" is satisfied by callers
// invoking advance only after they have already performed any
// observable action (send, broadcast) that the persisted state
// records, OR, for actions that must not happen until after the flush
// (broadcasting, revealing X), by flushing first and acting after.
func (e *Engine) advance(next State) error {
	if next <= e.state && !(e.state == 0 && next == 0) {
		return fmt.Errorf("statemachine: refusing non-monotonic transition %v -> %v", e.state, next)
	}
	e.state = next
	return e.log.PersistState(next)
}

// Tick drives one state transition from an inbound message. Outbound-
// triggered and poll-triggered states are advanced by TickLocal and
// TickPoll respectively, matching the tick causes of §4.3's table
// (inbound / outbound / local / poll).
func (e *Engine) Tick(msg *Message) (Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.Role == RoleAlice {
		return e.tickAlice(msg)
	}
	return e.tickCarol(msg)
}

// TickLocal drives a local-trigger state (building/broadcasting a
// transaction, revealing a secret) that does not wait on an inbound
// message.
func (e *Engine) TickLocal() (Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.Role == RoleAlice {
		return e.tickAliceLocal()
	}
	return e.tickCarolLocal()
}

// TickPoll drives a poll-triggered state using confirmation counts the
// caller obtained from chainwatch, keyed by the PersistTxid key (e.g.
// "tx1"). Only A's phase2_ready has poll-driven work: A must see C's
// TX1 reach tx01ConfirmWait confirmations before it reveals the
// secret. C has no poll-triggered state; its TickPoll always returns an
// error.
func (e *Engine) TickPoll(confirmations map[string]uint32) (Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.Role == RoleAlice {
		return e.tickAlicePoll(confirmations)
	}
	return e.tickCarolPoll(confirmations)
}

// validateMethod enforces the exhaustive (Method, State) match the
// redesign note requires: every inbound message must name the single
// method the current state expects.
func (e *Engine) validateMethod(msg *Message, want Method) error {
	if msg == nil {
		return &ProtocolError{State: e.state, Reason: "nil message"}
	}
	if msg.Method != want {
		return &ProtocolError{
			State: e.state, Method: msg.Method,
			Reason: fmt.Sprintf("expected method %v, got %v", want, msg.Method),
		}
	}
	return nil
}

// checkSecret validates a revealed preimage against H, per the
// inbound validation contract ("secrets satisfy SHA256(X) == H").
func (e *Engine) checkSecret(secret []byte) error {
	if len(secret) != build.SecretLen {
		return &ProtocolError{State: e.state, Method: MethodSecret,
			Reason: fmt.Sprintf("secret must be %d bytes", build.SecretLen)}
	}
	got := sha256.Sum256(secret)
	want := e.wantHash()
	if got != want {
		return &ProtocolError{State: e.state, Method: MethodSecret, Reason: "SHA256(X) != H"}
	}
	return nil
}

func (e *Engine) wantHash() [build.HashLen]byte {
	// H is read back from the Session Log's "hash" entry, which A
	// writes at init and C writes from the handshake payload. Before
	// either has happened the zero hash is returned.
	var h [build.HashLen]byte
	if raw, ok := e.log.Get("hash"); ok {
		copy(h[:], raw)
	}
	return h
}

// Deadline computes the current state's expiry, combining the block-
// height timeouts L1/L2 with the configurable default_server_timeout
// wall-clock budget used for the handshake/negotiate/signature-
// exchange states (grounded on original_source's default_server_timeout=60).
func (e *Engine) Deadline(defaultServerTimeout time.Duration) Deadline {
	switch e.state {
	case AlicePhase2Ready, CarolPhase2Ready:
		if e.params != nil {
			return Deadline{Height: e.params.TimeoutL1}
		}
	}
	return Deadline{At: time.Now().Add(defaultServerTimeout).Unix()}
}

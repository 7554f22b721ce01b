package statemachine

import (
	"sync"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/coinswapcs/coinswap/build"
	"github.com/coinswapcs/coinswap/swapparams"
)

// fakeWallet is a minimal in-memory Wallet, grounded on the pattern of
// lnwallet's own test doubles: enough behavior to let the Engine build
// and "broadcast" real transactions without a live backend.
type fakeWallet struct {
	mu        sync.Mutex
	addr      btcutil.Address
	broadcast []*wire.MsgTx
}

func newFakeWallet(t *testing.T) *fakeWallet {
	addr, err := btcutil.NewAddressWitnessScriptHash(make([]byte, 32), &chaincfg.MainNetParams)
	require.NoError(t, err)
	return &fakeWallet{addr: addr}
}

func (w *fakeWallet) SelectUTXOs(target btcutil.Amount) ([]build.Utxo, error) {
	return []build.Utxo{{
		OutPoint: wire.OutPoint{Hash: chainhash.Hash{0xAA}, Index: 0},
		PkScript: make([]byte, 22),
		Value:    target * 2,
	}}, nil
}

func (w *fakeWallet) NewChangeScript() ([]byte, error) {
	return make([]byte, 22), nil
}

func (w *fakeWallet) NewPayoutAddress() (btcutil.Address, error) {
	return w.addr, nil
}

func (w *fakeWallet) Broadcast(tx *wire.MsgTx) (chainhash.Hash, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.broadcast = append(w.broadcast, tx)
	return tx.TxHash(), nil
}

// fakeChain is a fixed-height, fixed-fee Chain.
type fakeChain struct {
	height int32
	rate   build.SatPerVByte
}

func (c *fakeChain) BestHeight() (int32, error) { return c.height, nil }
func (c *fakeChain) EstimateFeePerVByte(uint32) (build.SatPerVByte, error) {
	return c.rate, nil
}

// fakeLog is an in-memory Log backed by a single key/value map;
// PersistSecret, PersistSig and PersistTxid write under their own key
// the way sessionlog.Log does on disk, while PersistState and
// PersistParams record nothing.
type fakeLog struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeLog() *fakeLog { return &fakeLog{data: make(map[string][]byte)} }

func (l *fakeLog) PersistState(State) error { return nil }
func (l *fakeLog) PersistParams(*swapparams.Params) error { return nil }

func (l *fakeLog) PersistSecret(secret []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.data["secret"] = append([]byte(nil), secret...)
	return nil
}

func (l *fakeLog) PersistSig(key string, sig []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.data[key] = append([]byte(nil), sig...)
	return nil
}

func (l *fakeLog) PersistTxid(key string, txid chainhash.Hash) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := make([]byte, chainhash.HashSize)
	copy(b, txid[:])
	l.data[key] = b
	return nil
}

func (l *fakeLog) Get(key string) ([]byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.data[key]
	return v, ok
}

func newTestPair(t *testing.T, aliceHook, carolHook BehaviorHook) (*Engine, *Engine) {
	chain := &fakeChain{height: 1000, rate: 10}
	bounds := swapparams.PolicyBounds{
		MinAmount: 1000, MaxAmount: 10_000_000,
		MinTimeoutGap: 10, MaxTimeoutGap: 10000,
	}

	alice := NewEngine(RoleAlice, newFakeWallet(t), chain, newFakeLog(), aliceHook)
	alice.SessionID = "sess1"
	alice.Amount = 500000
	alice.CoinswapFee = 1000
	alice.TimeoutGapL1 = 100
	alice.TimeoutGapL2 = 100

	carol := NewEngine(RoleCarol, newFakeWallet(t), chain, newFakeLog(), carolHook)
	carol.Policy = bounds

	return alice, carol
}

// driveToSecretReveal runs both engines through the handshake,
// negotiate, funding, and presignature exchange common to every test
// in this file, stopping once Alice is sitting in AlicePhase2Ready and
// Carol is sitting in CarolPhase2Ready (i.e. immediately before the
// secret is revealed). Returns the last Outcome each engine produced,
// so callers can inspect a backout if one of the hooks triggered one.
func driveToSecretReveal(t *testing.T, alice, carol *Engine) (aliceOut, carolOut Outcome) {
	aliceOut, err := alice.TickLocal() // AliceInit -> handshake
	require.NoError(t, err)
	require.Equal(t, KindNext, aliceOut.Kind)
	hash, ok := aliceOut.Reply.Payload.([]byte)
	require.True(t, ok)

	carolOut, err = carol.Tick(&Message{Method: MethodHandshake, Payload: hash})
	require.NoError(t, err)
	if carolOut.Kind != KindNext {
		return aliceOut, carolOut
	}

	aliceOut, err = alice.Tick(&Message{Method: MethodHandshake})
	require.NoError(t, err)
	if aliceOut.Kind != KindNext {
		return aliceOut, carolOut
	}
	aHalf := aliceOut.Reply.Payload.(swapparams.Half)

	carolOut, err = carol.Tick(&Message{Method: MethodNegotiate, Payload: aHalf})
	require.NoError(t, err)
	if carolOut.Kind != KindNext {
		return aliceOut, carolOut
	}
	cHalf := carolOut.Reply.Payload.(swapparams.Half)

	aliceOut, err = alice.Tick(&Message{Method: MethodNegotiate, Payload: cHalf})
	require.NoError(t, err)
	if aliceOut.Kind != KindNext {
		return aliceOut, carolOut
	}

	aliceOut, err = alice.TickLocal() // AliceTx0BuiltBroadcast
	require.NoError(t, err)
	if aliceOut.Kind != KindNext {
		return aliceOut, carolOut
	}
	tx0Payload := aliceOut.Reply.Payload.(TxidSigPayload)

	carolOut, err = carol.Tick(&Message{Method: MethodTx0idHxTx2Sig, Payload: tx0Payload})
	require.NoError(t, err)
	if carolOut.Kind != KindNext {
		return aliceOut, carolOut
	}

	carolOut, err = carol.TickLocal() // CarolTx1BuiltBroadcast
	require.NoError(t, err)
	if carolOut.Kind != KindNext {
		return aliceOut, carolOut
	}
	presig := carolOut.Reply.Payload.(TxidSigPayload)

	aliceOut, err = alice.Tick(&Message{Method: MethodTx0idHxTx2Sig, Payload: presig})
	require.NoError(t, err)
	if aliceOut.Kind != KindNext {
		return aliceOut, carolOut
	}
	sigTx3A := aliceOut.Reply.Payload.([]byte)

	carolOut, err = carol.Tick(&Message{Method: MethodSigTx3, Payload: sigTx3A})
	require.NoError(t, err)
	return aliceOut, carolOut
}

func TestFullSessionHappyPath(t *testing.T) {
	alice, carol := newTestPair(t, nil, nil)

	aliceOut, carolOut := driveToSecretReveal(t, alice, carol)
	require.Equal(t, KindNext, aliceOut.Kind)
	require.Equal(t, KindNext, carolOut.Kind)
	require.Equal(t, AlicePhase2Ready, alice.State())
	require.Equal(t, CarolPhase2Ready, carol.State())

	aliceOut, err := alice.TickPoll(map[string]uint32{"tx1": 6})
	require.NoError(t, err)
	require.Equal(t, KindNext, aliceOut.Kind)
	secret := aliceOut.Reply.Payload.([]byte)

	carolOut, err = carol.Tick(&Message{Method: MethodSecret, Payload: secret})
	require.NoError(t, err)
	require.Equal(t, KindNext, carolOut.Kind)
	sigTx2C := carolOut.Reply.Payload.([]byte)

	aliceOut, err = alice.Tick(&Message{Method: MethodSigTx4, Payload: sigTx2C})
	require.NoError(t, err)
	require.Equal(t, KindNext, aliceOut.Kind)

	aliceOut, err = alice.TickLocal() // AliceTx2Broadcast
	require.NoError(t, err)
	require.Equal(t, KindDone, aliceOut.Kind)
	require.Equal(t, AliceDone, alice.State())

	carolOut, err = carol.Tick(&Message{Method: MethodConfirmTx4})
	require.NoError(t, err)
	require.Equal(t, KindNext, carolOut.Kind)

	carolOut, err = carol.TickLocal() // CarolTx3Broadcast
	require.NoError(t, err)
	require.Equal(t, KindDone, carolOut.Kind)
	require.Equal(t, CarolDone, carol.State())
}

func TestTickPollBacksOutNearTimeout(t *testing.T) {
	chain := &fakeChain{height: 1000, rate: 10}
	alice := NewEngine(RoleAlice, newFakeWallet(t), chain, newFakeLog(), nil)
	alice.SessionID = "sess1"
	alice.Amount = 500000
	alice.CoinswapFee = 1000

	// Force the engine directly into AlicePhase2Ready with a TimeoutL1
	// just past the safety margin so TickPoll must back out rather than
	// wait or proceed.
	alice.params = &swapparams.Params{TimeoutL1: 1003}
	requireAdvanceTo(t, alice, AlicePhase2Ready)

	out, err := alice.TickPoll(map[string]uint32{"tx1": 6})
	require.NoError(t, err)
	require.Equal(t, KindBackout, out.Kind)
	require.Error(t, out.Reason)
}

// withholdRevealHook corrupts the revealed secret, simulating a
// misbehaving A who reveals X' with SHA256(X') != H.
type withholdRevealHook struct{ DefaultBehavior }

func (withholdRevealHook) BeforeReveal(secret []byte) []byte {
	bad := append([]byte(nil), secret...)
	bad[0] ^= 0xFF
	return bad
}

func TestCarolRejectsWrongPreimage(t *testing.T) {
	alice, carol := newTestPair(t, withholdRevealHook{}, nil)

	aliceOut, carolOut := driveToSecretReveal(t, alice, carol)
	require.Equal(t, KindNext, aliceOut.Kind)
	require.Equal(t, KindNext, carolOut.Kind)

	aliceOut, err := alice.TickPoll(map[string]uint32{"tx1": 6})
	require.NoError(t, err)
	badSecret := aliceOut.Reply.Payload.([]byte)

	_, err = carol.Tick(&Message{Method: MethodSecret, Payload: badSecret})
	require.Error(t, err)
	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
}

// withholdBroadcastHook suppresses every broadcast, simulating a party
// that stops participating right before committing funds on-chain.
type withholdBroadcastHook struct{ DefaultBehavior }

func (withholdBroadcastHook) BeforeBroadcast(string) bool { return false }

func TestAliceBackoutWhenTx0BroadcastWithheld(t *testing.T) {
	alice, carol := newTestPair(t, withholdBroadcastHook{}, nil)

	aliceOut, err := alice.TickLocal()
	require.NoError(t, err)
	require.Equal(t, KindNext, aliceOut.Kind)
	hash := aliceOut.Reply.Payload.([]byte)

	_, err = carol.Tick(&Message{Method: MethodHandshake, Payload: hash})
	require.NoError(t, err)

	aliceOut, err = alice.Tick(&Message{Method: MethodHandshake})
	require.NoError(t, err)
	aHalf := aliceOut.Reply.Payload.(swapparams.Half)

	carolOut, err := carol.Tick(&Message{Method: MethodNegotiate, Payload: aHalf})
	require.NoError(t, err)
	cHalf := carolOut.Reply.Payload.(swapparams.Half)

	_, err = alice.Tick(&Message{Method: MethodNegotiate, Payload: cHalf})
	require.NoError(t, err)

	out, err := alice.TickLocal() // buildAndBroadcastTx0, hook withholds
	require.NoError(t, err)
	require.Equal(t, KindBackout, out.Kind)
	require.Error(t, out.Reason)
}

// withholdSignHook refuses every counter-signature, simulating a party
// that builds but never cooperates on the signature exchange.
type withholdSignHook struct{ DefaultBehavior }

func (withholdSignHook) BeforeSign(Method) bool { return false }

func TestCarolBackoutWhenSecretSignatureWithheld(t *testing.T) {
	alice, carol := newTestPair(t, nil, withholdSignHook{})

	aliceOut, carolOut := driveToSecretReveal(t, alice, carol)
	require.Equal(t, KindNext, aliceOut.Kind)
	require.Equal(t, KindNext, carolOut.Kind)

	aliceOut, err := alice.TickPoll(map[string]uint32{"tx1": 6})
	require.NoError(t, err)
	secret := aliceOut.Reply.Payload.([]byte)

	out, err := carol.Tick(&Message{Method: MethodSecret, Payload: secret})
	require.NoError(t, err)
	require.Equal(t, KindBackout, out.Kind)
	require.Error(t, out.Reason)
}

// requireAdvanceTo forcibly walks state to target for tests that need
// to exercise a single state in isolation without replaying the whole
// handshake/negotiate sequence.
func requireAdvanceTo(t *testing.T, e *Engine, target State) {
	require.NoError(t, e.advance(target))
}

package statemachine

// BehaviorHook lets a test or fault-injection harness perturb an
// Engine's behavior at well-defined points without subclassing the
// engine itself, per the redesign note replacing the BadAlice/BadCarol
// subclass hierarchy with an injected interface. The default
// DefaultBehavior never perturbs anything; tests compose a custom
// BehaviorHook to reproduce the concrete scenarios of §8 (e.g. "A
// reveals a wrong preimage").
type BehaviorHook interface {
	// BeforeReveal is called immediately before the engine would
	// reveal the secret X (state AliceSecretSent). Returning a
	// non-nil override replaces the secret that is actually sent,
	// letting a test simulate scenario 4 ("A reveals a wrong
	// preimage X' with SHA256(X') != H").
	BeforeReveal(secret []byte) (override []byte)

	// BeforeBroadcast is called immediately before the engine
	// broadcasts any transaction. Returning false suppresses the
	// broadcast, letting a test simulate an uncooperative party that
	// silently stops participating (scenarios 2, 3, 5).
	BeforeBroadcast(txid string) (proceed bool)

	// BeforeSign is called immediately before the engine signs an
	// inbound transaction; returning false withholds the signature,
	// simulating a party that refuses to counter-sign.
	BeforeSign(method Method) (proceed bool)
}

// DefaultBehavior is the well-behaved implementation of BehaviorHook
// used outside of tests.
type DefaultBehavior struct{}

func (DefaultBehavior) BeforeReveal(secret []byte) []byte      { return nil }
func (DefaultBehavior) BeforeBroadcast(txid string) bool       { return true }
func (DefaultBehavior) BeforeSign(method Method) bool          { return true }

var _ BehaviorHook = DefaultBehavior{}

package build

import (
	"crypto/rand"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"
)

func newTestKey(t *testing.T) *btcec.PrivateKey {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return priv
}

// TestEscrowScriptDeterministic mirrors script_utils_test.go's
// determinism checks: building the same script twice, and with the two
// cooperative pubkeys swapped, must produce byte-identical output since
// addSortedMultisig orders them independently of call order.
func TestEscrowScriptDeterministic(t *testing.T) {
	ownerPriv, counterPriv, timeoutPriv := newTestKey(t), newTestKey(t), newTestKey(t)
	var secret [SecretLen]byte
	_, err := rand.Read(secret[:])
	require.NoError(t, err)
	hash := CommitHash(secret[:])

	script1, err := EscrowScript(ownerPriv.PubKey(), counterPriv.PubKey(), timeoutPriv.PubKey(), hash, 600000)
	require.NoError(t, err)

	script2, err := EscrowScript(ownerPriv.PubKey(), counterPriv.PubKey(), timeoutPriv.PubKey(), hash, 600000)
	require.NoError(t, err)
	require.Equal(t, script1, script2)

	// Swap the cooperative signer order; script bytes must not change.
	script3, err := EscrowScript(counterPriv.PubKey(), ownerPriv.PubKey(), timeoutPriv.PubKey(), hash, 600000)
	require.NoError(t, err)
	require.Equal(t, script1, script3)
}

func TestEscrowScriptTimeoutChangesScript(t *testing.T) {
	ownerPriv, counterPriv, timeoutPriv := newTestKey(t), newTestKey(t), newTestKey(t)
	var secret [SecretLen]byte
	hash := CommitHash(secret[:])

	scriptA, err := EscrowScript(ownerPriv.PubKey(), counterPriv.PubKey(), timeoutPriv.PubKey(), hash, 600000)
	require.NoError(t, err)
	scriptB, err := EscrowScript(ownerPriv.PubKey(), counterPriv.PubKey(), timeoutPriv.PubKey(), hash, 700000)
	require.NoError(t, err)
	require.NotEqual(t, scriptA, scriptB)
}

func TestWitnessAddressRoundTrip(t *testing.T) {
	ownerPriv, counterPriv, timeoutPriv := newTestKey(t), newTestKey(t), newTestKey(t)
	var secret [SecretLen]byte
	hash := CommitHash(secret[:])

	script, err := EscrowScript(ownerPriv.PubKey(), counterPriv.PubKey(), timeoutPriv.PubKey(), hash, 600000)
	require.NoError(t, err)

	addr, err := WitnessAddress(script, &chaincfg.MainNetParams)
	require.NoError(t, err)
	require.NotEmpty(t, addr.EncodeAddress())

	pkScript, err := WitnessScriptHash(script)
	require.NoError(t, err)
	require.Len(t, pkScript, 34) // OP_0 <32-byte hash>
}

package walletbridge

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcwallet/waddrmgr"
)

// waddrmgrScope is the key scope every address minted for a swap is
// drawn from; BIP-0084 (native segwit) matches the P2WSH escrow and
// P2WPKH change/payout addresses build.EscrowScript and the funding
// tx builder expect throughout.
func waddrmgrScope() waddrmgr.KeyScope {
	return waddrmgr.KeyScopeBIP0084
}

func txscriptPayToAddr(addr btcutil.Address) ([]byte, error) {
	return txscript.PayToAddrScript(addr)
}

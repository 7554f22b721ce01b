package main

import (
	"fmt"
	"os"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcwallet/wallet"
	"github.com/btcsuite/btcwallet/walletdb"
	_ "github.com/btcsuite/btcwallet/walletdb/bdb"

	"github.com/coinswapcs/coinswap/chainwatch"
	"github.com/coinswapcs/coinswap/statemachine"
	"github.com/coinswapcs/coinswap/walletbridge"
)

// newLocalChainWallet opens the CLI operator's own wallet and dials
// the full node it funds against, mirroring coinswapd's own wallet/
// chain bootstrap (cmd/coinswapd/main.go) for A's side of the swap,
// which runs inside the CLI process itself rather than a daemon.
func newLocalChainWallet() (statemachine.Wallet, statemachine.Chain, chainwatch.RPCClient, error) {
	rpcClient, err := chainwatch.NewRPCClient(&rpcclient.ConnConfig{
		Host:         envOr("COINSWAP_RPCHOST", "localhost:8332"),
		User:         envOr("COINSWAP_RPCUSER", ""),
		Pass:         envOr("COINSWAP_RPCPASS", ""),
		HTTPPostMode: true,
		DisableTLS:   true,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("coinswap-cli: dialing chain backend: %w", err)
	}
	chain := chainwatch.NewChain(rpcClient)

	dbPath := envOr("COINSWAP_WALLETDIR", ".") + "/wallet.db"
	db, err := walletdb.Create("bdb", dbPath, true, 0)
	if err != nil {
		return nil, nil, nil, err
	}
	loader := wallet.NewLoader(&chaincfg.MainNetParams, envOr("COINSWAP_WALLETDIR", "."), true, db, 250)
	exists, err := loader.WalletExists()
	if err != nil {
		return nil, nil, nil, err
	}
	if !exists {
		return nil, nil, nil, fmt.Errorf("coinswap-cli: no wallet found, create one with btcwallet first")
	}
	w, err := loader.OpenExistingWallet([]byte(wallet.InsecurePubPassphrase), false)
	if err != nil {
		return nil, nil, nil, err
	}
	return walletbridge.New(w, &chaincfg.MainNetParams, 0, 1), chain, rpcClient, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

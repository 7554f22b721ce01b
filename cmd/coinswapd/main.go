// coinswapd is the daemon process hosting C's side of the coinswap
// protocol engine, generalizing lnd.go's lndMain entrypoint shape
// (loadConfig, wire the chain backend, start the RPC listener, block
// on a shutdown signal) from a Lightning node down to a single
// stateless-listener coinswap server.
package main

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcwallet/wallet"
	"github.com/btcsuite/btcwallet/walletdb"
	_ "github.com/btcsuite/btcwallet/walletdb/bdb"

	"github.com/coinswapcs/coinswap/chainwatch"
	"github.com/coinswapcs/coinswap/clog"
	"github.com/coinswapcs/coinswap/config"
	"github.com/coinswapcs/coinswap/csrpc"
	"github.com/coinswapcs/coinswap/sessionlog"
	"github.com/coinswapcs/coinswap/statemachine"
	"github.com/coinswapcs/coinswap/swapparams"
	"github.com/coinswapcs/coinswap/walletbridge"
)

// version is stamped at build time in production images; left a
// constant here since this tree carries no release tooling.
const version = "0.1.0-cscs"

// pollPeriod is the chain watcher's poll interval against a bitcoind/
// btcd full node backend with no ZMQ block-connect push available.
const pollPeriod = 10 * time.Second

func main() {
	if err := coinswapdMain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func coinswapdMain() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return err
	}

	if err := clog.InitLogRotator(cfg.LogFile(), 10, 3); err != nil {
		return err
	}
	clog.SetLevels(cfg.DebugLevel)
	clog.CoinLog.Infof("coinswapd version %s starting", version)

	rpcClient, err := chainwatch.NewRPCClient(&rpcclient.ConnConfig{
		Host:         cfg.RPCHost,
		User:         cfg.RPCUser,
		Pass:         cfg.RPCPass,
		HTTPPostMode: true,
		DisableTLS:   cfg.InsecureSkipVerify,
	})
	if err != nil {
		return fmt.Errorf("coinswapd: dialing chain backend: %w", err)
	}

	chain := chainwatch.NewChain(rpcClient)
	poller := chainwatch.NewPollNotifier(rpcClient, pollPeriod)
	if err := poller.Start(); err != nil {
		return fmt.Errorf("coinswapd: starting chain watcher: %w", err)
	}
	defer poller.Stop()

	w, err := openWallet(cfg)
	if err != nil {
		return fmt.Errorf("coinswapd: opening wallet: %w", err)
	}
	wb := walletbridge.New(w, &chaincfg.MainNetParams, 0, 1)

	minAmt, maxAmt, minGap, maxGap := cfg.PolicyBounds()
	policy := swapparams.PolicyBounds{
		MinAmount: minAmt, MaxAmount: maxAmt,
		MinTimeoutGap: minGap, MaxTimeoutGap: maxGap,
	}

	newEngine := func(lg *sessionlog.Log) *statemachine.Engine {
		e := statemachine.NewEngine(statemachine.RoleCarol, wb, chain, lg, nil)
		e.Policy = policy
		return e
	}

	status := csrpc.StatusResult{
		MinimumAmount:    cfg.MinimumAmount,
		MaximumAmount:    cfg.MaximumAmount,
		SourceChain:      cfg.SourceChain,
		DestinationChain: cfg.DestinationChain,
		CSCSVersion:      version,
	}
	hub := csrpc.NewHub()
	h := newHandler(version, cfg.SessionDir(), status, newEngine, hub)

	rpcSrv := &csrpc.Server{Handler: h, InsecureSkipVerify: cfg.InsecureSkipVerify, Notify: hub}
	httpSrv := &http.Server{
		Addr:      cfg.RPCListen,
		Handler:   rpcSrv,
		TLSConfig: rpcSrv.TLSConfig(),
	}

	listener, err := tls.Listen("tcp", cfg.RPCListen, httpSrv.TLSConfig)
	if err != nil {
		return fmt.Errorf("coinswapd: listening on %s: %w", cfg.RPCListen, err)
	}
	go func() {
		clog.RpcsLog.Infof("listening for counterparty RPC on %s", cfg.RPCListen)
		if err := httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			clog.RpcsLog.Errorf("rpc server exited: %v", err)
		}
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	<-interrupt
	clog.CoinLog.Info("shutdown requested")
	return httpSrv.Close()
}

func openWallet(cfg *config.Config) (*wallet.Wallet, error) {
	dbPath := cfg.DataDir + "/wallet.db"
	db, err := walletdb.Create("bdb", dbPath, true, 0)
	if err != nil {
		return nil, err
	}
	loader := wallet.NewLoader(&chaincfg.MainNetParams, cfg.DataDir, true, db, 250)
	exists, err := loader.WalletExists()
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("coinswapd: no wallet found in %s, create one first", cfg.DataDir)
	}
	return loader.OpenExistingWallet([]byte(wallet.InsecurePubPassphrase), false)
}

// coinswap-cli issues JSON-RPC calls against a coinswapd counterparty
// and, for the "swap" command, runs A's side of the state machine
// locally to drive a full coinswap. It generalizes cmd/lncli's
// urfave/cli command table from lncli's gRPC/macaroon transport to
// csrpc's JSON-RPC/TLS-client-cert transport.
package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli"

	"github.com/coinswapcs/coinswap/csrpc"
	"github.com/coinswapcs/coinswap/sessionlog"
	"github.com/coinswapcs/coinswap/statemachine"
)

func main() {
	app := cli.NewApp()
	app.Name = "coinswap-cli"
	app.Usage = "control plane for a coinswap session"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "rpcserver", Value: "https://localhost:8422/", Usage: "counterparty RPC URL"},
		cli.DurationFlag{Name: "timeout", Value: 60 * time.Second, Usage: "per-call RPC timeout"},
		cli.BoolFlag{Name: "insecure_skip_verify", Usage: "disable TLS peer verification (not recommended)"},
	}
	app.Commands = []cli.Command{
		statusCommand,
		swapCommand,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func clientFromCtx(c *cli.Context) *csrpc.Client {
	return csrpc.NewClient(c.GlobalString("rpcserver"), c.GlobalDuration("timeout"), c.GlobalBool("insecure_skip_verify"))
}

var statusCommand = cli.Command{
	Name:  "status",
	Usage: "query a counterparty's availability and policy bounds",
	Action: func(c *cli.Context) error {
		cl := clientFromCtx(c)
		var res csrpc.StatusResult
		if err := cl.Call(csrpc.MethodStatus, nil, &res); err != nil {
			return err
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"field", "value"})
		t.AppendRows([]table.Row{
			{"busy", res.Busy},
			{"minimum_amount", btcutil.Amount(res.MinimumAmount)},
			{"maximum_amount", btcutil.Amount(res.MaximumAmount)},
			{"source_chain", res.SourceChain},
			{"destination_chain", res.DestinationChain},
			{"cscs_version", res.CSCSVersion},
		})
		t.Render()
		return nil
	},
}

var swapCommand = cli.Command{
	Name:      "swap",
	Usage:     "initiate a coinswap with a counterparty",
	ArgsUsage: "<session_id> <amount> <fee> <datadir>",
	Flags: []cli.Flag{
		cli.Int64Flag{Name: "timeout_gap_l1", Value: 144},
		cli.Int64Flag{Name: "timeout_gap_l2", Value: 144},
	},
	Action: func(c *cli.Context) error {
		if c.NArg() < 4 {
			return cli.NewExitError("usage: swap <session_id> <amount> <fee> <datadir>", 1)
		}
		sessionID := c.Args().Get(0)
		amount, err := parseAmount(c.Args().Get(1))
		if err != nil {
			return err
		}
		fee, err := parseAmount(c.Args().Get(2))
		if err != nil {
			return err
		}
		dataDir := c.Args().Get(3)

		lg, err := sessionlog.Open(dataDir, sessionID)
		if err != nil {
			return err
		}

		w, chain, rpcClient, err := newLocalChainWallet()
		if err != nil {
			return err
		}

		engine := statemachine.NewEngine(statemachine.RoleAlice, w, chain, lg, nil)
		engine.SessionID = sessionID
		engine.Amount = amount
		engine.CoinswapFee = fee
		engine.TimeoutGapL1 = int32(c.Int64("timeout_gap_l1"))
		engine.TimeoutGapL2 = int32(c.Int64("timeout_gap_l2"))

		cl := clientFromCtx(c)
		return runSwap(cl, engine, sessionID, rpcClient)
	},
}

func parseAmount(s string) (btcutil.Amount, error) {
	btc, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("coinswap-cli: parsing amount %q: %w", s, err)
	}
	amt, err := btcutil.NewAmount(btc)
	if err != nil {
		return 0, fmt.Errorf("coinswap-cli: amount %q out of range: %w", s, err)
	}
	return amt, nil
}

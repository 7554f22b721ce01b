// Package clog wires the per-package btclog.Logger variables (§9's
// ambient logging concern) to a single rotating-file backend, the way
// a coinswapd daemon process sets up logging once at startup and hands
// each subsystem its own tagged logger. It generalizes the
// subsystem-logger registry lnd-family daemons keep in their top-level
// log.go down to the handful of subsystems this core actually has:
// the daemon itself, the state machine, the chain monitor, the session
// log, and the backout orchestrator.
package clog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"

	"github.com/coinswapcs/coinswap/backout"
	"github.com/coinswapcs/coinswap/chainwatch"
	"github.com/coinswapcs/coinswap/csrpc"
	"github.com/coinswapcs/coinswap/sessionlog"
	"github.com/coinswapcs/coinswap/statemachine"
)

var (
	logWriter  = &rotatingWriter{}
	backendLog = btclog.NewBackend(logWriter)
	logRotator *rotator.Rotator

	CoinLog = backendLog.Logger("COIN") // cmd/coinswapd top-level
	StatLog = backendLog.Logger("STAT") // statemachine
	ChwtLog = backendLog.Logger("CHWT") // chainwatch
	SessLog = backendLog.Logger("SESS") // sessionlog
	BkotLog = backendLog.Logger("BKOT") // backout
	RpcsLog = backendLog.Logger("RPCS") // csrpc
)

// subsystemLoggers maps each subsystem tag to its logger, so
// SetLevel/SetLevels can be driven by the config's log-level flag the
// way a CLI --debuglevel flag does.
var subsystemLoggers = map[string]btclog.Logger{
	"COIN": CoinLog,
	"STAT": StatLog,
	"CHWT": ChwtLog,
	"SESS": SessLog,
	"BKOT": BkotLog,
	"RPCS": RpcsLog,
}

func init() {
	statemachine.UseLogger(StatLog)
	chainwatch.UseLogger(ChwtLog)
	sessionlog.UseLogger(SessLog)
	backout.UseLogger(BkotLog)
	csrpc.UseLogger(RpcsLog)
}

// rotatingWriter defers to the log rotator once InitLogRotator has run,
// and discards output before that (matching the package-level loggers
// being usable, if silent, before startup finishes configuring them).
type rotatingWriter struct {
	pipe io.Writer
}

func (w *rotatingWriter) Write(p []byte) (int, error) {
	if w.pipe == nil {
		return len(p), nil
	}
	return w.pipe.Write(p)
}

// InitLogRotator initializes the rotating log file at logFile, with
// roll files kept alongside it. It must be called once, early, before
// logging is relied on for anything durable.
func InitLogRotator(logFile string, maxLogFileSize, maxLogFiles int) error {
	logDir, _ := filepath.Split(logFile)
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return fmt.Errorf("clog: creating log directory: %w", err)
	}

	r, err := rotator.New(logFile, int64(maxLogFileSize*1024), false, maxLogFiles)
	if err != nil {
		return fmt.Errorf("clog: creating file rotator: %w", err)
	}

	pr, pw := io.Pipe()
	go r.Run(pr)

	logWriter.pipe = pw
	logRotator = r
	return nil
}

// SetLevel sets the logging level for a single subsystem tag; unknown
// tags are ignored.
func SetLevel(subsystemTag, levelStr string) {
	logger, ok := subsystemLoggers[subsystemTag]
	if !ok {
		return
	}
	level, _ := btclog.LevelFromString(levelStr)
	logger.SetLevel(level)
}

// SetLevels sets every subsystem's logging level at once, used to
// apply a single --debuglevel config value across the daemon.
func SetLevels(levelStr string) {
	for tag := range subsystemLoggers {
		SetLevel(tag, levelStr)
	}
}

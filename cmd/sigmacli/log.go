package main

import (
	"io"
	"os"

	"github.com/btcsuite/btclog/v2"
	"github.com/sigmaproto/sigma/build"
	"github.com/sigmaproto/sigma/remotesigner"
	"github.com/sigmaproto/sigma/sigcfg"
	"github.com/sigmaproto/sigma/sigma"
	"github.com/sigmaproto/sigma/signmsg"
	"github.com/sigmaproto/sigma/sigscript"
)

// Subsystem is the logging code of the command line tool itself.
const Subsystem = "SCLI"

// cliLog is the logger of the command line tool. It stays disabled until
// setupLoggers runs.
var cliLog = btclog.Disabled

// logState holds the log outputs that have to be closed on exit.
type logState struct {
	rotator *build.RotatingLogWriter
	mgr     *build.SubLoggerManager
}

// setupLoggers creates the shared log handler, hands every package its
// subsystem logger and applies the configured debug levels. Console output
// goes to stderr so command output on stdout stays parseable.
func setupLoggers(cfg *sigcfg.Config, logFile bool) (*logState, error) {
	state := &logState{}
	writer := &build.LogWriter{Console: os.Stderr}

	if cfg.LogConfig.Console.Disable {
		writer.Console = io.Discard
	}

	if logFile && !cfg.LogConfig.File.Disable {
		state.rotator = build.NewRotatingLogWriter()
		err := state.rotator.InitLogRotator(
			cfg.LogConfig.File, cfg.LogFile(),
		)
		if err != nil {
			return nil, err
		}
		writer.Rotator = state.rotator
	}

	handler := btclog.NewDefaultHandler(
		writer, cfg.LogConfig.Console.HandlerOptions()...,
	)
	state.mgr = build.NewSubLoggerManager(handler)

	genLogger := state.mgr.GenSubLogger
	cliLog = build.NewSubLogger(Subsystem, genLogger)
	sigma.UseLogger(build.NewSubLogger(sigma.Subsystem, genLogger))
	sigscript.UseLogger(build.NewSubLogger(sigscript.Subsystem, genLogger))
	signmsg.UseLogger(build.NewSubLogger(signmsg.Subsystem, genLogger))
	remotesigner.UseLogger(
		build.NewSubLogger(remotesigner.Subsystem, genLogger),
	)
	sigcfg.UseLogger(build.NewSubLogger(sigcfg.Subsystem, genLogger))

	err := build.ParseAndSetDebugLevels(cfg.DebugLevel, state.mgr)
	if err != nil {
		_ = state.close()
		return nil, err
	}

	return state, nil
}

// close shuts down the log rotator, if any.
func (l *logState) close() error {
	if l.rotator == nil {
		return nil
	}

	return l.rotator.Close()
}

package main

import (
	"os"

	"github.com/decred/slog"
)

// Subsystem loggers, initialized by newLoggers before anything else runs.
var (
	webLog  = slog.Disabled
	roomLog = slog.Disabled
	ldgrLog = slog.Disabled
)

func newLoggers(cfg *Config) {
	backend := slog.NewBackend(os.Stdout)

	level := slog.LevelInfo
	if cfg.verbose {
		level = slog.LevelDebug
	}

	webLog = backend.Logger("WEB")
	roomLog = backend.Logger("ROOM")
	ldgrLog = backend.Logger("LDGR")

	for _, l := range []slog.Logger{webLog, roomLog, ldgrLog} {
		l.SetLevel(level)
	}
}

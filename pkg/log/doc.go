/*
Package log provides structured logging for Hearth using zerolog.

The log package wraps zerolog with a global logger, component-scoped child
loggers, and a daily-rotating file writer with age-based compression.

# Architecture

	Init(Config)
	    ↓
	zerolog.MultiLevelWriter
	    ├── console writer (suppressed with NoConsole, e.g. GUI hosts)
	    └── RotatingWriter → logs/YYYY-MM-DD.log
	                           ├── > 7 days old  → gzip to .log.gz
	                           └── > 14 days old → deleted

Rotation happens on the first write of a new calendar day; compression and
pruning run during rotation so steady-state writes pay no maintenance cost.

# Usage

Initialization (done once by the supervisor):

	err := log.Init(log.Config{
		Level: log.InfoLevel,
		Dir:   "logs",
	})

Component loggers:

	logger := log.WithComponent("registry")
	logger.Info().Str("module_id", id).Int("port", port).Msg("module started")

Simple helpers:

	log.Info("suite ready")
	log.Errorf("sync failed", err)

# Integration Points

Every Hearth package obtains its logger through WithComponent. The supervisor
calls Close() during shutdown to flush the file writer.
*/
package log

/*
Package log provides structured logging for stepd using zerolog.

The package wraps zerolog to give every component a JSON-structured
logger by default, with helper constructors for the context fields
the wire protocol and lifecycle machinery attach most often: peer uid,
opcode, and step identity.

# Core components

Global Logger:
  - Package-level zerolog.Logger instance, set by Init.
  - A package-level init() calls Init with safe defaults so WithComponent
    works even in tests that never call Init explicitly.

Log levels:
  - Debug: per-connection/per-opcode tracing.
  - Info: daemon lifecycle events (start, shutdown, state transitions).
  - Warn: rejected connections (bad credentials, bad version), retried
    accept errors.
  - Error: operation failures worth investigating.
  - Fatal: unrecoverable startup errors (process exits).

Configuration:
  - Level: filter messages below threshold.
  - JSONOutput: JSON vs human-readable console output.
  - Output: io.Writer for log destination (stdout by default).

Context loggers:
  - WithComponent adds a component field ("server", "lifecycle", "socketloc", ...).
  - WithNodeID, WithServiceID, WithTaskID add the matching identifier.
  - WithStepID adds job/step/het_component fields from a stepid.ID.
  - WithOpcode adds the opcode's name for request-handling logs.
  - WithPeerUID adds the uid read off the peer-credential handshake.

# Usage

Initializing the logger:

	import "github.com/cuemby/stepd/pkg/log"

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
	})

Component loggers:

	serverLog := log.WithComponent("server")
	serverLog.Info().Msg("listening")

	reqLog := log.WithComponent("server").
		With().Str("peer_uid", "1000").Logger()
	reqLog.Debug().Msg("dispatching request")

Step and opcode context:

	stepLog := log.WithStepID(id.JobID, id.StepID, id.HetComponent)
	stepLog.Info().Msg("state transition")

	log.WithOpcode(wire.OpSignalContainer).Warn().Msg("rejected: not owner")
*/
package log

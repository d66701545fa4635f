/*
Package log provides structured logging for Conductor using zerolog.

The log package wraps the zerolog library to provide structured logging with
component-specific loggers and configurable levels. Diagnostics are written to
stderr in console format by default, or as JSON when requested, so that verb
output on stdout remains parseable.

Each package logs through a component child logger, adding the identity
of the thing being operated on as event fields:

	logger := log.WithComponent("deploy")
	logger.Info().Str("agent", key).Str("task_id", id).Msg("Deployment recorded")

The orchestrator log file under logs/ is a separate, human-readable artifact
written through the store package; it is not produced by this package.
*/
package log

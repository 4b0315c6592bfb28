/*
Package log provides structured logging for beacon using zerolog.

A single global zerolog.Logger is configured once with Init and shared by all
packages. Components derive child loggers so every line carries its origin:

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	pollLog := log.WithComponent("poller")
	pollLog.Warn().Err(err).Str("reason", "status").Msg("poll failed")

	connLog := log.WithConnection(conn.ID, conn.IP)
	connLog.Info().Str("topic", "device_health").Msg("subscribed")

Before Init the global logger discards everything, which keeps package tests
quiet. JSONOutput selects machine-readable output for production; otherwise a
human-readable console writer with RFC3339 timestamps is used.
*/
package log

// Package logging provides structured logging with per-module levels.
//
// Records fan out to stdout (text or json), the systemd journal when
// journald is reachable, and an in-memory ring buffer that backs the
// /api/logs endpoints and the log event stream.
//
// Initialize once at startup:
//
//	logging.Initialize(logging.Config{
//		Level:  "info",
//		Format: "text",
//		Modules: map[string]string{
//			"drain":  "debug",
//			"webrtc": "warn",
//		},
//	})
//
// Then take a module logger:
//
//	logger := logging.GetLogger("pipeline")
//	logger.Info("Pipeline running", "encoder", name)
//
// Loggers may be taken before Initialize; they start at info and follow
// later level changes, including [SetModuleLevel] at runtime.
//
// Journal output is tagged with the livenode identifier:
//
//	journalctl -t livenode -f
//	journalctl -t livenode MODULE=drain
//
// TOML configuration:
//
//	[logging]
//	level = "info"
//	format = "text"
//	buffer_size = 1000
//
//	[logging.modules]
//	drain = "debug"
//	gpu = "warn"
package logging

// Package config loads and validates coven-relay configuration.
//
// Configuration is YAML with two conveniences:
//
//   - ${VAR_NAME} patterns are expanded from the environment before
//     parsing, so secrets can stay out of the file.
//   - Timing fields are written as Go duration strings ("30s", "5m")
//     and parsed into time.Duration values after unmarshaling.
//
// Example:
//
//	coordinator:
//	  url: "ws://localhost:8090/relay"
//
//	reconnect:
//	  max_attempts: 10
//	  backoff_base: "1s"
//	  backoff_cap: "5m"
//	  recovery_timeout: "30s"
//	  flap_window: "10s"
//	  flap_threshold: 3
//
//	heartbeat:
//	  interval: "30s"
//	  timeout: "90s"
//
//	database:
//	  path: "~/.local/share/coven-relay/relay.db"
//
//	logging:
//	  level: "info"
//	  format: "text"
package config

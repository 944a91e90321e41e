// Package config handles loading and parsing of configuration from YAML files
// and environment variables. It defines the application configuration structure
// including server settings, upstream targets, circuit breaker thresholds,
// admission limits, and JSON validator limits.
package config

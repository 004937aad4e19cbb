// Package config loads, validates, and normalizes the TOML configuration
// shared by the forestd daemon and the forest CLI.
package config

// Package config loads, normalizes, and validates streamcast configuration.
//
// Configuration lives in a TOML file (default ~/.config/streamcast/config.toml)
// and is resolved once at process start. Secrets such as the ingest stream key
// and the ntfy topic may also be supplied through the environment, optionally
// seeded from a .env file. All path fields are expanded and absolute after
// Load returns.
package config

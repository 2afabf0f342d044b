// Package config loads and validates runtime configuration for mod-watchdog.
//
// Tunables are read from `config/config.yaml` (or `./config.yaml`) and can be
// overridden via MW_-prefixed environment variables. Connection credentials
// come from the environment (optionally seeded from a `.env` file) under the
// same variable names the server operators already use.
package config

// Package config loads the license daemon configuration.
//
// # Configuration Sources
//
// Sources are applied in this order, later ones winning:
//
//  1. Built-in defaults (Default)
//  2. A YAML file (licensed.yaml, configs/licensed.yaml or next to the executable)
//  3. LTE_* environment variables, optionally seeded from a .env file
//
// # Environment Variables
//
// Variable names follow the struct layout:
//
//	LTE_LEDGER_KIND=http
//	LTE_LEDGER_URL=https://ledger.example.com/api
//	LTE_LICENSE_RESET_TIMEZONE=Africa/Johannesburg
//	LTE_SERVER_PORT=8765
//	LTE_LOGGING_LEVEL=debug
//
// Secrets (LTE_LEDGER_API_KEY, LTE_LEDGER_CREDENTIALS_PASSPHRASE) are read
// from the environment only.
//
// # Path Management
//
// ResolvePaths anchors relative paths to the executable directory so the
// daemon behaves the same regardless of the working directory.
package config

// Package app wires the license trust engine into a running daemon.
//
// # Initialization Flow
//
//  1. Load configuration (defaults, licensed.yaml, LTE_* environment)
//  2. Resolve paths and initialize the JSON logger
//  3. Initialize OpenTelemetry and the Prometheus registry
//  4. Open the SQLite store, install secret and audit logs
//  5. Build the ledger backend behind a circuit breaker
//  6. Create the engine, the background scheduler and the websocket hub
//  7. Mount the loopback API and create the HTTP server
//
// Start performs the startup validation before serving. The hub, the
// scheduler and the server then run in one errgroup; the first failure or
// a cancelled context shuts all of them down.
//
// # Usage
//
//	a, err := app.NewApplication(app.Options{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := a.Run(); err != nil {
//	    log.Fatal(err)
//	}
package app

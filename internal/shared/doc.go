// Package shared holds code used by more than one package that belongs to
// no single domain.
//
// The testutil subpackage provides:
//
//   - LogCapture, an slog.Handler that records entries for assertions
//   - hardware snapshots and a swappable collector for moving an
//     installation between machines
//   - ledger seeding helpers
//
// testutil must only be imported from _test.go files.
package shared

// Package license implements the license trust engine: it binds a license
// key to a machine, re-validates it against the remote ledger, and decides
// locally when the ledger cannot be reached.
//
// # Components
//
//   - Engine: the state machine (activate, validate, transfer, recover)
//   - Codec: Ed25519 signed tokens, keys held in JWK sets (EdKeySet)
//   - Store: the single persisted Record (SQLite or memory), HMAC sealed
//   - AuditLog: append-only security events (SQLite, JSON lines, memory)
//   - Clock: time source; ManualClock drives tests
//   - Scheduler: periodic background validation
//
// # Validation flow
//
// Every validation first compares the stored hardware snapshot with the
// current one. A similarity below the record's threshold blocks with
// StateHardwareMismatch before any network call. The ledger is then asked
// for a verdict. When it answers, its verdict is persisted: revocation and
// expiry block, success refreshes the seven day offline grace window.
//
// When the ledger is unreachable the engine falls back to local state, in
// this order:
//
//  1. a revoked record blocks
//  2. a clock more than five minutes behind the last online check blocks
//     (startup and manual only)
//  3. a passed expiry date blocks
//  4. inside the grace window the license is valid with N days remaining
//  5. otherwise the grace period has expired
//
// # Manual verification
//
// Users may trigger ValidateManual three times per calendar day. The counter
// resets at the next midnight of Policy.ResetLocation.
//
// # Auto-recovery
//
// When no local record exists, ValidateStartup lists the ledger and adopts
// the entry whose bound hardware best matches this machine. A revoked match
// is persisted as revoked. A machine that stays offline cannot learn of
// revocations made after its last successful online check.
//
// # Usage
//
//	engine, err := license.NewEngine(license.Options{
//		Store:     store,
//		Ledger:    ledgerClient,
//		Collector: security.NewFingerprintManager(),
//		Audit:     auditLog,
//		Codec:     codec,
//	})
//	res := engine.ValidateStartup(ctx)
//	if !res.Valid {
//		// show res.Message, offer activation or transfer
//	}
package license

// Package http implements the loopback API that the desktop shell uses to
// drive the license engine. Handlers are thin: they decode and validate
// requests, call the engine, and render the outcome.
//
// # Routes
//
//	GET  /healthz                   dependency checks
//	GET  /metrics                   Prometheus exposition
//	GET  /ws/license                status feed (websocket)
//	GET  /api/license/status        read-only summary, never contacts the ledger
//	GET  /api/license/events        recent audit events (?limit=1..500)
//	GET  /api/license/entitlement   200 only while the last verdict allows use
//	POST /api/license/activate      {license_key, licensee_name, email}
//	POST /api/license/verify        user-initiated check, rate limited per day
//	POST /api/license/transfer      {license_key, email}
//
// # Error Handling
//
// Blocked engine results and request errors are rendered as RFC 7807
// problem details. License failures carry a "code" extension such as
// LICENSE_REVOKED and, when rate limited, a Retry-After header:
//
//	{
//	    "type": "/errors/LICENSE_REVOKED",
//	    "title": "Forbidden",
//	    "status": 403,
//	    "detail": "License revoked",
//	    "instance": "/api/license/verify",
//	    "code": "LICENSE_REVOKED",
//	    "trace_id": "3f0c..."
//	}
//
// # Middleware
//
// Every route gets RequestID, OTel instrumentation, panic recovery,
// security headers and CORS. The /api/license group adds request logging
// with redacted bodies, the token-bucket rate limiter and a timeout.
package http

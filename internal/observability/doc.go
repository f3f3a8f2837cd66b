// Package observability provides structured logging, request id propagation
// and in-process pipeline counters for the privacy shield.
//
// Log fields emitted through this package must be privacy-safe: event ids,
// counts, booleans, reason codes and hashes. Raw text, clean text, mapping
// values and plaintext approval tokens are never logged.
package observability

// Package policy centralizes the fail-closed decisions of the privacy pipeline.
//
// Every component that could fail open consults this package instead of
// carrying its own default:
//   - Egress: outbound calls are denied under the locked-down deployment profile
//   - Anonymization: production traffic must be provably anonymized
//   - Audit fallback: an unavailable semantic audit counts as a risk
//   - Gate: unverified or risky text requires human approval before release
package policy

// Package util contains helpers for logging identifiers and secrets safely.
//
//   - SafeTruncate: shortens identifiers for log lines
//   - Fingerprint: a short SHA-256 based handle for tokens and codes
package util

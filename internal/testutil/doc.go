// Package testutil provides fixtures, a controllable clock and an HTTP request
// builder for the kv-oauth test suites.
package testutil

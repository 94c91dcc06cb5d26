// Package dnswire implements DNS wire-format encoding and decoding
// (RFC 1035), including name compression and EDNS(0) extensions
// (RFC 6891) with Client Subnet (RFC 7871).
//
// Standards compliance:
//
//   - RFC 1035: Domain Names - Implementation and Specification
//   - RFC 6891: Extension Mechanisms for DNS (EDNS(0))
//   - RFC 7871: Client Subnet in DNS Queries
//
// Error handling: every parse/pack failure is wrapped with
// fmt.Errorf("...: %w", ErrWire) so callers can test with
// errors.Is(err, dnswire.ErrWire).
package dnswire

import "errors"

// ErrWire is the sentinel error for all DNS wire-format violations.
var ErrWire = errors.New("dns wire error")

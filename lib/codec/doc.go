// Copyright 2026 The Wrapix Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides wrapix's standard CBOR encoding configuration.
//
// Wrapix uses two serialization formats with a clear boundary:
//
//   - JSON for external interfaces: the audit record appended to the
//     audit log, which downstream tooling parses.
//   - CBOR for internal state: the per-session instance record written
//     under the instances directory.
//
// This package provides the shared CBOR encoding and decoding modes so
// that every wrapix package encodes identically without duplicating
// configuration. The encoder uses Core Deterministic Encoding (RFC 8949
// §4.2): sorted map keys, smallest integer encoding, no
// indefinite-length items. Same logical data always produces identical
// bytes.
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// Types serialized only as CBOR carry `cbor` struct tags; types that
// also appear on a JSON surface carry `json` tags, which fxamacker/cbor
// reads as a fallback. Never use both tags on the same field.
package codec

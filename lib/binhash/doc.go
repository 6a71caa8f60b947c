// Copyright 2026 The Wrapix Authors
// SPDX-License-Identifier: Apache-2.0

// Package binhash provides SHA256 content hashing for binary files.
//
// Wrapix stamps each session's instance record with digests of the
// root filesystem image, the kernel, and the bridge helper binary that
// launched it. When a session misbehaves, the record pins down exactly
// which artifacts were involved, independent of what the paths point
// at by the time anyone looks.
//
// The API surface is three functions:
//
//   - [HashFile] -- streams a file through SHA256, returning a [32]byte
//     digest with constant memory usage regardless of file size
//   - [FormatDigest] -- converts a [32]byte digest to its canonical
//     hex-encoded string representation
//   - [HashFileHex] -- HashFile and FormatDigest combined, for record
//     fields that store digests as strings
//
// This package has no dependencies on other wrapix packages.
package binhash

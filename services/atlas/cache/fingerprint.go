// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// fingerprintVersion changes whenever the hashed layout changes, so old
// artifacts stop matching.
const fingerprintVersion = "atlas-fp/1"

// FingerprintInput is what an artifact's content address is derived from.
type FingerprintInput struct {
	// Stage distinguishes artifacts derived from the same input.
	Stage string

	// Nodes and Edges are the graph's counts.
	Nodes int
	Edges int

	// InputChecksum is the sha256 of the raw input bytes.
	InputChecksum string

	// Params are the algorithm parameters; any JSON-encodable value.
	Params any
}

// Fingerprint returns the hex sha256 of in.
//
// Description:
//
//	Hashes a version tag, the stage, the counts, the input checksum and the
//	JSON encoding of Params, each length-prefixed so distinct inputs cannot
//	collide by concatenation. Struct fields encode in declaration order and
//	map keys sorted, so equal parameters always hash equally.
func Fingerprint(in FingerprintInput) (string, error) {
	params, err := json.Marshal(in.Params)
	if err != nil {
		return "", fmt.Errorf("fingerprint params: %w", err)
	}

	h := sha256.New()
	var num [8]byte
	writeField := func(b []byte) {
		binary.BigEndian.PutUint64(num[:], uint64(len(b)))
		h.Write(num[:])
		h.Write(b)
	}
	writeField([]byte(fingerprintVersion))
	writeField([]byte(in.Stage))
	binary.BigEndian.PutUint64(num[:], uint64(in.Nodes))
	h.Write(num[:])
	binary.BigEndian.PutUint64(num[:], uint64(in.Edges))
	h.Write(num[:])
	writeField([]byte(in.InputChecksum))
	writeField(params)

	return hex.EncodeToString(h.Sum(nil)), nil
}

// Chain derives a fingerprint from an upstream one, for stages whose input
// is another stage's output.
func Chain(upstream, stage string, params any) (string, error) {
	return Fingerprint(FingerprintInput{Stage: stage, InputChecksum: upstream, Params: params})
}

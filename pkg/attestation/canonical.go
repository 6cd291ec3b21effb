// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package attestation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// canonicalJSON renders v (a Certificate or a map produced from one)
// into a deterministic form: sorted object keys, no insignificant
// whitespace, UTF-8, no trailing newline. It re-decodes through
// encoding/json into map[string]interface{} so the same function
// handles both a Certificate struct and a map with named fields already
// stripped by the caller.
func canonicalJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("attestation: marshal for canonicalization: %w", err)
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("attestation: unmarshal for canonicalization: %w", err)
	}
	var buf bytes.Buffer
	if err := writeCanonical(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeCanonical recursively emits generic with object keys sorted
// lexicographically and no extraneous whitespace, producing the same
// byte sequence for semantically equal objects regardless of original
// key insertion order.
func writeCanonical(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			keyJSON, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(keyJSON)
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil

	case []interface{}:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil

	default:
		// Scalars (string, float64, bool, nil) and anything else
		// encoding/json already renders without insignificant whitespace.
		leaf, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(leaf)
		return nil
	}
}

// stripFields decodes v to a generic map and deletes the named
// top-level keys, used to drop {content_hash, signature} before hashing
// and {signature} alone before verifying.
func stripFields(v interface{}, fields ...string) (map[string]interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic map[string]interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	for _, f := range fields {
		delete(generic, f)
	}
	return generic, nil
}

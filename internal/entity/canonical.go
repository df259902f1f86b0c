package entity

import (
	"bytes"
	"encoding/json"
	"sort"
)

// timestampFields are stripped before equality comparison so that writing
// an unchanged payload does not manufacture a spurious difference purely
// because updatedAt advanced.
var timestampFields = map[string]struct{}{
	"createdAt": {},
	"updatedAt": {},
}

// CanonicalEqual reports whether a and b are structurally equal once every
// createdAt/updatedAt field, at any nesting depth, is ignored. It is used
// by the write-through wrapper's change detection for Settings and Game
// saves.
//
// Canonicalization sorts object keys and uses deterministic number
// formatting (via encoding/json's own float formatting, which is stable for
// a given input) so that two semantically identical payloads built through
// different code paths compare equal. If either value fails to marshal,
// CanonicalEqual returns false: an un-comparable payload must never be
// treated as a no-op skip.
func CanonicalEqual(a, b interface{}) bool {
	ca, err := canonicalize(a)
	if err != nil {
		return false
	}
	cb, err := canonicalize(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ca, cb)
}

func canonicalize(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	stripped := stripTimestamps(generic)
	return marshalSorted(stripped)
}

func stripTimestamps(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			if _, skip := timestampFields[k]; skip {
				continue
			}
			out[k] = stripTimestamps(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = stripTimestamps(val)
		}
		return out
	default:
		return v
	}
}

// marshalSorted renders v with map keys in sorted order at every level, so
// two maps built in different insertion orders serialize identically.
// encoding/json already sorts map[string]interface{} keys on Marshal, but we
// make that explicit and recursive so the invariant holds regardless of Go
// version behavior.
func marshalSorted(v interface{}) ([]byte, error) {
	switch t := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			vb, err := marshalSorted(t[k])
			if err != nil {
				return nil, err
			}
			buf.Write(vb)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	case []interface{}:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			eb, err := marshalSorted(e)
			if err != nil {
				return nil, err
			}
			buf.Write(eb)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	default:
		return json.Marshal(t)
	}
}

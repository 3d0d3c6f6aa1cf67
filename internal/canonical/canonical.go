// Package canonical computes deterministic content digests of bookmark
// datasets. Volatile per-website fields are normalized before hashing so
// that two exports differing only in usage statistics hash the same.
package canonical

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Collections that always exist in a canonical dataset.
var collectionKeys = []string{"websites", "categories", "tags"}

// Canonicalize returns a normalized copy of a generic JSON value:
//   - a bare array is treated as a legacy website list
//   - objects get missing or null collections set to [] and settings to {}
//   - every website has visitCount=0, isOnline=true, tagIds defaulted to []
//     and lastVisited/updatedAt removed
//
// Array order is preserved. The input is not modified.
func Canonicalize(v any) any {
	switch t := v.(type) {
	case []any:
		return canonicalWebsites(t)
	case map[string]any:
		out := make(map[string]any, len(t)+4)
		for k, val := range t {
			out[k] = val
		}
		for _, key := range collectionKeys {
			if list, ok := out[key].([]any); ok {
				out[key] = list
				continue
			}
			out[key] = []any{}
		}
		out["websites"] = canonicalWebsites(out["websites"].([]any))
		if _, ok := out["settings"].(map[string]any); !ok {
			out["settings"] = map[string]any{}
		}
		return out
	default:
		return v
	}
}

func canonicalWebsites(in []any) []any {
	out := make([]any, len(in))
	for i, item := range in {
		w, ok := item.(map[string]any)
		if !ok {
			out[i] = item
			continue
		}
		c := make(map[string]any, len(w)+3)
		for k, val := range w {
			c[k] = val
		}
		delete(c, "lastVisited")
		delete(c, "updatedAt")
		c["visitCount"] = float64(0)
		c["isOnline"] = true
		if tags, ok := c["tagIds"].([]any); ok {
			c["tagIds"] = append([]any{}, tags...)
		} else {
			c["tagIds"] = []any{}
		}
		out[i] = c
	}
	return out
}

// Core returns the hashed portion of an export: payload.data when present,
// the payload itself otherwise.
func Core(payload any) any {
	if m, ok := payload.(map[string]any); ok {
		if data, ok := m["data"]; ok && data != nil {
			return data
		}
	}
	return payload
}

// Generic converts any JSON-serializable value into its generic form
// (map[string]any, []any, float64, string, bool, nil).
func Generic(v any) (any, error) {
	switch v.(type) {
	case nil, string, float64, bool:
		return v, nil
	case json.RawMessage:
		return Decode(v.(json.RawMessage))
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return Decode(raw)
}

// Decode parses raw JSON into its generic form.
func Decode(raw []byte) (any, error) {
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return out, nil
}

// Marshal serializes v with object keys sorted at every level, no HTML
// escaping and no trailing newline.
func Marshal(v any) ([]byte, error) {
	g, err := Generic(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(g); err != nil {
		return nil, fmt.Errorf("canonical encode: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Hash returns the hex MD5 digest of Marshal(v).
func Hash(v any) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:]), nil
}

// Digest canonicalizes a dataset snapshot and hashes it.
func Digest(snapshot any) (string, error) {
	g, err := Generic(snapshot)
	if err != nil {
		return "", err
	}
	return Hash(Canonicalize(g))
}

// DigestPayload hashes the core of a raw export payload.
func DigestPayload(raw []byte) (string, error) {
	v, err := Decode(raw)
	if err != nil {
		return "", err
	}
	return Digest(Core(v))
}

// Package wire turns backend JSON into canonical domain values. It is the
// only place that knows about payload shapes: entities may arrive flat or
// with their fields nested under an info object, identities may be strings
// or numbers, and timestamps may be RFC 3339 strings or Unix epochs.
package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrNoIdentity is returned for entities without an extractable identity.
	ErrNoIdentity = errors.New("entity has no identity")

	// ErrMissingField is returned when a required field is absent.
	ErrMissingField = errors.New("missing field")
)

// fields is a decoded JSON object with nested info objects folded into the
// top level.
type fields map[string]json.RawMessage

// parseFields decodes raw as an object and folds the nested objects named
// by nested into it. Nested values win over top-level ones.
func parseFields(raw []byte, nested ...string) (fields, error) {
	var f fields
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("unmarshal object: %w", err)
	}
	if f == nil {
		return nil, fmt.Errorf("unmarshal object: null")
	}
	for _, key := range nested {
		inner, ok := f[key]
		if !ok || isNull(inner) {
			continue
		}
		var sub fields
		if err := json.Unmarshal(inner, &sub); err != nil {
			continue
		}
		for k, v := range sub {
			f[k] = v
		}
	}
	return f, nil
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// raw returns the first present, non-null value among keys.
func (f fields) raw(keys ...string) (json.RawMessage, bool) {
	for _, k := range keys {
		if v, ok := f[k]; ok && !isNull(v) {
			return v, true
		}
	}
	return nil, false
}

func (f fields) has(keys ...string) bool {
	_, ok := f.raw(keys...)
	return ok
}

// id reads an identity that may be a JSON string or number.
func (f fields) id(keys ...string) string {
	v, ok := f.raw(keys...)
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err == nil {
		return n.String()
	}
	return ""
}

func (f fields) str(keys ...string) string {
	v, ok := f.raw(keys...)
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return ""
	}
	return s
}

func (f fields) strPtr(keys ...string) *string {
	if !f.has(keys...) {
		return nil
	}
	s := f.str(keys...)
	return &s
}

// int reads a number that may also be sent as a numeric string.
func (f fields) int(keys ...string) (int64, bool) {
	v, ok := f.raw(keys...)
	if !ok {
		return 0, false
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err != nil {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return 0, false
		}
		n = json.Number(strings.TrimSpace(s))
	}
	if i, err := n.Int64(); err == nil {
		return i, true
	}
	if fl, err := n.Float64(); err == nil {
		return int64(fl), true
	}
	return 0, false
}

func (f fields) bool(keys ...string) bool {
	v, ok := f.raw(keys...)
	if !ok {
		return false
	}
	var b bool
	if err := json.Unmarshal(v, &b); err == nil {
		return b
	}
	n, _ := f.int(keys...)
	return n != 0
}

func (f fields) time(keys ...string) (time.Time, bool) {
	v, ok := f.raw(keys...)
	if !ok {
		return time.Time{}, false
	}
	return parseTime(v)
}

func (f fields) timePtr(keys ...string) *time.Time {
	t, ok := f.time(keys...)
	if !ok {
		return nil
	}
	return &t
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05",
}

// parseTime accepts RFC 3339 style strings and Unix epochs in seconds or
// milliseconds.
func parseTime(raw json.RawMessage) (time.Time, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), true
			}
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return epoch(n), true
		}
		return time.Time{}, false
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return time.Time{}, false
	}
	if i, err := n.Int64(); err == nil {
		return epoch(i), true
	}
	if fl, err := n.Float64(); err == nil {
		return time.UnixMilli(int64(fl * 1000)).UTC(), true
	}
	return time.Time{}, false
}

func epoch(n int64) time.Time {
	if n > 1e12 || n < -1e12 {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}

// list decodes raw as an array, or as an object wrapping the array under one
// of keys.
func list(raw []byte, keys ...string) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("unmarshal list: %w", err)
		}
		return items, nil
	}
	f, err := parseFields(trimmed)
	if err != nil {
		return nil, err
	}
	inner, ok := f.raw(keys...)
	if !ok {
		return nil, nil
	}
	return list(inner, keys...)
}

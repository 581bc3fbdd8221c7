package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/blackmichael/forum-sync/internal/wire"
)

// Event is one named message from the push channel.
type Event struct {
	Name string
	Data json.RawMessage
}

// ParseEnvelope decodes a push message. Two forms are accepted: an object
// {"event": name, "data": payload} and an array [name, payload], optionally
// preceded by a numeric packet type as socket.io text frames are.
func ParseEnvelope(msg []byte) (Event, error) {
	trimmed := bytes.TrimSpace(msg)
	if len(trimmed) == 0 {
		return Event{}, fmt.Errorf("%w: empty message", ErrMalformed)
	}
	trimmed = bytes.TrimLeft(trimmed, "0123456789")
	if len(trimmed) == 0 {
		// bare packet type, a transport keepalive
		return Event{Name: "ping"}, nil
	}

	switch trimmed[0] {
	case '[':
		var parts []json.RawMessage
		if err := json.Unmarshal(trimmed, &parts); err != nil {
			return Event{}, fmt.Errorf("%w: unmarshal array envelope: %w", ErrMalformed, err)
		}
		if len(parts) == 0 {
			return Event{}, fmt.Errorf("%w: empty array envelope", ErrMalformed)
		}
		var name string
		if err := json.Unmarshal(parts[0], &name); err != nil {
			return Event{}, fmt.Errorf("%w: event name: %w", ErrMalformed, err)
		}
		ev := Event{Name: NormalizeName(name)}
		if len(parts) > 1 {
			ev.Data = parts[1]
		}
		return ev, nil

	case '{':
		var raw struct {
			Event   string          `json:"event"`
			Type    string          `json:"type"`
			Data    json.RawMessage `json:"data"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return Event{}, fmt.Errorf("%w: unmarshal envelope: %w", ErrMalformed, err)
		}
		name := raw.Event
		if name == "" {
			name = raw.Type
		}
		if name == "" {
			return Event{}, fmt.Errorf("%w: envelope without event name", ErrMalformed)
		}
		data := raw.Data
		if len(data) == 0 {
			data = raw.Payload
		}
		return Event{Name: NormalizeName(name), Data: data}, nil
	}
	return Event{}, fmt.Errorf("%w: unexpected message %q", ErrMalformed, wire.Excerpt(string(trimmed), 32))
}

// NormalizeName folds the spellings of an event name into one:
// lower case, dashes between words.
func NormalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.NewReplacer("_", "-", ":", "-", ".", "-", " ", "-").Replace(name)
}

package eventlog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
)

var ErrParse = errors.New("parse event log")

// EventType is carried as a string. Daemons emit it either as a JSON number
// (e.g. 134217729) or a string; both decode to the same value.
type EventType string

func (t *EventType) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = EventType(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("event_type must be a string or number: %w", err)
	}
	*t = EventType(n.String())
	return nil
}

// MarshalJSON writes canonical decimal values as numbers and anything else,
// including "007", as a string.
func (t EventType) MarshalJSON() ([]byte, error) {
	if v, err := strconv.ParseUint(string(t), 10, 32); err == nil && strconv.FormatUint(v, 10) == string(t) {
		return []byte(t), nil
	}
	return json.Marshal(string(t))
}

// Uint32 returns the numeric event type, or false for symbolic names.
func (t EventType) Uint32() (uint32, bool) {
	v, err := strconv.ParseUint(string(t), 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}

// Entry is one register extension recorded by the daemon. Fields outside the
// known set are kept verbatim in Extra.
type Entry struct {
	IMR          int
	Digest       string
	EventType    EventType
	Event        string
	EventPayload string
	Extra        map[string]json.RawMessage

	// Set by UnmarshalJSON so an unmodified entry re-encodes as it arrived.
	rawEventType json.RawMessage
	parsedType   EventType
	noPayload    bool
}

var requiredFields = []string{"imr", "digest", "event_type", "event"}

func (e *Entry) UnmarshalJSON(b []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}
	if fields == nil {
		return fmt.Errorf("event log entry must be an object")
	}
	for _, name := range requiredFields {
		if _, ok := fields[name]; !ok {
			return fmt.Errorf("event log entry missing %q", name)
		}
	}

	var out Entry
	if err := json.Unmarshal(fields["imr"], &out.IMR); err != nil {
		return fmt.Errorf("imr: %w", err)
	}
	if err := json.Unmarshal(fields["digest"], &out.Digest); err != nil {
		return fmt.Errorf("digest: %w", err)
	}
	if err := json.Unmarshal(fields["event_type"], &out.EventType); err != nil {
		return fmt.Errorf("event_type: %w", err)
	}
	out.rawEventType = append(json.RawMessage(nil), fields["event_type"]...)
	out.parsedType = out.EventType
	if err := json.Unmarshal(fields["event"], &out.Event); err != nil {
		return fmt.Errorf("event: %w", err)
	}
	if raw, ok := fields["event_payload"]; ok {
		if err := json.Unmarshal(raw, &out.EventPayload); err != nil {
			return fmt.Errorf("event_payload: %w", err)
		}
	} else {
		out.noPayload = true
	}

	for name, raw := range fields {
		switch name {
		case "imr", "digest", "event_type", "event", "event_payload":
			continue
		}
		if out.Extra == nil {
			out.Extra = make(map[string]json.RawMessage)
		}
		out.Extra[name] = raw
	}

	*e = out
	return nil
}

func (e Entry) MarshalJSON() ([]byte, error) {
	fields := make(map[string]json.RawMessage, 5+len(e.Extra))
	for name, raw := range e.Extra {
		fields[name] = raw
	}

	put := func(name string, v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		fields[name] = b
		return nil
	}
	if err := put("imr", e.IMR); err != nil {
		return nil, err
	}
	if err := put("digest", e.Digest); err != nil {
		return nil, err
	}
	if e.rawEventType != nil && e.EventType == e.parsedType {
		fields["event_type"] = e.rawEventType
	} else if err := put("event_type", e.EventType); err != nil {
		return nil, err
	}
	if err := put("event", e.Event); err != nil {
		return nil, err
	}
	if !e.noPayload || e.EventPayload != "" {
		if err := put("event_payload", e.EventPayload); err != nil {
			return nil, err
		}
	}

	// Stable key order keeps marshalled logs diffable.
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range names {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(name)
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(fields[name])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Parse decodes a JSON array of entries, preserving order. Register indices
// outside 0..3 are accepted here and ignored by Replay.
func Parse(jsonText []byte) ([]Entry, error) {
	var entries []Entry
	if err := json.Unmarshal(jsonText, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if entries == nil {
		if !bytes.Equal(bytes.TrimSpace(jsonText), []byte("[]")) {
			return nil, fmt.Errorf("%w: expected a JSON array", ErrParse)
		}
		entries = []Entry{}
	}
	return entries, nil
}

// ParseString is Parse for the JSON-string form the daemon embeds in quote
// responses.
func ParseString(jsonText string) ([]Entry, error) {
	return Parse([]byte(jsonText))
}

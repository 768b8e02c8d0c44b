package protocol

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Encode assigns an event_id when missing and marshals the event.
// The returned Event is the exact value that was serialized; callers
// must treat it as immutable.
func Encode(ev Event) ([]byte, Event, error) {
	out := ev
	out.Raw = nil
	if out.Type == "" {
		return nil, out, fmt.Errorf("encode: %w", ErrMissingType)
	}
	if out.EventID == "" {
		out.EventID = uuid.NewString()
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, out, fmt.Errorf("encode %s: %w", out.Type, err)
	}
	return b, out, nil
}

// Decode parses an inbound frame. Malformed frames yield a *DecodeError.
func Decode(frame []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(frame, &ev); err != nil {
		return Event{}, &DecodeError{Frame: excerpt(string(frame), 100), Err: err}
	}
	if ev.Type == "" {
		return Event{}, &DecodeError{Frame: excerpt(string(frame), 100), Err: ErrMissingType}
	}
	ev.Raw = append(json.RawMessage(nil), frame...)
	return ev, nil
}

// Excerpt truncates s to at most n bytes for diagnostics, never splitting
// a UTF-8 sequence.
func Excerpt(s string, n int) string { return excerpt(s, n) }

func excerpt(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrEmptyLine is returned for blank lines
var ErrEmptyLine = errors.New("empty line")

// ErrNoDiscriminator is returned for valid JSON objects without an "event" field
var ErrNoDiscriminator = errors.New("missing event discriminator")

// Record is one parsed journal line. It lives only for the duration of a batch.
type Record struct {
	Event     string
	Timestamp time.Time // Zero when absent or unparseable
	Raw       json.RawMessage
}

type envelope struct {
	Event     string `json:"event"`
	Timestamp string `json:"timestamp"`
}

// ParseLine parses a single journal line.
// Format: {"timestamp":"2024-03-01T18:22:31Z","event":"FSDJump",...}
func ParseLine(line string) (Record, error) {
	// Remove BOM (Byte Order Mark) if present
	line = strings.TrimPrefix(line, "\ufeff")
	line = strings.TrimSpace(line)
	if line == "" {
		return Record{}, ErrEmptyLine
	}
	if line[0] != '{' {
		return Record{}, fmt.Errorf("invalid JSON: not an object")
	}

	var env envelope
	if err := json.Unmarshal([]byte(line), &env); err != nil {
		return Record{}, fmt.Errorf("invalid JSON: %w", err)
	}
	if env.Event == "" {
		return Record{}, ErrNoDiscriminator
	}

	rec := Record{
		Event: env.Event,
		Raw:   json.RawMessage(line),
	}
	if env.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339, env.Timestamp); err == nil {
			rec.Timestamp = ts
		}
	}
	return rec, nil
}

// Decode unmarshals the record body into v
func (r Record) Decode(v interface{}) error {
	if err := json.Unmarshal(r.Raw, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", r.Event, err)
	}
	return nil
}

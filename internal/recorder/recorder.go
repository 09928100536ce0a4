// Package recorder writes per-session activity recordings in JSON-Lines
// format: one header line followed by one event per line.
package recorder

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// FormatVersion is the recording format version written in every header.
const FormatVersion = 1

// Header is the first line of a recording.
type Header struct {
	Version   int    `json:"version"`
	SessionID string `json:"sessionId"`
	Timestamp int64  `json:"timestamp"`
	Language  string `json:"language,omitempty"`
}

// Event is a single recorded protocol event.
// Format: [time_offset, event_type, detail]
type Event struct {
	TimeOffset float64
	Type       string
	Detail     string
}

// MarshalJSON implements custom JSON marshaling for Event.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{e.TimeOffset, e.Type, e.Detail})
}

// UnmarshalJSON implements custom JSON unmarshaling for Event.
func (e *Event) UnmarshalJSON(data []byte) error {
	var arr []interface{}
	if err := json.Unmarshal(data, &arr); err != nil {
		return err
	}
	if len(arr) != 3 {
		return fmt.Errorf("invalid event format: expected 3 elements, got %d", len(arr))
	}

	timeOffset, ok := arr[0].(float64)
	if !ok {
		return fmt.Errorf("invalid time offset type")
	}
	e.TimeOffset = timeOffset

	eventType, ok := arr[1].(string)
	if !ok {
		return fmt.Errorf("invalid event type")
	}
	e.Type = eventType

	detail, ok := arr[2].(string)
	if !ok {
		return fmt.Errorf("invalid event detail type")
	}
	e.Detail = detail

	return nil
}

// Recorder records the activity of one session.
type Recorder struct {
	writer    io.Writer
	file      *os.File // only set if we own the file
	startTime time.Time
	mu        sync.Mutex
	closed    bool
}

// NewRecorder creates a Recorder that writes to the given file path.
func NewRecorder(filePath string) (*Recorder, error) {
	file, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create recording file: %w", err)
	}

	return &Recorder{
		writer:    file,
		file:      file,
		startTime: time.Now(),
	}, nil
}

// NewRecorderWithWriter creates a Recorder that writes to the given writer.
// This is useful for testing.
func NewRecorderWithWriter(w io.Writer) *Recorder {
	return &Recorder{
		writer:    w,
		startTime: time.Now(),
	}
}

// WriteHeader writes the header line. It should be called once, first.
func (r *Recorder) WriteHeader(sessionID, language string) error {
	header := Header{
		Version:   FormatVersion,
		SessionID: sessionID,
		Timestamp: r.startTime.Unix(),
		Language:  language,
	}

	data, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}

	return r.writeLine(data)
}

// WriteEvent appends an event stamped with the time since the recording started.
func (r *Recorder) WriteEvent(eventType, detail string) error {
	event := Event{
		TimeOffset: time.Since(r.startTime).Seconds(),
		Type:       eventType,
		Detail:     detail,
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	return r.writeLine(data)
}

func (r *Recorder) writeLine(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("recorder closed")
	}

	if _, err := r.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write recording: %w", err)
	}
	return nil
}

// Close closes the recording file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// StartTime returns the start time of the recording.
func (r *Recorder) StartTime() time.Time {
	return r.startTime
}

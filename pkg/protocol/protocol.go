// Package protocol defines the wire format spoken by the Whisplay display
// server: newline-delimited JSON state patches going out, button event
// frames coming back.
package protocol

import (
	"encoding/json"
	"fmt"
)

// State is a partial display update. Nil pointer fields are omitted from
// the wire so the server keeps its current value for them.
type State struct {
	Status     *string `json:"status,omitempty"`
	Emoji      *string `json:"emoji,omitempty"`
	Text       *string `json:"text,omitempty"`
	RGB        *string `json:"RGB,omitempty"`
	Brightness *int    `json:"brightness,omitempty"`
	Image      *string `json:"image,omitempty"`
}

// Empty reports whether the patch carries no fields at all.
func (s State) Empty() bool {
	return s.Status == nil && s.Emoji == nil && s.Text == nil &&
		s.RGB == nil && s.Brightness == nil && s.Image == nil
}

func (s State) Marshal() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal display state: %w", err)
	}
	return append(data, '\n'), nil
}

// Str is a convenience for building patches inline.
func Str(v string) *string { return &v }

// Int is a convenience for building patches inline.
func Int(v int) *int { return &v }

// Event names pushed by the display server to connected clients.
const (
	EventButtonPressed  = "button_pressed"
	EventButtonReleased = "button_released"
)

// Event is a server-to-client frame.
type Event struct {
	Event string `json:"event"`
}

func ParseEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("parse display event: %w", err)
	}
	return ev, nil
}

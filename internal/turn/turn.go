// Package turn is the top-level state machine of the device: one
// listen→recognize→answer cycle at a time, with camera-driven visual
// modes taking over the screen only after the turn's speech has
// finished playing.
//
// The controller is a single-goroutine actor. All mutable state lives
// behind its event loop; collaborators and callbacks only post events.
package turn

import (
	"jarvis/internal/nlu"
	"jarvis/internal/worker"
)

// State is the controller's current phase. Exactly one is current.
type State int

const (
	StateSleep State = iota
	StateListening
	StateRecognizing
	StateAnswering
	StateVisualActive
	StateImageDisplay
)

func (s State) String() string {
	switch s {
	case StateSleep:
		return "sleep"
	case StateListening:
		return "listening"
	case StateRecognizing:
		return "recognizing"
	case StateAnswering:
		return "answering"
	case StateVisualActive:
		return "visual-active"
	case StateImageDisplay:
		return "image-display"
	default:
		return "unknown"
	}
}

// Internal events. Completion events carry the turn they belong to so
// stale futures from a cancelled turn are discarded instead of acted
// on.
type event interface{}

type evPressed struct{}

type evReleased struct{}

type evStop struct{}

type evUtterance struct{ text string }

type evRecognized struct {
	turn uint64
	text string
	err  error
}

type evAnswerReady struct {
	turn uint64
	res  nlu.Result
	err  error
}

type evPlaybackDone struct {
	turn uint64
	err  error
}

type evWorkerExited struct{ handle *worker.Handle }

type evTeardown struct{ handle *worker.Handle }

type evWorkerEvent struct {
	handle *worker.Handle
	ev     worker.Event
}

// Package visual holds everything the controller needs to run a
// camera-driven display takeover: the mode kinds, the per-kind launch
// requests, the handoff slot that defers activation until speech
// finishes, and the frame relay feeding the screen.
package visual

import "time"

// Kind enumerates the camera-driven display modes.
type Kind int

const (
	Detection Kind = iota
	Recording
	Playback
	Pose
	Observer
	Sentry
)

var kindNames = map[Kind]string{
	Detection: "detection",
	Recording: "recording",
	Playback:  "playback",
	Pose:      "pose",
	Observer:  "observer",
	Sentry:    "sentry",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unknown"
}

// FramePath is the well-known temp file the mode's worker writes its
// latest frame to. Paths match the worker scripts.
func (k Kind) FramePath() string {
	switch k {
	case Detection:
		return "/tmp/whisplay_detection_frame.jpg"
	case Recording:
		return "/tmp/whisplay_video_preview_latest.jpg"
	case Playback:
		return "/tmp/whisplay_current_video_frame.jpg"
	case Pose:
		return "/tmp/whisplay_pose_frame.jpg"
	case Observer:
		return "/tmp/whisplay_observer_frame.jpg"
	case Sentry:
		return "/tmp/whisplay_sentry_frame.jpg"
	default:
		return ""
	}
}

// Cadence is the relay poll interval for the mode. Playback polls the
// fastest; the watch modes produce frames slowly and get a relaxed tick.
func (k Kind) Cadence() time.Duration {
	switch k {
	case Playback:
		return 50 * time.Millisecond
	case Recording, Pose:
		return 100 * time.Millisecond
	case Detection:
		return 200 * time.Millisecond
	default:
		return 300 * time.Millisecond
	}
}

// Color is the accent color the display shows while the mode owns the
// screen.
func (k Kind) Color() string {
	switch k {
	case Detection:
		return "#00FFAA"
	case Recording:
		return "#FF3333"
	case Playback:
		return "#3399FF"
	case Pose:
		return "#FFAA00"
	case Observer:
		return "#AA66FF"
	case Sentry:
		return "#FF66CC"
	default:
		return "#FFFFFF"
	}
}

// Kinds lists every visual mode, for frame cleanup sweeps.
func Kinds() []Kind {
	return []Kind{Detection, Recording, Playback, Pose, Observer, Sentry}
}

package visual

import (
	"fmt"
	"path/filepath"
	"strconv"

	"jarvis/internal/worker"
)

// Request is one not-yet-activated visual mode. Each kind carries only
// its own fields; a request is never mutated after creation.
type Request interface {
	Kind() Kind
	// LaunchSpec builds the worker command line. scriptDir is where the
	// vision scripts live on the device.
	LaunchSpec(scriptDir string) worker.LaunchSpec
}

// DetectionRequest runs live object detection on screen.
type DetectionRequest struct {
	Targets  []string
	Duration float64 // seconds, 0 means until interrupted
	VideoOut string
}

func (DetectionRequest) Kind() Kind { return Detection }

func (r DetectionRequest) LaunchSpec(scriptDir string) worker.LaunchSpec {
	args := []string{filepath.Join(scriptDir, "live_detection.py"), "start"}
	args = append(args, r.Targets...)
	if r.Duration > 0 {
		args = append(args, "--duration", formatFloat(r.Duration))
	}
	if r.VideoOut != "" {
		args = append(args, "--video_out", r.VideoOut)
	}
	return worker.LaunchSpec{Command: "python3", Args: args}
}

// RecordingRequest records a video clip with a live preview.
type RecordingRequest struct {
	OutputPath string
	Duration   float64 // seconds
}

func (RecordingRequest) Kind() Kind { return Recording }

func (r RecordingRequest) LaunchSpec(scriptDir string) worker.LaunchSpec {
	args := []string{filepath.Join(scriptDir, "video_capture.py"), r.OutputPath}
	if r.Duration > 0 {
		args = append(args, formatFloat(r.Duration))
	}
	return worker.LaunchSpec{Command: "python3", Args: args}
}

// PlaybackRequest plays a saved clip on the display.
type PlaybackRequest struct {
	VideoPath string
}

func (PlaybackRequest) Kind() Kind { return Playback }

func (r PlaybackRequest) LaunchSpec(scriptDir string) worker.LaunchSpec {
	return worker.LaunchSpec{
		Command: "python3",
		Args:    []string{filepath.Join(scriptDir, "video_player_lcd.py"), "play", r.VideoPath},
	}
}

// PoseRequest tracks a human pose or exercise.
type PoseRequest struct {
	Action string
	Count  bool
	Goal   int
	Record bool
}

func (PoseRequest) Kind() Kind { return Pose }

func (r PoseRequest) LaunchSpec(scriptDir string) worker.LaunchSpec {
	args := []string{filepath.Join(scriptDir, "pose_estimation.py"), "--action", r.Action, "--visualize"}
	if r.Count {
		args = append(args, "--count")
	}
	if r.Goal > 0 {
		args = append(args, "--goal", strconv.Itoa(r.Goal))
	}
	if r.Record {
		args = append(args, "--record")
	}
	return worker.LaunchSpec{Command: "python3", Args: args}
}

// ObserverRequest watches for objects, optionally recording clips
// around sightings.
type ObserverRequest struct {
	Targets    []string
	Record     bool
	Continuous bool
	Stability  int // consecutive frames to confirm, 0 = worker default
}

func (ObserverRequest) Kind() Kind { return Observer }

func (r ObserverRequest) LaunchSpec(scriptDir string) worker.LaunchSpec {
	args := []string{filepath.Join(scriptDir, "smart_observer.py")}
	args = append(args, r.Targets...)
	args = append(args, "--visualize")
	if r.Record {
		args = append(args, "--record")
	}
	if r.Continuous {
		args = append(args, "--continuous")
	}
	if r.Stability > 0 {
		args = append(args, "--stability", strconv.Itoa(r.Stability))
	}
	return worker.LaunchSpec{Command: "python3", Args: args}
}

// SentryRequest watches for interactions between object pairs.
type SentryRequest struct {
	Pairs      [][2]string
	Record     bool
	Continuous bool
	Threshold  float64 // overlap threshold, 0 = worker default
}

func (SentryRequest) Kind() Kind { return Sentry }

func (r SentryRequest) LaunchSpec(scriptDir string) worker.LaunchSpec {
	args := []string{filepath.Join(scriptDir, "semantic_sentry.py")}
	for _, p := range r.Pairs {
		args = append(args, p[0]+","+p[1])
	}
	args = append(args, "--visualize")
	if r.Record {
		args = append(args, "--record")
	}
	if r.Continuous {
		args = append(args, "--continuous")
	}
	if r.Threshold > 0 {
		args = append(args, "--threshold", formatFloat(r.Threshold))
	}
	return worker.LaunchSpec{Command: "python3", Args: args}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// Describe is the short human label used in acknowledgements and logs.
func Describe(r Request) string {
	switch req := r.(type) {
	case DetectionRequest:
		return fmt.Sprintf("detection of %v", req.Targets)
	case RecordingRequest:
		return fmt.Sprintf("recording to %s", req.OutputPath)
	case PlaybackRequest:
		return fmt.Sprintf("playback of %s", filepath.Base(req.VideoPath))
	case PoseRequest:
		return fmt.Sprintf("pose tracking (%s)", req.Action)
	case ObserverRequest:
		return fmt.Sprintf("observer for %v", req.Targets)
	case SentryRequest:
		return fmt.Sprintf("sentry over %d pairs", len(req.Pairs))
	default:
		return r.Kind().String()
	}
}

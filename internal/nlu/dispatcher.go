package nlu

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	log "log/slog"

	"jarvis/internal/camera"
	"jarvis/internal/visual"
)

// GeneratedImagePath is where generate_image drops its output; the
// controller shows it once the answer finishes playing.
const GeneratedImagePath = "/tmp/whisplay_gen_image.png"

// Dispatcher executes tool calls. Visual-mode tools only park a request
// in the handoff slot; the turn controller activates it after the
// spoken answer. take_photo runs right away under the camera arbiter
// because a still capture never needs the screen.
type Dispatcher struct {
	Slot      *visual.Slot
	Arbiter   *camera.Arbiter
	ScriptDir string
	MediaDir  string

	imageGen  func(ctx context.Context, prompt, outPath string) error
	generated string
}

// TakeGenerated returns the path of an image generated during the
// current turn, clearing it for the next one.
func (d *Dispatcher) TakeGenerated() string {
	p := d.generated
	d.generated = ""
	return p
}

func NewDispatcher(slot *visual.Slot, arbiter *camera.Arbiter, scriptDir, mediaDir string) *Dispatcher {
	return &Dispatcher{
		Slot:      slot,
		Arbiter:   arbiter,
		ScriptDir: scriptDir,
		MediaDir:  mediaDir,
	}
}

// Dispatch runs one tool call and returns the acknowledgement string
// fed back to the model.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, rawArgs string) string {
	ack, err := d.dispatch(ctx, name, rawArgs)
	if err != nil {
		log.Warn("tool call failed", "tool", name, "err", err)
		return "error: " + err.Error()
	}
	return ack
}

func (d *Dispatcher) dispatch(ctx context.Context, name string, rawArgs string) (string, error) {
	switch name {
	case "start_detection":
		var a struct {
			Objects  []string `json:"objects"`
			Duration float64  `json:"duration"`
		}
		if err := json.Unmarshal([]byte(rawArgs), &a); err != nil {
			return "", fmt.Errorf("arguments: %w", err)
		}
		if len(a.Objects) == 0 {
			return "", fmt.Errorf("no objects to detect")
		}
		return d.park(visual.DetectionRequest{Targets: a.Objects, Duration: a.Duration})

	case "record_video":
		var a struct {
			Duration float64 `json:"duration"`
		}
		if err := json.Unmarshal([]byte(rawArgs), &a); err != nil {
			return "", fmt.Errorf("arguments: %w", err)
		}
		if a.Duration <= 0 {
			a.Duration = 10
		}
		out := filepath.Join(d.MediaDir, fmt.Sprintf("video-%s.mp4", time.Now().Format("20060102-150405")))
		return d.park(visual.RecordingRequest{OutputPath: out, Duration: a.Duration})

	case "play_video":
		var a struct {
			VideoPath string `json:"video_path"`
		}
		if err := json.Unmarshal([]byte(rawArgs), &a); err != nil {
			return "", fmt.Errorf("arguments: %w", err)
		}
		path := a.VideoPath
		if path == "" || path == "latest" {
			var err error
			path, err = d.latestVideo()
			if err != nil {
				return "", err
			}
		}
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("video not found: %s", path)
		}
		return d.park(visual.PlaybackRequest{VideoPath: path})

	case "start_pose_tracking":
		var a struct {
			Action string `json:"action"`
			Count  bool   `json:"count"`
			Goal   int    `json:"goal"`
			Record bool   `json:"record"`
		}
		if err := json.Unmarshal([]byte(rawArgs), &a); err != nil {
			return "", fmt.Errorf("arguments: %w", err)
		}
		if a.Action == "" {
			a.Action = "detect"
		}
		return d.park(visual.PoseRequest{Action: a.Action, Count: a.Count, Goal: a.Goal, Record: a.Record})

	case "start_observer":
		var a struct {
			Objects    []string `json:"objects"`
			Record     bool     `json:"record"`
			Continuous bool     `json:"continuous"`
		}
		if err := json.Unmarshal([]byte(rawArgs), &a); err != nil {
			return "", fmt.Errorf("arguments: %w", err)
		}
		if len(a.Objects) == 0 {
			return "", fmt.Errorf("no objects to watch")
		}
		return d.park(visual.ObserverRequest{Targets: a.Objects, Record: a.Record, Continuous: a.Continuous})

	case "start_sentry":
		var a struct {
			Pairs      []string `json:"pairs"`
			Record     bool     `json:"record"`
			Continuous bool     `json:"continuous"`
		}
		if err := json.Unmarshal([]byte(rawArgs), &a); err != nil {
			return "", fmt.Errorf("arguments: %w", err)
		}
		pairs, err := splitPairs(a.Pairs)
		if err != nil {
			return "", err
		}
		return d.park(visual.SentryRequest{Pairs: pairs, Record: a.Record, Continuous: a.Continuous})

	case "take_photo":
		return d.takePhoto(ctx)

	case "generate_image":
		var a struct {
			Prompt string `json:"prompt"`
		}
		if err := json.Unmarshal([]byte(rawArgs), &a); err != nil {
			return "", fmt.Errorf("arguments: %w", err)
		}
		if d.imageGen == nil {
			return "", fmt.Errorf("image generation not configured")
		}
		if err := d.imageGen(ctx, a.Prompt, GeneratedImagePath); err != nil {
			return "", err
		}
		d.generated = GeneratedImagePath
		return "image generated, it will be shown after you answer", nil

	default:
		return "", fmt.Errorf("unknown tool %q", name)
	}
}

// park validates the request's worker script and drops the request into
// the handoff slot. Spawn failures that can be known now (missing
// script) surface here, before the slot is touched.
func (d *Dispatcher) park(req visual.Request) (string, error) {
	spec := req.LaunchSpec(d.ScriptDir)
	if len(spec.Args) > 0 {
		if _, err := os.Stat(spec.Args[0]); err != nil {
			return "", fmt.Errorf("%s worker unavailable: %w", req.Kind(), err)
		}
	}

	replaced := d.Slot.Set(req)
	ack := fmt.Sprintf("%s will start after you finish answering", visual.Describe(req))
	if replaced {
		ack += " (replacing the previously requested mode)"
	}
	return ack, nil
}

func (d *Dispatcher) takePhoto(ctx context.Context) (string, error) {
	out := filepath.Join(d.MediaDir, fmt.Sprintf("photo-%s.jpg", time.Now().Format("20060102-150405")))

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	err := d.Arbiter.RunExclusive(ctx, "still-capture", func(ctx context.Context) error {
		script := filepath.Join(d.ScriptDir, "camera_capture.py")
		return exec.CommandContext(ctx, "python3", script, out).Run()
	})
	if err != nil {
		return "", fmt.Errorf("capture failed: %w", err)
	}
	return "photo saved to " + out, nil
}

func (d *Dispatcher) latestVideo() (string, error) {
	entries, err := filepath.Glob(filepath.Join(d.MediaDir, "*.mp4"))
	if err != nil || len(entries) == 0 {
		return "", fmt.Errorf("no saved videos")
	}

	latest := entries[0]
	var latestMod time.Time
	for _, p := range entries {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		if info.ModTime().After(latestMod) {
			latest = p
			latestMod = info.ModTime()
		}
	}
	return latest, nil
}

func splitPairs(raw []string) ([][2]string, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("no object pairs")
	}
	pairs := make([][2]string, 0, len(raw))
	for _, r := range raw {
		a, b, ok := strings.Cut(r, ",")
		if !ok || a == "" || b == "" {
			return nil, fmt.Errorf("bad pair %q, want \"obj1,obj2\"", r)
		}
		pairs = append(pairs, [2]string{strings.TrimSpace(a), strings.TrimSpace(b)})
	}
	return pairs, nil
}

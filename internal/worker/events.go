package worker

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Stdout tag prefixes recognized as structured event lines. Anything
// else a worker prints is treated as plain logging.
const (
	tagTrigger = "EVENT_TRIGGER:"
	tagVideo   = "EVENT_VIDEO:"
)

// Event is a structured record a worker emitted on stdout.
type Event interface {
	EventName() string
}

// ObjectTriggered: a watched object was confirmed in frame.
type ObjectTriggered struct {
	Objects   []string `json:"objects"`
	Count     int      `json:"count"`
	ImagePath string   `json:"image_path"`
}

func (ObjectTriggered) EventName() string { return "object_detected" }

// InteractionTriggered: two watched objects were seen interacting.
type InteractionTriggered struct {
	Object1   string `json:"object1"`
	Object2   string `json:"object2"`
	Count     int    `json:"count"`
	ImagePath string `json:"image_path"`
}

func (InteractionTriggered) EventName() string { return "interaction_detected" }

// PoseTriggered: a tracked pose/action was confirmed.
type PoseTriggered struct {
	Action    string `json:"action"`
	Details   string `json:"details"`
	ImagePath string `json:"image_path"`
}

func (PoseTriggered) EventName() string { return "pose_detected" }

// RepProgress: exercise rep counter advanced.
type RepProgress struct {
	Action string `json:"action"`
	Reps   int    `json:"reps"`
	Goal   int    `json:"goal"`
}

func (RepProgress) EventName() string { return "rep_progress" }

// GoalReached: the configured rep goal was hit; the worker exits after
// emitting this.
type GoalReached struct {
	Action string `json:"action"`
	Reps   int    `json:"reps"`
	Goal   int    `json:"goal"`
}

func (GoalReached) EventName() string { return "goal_reached" }

// VideoSaved: a clip was written to disk.
type VideoSaved struct {
	VideoPath  string  `json:"video_path"`
	Detections int     `json:"detections"`
	Duration   float64 `json:"duration"`
}

func (VideoSaved) EventName() string { return "video_saved" }

// ParseEventLine inspects one stdout line. ok is false when the line
// carries no recognized tag; err is set when a tagged line fails to
// parse.
func ParseEventLine(line string) (ev Event, ok bool, err error) {
	switch {
	case strings.HasPrefix(line, tagTrigger):
		ev, err = parseTrigger(strings.TrimPrefix(line, tagTrigger))
		return ev, true, err
	case strings.HasPrefix(line, tagVideo):
		var v VideoSaved
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, tagVideo)), &v); err != nil {
			return nil, true, fmt.Errorf("video event: %w", err)
		}
		return v, true, nil
	default:
		return nil, false, nil
	}
}

func parseTrigger(payload string) (Event, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(payload), &fields); err != nil {
		return nil, fmt.Errorf("trigger event: %w", err)
	}

	kind := ""
	if raw, ok := fields["event"]; ok {
		if err := json.Unmarshal(raw, &kind); err != nil {
			return nil, fmt.Errorf("trigger event: %w", err)
		}
	}
	if kind == "" {
		kind = inferTriggerKind(fields)
	}

	var ev Event
	switch kind {
	case "object_detected":
		ev = &ObjectTriggered{}
	case "interaction_detected":
		ev = &InteractionTriggered{}
	case "pose_detected":
		ev = &PoseTriggered{}
	case "rep_progress":
		ev = &RepProgress{}
	case "goal_reached":
		ev = &GoalReached{}
	default:
		return nil, fmt.Errorf("trigger event: unknown kind %q", kind)
	}

	if err := json.Unmarshal([]byte(payload), ev); err != nil {
		return nil, fmt.Errorf("trigger event %q: %w", kind, err)
	}
	return deref(ev), nil
}

// inferTriggerKind classifies a trigger payload that carries no "event"
// discriminator by its field shape; older workers emit such lines.
func inferTriggerKind(fields map[string]json.RawMessage) string {
	has := func(k string) bool { _, ok := fields[k]; return ok }
	switch {
	case has("object1") || has("object2"):
		return "interaction_detected"
	case has("objects"):
		return "object_detected"
	case has("reps"):
		return "rep_progress"
	case has("action"):
		return "pose_detected"
	default:
		return ""
	}
}

func deref(ev Event) Event {
	switch v := ev.(type) {
	case *ObjectTriggered:
		return *v
	case *InteractionTriggered:
		return *v
	case *PoseTriggered:
		return *v
	case *RepProgress:
		return *v
	case *GoalReached:
		return *v
	default:
		return ev
	}
}

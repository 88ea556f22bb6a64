// Package speech wraps the audio edge of a turn: microphone capture,
// transcription, synthesis, and the wake earcon. The heavy engines run
// as external programs; this package only moves audio in and out of
// them.
package speech

import (
	"errors"
	"math"
	"time"

	"github.com/gordonklaus/portaudio"
)

const sampleRate = 16000

type Recorder struct{}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Init() error {
	return portaudio.Initialize()
}

func (r *Recorder) Close() {
	portaudio.Terminate()
}

// RecordUntil captures mono 16 kHz audio until stop fires or maxDur
// elapses. Used for button-hold capture: press starts it, release
// closes stop.
func (r *Recorder) RecordUntil(stop <-chan struct{}, maxDur time.Duration) ([]float32, error) {
	if maxDur <= 0 {
		maxDur = 15 * time.Second
	}

	const frameSize = 1024
	buf := make([]float32, frameSize)

	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), len(buf), buf)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return nil, err
	}
	defer stream.Stop()

	deadline := time.Now().Add(maxDur)
	out := make([]float32, 0, int(float64(sampleRate)*maxDur.Seconds()))

	for {
		if time.Now().After(deadline) {
			break
		}

		select {
		case <-stop:
			if len(out) == 0 {
				return nil, errors.New("no audio recorded")
			}
			return out, nil
		default:
		}

		if err := stream.Read(); err != nil {
			return nil, err
		}
		out = append(out, buf...)
	}

	if len(out) == 0 {
		return nil, errors.New("no audio recorded")
	}
	return out, nil
}

// RecordAuto captures until the speaker goes silent for a while, or the
// hard cap is hit. Endpointing is a plain RMS gate.
func (r *Recorder) RecordAuto() ([]float32, error) {
	const (
		frameSize        = 320 // 20ms
		silenceThreshRMS = 0.015
		silenceFramesMax = 30 // 600ms of trailing silence
		maxLengthSeconds = 10
	)

	buf := make([]float32, frameSize)
	out := make([]float32, 0, sampleRate*3)

	stream, err := portaudio.OpenDefaultStream(1, 0, sampleRate, len(buf), buf)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return nil, err
	}
	defer stream.Stop()

	var (
		speaking      bool
		silenceFrames int
	)

	maxFrames := maxLengthSeconds * sampleRate / frameSize

	for i := 0; i < maxFrames; i++ {
		if err := stream.Read(); err != nil {
			return nil, err
		}

		rms := frameRMS(buf)
		if rms > silenceThreshRMS {
			speaking = true
			silenceFrames = 0
			out = append(out, buf...)
		} else if speaking {
			silenceFrames++
			if silenceFrames >= silenceFramesMax {
				break
			}
			out = append(out, buf...)
		}
	}

	if len(out) == 0 {
		return nil, errors.New("no speech detected")
	}
	return out, nil
}

func frameRMS(f []float32) float64 {
	var s float64
	for _, x := range f {
		s += float64(x * x)
	}
	return math.Sqrt(s / float64(len(f)))
}

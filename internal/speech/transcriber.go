package speech

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
)

// Transcriber runs whisper.cpp's CLI over a spilled wav file.
type Transcriber struct {
	ExecPath  string
	ModelPath string
}

func NewTranscriber(execPath, modelPath string) *Transcriber {
	return &Transcriber{ExecPath: execPath, ModelPath: modelPath}
}

// Transcribe returns the recognized text, empty when nothing was
// understood.
func (t *Transcriber) Transcribe(ctx context.Context, audioFile string) (string, error) {
	cmd := exec.CommandContext(ctx, t.ExecPath,
		"-m", t.ModelPath,
		"-f", audioFile,
		"-nt", // no timestamps
	)

	var out bytes.Buffer
	cmd.Stdout = &out

	if err := cmd.Run(); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.String()), nil
}

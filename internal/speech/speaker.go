package speech

import (
	"os/exec"
	"sync"

	log "log/slog"
)

// Speaker voices answers through espeak-ng. Speak is asynchronous: the
// returned channel resolves when audio output finishes, which is the
// signal the turn controller waits on before letting a visual mode take
// the screen.
type Speaker struct {
	ExecPath string
	Voice    string

	mu  sync.Mutex
	cmd *exec.Cmd
}

func NewSpeaker(execPath, voice string) *Speaker {
	if execPath == "" {
		execPath = "espeak-ng"
	}
	return &Speaker{ExecPath: execPath, Voice: voice}
}

// Speak starts playback and returns a channel that receives the
// playback result exactly once. Empty text resolves immediately.
func (s *Speaker) Speak(text string) <-chan error {
	done := make(chan error, 1)
	if text == "" {
		done <- nil
		return done
	}

	args := []string{}
	if s.Voice != "" {
		args = append(args, "-v", s.Voice)
	}
	args = append(args, text)

	cmd := exec.Command(s.ExecPath, args...)
	if err := cmd.Start(); err != nil {
		done <- err
		return done
	}

	s.mu.Lock()
	// A new utterance supersedes a still-playing one.
	if s.cmd != nil {
		_ = s.cmd.Process.Kill()
	}
	s.cmd = cmd
	s.mu.Unlock()

	go func() {
		err := cmd.Wait()
		s.mu.Lock()
		if s.cmd == cmd {
			s.cmd = nil
		}
		s.mu.Unlock()
		done <- err
	}()

	return done
}

// StopPlayback cuts the current utterance short. The Speak channel
// still resolves (with the kill error), so waiters are never leaked.
func (s *Speaker) StopPlayback() {
	s.mu.Lock()
	cmd := s.cmd
	s.cmd = nil
	s.mu.Unlock()

	if cmd != nil {
		log.Debug("stopping playback", "pid", cmd.Process.Pid)
		_ = cmd.Process.Kill()
	}
}

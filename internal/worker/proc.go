package worker

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
)

// running bundles a live process with its output streams and exit
// notification.
type running struct {
	proc   process
	stdout io.ReadCloser
	stderr io.ReadCloser
	done   <-chan error
}

type launcher interface {
	Launch(spec LaunchSpec) (*running, error)
}

type execLauncher struct{}

type osProcess struct {
	cmd *exec.Cmd
}

func (p *osProcess) PID() int { return p.cmd.Process.Pid }

func (p *osProcess) Terminate() error {
	return p.cmd.Process.Signal(syscall.SIGTERM)
}

func (p *osProcess) Kill() error {
	return p.cmd.Process.Kill()
}

func (execLauncher) Launch(spec LaunchSpec) (*running, error) {
	cmd := exec.Command(spec.Command, spec.Args...)

	cmd.Env = os.Environ()
	for k, v := range spec.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	// io.Pipe writers instead of StdoutPipe: Wait closes StdoutPipe's
	// read end on exit, which can truncate a final event line still in
	// flight. With our own pipes, Wait returns only after the exec copy
	// goroutines have flushed every byte, and we close the write ends
	// ourselves before signaling done.
	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	cmd.Stdout = outW
	cmd.Stderr = errW

	if err := cmd.Start(); err != nil {
		outW.Close()
		errW.Close()
		return nil, fmt.Errorf("start %s: %w", spec.Command, err)
	}

	done := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		outW.Close()
		errW.Close()
		done <- err
	}()

	return &running{
		proc:   &osProcess{cmd: cmd},
		stdout: outR,
		stderr: errR,
		done:   done,
	}, nil
}

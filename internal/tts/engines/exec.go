package engines

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// killGrace is how long a process gets to exit after an interrupt before it is killed.
const killGrace = 100 * time.Millisecond

// runCommand runs name with args and returns stdout. The process is
// interrupted, then killed, when ctx ends.
func runCommand(ctx context.Context, timeout time.Duration, name string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.Command(name, args...)
	cmd.Stdin = strings.NewReader("")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("%s failed: %w, stderr: %s", name, err, strings.TrimSpace(stderr.String()))
		}
	case <-ctx.Done():
		terminate(cmd, done)
		return nil, fmt.Errorf("%s interrupted: %w", name, ctx.Err())
	}

	return stdout.Bytes(), nil
}

// terminate asks the process to exit, then kills it.
func terminate(cmd *exec.Cmd, done <-chan error) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(os.Interrupt)

	select {
	case <-done:
	case <-time.After(killGrace):
		_ = cmd.Process.Kill()
		<-done
	}
}

// processUtterance is a play-only utterance backed by a child process that
// speaks through the OS audio stack.
type processUtterance struct {
	cmd      *exec.Cmd
	waitDone chan error
	done     chan struct{}

	mu      sync.Mutex
	err     error
	stopped bool
}

// startUtterance launches the command and returns once it is running.
// Cancelling ctx stops the utterance.
func startUtterance(ctx context.Context, name string, args ...string) (*processUtterance, error) {
	cmd := exec.Command(name, args...)
	cmd.Stdin = strings.NewReader("")

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	u := &processUtterance{
		cmd:      cmd,
		waitDone: make(chan error, 1),
		done:     make(chan struct{}),
	}

	go func() {
		u.waitDone <- cmd.Wait()
	}()

	go func() {
		var err error
		select {
		case err = <-u.waitDone:
			u.mu.Lock()
			if err != nil && !u.stopped {
				u.err = fmt.Errorf("%s failed: %w, stderr: %s", name, err, strings.TrimSpace(stderr.String()))
			}
			u.mu.Unlock()
		case <-ctx.Done():
			u.halt()
			<-u.waitDone
			u.mu.Lock()
			u.err = ctx.Err()
			u.mu.Unlock()
		}
		close(u.done)
	}()

	return u, nil
}

// Done is closed when the process exits.
func (u *processUtterance) Done() <-chan struct{} { return u.done }

// Err reports why speaking ended. Stopped utterances report nil.
func (u *processUtterance) Err() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.err
}

// Stop interrupts speaking and waits for the process to exit.
func (u *processUtterance) Stop() error {
	u.halt()
	<-u.done
	return nil
}

func (u *processUtterance) halt() {
	u.mu.Lock()
	if u.stopped {
		u.mu.Unlock()
		return
	}
	u.stopped = true
	u.mu.Unlock()

	select {
	case <-u.done:
		return
	default:
	}

	if u.cmd.Process == nil {
		return
	}
	_ = u.cmd.Process.Signal(os.Interrupt)
	go func() {
		time.Sleep(killGrace)
		_ = u.cmd.Process.Kill()
	}()
}

// lookPath returns the first candidate found in PATH.
func lookPath(candidates ...string) (string, error) {
	for _, c := range candidates {
		if path, err := exec.LookPath(c); err == nil {
			return path, nil
		}
	}
	return "", errors.New(strings.Join(candidates, "/") + " not found in PATH")
}

// Package capture takes camera frames and keeps them as blobs that
// session records refer to by reference.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// ErrNoDevice is returned when no camera is available
var ErrNoDevice = errors.New("no capture device")

// Camera produces encoded frames
type Camera interface {
	Capture(ctx context.Context) ([]byte, error)
	Close() error
}

// NoCamera is a Camera without a device
type NoCamera struct{}

func (NoCamera) Capture(context.Context) ([]byte, error) { return nil, ErrNoDevice }
func (NoCamera) Close() error                            { return nil }

// CommandCamera runs an external command that writes one frame to stdout
type CommandCamera struct {
	argv    []string
	timeout time.Duration
}

// NewCommandCamera returns NoCamera when argv is empty
func NewCommandCamera(argv []string, timeout time.Duration) Camera {
	if len(argv) == 0 {
		return NoCamera{}
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &CommandCamera{argv: append([]string(nil), argv...), timeout: timeout}
}

func (c *CommandCamera) Capture(ctx context.Context) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.argv[0], c.argv[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNoDevice, c.argv[0])
		}
		return nil, fmt.Errorf("capture command %s: %w: %s", c.argv[0], err, bytes.TrimSpace(stderr.Bytes()))
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("capture command %s produced no frame", c.argv[0])
	}
	return stdout.Bytes(), nil
}

func (c *CommandCamera) Close() error { return nil }

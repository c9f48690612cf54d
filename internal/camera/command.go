package camera

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync/atomic"
)

// PathPlaceholder in an argument is replaced with the output file path.
const PathPlaceholder = "{path}"

// DefaultArgs makes libcamera-still write a single JPEG without preview.
var DefaultArgs = []string{"-n", "-t", "1", "--immediate", "-o", PathPlaceholder}

// CommandCamera runs an external capture program such as libcamera-still.
type CommandCamera struct {
	command string
	args    []string
	found   bool
	busy    atomic.Bool
}

// NewCommandCamera resolves command on PATH once. When it cannot be found the
// camera reports not ready and every capture fails.
func NewCommandCamera(command string, args []string) *CommandCamera {
	if len(args) == 0 {
		args = DefaultArgs
	}
	c := &CommandCamera{command: command, args: args}
	if resolved, err := exec.LookPath(command); err == nil {
		c.command = resolved
		c.found = true
	}
	return c
}

func (c *CommandCamera) Ready() bool {
	return c.found && !c.busy.Load()
}

func (c *CommandCamera) Capture(ctx context.Context, path string) error {
	if !c.found {
		return fmt.Errorf("%w: %s not found", ErrCameraUnavailable, c.command)
	}
	if !c.busy.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: capture already in progress", ErrCameraUnavailable)
	}
	defer c.busy.Store(false)

	args := make([]string, len(c.args))
	for i, a := range c.args {
		args[i] = strings.ReplaceAll(a, PathPlaceholder, path)
	}

	out, err := exec.CommandContext(ctx, c.command, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s: %v: %s", ErrCameraUnavailable, c.command, err, strings.TrimSpace(string(out)))
	}
	if fi, err := os.Stat(path); err != nil || fi.Size() == 0 {
		return fmt.Errorf("%w: %s produced no image at %s", ErrCameraUnavailable, c.command, path)
	}
	return nil
}

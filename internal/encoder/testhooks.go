package encoder

import (
	"context"
	"os/exec"
)

// SetCommandForTests overrides the subprocess launcher during tests so
// other packages can run the encoder against a stub process.
func SetCommandForTests(fn func(ctx context.Context, name string, args ...string) *exec.Cmd) func() {
	previous := commandContext
	commandContext = fn
	return func() {
		commandContext = previous
	}
}

//go:build !windows

package detector

import (
	"context"
	"os/exec"
)

// getShellCommand returns a shell command for Unix systems
func getShellCommand(ctx context.Context, script string) *exec.Cmd {
	// #nosec G204
	return exec.CommandContext(ctx, "/bin/sh", "-c", script)
}

// getTrueCommand returns a command that always succeeds on Unix systems
func getTrueCommand(ctx context.Context) *exec.Cmd {
	// #nosec G204
	return exec.CommandContext(ctx, "/bin/true")
}

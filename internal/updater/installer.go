package updater

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
)

// Installer puts a downloaded artifact in place of the running application.
type Installer interface {
	Install(ctx context.Context, artifact string) error
}

// Restarter relaunches the application. A successful Restart may never return.
type Restarter interface {
	Restart() error
}

// InstallerFunc adapts a function to Installer.
type InstallerFunc func(ctx context.Context, artifact string) error

func (f InstallerFunc) Install(ctx context.Context, artifact string) error { return f(ctx, artifact) }

// BinaryInstaller replaces an executable file with the artifact. The new
// binary is staged next to the target and renamed over it, so the target is
// never half-written. The artifact itself is left for the caller to remove.
type BinaryInstaller struct {
	// Target is the executable to replace; defaults to os.Executable().
	Target string
}

func (b BinaryInstaller) target() (string, error) {
	if b.Target != "" {
		return b.Target, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(exe)
}

func (b BinaryInstaller) Install(ctx context.Context, artifact string) error {
	target, err := b.target()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	stage := target + ".new"
	if err := copyFile(artifact, stage, 0o755); err != nil {
		_ = os.Remove(stage)
		return fmt.Errorf("stage update: %w", err)
	}
	// a running .exe cannot be overwritten on Windows, only renamed
	return swapBinary(stage, target, runtime.GOOS == "windows")
}

// swapBinary renames stage over target. With moveAside the current target is
// first renamed to target.old and put back if the final rename fails.
func swapBinary(stage, target string, moveAside bool) error {
	old := target + ".old"
	moved := false
	if moveAside {
		_ = os.Remove(old)
		if err := os.Rename(target, old); err != nil && !os.IsNotExist(err) {
			_ = os.Remove(stage)
			return fmt.Errorf("move current binary aside: %w", err)
		} else if err == nil {
			moved = true
		}
	}
	if err := os.Rename(stage, target); err != nil {
		_ = os.Remove(stage)
		if moved {
			if rerr := os.Rename(old, target); rerr != nil {
				return fmt.Errorf("replace binary: %w (restore %s: %v)", err, old, rerr)
			}
		}
		return fmt.Errorf("replace binary: %w", err)
	}
	return nil
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chmod(dst, mode)
}

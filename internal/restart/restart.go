// Package restart relaunches the running application, typically after its
// binary was replaced by an update.
package restart

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
)

// Func adapts a function to the Restart method.
type Func func() error

func (f Func) Restart() error { return f() }

// Exec starts a fresh copy of the executable and exits the current process.
// Zero fields default to the current process' executable, arguments and
// environment.
type Exec struct {
	Path string
	Args []string
	Env  []string
	Dir  string
	// Detached starts the child in its own session so it survives our exit
	// without a controlling terminal.
	Detached bool
	// BeforeExit runs after the child started and before Exit, e.g. to
	// release the listening socket.
	BeforeExit func()
	// Exit terminates the current process; defaults to os.Exit.
	Exit   func(code int)
	Logger *slog.Logger
}

// Command builds the child command without starting it.
func (e Exec) Command() (*exec.Cmd, error) {
	path := e.Path
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate executable: %w", err)
		}
		path = exe
	}
	args := e.Args
	if args == nil && len(os.Args) > 1 {
		args = os.Args[1:]
	}
	// #nosec G204
	cmd := exec.Command(path, args...)
	cmd.Env = e.Env
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	cmd.Dir = e.Dir
	if !e.Detached {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}
	configureSysProcAttr(cmd, e.Detached)
	return cmd, nil
}

// Restart spawns the replacement process and then exits. It only returns
// when the child could not be started.
func (e Exec) Restart() error {
	log := e.Logger
	if log == nil {
		log = slog.Default()
	}
	cmd, err := e.Command()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", cmd.Path, err)
	}
	log.Info("replacement process started", "path", cmd.Path, "pid", cmd.Process.Pid)
	_ = cmd.Process.Release()
	if e.BeforeExit != nil {
		e.BeforeExit()
	}
	exit := e.Exit
	if exit == nil {
		exit = os.Exit
	}
	exit(0)
	return nil
}

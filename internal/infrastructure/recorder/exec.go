// Package recorder spawns the vendor recording tool used to validate the
// wired sync setup of master and subordinate cameras.
package recorder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"depthcap/internal/core/ports"
	apperrors "depthcap/pkg/errors"
)

// ExecRecorder starts recorder processes with os/exec
type ExecRecorder struct {
	// Root anchors relative working directories; empty means the current
	// directory.
	Root string
}

func NewExecRecorder(root string) *ExecRecorder {
	return &ExecRecorder{Root: root}
}

// Start spawns argv in workDir with stdout attached to a line reader. The
// working directory is created when missing. The process is killed when ctx
// is cancelled.
func (r *ExecRecorder) Start(ctx context.Context, workDir string, argv []string) (ports.RecorderProcess, error) {
	if len(argv) == 0 {
		return nil, apperrors.NewHandshakeError("start recorder", fmt.Errorf("empty command"))
	}

	dir := r.resolve(workDir)
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, apperrors.NewHandshakeError("create recorder directory", err).WithContext("dir", dir)
		}
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, apperrors.NewHandshakeError("attach recorder stdout", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, apperrors.NewHandshakeError(fmt.Sprintf("start recorder %s", argv[0]), err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)

	return &Process{cmd: cmd, stdout: stdout, scanner: scanner}, nil
}

func (r *ExecRecorder) resolve(workDir string) string {
	if workDir == "" {
		return r.Root
	}
	if filepath.IsAbs(workDir) || r.Root == "" {
		return workDir
	}
	return filepath.Join(r.Root, workDir)
}

// Process is a running recorder. ReadLine must not be called after Wait.
type Process struct {
	cmd     *exec.Cmd
	stdout  io.ReadCloser
	scanner *bufio.Scanner

	waitOnce sync.Once
	code     int
	waitErr  error
}

// ReadLine returns the next stdout line with any trailing carriage return
// removed, or io.EOF when the output is exhausted.
func (p *Process) ReadLine() (string, error) {
	if p.scanner.Scan() {
		return strings.TrimRight(p.scanner.Text(), "\r"), nil
	}
	if err := p.scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		return "", err
	}
	return "", io.EOF
}

// Wait waits for the process to exit and returns its exit code. A non-zero
// exit is not an error; -1 is returned when the process was killed by a
// signal.
func (p *Process) Wait() (int, error) {
	p.waitOnce.Do(func() {
		err := p.cmd.Wait()
		var exitErr *exec.ExitError
		switch {
		case err == nil:
			p.code = 0
		case errors.As(err, &exitErr):
			p.code = exitErr.ExitCode()
		default:
			p.code = -1
			p.waitErr = err
		}
	})
	return p.code, p.waitErr
}

// Kill terminates the process and closes its stdout, so a ReadLine blocked
// on output held open by a child of the recorder returns io.EOF. Killing one
// that already exited is not an error.
func (p *Process) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	err := p.cmd.Process.Kill()
	_ = p.stdout.Close()
	if err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/sirupsen/logrus"
)

// ProcessFactory runs each worker as a local child process.
type ProcessFactory struct {
	binary string
	args   []string
}

func NewProcessFactory(binary string, args ...string) *ProcessFactory {
	return &ProcessFactory{binary: binary, args: args}
}

type processWorker struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr *io.PipeWriter
}

func (pf *ProcessFactory) Spawn(ctx context.Context, opts *WorkerOptions) (Worker, error) {
	cmd := exec.CommandContext(ctx, pf.binary, pf.args...)
	cmd.Env = append(os.Environ(), opts.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	// worker logs are forwarded to ours
	stderr := logrus.WithField("worker", pf.binary).WriterLevel(logrus.DebugLevel)
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		_ = stderr.Close()
		return nil, fmt.Errorf("could not start worker %s: %w", pf.binary, err)
	}
	return &processWorker{cmd: cmd, stdin: stdin, stdout: stdout, stderr: stderr}, nil
}

func (w *processWorker) Stdin() io.WriteCloser { return w.stdin }

func (w *processWorker) Stdout() io.Reader { return w.stdout }

func (w *processWorker) Wait() error {
	defer w.stderr.Close()
	return w.cmd.Wait()
}

// Kill does not report the exit status: the worker is expected to die.
func (w *processWorker) Kill() error {
	err := w.cmd.Process.Kill()
	_ = w.Wait()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

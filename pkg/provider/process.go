package provider

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/glorpus-work/modkit/internal/logger"
	"github.com/glorpus-work/modkit/pkg/errors"
)

const maxProcessOutput = 2048

// ProcessRunner starts external programs on behalf of RealProvider.
//
//go:generate mockgen -destination=./mocks/process_runner.go -package=mocks . ProcessRunner
type ProcessRunner interface {
	// Run blocks until program exits and returns its exit code together
	// with its combined output. err is only set when the program could not
	// be started or was interrupted.
	Run(ctx context.Context, program string, args []string, workDir string) (exitCode int, output []byte, err error)
}

// ExecRunner runs programs with os/exec.
type ExecRunner struct{}

// NewExecRunner creates an ExecRunner.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run implements ProcessRunner.
func (r *ExecRunner) Run(ctx context.Context, program string, args []string, workDir string) (int, []byte, error) {
	cmd := exec.CommandContext(ctx, program, args...)
	cmd.Dir = workDir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if err == nil {
		return 0, out.Bytes(), nil
	}
	if ctx.Err() != nil {
		return -1, out.Bytes(), ctx.Err()
	}
	var exitErr *exec.ExitError
	if stderrors.As(err, &exitErr) {
		return exitErr.ExitCode(), out.Bytes(), nil
	}
	return -1, out.Bytes(), fmt.Errorf("failed to start %s: %w", program, err)
}

func runProcess(ctx context.Context, runner ProcessRunner, program string, args []string, workDir string) error {
	logger.Debug("Running external program", logger.Fields{
		"program": program,
		"args":    strings.Join(args, " "),
		"workdir": workDir,
	})

	code, output, err := runner.Run(ctx, program, args, workDir)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", errors.ErrProcessFailed, program, err)
	}
	if code != 0 {
		return &ProcessError{Program: program, ExitCode: code, Output: tail(output)}
	}
	return nil
}

func tail(output []byte) string {
	s := strings.TrimSpace(string(output))
	if len(s) > maxProcessOutput {
		s = "..." + s[len(s)-maxProcessOutput:]
	}
	return s
}

package shared

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// Invocation is one external command to run.
type Invocation struct {
	Name string
	Args []string
	Env  []string // full environment; empty inherits the process environment
	Dir  string
}

// CommandResult is the captured outcome of an Invocation.
type CommandResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
}

// Executor runs external commands. A non-zero exit status is a result,
// not an error; errors mean the command could not be run at all.
type Executor interface {
	Execute(ctx context.Context, inv Invocation) (*CommandResult, error)
}

// RealExecutor runs commands via os/exec.
type RealExecutor struct{}

// Execute runs inv. On Windows, if the command is not found directly it is
// retried through cmd.exe /C so that shell builtins work.
func (r *RealExecutor) Execute(ctx context.Context, inv Invocation) (*CommandResult, error) {
	start := time.Now()
	var stdout, stderr bytes.Buffer
	err := run(ctx, inv.Name, inv.Args, inv, &stdout, &stderr)

	// The whole command line goes after /C as one string so exec does not
	// quote individual arguments.
	if err != nil && runtime.GOOS == "windows" && isExecNotFound(err) {
		stdout.Reset()
		stderr.Reset()
		cmdLine := strings.Join(append([]string{inv.Name}, inv.Args...), " ")
		err = run(ctx, "cmd.exe", []string{"/C", cmdLine}, inv, &stdout, &stderr)
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("execute command %q: %w", inv.Name, err)
		}
		exitCode = exitErr.ExitCode()
	}

	return &CommandResult{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		ExitCode: exitCode,
		Duration: time.Since(start),
	}, nil
}

func run(ctx context.Context, name string, args []string, inv Invocation, stdout, stderr *bytes.Buffer) error {
	cmd := exec.CommandContext(ctx, name, args...)
	if len(inv.Env) > 0 {
		cmd.Env = inv.Env
	}
	cmd.Dir = inv.Dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	return cmd.Run()
}

func isExecNotFound(err error) bool {
	if errors.Is(err, exec.ErrNotFound) {
		return true
	}
	var execErr *exec.Error
	return errors.As(err, &execErr)
}

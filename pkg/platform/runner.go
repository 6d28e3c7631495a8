// Package platform runs operating-system commands and captures their output.
package platform

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// DefaultTimeout bounds a single command when the runner has no timeout set
const DefaultTimeout = 10 * time.Second

// Result holds the captured output of one command
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
}

// OK reports whether the command ran and exited with status 0
func (r Result) OK() bool {
	return r.Err == nil && r.ExitCode == 0
}

// Runner executes platform commands
type Runner interface {
	Run(ctx context.Context, name string, args ...string) Result
}

// ExecRunner runs commands with os/exec
type ExecRunner struct {
	Timeout time.Duration
}

// NewExecRunner creates a runner with the given per-command timeout
func NewExecRunner(timeout time.Duration) *ExecRunner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &ExecRunner{Timeout: timeout}
}

// Run executes name with args. A missing binary or a timeout is reported
// through Result.Err with ExitCode -1; it never panics.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) Result {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		res.ExitCode = 0
	case errors.As(err, &exitErr) && ctx.Err() == nil:
		res.ExitCode = exitErr.ExitCode()
	default:
		res.ExitCode = -1
		res.Err = err
	}
	return res
}

// CommandLine joins a command and its arguments the way Fake keys them
func CommandLine(name string, args ...string) string {
	return strings.TrimSpace(name + " " + strings.Join(args, " "))
}

// Fake is a scripted Runner for tests
type Fake struct {
	mu      sync.Mutex
	results map[string]Result
	calls   []string

	// Default is returned for commands with no scripted result
	Default Result
}

// NewFake creates an empty fake; unscripted commands fail with exit code 1
func NewFake() *Fake {
	return &Fake{
		results: make(map[string]Result),
		Default: Result{ExitCode: 1},
	}
}

// Set scripts the result for an exact command line
func (f *Fake) Set(commandLine string, res Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[commandLine] = res
}

// Run records the call and returns the scripted result
func (f *Fake) Run(_ context.Context, name string, args ...string) Result {
	line := CommandLine(name, args...)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, line)
	if res, ok := f.results[line]; ok {
		return res
	}
	return f.Default
}

// Calls returns the command lines run so far
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

package checkout

import (
	"context"
	"os/exec"
	"syscall"
	"time"

	"github.com/alecthomas/errors"
	"github.com/kballard/go-shellquote"
)

// DefaultCommand checks out a package into the current source area. The package name is appended.
const DefaultCommand = "mrb gitCheckout"

// Outcome of a checkout attempt.
type Outcome struct {
	// Output is the combined stdout and stderr of the checkout.
	Output   string
	ExitCode int
	// Signal is non-zero if the checkout was terminated by a signal.
	Signal syscall.Signal
}

func (o Outcome) Succeeded() bool { return o.ExitCode == 0 && o.Signal == 0 }

// Invoker checks out packages.
type Invoker interface {
	// Checkout pkg, blocking until complete.
	//
	// A checkout that runs but fails is reported through the Outcome. An error is only returned if the checkout
	// could not be attempted at all.
	Checkout(ctx context.Context, pkg string) (Outcome, error)
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, pkg string) (Outcome, error)

func (f InvokerFunc) Checkout(ctx context.Context, pkg string) (Outcome, error) { return f(ctx, pkg) }

// CommandInvoker runs an external command to check out a package.
type CommandInvoker struct {
	dir     string
	argv    []string
	timeout time.Duration
}

var _ Invoker = (*CommandInvoker)(nil)

// NewCommandInvoker creates an Invoker that runs command, with the package name appended, in dir.
//
// command is split using shell quoting rules. If timeout is non-zero the command is killed once it elapses.
func NewCommandInvoker(dir, command string, timeout time.Duration) (*CommandInvoker, error) {
	argv, err := shellquote.Split(command)
	if err != nil {
		return nil, errors.Errorf("invalid checkout command %q: %w", command, err)
	}
	if len(argv) == 0 {
		return nil, errors.Errorf("checkout command is empty")
	}
	return &CommandInvoker{dir: dir, argv: argv, timeout: timeout}, nil
}

func (c *CommandInvoker) Checkout(ctx context.Context, pkg string) (Outcome, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	args := append(append([]string{}, c.argv[1:]...), pkg)
	cmd := exec.CommandContext(ctx, c.argv[0], args...) //nolint:gosec
	cmd.Dir = c.dir
	output, err := cmd.CombinedOutput()
	outcome := Outcome{Output: string(output)}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			outcome.ExitCode = -1
			outcome.Signal = status.Signal()
		} else {
			outcome.ExitCode = exitErr.ExitCode()
		}
		return outcome, nil
	} else if err != nil {
		return outcome, errors.Errorf("failed to run %s: %w", c.argv[0], err)
	}
	return outcome, nil
}

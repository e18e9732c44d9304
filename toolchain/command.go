package toolchain

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/bitrise-io/go-utils/v2/command"
	"github.com/bitrise-io/go-utils/v2/env"
	shellquote "github.com/kballard/go-shellquote"
)

// ErrTimeout is returned by commands that were killed because their deadline passed.
var ErrTimeout = errors.New("command timed out")

// waitDelay bounds how long Wait blocks on output copying after the process was killed.
const waitDelay = 5 * time.Second

type factory struct {
	ctx           context.Context
	envRepository env.Repository
	timeout       time.Duration
}

// NewFactory returns a command.Factory whose commands are killed when ctx is done, or when a
// single run takes longer than timeout. A zero timeout disables the deadline.
func NewFactory(ctx context.Context, envRepository env.Repository, timeout time.Duration) command.Factory {
	return factory{
		ctx:           ctx,
		envRepository: envRepository,
		timeout:       timeout,
	}
}

// Create ...
func (f factory) Create(name string, args []string, opts *command.Opts) command.Command {
	if opts == nil {
		opts = &command.Opts{}
	}

	return &boundedCommand{
		ctx:     f.ctx,
		timeout: f.timeout,
		name:    name,
		args:    args,
		opts:    *opts,
		env:     append(f.envRepository.List(), opts.Env...),
	}
}

type boundedCommand struct {
	ctx     context.Context
	timeout time.Duration
	name    string
	args    []string
	opts    command.Opts
	env     []string

	cmd    *exec.Cmd
	runCtx context.Context
	cancel context.CancelFunc
}

// PrintableCommandArgs ...
func (c *boundedCommand) PrintableCommandArgs() string {
	return shellquote.Join(append([]string{c.name}, c.args...)...)
}

// Run ...
func (c *boundedCommand) Run() error {
	if err := c.Start(); err != nil {
		return err
	}
	return c.Wait()
}

// RunAndReturnExitCode ...
func (c *boundedCommand) RunAndReturnExitCode() (int, error) {
	err := c.Run()
	return ExitCode(err), err
}

// RunAndReturnTrimmedOutput ...
func (c *boundedCommand) RunAndReturnTrimmedOutput() (string, error) {
	var out strings.Builder
	c.opts.Stdout = &out
	err := c.Run()
	return strings.TrimSpace(out.String()), err
}

// RunAndReturnTrimmedCombinedOutput ...
func (c *boundedCommand) RunAndReturnTrimmedCombinedOutput() (string, error) {
	var out strings.Builder
	c.opts.Stdout = &out
	c.opts.Stderr = &out
	err := c.Run()
	return strings.TrimSpace(out.String()), err
}

// Start ...
func (c *boundedCommand) Start() error {
	ctx := c.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	var cancel context.CancelFunc
	if c.timeout > 0 {
		ctx, cancel = context.WithTimeoutCause(ctx, c.timeout, ErrTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	cmd := exec.CommandContext(ctx, c.name, c.args...)
	cmd.Stdin = c.opts.Stdin
	cmd.Stdout = c.opts.Stdout
	cmd.Stderr = c.opts.Stderr
	cmd.Env = c.env
	cmd.Dir = c.opts.Dir
	cmd.WaitDelay = waitDelay

	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("failed to start %s: %w", c.name, err)
	}

	c.cmd = cmd
	c.runCtx = ctx
	c.cancel = cancel
	return nil
}

// Wait ...
func (c *boundedCommand) Wait() error {
	if c.cmd == nil {
		return fmt.Errorf("%s: not started", c.name)
	}
	defer c.cancel()

	err := c.cmd.Wait()
	if err == nil {
		return nil
	}

	if cause := context.Cause(c.runCtx); cause != nil {
		return fmt.Errorf("%s: %w", c.name, errors.Join(cause, err))
	}
	return err
}

// ExitCode extracts the exit status from a command error. It is 0 for a nil error and -1 when
// the process never exited on its own.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// IsTimeout ...
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

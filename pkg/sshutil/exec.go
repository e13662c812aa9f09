package sshutil

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/rileyhilliard/ntpwatch/internal/errors"
	"golang.org/x/crypto/ssh"
)

// Run executes cmd in a fresh session and waits at most timeout for it.
// A zero timeout waits until ctx is done.
func (c *Client) Run(ctx context.Context, cmd string, timeout time.Duration) (*Result, error) {
	session, err := c.Client.NewSession()
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrSSH,
			"Failed to create SSH session",
			"Connection may have been closed. The next cycle reconnects.")
	}
	defer session.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	select {
	case err = <-done:
	case <-runCtx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		if ctx.Err() != nil {
			return nil, errors.WrapWithCode(ctx.Err(), errors.ErrExec,
				fmt.Sprintf("Command cancelled: %s", cmd), "")
		}
		return nil, errors.WrapWithCode(runCtx.Err(), errors.ErrTimeout,
			fmt.Sprintf("Command timed out after %s: %s", timeout, cmd),
			"The appliance may be overloaded, or the command is hanging.")
	}

	exitCode := 0
	if err != nil {
		var exitErr *ssh.ExitError
		var missingErr *ssh.ExitMissingError
		switch {
		case stderrors.As(err, &exitErr):
			exitCode = exitErr.ExitStatus()
		case stderrors.As(err, &missingErr):
			return nil, errors.WrapWithCode(err, errors.ErrExec,
				fmt.Sprintf("Command ended without an exit status: %s", cmd),
				"The remote shell may have been killed.")
		default:
			return nil, errors.WrapWithCode(err, errors.ErrSSH,
				fmt.Sprintf("Failed to execute command: %s", cmd),
				"The SSH connection dropped while the command was running.")
		}
	}

	return &Result{
		Stdout:   stdoutBuf.Bytes(),
		Stderr:   stderrBuf.Bytes(),
		ExitCode: exitCode,
	}, nil
}

package sshutil

import (
	"context"
	"time"
)

// Result is the outcome of a remote command that ran to completion.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Executor runs shell commands on the monitored host.
//
// A non-zero exit code with a nil error means the command ran but failed.
// Errors are structured: SSH when no connection could be made, TIMEOUT when
// the command did not finish within timeout, EXEC when it could not be run.
type Executor interface {
	Run(ctx context.Context, cmd string, timeout time.Duration) (*Result, error)
}

// Package testing provides an in-memory sshutil.Executor for tests.
package testing

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/rileyhilliard/ntpwatch/internal/errors"
	"github.com/rileyhilliard/ntpwatch/pkg/sshutil"
)

// CommandResponse defines a canned response for a specific command pattern.
type CommandResponse struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Error    error
	// Delay simulates a slow command. When it exceeds the caller's timeout,
	// Run returns a TIMEOUT error instead of the response.
	Delay time.Duration
}

// MockExecutor answers commands from a table of canned responses.
// Unmatched commands exit 127 with "command not found" on stderr.
type MockExecutor struct {
	mu       sync.Mutex
	commands map[string]CommandResponse // exact command or regexp -> response
	order    []string
	calls    []string
	closed   int
	dialErr  error
}

// NewMockExecutor creates an executor with no canned responses.
func NewMockExecutor() *MockExecutor {
	return &MockExecutor{
		commands: make(map[string]CommandResponse),
	}
}

// SetCommandResponse registers resp for commands equal to, or matching, pattern.
// Exact matches win over patterns; patterns are tried in registration order.
func (m *MockExecutor) SetCommandResponse(pattern string, resp CommandResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.commands[pattern]; !ok {
		m.order = append(m.order, pattern)
	}
	m.commands[pattern] = resp
}

// SetOutput is shorthand for a successful command printing stdout.
func (m *MockExecutor) SetOutput(pattern, stdout string) {
	m.SetCommandResponse(pattern, CommandResponse{Stdout: []byte(stdout)})
}

// FailConnect makes every Run fail with err, as if the host were unreachable.
// Pass nil to restore normal behavior.
func (m *MockExecutor) FailConnect(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dialErr = err
}

// Run implements sshutil.Executor.
func (m *MockExecutor) Run(ctx context.Context, cmd string, timeout time.Duration) (*sshutil.Result, error) {
	m.mu.Lock()
	m.calls = append(m.calls, cmd)
	dialErr := m.dialErr
	resp, ok := m.lookup(cmd)
	m.mu.Unlock()

	if dialErr != nil {
		return nil, dialErr
	}
	if !ok {
		return &sshutil.Result{
			Stderr:   []byte(fmt.Sprintf("bash: %s: command not found", cmd)),
			ExitCode: 127,
		}, nil
	}

	if resp.Delay > 0 {
		if timeout > 0 && resp.Delay > timeout {
			return nil, errors.New(errors.ErrTimeout,
				fmt.Sprintf("Command timed out after %s: %s", timeout, cmd), "")
		}
		select {
		case <-time.After(resp.Delay):
		case <-ctx.Done():
			return nil, errors.WrapWithCode(ctx.Err(), errors.ErrExec,
				fmt.Sprintf("Command cancelled: %s", cmd), "")
		}
	}

	if resp.Error != nil {
		return nil, resp.Error
	}
	return &sshutil.Result{
		Stdout:   resp.Stdout,
		Stderr:   resp.Stderr,
		ExitCode: resp.ExitCode,
	}, nil
}

func (m *MockExecutor) lookup(cmd string) (CommandResponse, bool) {
	if resp, ok := m.commands[cmd]; ok {
		return resp, true
	}
	for _, pattern := range m.order {
		if matched, _ := regexp.MatchString(pattern, cmd); matched {
			return m.commands[pattern], true
		}
	}
	return CommandResponse{}, false
}

// Calls returns every command passed to Run, in order.
func (m *MockExecutor) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// Close counts calls; the executor stays usable.
func (m *MockExecutor) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return nil
}

// CloseCount returns how many times Close was called.
func (m *MockExecutor) CloseCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

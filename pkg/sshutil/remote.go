package sshutil

import (
	"context"
	"sync"
	"time"

	"github.com/rileyhilliard/ntpwatch/internal/errors"
)

// Remote is an Executor that dials on first use and keeps the connection
// until Close. A connection-level failure drops the client so the next Run
// dials again.
type Remote struct {
	opts Options

	mu     sync.Mutex
	client *Client
}

// NewRemote returns an Executor for opts. No connection is made yet.
func NewRemote(opts Options) *Remote {
	return &Remote{opts: opts}
}

// Run implements Executor.
func (r *Remote) Run(ctx context.Context, cmd string, timeout time.Duration) (*Result, error) {
	client, err := r.connect(ctx)
	if err != nil {
		return nil, err
	}

	res, err := client.Run(ctx, cmd, timeout)
	if err != nil && errors.IsCode(err, errors.ErrSSH) {
		r.drop(client)
	}
	return res, err
}

// Address returns the address of the live connection, or "" when not connected.
func (r *Remote) Address() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client == nil {
		return ""
	}
	return r.client.Address
}

// Close tears down the connection. Remote may be reused afterwards.
func (r *Remote) Close() error {
	r.mu.Lock()
	client := r.client
	r.client = nil
	r.mu.Unlock()

	if client == nil {
		return nil
	}
	return client.Close()
}

func (r *Remote) connect(ctx context.Context) (*Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client != nil {
		return r.client, nil
	}

	client, err := Dial(ctx, r.opts)
	if err != nil {
		return nil, err
	}
	r.client = client
	return client, nil
}

func (r *Remote) drop(client *Client) {
	r.mu.Lock()
	if r.client == client {
		r.client = nil
	}
	r.mu.Unlock()
	_ = client.Close()
}

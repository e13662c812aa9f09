// Package testing provides a recording notify.Notifier for tests.
package testing

import (
	"context"
	"sync"
)

// Message is one alert captured by a Recorder.
type Message struct {
	Subject string
	Body    string
}

// Recorder captures every alert it is asked to send.
type Recorder struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Fail makes every later Send record the alert and then return err.
func (r *Recorder) Fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// Send records the alert.
func (r *Recorder) Send(_ context.Context, subject, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, Message{Subject: subject, Body: body})
	return r.err
}

// Messages returns a copy of everything sent so far.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.sent))
	copy(out, r.sent)
	return out
}

// Last returns the most recent alert, or false when none was sent.
func (r *Recorder) Last() (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		return Message{}, false
	}
	return r.sent[len(r.sent)-1], true
}

// Reset forgets recorded alerts.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}

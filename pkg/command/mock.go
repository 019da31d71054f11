package command

import (
	"context"
	"fmt"
	"sync"
)

// Recorder collects the order in which mock commands ran.
type Recorder struct {
	mu    sync.Mutex
	calls []string
}

// Calls returns the recorded invocations.
func (r *Recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.calls...)
}

func (r *Recorder) record(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, name)
}

// Mock is a scripted command for tests and dry wiring. It never starts a
// process.
type Mock struct {
	Name     string
	ExitCode int
	Err      error
	Output   string
	recorder *Recorder
}

// NewMock creates a mock that records into rec and exits with code.
func NewMock(rec *Recorder, name string, code int) *Mock {
	return &Mock{Name: name, ExitCode: code, recorder: rec}
}

// Describe returns the mock name.
func (m *Mock) Describe() string {
	return m.Name
}

// Execute records the call, writes Output, and returns the scripted result.
func (m *Mock) Execute(ctx context.Context, env Env) (int, error) {
	if err := ctx.Err(); err != nil {
		return -1, err
	}
	if m.recorder != nil {
		m.recorder.record(m.Name)
	}
	if m.Err != nil {
		return -1, m.Err
	}
	if m.Output != "" {
		fmt.Fprint(env.stdout(), m.Output)
	}
	return m.ExitCode, nil
}

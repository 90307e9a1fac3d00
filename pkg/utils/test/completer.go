package testutils

import (
	"context"
	"sync"

	"github.com/papercomputeco/recall/pkg/llm"
)

// MockCompleter records requests and answers from Response or Fn.
type MockCompleter struct {
	mu       sync.Mutex
	requests []llm.Request

	// Response is returned when Fn is nil.
	Response string

	// Err fails every call when set.
	Err error

	// Fn computes the response when set.
	Fn func(req llm.Request) (string, error)
}

var _ llm.Completer = (*MockCompleter)(nil)

func (m *MockCompleter) Complete(_ context.Context, req llm.Request) (string, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.Err != nil {
		return "", m.Err
	}
	if m.Fn != nil {
		return m.Fn(req)
	}
	return m.Response, nil
}

// Requests returns a copy of every request received.
func (m *MockCompleter) Requests() []llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llm.Request(nil), m.requests...)
}

package testutils

import (
	"context"
	"sync"

	"github.com/papercomputeco/recall/pkg/eventstream"
)

// RecordingPublisher keeps every published event in memory.
type RecordingPublisher struct {
	mu     sync.Mutex
	events []*eventstream.MemoryEvent

	// Err fails every Publish call when set.
	Err error
}

var _ eventstream.Publisher = (*RecordingPublisher)(nil)

func (p *RecordingPublisher) Publish(_ context.Context, event *eventstream.MemoryEvent) error {
	if event == nil {
		return eventstream.ErrNilEvent
	}
	if p.Err != nil {
		return p.Err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *RecordingPublisher) Close() error {
	return nil
}

// Events returns the published events of eventType, or all of them when
// eventType is empty.
func (p *RecordingPublisher) Events(eventType string) []*eventstream.MemoryEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*eventstream.MemoryEvent
	for _, e := range p.events {
		if eventType == "" || e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

package inmemory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/papercomputeco/recall/pkg/memory"
	"github.com/papercomputeco/recall/pkg/storage"
)

// CreateSession stores a session.
func (d *Driver) CreateSession(_ context.Context, s *memory.Session) error {
	if s == nil {
		return errors.New("cannot store nil session")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.sessions[s.ID]; ok {
		return fmt.Errorf("session already exists: %s", s.ID)
	}
	c := *s
	c.Messages = nil
	c.Metadata = memory.CloneMetadata(s.Metadata)
	d.sessions[s.ID] = &c
	return nil
}

// GetSession returns a session with its messages.
func (d *Driver) GetSession(_ context.Context, id string) (*memory.Session, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	s, ok := d.sessions[id]
	if !ok {
		return nil, storage.ErrNotFound{Kind: "session", ID: id}
	}
	c := *s
	c.Metadata = memory.CloneMetadata(s.Metadata)
	c.Messages = d.sortedMessages(id, 0)
	return &c, nil
}

// ListSessions returns sessions by most recent update.
func (d *Driver) ListSessions(_ context.Context, limit int) ([]*memory.Session, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]*memory.Session, 0, len(d.sessions))
	for _, s := range d.sessions {
		c := *s
		c.Metadata = memory.CloneMetadata(s.Metadata)
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpdateSession writes title, metadata and updated_at.
func (d *Driver) UpdateSession(_ context.Context, s *memory.Session) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	existing, ok := d.sessions[s.ID]
	if !ok {
		return storage.ErrNotFound{Kind: "session", ID: s.ID}
	}
	existing.Title = s.Title
	existing.Metadata = memory.CloneMetadata(s.Metadata)
	existing.UpdatedAt = s.UpdatedAt
	return nil
}

// TouchSession sets updated_at.
func (d *Driver) TouchSession(_ context.Context, id string, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.sessions[id]
	if !ok {
		return storage.ErrNotFound{Kind: "session", ID: id}
	}
	s.UpdatedAt = at
	return nil
}

// DeleteSession removes a session with its messages and memories.
func (d *Driver) DeleteSession(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.sessions[id]; !ok {
		return storage.ErrNotFound{Kind: "session", ID: id}
	}
	if _, err := d.deleteMatching(func(m *memory.Memory) bool { return m.SessionID == id }); err != nil {
		return err
	}
	delete(d.messages, id)
	delete(d.sessions, id)
	return nil
}

// CountActiveSessions counts sessions updated at or after since.
func (d *Driver) CountActiveSessions(_ context.Context, since time.Time) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n := 0
	for _, s := range d.sessions {
		if !s.UpdatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// PutMessage stores a message in a session.
func (d *Driver) PutMessage(_ context.Context, sessionID string, msg *memory.Message) error {
	if msg == nil {
		return errors.New("cannot store nil message")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.sessions[sessionID]; !ok {
		return storage.ErrNotFound{Kind: "session", ID: sessionID}
	}
	c := *msg
	c.Metadata = memory.CloneMetadata(msg.Metadata)
	d.messages[sessionID] = append(d.messages[sessionID], &c)
	return nil
}

// GetMessages returns a session's messages oldest first.
func (d *Driver) GetMessages(_ context.Context, sessionID string, limit int) ([]*memory.Message, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.sortedMessages(sessionID, limit), nil
}

// sortedMessages must be called with mu held.
func (d *Driver) sortedMessages(sessionID string, limit int) []*memory.Message {
	msgs := d.messages[sessionID]
	out := make([]*memory.Message, 0, len(msgs))
	for _, m := range msgs {
		c := *m
		c.Metadata = memory.CloneMetadata(m.Metadata)
		out = append(out, &c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// PutMetric records a metric.
func (d *Driver) PutMetric(_ context.Context, m *memory.Metric) error {
	if m == nil {
		return errors.New("cannot store nil metric")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.metricID++
	c := *m
	c.ID = d.metricID
	c.Metadata = memory.CloneMetadata(m.Metadata)
	d.metrics = append(d.metrics, &c)
	return nil
}

// GetMetrics returns the named metrics recorded at or after since.
func (d *Driver) GetMetrics(_ context.Context, name string, since time.Time) ([]*memory.Metric, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []*memory.Metric
	for _, m := range d.metrics {
		if m.Name == name && !m.Timestamp.Before(since) {
			c := *m
			out = append(out, &c)
		}
	}
	return out, nil
}

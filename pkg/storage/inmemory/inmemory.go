// Package inmemory provides a process-local storage.Driver. Memory content is
// indexed with bleve so SearchContent avoids a full scan.
package inmemory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/papercomputeco/recall/pkg/memory"
	"github.com/papercomputeco/recall/pkg/storage"
)

// Driver implements storage.Driver using in-memory maps.
type Driver struct {
	// mu guards every map and the metrics slice.
	mu sync.RWMutex

	sessions map[string]*memory.Session
	messages map[string][]*memory.Message
	memories map[string]*memory.Memory
	metrics  []*memory.Metric
	metricID int64

	// index holds lower-cased memory content as a single keyword token so
	// wildcard queries behave like substring matches.
	index bleve.Index
}

var _ storage.Driver = (*Driver)(nil)

// NewDriver creates a new in-memory store.
func NewDriver() (*Driver, error) {
	index, err := bleve.NewMemOnly(contentMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create content index: %w", err)
	}
	return &Driver{
		sessions: make(map[string]*memory.Session),
		messages: make(map[string][]*memory.Message),
		memories: make(map[string]*memory.Memory),
		index:    index,
	}, nil
}

func contentMapping() mapping.IndexMapping {
	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("content", bleve.NewKeywordFieldMapping())

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	return m
}

// PutMemory inserts a memory or replaces its mutable fields.
func (d *Driver) PutMemory(_ context.Context, m *memory.Memory) error {
	if m == nil {
		return errors.New("cannot store nil memory")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.sessions[m.SessionID]; !ok {
		return storage.ErrNotFound{Kind: "session", ID: m.SessionID}
	}

	stored := cloneMemory(m)
	stored.RelevanceScore = memory.ClampRelevance(stored.RelevanceScore)
	if existing, ok := d.memories[m.ID]; ok {
		stored.Content = existing.Content
		stored.Timestamp = existing.Timestamp
		stored.Type = existing.Type
		stored.SessionID = existing.SessionID
		d.memories[m.ID] = stored
		return nil
	}

	if err := d.index.Index(m.ID, map[string]any{"content": strings.ToLower(m.Content)}); err != nil {
		return fmt.Errorf("failed to index memory: %w", err)
	}
	d.memories[m.ID] = stored
	return nil
}

// GetMemory returns a copy of a memory.
func (d *Driver) GetMemory(_ context.Context, id string) (*memory.Memory, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	m, ok := d.memories[id]
	if !ok {
		return nil, storage.ErrNotFound{Kind: "memory", ID: id}
	}
	return cloneMemory(m), nil
}

// GetMemories returns copies of the memories matching f.
func (d *Driver) GetMemories(_ context.Context, f storage.Filter) ([]*memory.Memory, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []*memory.Memory
	for _, m := range d.memories {
		if f.Matches(m) {
			out = append(out, cloneMemory(m))
		}
	}
	return limit(out, f.Order, f.Limit), nil
}

// SearchContent returns memories whose lower-cased content contains any of
// terms.
func (d *Driver) SearchContent(_ context.Context, terms []string, f storage.Filter) ([]*memory.Memory, error) {
	var (
		lowered []string
		queries []query.Query
	)
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		lowered = append(lowered, t)

		// Literal '*' and '?' in a term are matched by the wildcards
		// themselves, so the query is a superset and hits are re-checked.
		q := bleve.NewWildcardQuery("*" + t + "*")
		q.SetField("content")
		queries = append(queries, q)
	}
	if len(queries) == 0 {
		return nil, nil
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	total, err := d.index.DocCount()
	if err != nil {
		return nil, fmt.Errorf("failed to count indexed memories: %w", err)
	}
	if total == 0 {
		return nil, nil
	}
	req := bleve.NewSearchRequestOptions(bleve.NewDisjunctionQuery(queries...), int(total), 0, false)
	res, err := d.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("failed to search content: %w", err)
	}

	var out []*memory.Memory
	for _, hit := range res.Hits {
		m, ok := d.memories[hit.ID]
		if !ok || !f.Matches(m) || !containsAny(strings.ToLower(m.Content), lowered) {
			continue
		}
		out = append(out, cloneMemory(m))
	}
	return limit(out, storage.OrderRelevance, f.Limit), nil
}

// CountMemories returns how many memories match f.
func (d *Driver) CountMemories(_ context.Context, f storage.Filter) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n := 0
	for _, m := range d.memories {
		if f.Matches(m) {
			n++
		}
	}
	return n, nil
}

// ScaleRelevance multiplies a memory's relevance by factor.
func (d *Driver) ScaleRelevance(_ context.Context, id string, factor float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, ok := d.memories[id]
	if !ok {
		return storage.ErrNotFound{Kind: "memory", ID: id}
	}
	m.RelevanceScore = memory.ClampRelevance(m.RelevanceScore * factor)
	return nil
}

// ScaleRelevanceWhere scales every matching memory older than olderThan.
func (d *Driver) ScaleRelevanceWhere(_ context.Context, sessionID string, olderThan time.Time, factor float64) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var n int64
	for _, m := range d.memories {
		if sessionID != "" && m.SessionID != sessionID {
			continue
		}
		if m.Timestamp.Before(olderThan) {
			m.RelevanceScore = memory.ClampRelevance(m.RelevanceScore * factor)
			n++
		}
	}
	return n, nil
}

// SetRelevance overwrites a memory's relevance.
func (d *Driver) SetRelevance(_ context.Context, id string, score float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, ok := d.memories[id]
	if !ok {
		return storage.ErrNotFound{Kind: "memory", ID: id}
	}
	m.RelevanceScore = memory.ClampRelevance(score)
	return nil
}

// MergeMetadata shallow-merges patch into a memory's metadata.
func (d *Driver) MergeMetadata(_ context.Context, id string, patch map[string]any) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, ok := d.memories[id]
	if !ok {
		return storage.ErrNotFound{Kind: "memory", ID: id}
	}
	md := memory.CloneMetadata(m.Metadata)
	for k, v := range patch {
		md[k] = v
	}
	m.Metadata = md
	return nil
}

// DeleteWhere removes old, low-relevance memories.
func (d *Driver) DeleteWhere(_ context.Context, olderThan time.Time, relevanceBelow float64) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.deleteMatching(func(m *memory.Memory) bool {
		return m.Timestamp.Before(olderThan) && m.RelevanceScore < relevanceBelow
	})
}

// DeleteSessionMemories removes every memory of a session.
func (d *Driver) DeleteSessionMemories(_ context.Context, sessionID string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.deleteMatching(func(m *memory.Memory) bool { return m.SessionID == sessionID })
}

// deleteMatching must be called with mu held.
func (d *Driver) deleteMatching(pred func(*memory.Memory) bool) ([]string, error) {
	var ids []string
	for id, m := range d.memories {
		if !pred(m) {
			continue
		}
		if err := d.index.Delete(id); err != nil {
			return ids, fmt.Errorf("failed to unindex memory: %w", err)
		}
		delete(d.memories, id)
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// SessionStats summarizes a session's memories.
func (d *Driver) SessionStats(_ context.Context, sessionID string) (memory.Stats, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var (
		stats memory.Stats
		sum   float64
	)
	for _, m := range d.memories {
		if m.SessionID != sessionID {
			continue
		}
		stats.TotalMemories++
		stats.TotalTokens += m.TokenCount
		sum += m.RelevanceScore
		if m.Type == memory.TypeSummary {
			stats.SummaryCount++
		}
		if stats.Oldest.IsZero() || m.Timestamp.Before(stats.Oldest) {
			stats.Oldest = m.Timestamp
		}
		if m.Timestamp.After(stats.Newest) {
			stats.Newest = m.Timestamp
		}
	}
	if stats.TotalMemories > 0 {
		stats.AvgRelevance = sum / float64(stats.TotalMemories)
	}
	return stats, nil
}

// Reset removes every record.
func (d *Driver) Reset(_ context.Context) error {
	index, err := bleve.NewMemOnly(contentMapping())
	if err != nil {
		return fmt.Errorf("failed to create content index: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	old := d.index
	d.index = index
	d.sessions = make(map[string]*memory.Session)
	d.messages = make(map[string][]*memory.Message)
	d.memories = make(map[string]*memory.Memory)
	d.metrics = nil
	return old.Close()
}

// Close releases the content index.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.index.Close()
}

func cloneMemory(m *memory.Memory) *memory.Memory {
	c := *m
	c.Metadata = memory.CloneMetadata(m.Metadata)
	return &c
}

func containsAny(content string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(content, t) {
			return true
		}
	}
	return false
}

func limit(ms []*memory.Memory, o storage.Order, n int) []*memory.Memory {
	storage.SortMemories(ms, o)
	if n > 0 && len(ms) > n {
		ms = ms[:n]
	}
	return ms
}

// Package chromem provides an embedded, pure Go vector driver built on
// chromem-go. It needs no external service and optionally persists to disk.
package chromem

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/papercomputeco/recall/pkg/vector"
)

// DefaultCollectionName is the collection memories are indexed in.
const DefaultCollectionName = "recall"

const (
	metaSessionID  = "session_id"
	metaMemoryType = "memory_type"
	metaTimestamp  = "timestamp"
)

// Config holds configuration for the chromem driver.
type Config struct {
	// Path persists the database to a directory. Empty keeps it in memory.
	Path string

	// Compress gzips persisted documents.
	Compress bool

	// CollectionName defaults to DefaultCollectionName.
	CollectionName string
}

// Driver implements vector.Driver with chromem-go.
type Driver struct {
	mu         sync.RWMutex
	db         *chromem.DB
	collection *chromem.Collection
	name       string
	logger     *slog.Logger
}

var _ vector.Driver = (*Driver)(nil)

// NewDriver opens or creates the chromem database.
func NewDriver(c Config, logger *slog.Logger) (*Driver, error) {
	name := c.CollectionName
	if name == "" {
		name = DefaultCollectionName
	}

	db := chromem.NewDB()
	if c.Path != "" {
		var err error
		db, err = chromem.NewPersistentDB(c.Path, c.Compress)
		if err != nil {
			return nil, fmt.Errorf("opening chromem database: %w", err)
		}
	}

	// Embeddings are always supplied by the caller, so no embedding func.
	col, err := db.GetOrCreateCollection(name, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("getting or creating collection %q: %w", name, err)
	}

	logger.Info("chromem vector driver initialized",
		"path", c.Path,
		"collection", name,
		"documents", col.Count(),
	)

	return &Driver{db: db, collection: col, name: name, logger: logger}, nil
}

// Add stores documents with their embeddings, replacing existing ids.
func (d *Driver) Add(ctx context.Context, docs []vector.Document) error {
	if len(docs) == 0 {
		return nil
	}

	d.mu.RLock()
	col := d.collection
	d.mu.RUnlock()

	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		ids = append(ids, doc.ID)
	}
	if err := col.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("replacing documents: %w", err)
	}

	for _, doc := range docs {
		if len(doc.Embedding) == 0 {
			return fmt.Errorf("%w: doc %s has no embedding", vector.ErrDimensions, doc.ID)
		}
		err := col.AddDocument(ctx, chromem.Document{
			ID:        doc.ID,
			Embedding: doc.Embedding,
			Metadata: map[string]string{
				metaSessionID:  doc.SessionID,
				metaMemoryType: doc.MemoryType,
				metaTimestamp:  doc.Timestamp.UTC().Format(time.RFC3339Nano),
			},
		})
		if err != nil {
			return fmt.Errorf("adding document %s: %w", doc.ID, err)
		}
	}

	d.logger.Debug("added documents to chromem", "count", len(docs))
	return nil
}

// Query finds the topK nearest documents to the given embedding.
func (d *Driver) Query(ctx context.Context, embedding []float32, topK int, filter vector.Filter) ([]vector.QueryResult, error) {
	if topK <= 0 {
		topK = 10
	}

	d.mu.RLock()
	col := d.collection
	d.mu.RUnlock()

	// chromem-go requires nResults <= collection size
	if n := col.Count(); n == 0 {
		return nil, nil
	} else if topK > n {
		topK = n
	}

	var where map[string]string
	if filter.SessionID != "" || filter.MemoryType != "" {
		where = map[string]string{}
		if filter.SessionID != "" {
			where[metaSessionID] = filter.SessionID
		}
		if filter.MemoryType != "" {
			where[metaMemoryType] = filter.MemoryType
		}
	}

	res, err := col.QueryEmbedding(ctx, embedding, topK, where, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	results := make([]vector.QueryResult, 0, len(res))
	for _, r := range res {
		results = append(results, vector.QueryResult{
			Document: toDocument(r.ID, r.Metadata, r.Embedding),
			Distance: 1 - r.Similarity,
		})
	}

	d.logger.Debug("queried chromem", "results", len(results))
	return results, nil
}

// Get retrieves documents by their IDs.
func (d *Driver) Get(ctx context.Context, ids []string) ([]vector.Document, error) {
	d.mu.RLock()
	col := d.collection
	d.mu.RUnlock()

	var docs []vector.Document
	for _, id := range ids {
		doc, err := col.GetByID(ctx, id)
		if err != nil {
			// chromem-go reports unknown ids as plain errors
			continue
		}
		docs = append(docs, toDocument(doc.ID, doc.Metadata, doc.Embedding))
	}
	return docs, nil
}

// Delete removes documents by their IDs.
func (d *Driver) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	d.mu.RLock()
	col := d.collection
	d.mu.RUnlock()

	if err := col.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("deleting documents: %w", err)
	}
	d.logger.Debug("deleted documents from chromem", "count", len(ids))
	return nil
}

// Count returns the number of indexed documents.
func (d *Driver) Count(_ context.Context) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.collection.Count(), nil
}

// Reset drops and recreates the collection.
func (d *Driver) Reset(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.db.DeleteCollection(d.name); err != nil {
		return fmt.Errorf("deleting collection: %w", err)
	}
	col, err := d.db.GetOrCreateCollection(d.name, nil, nil)
	if err != nil {
		return fmt.Errorf("recreating collection: %w", err)
	}
	d.collection = col
	return nil
}

// Close is a no-op; persistent databases write through on every change.
func (d *Driver) Close() error {
	return nil
}

func toDocument(id string, md map[string]string, embedding []float32) vector.Document {
	doc := vector.Document{
		ID:         id,
		SessionID:  md[metaSessionID],
		MemoryType: md[metaMemoryType],
		Embedding:  embedding,
	}
	if ts, err := time.Parse(time.RFC3339Nano, md[metaTimestamp]); err == nil {
		doc.Timestamp = ts
	}
	return doc
}

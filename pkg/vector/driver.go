// Package vector provides interfaces and implementations for the embedding
// index that backs semantic memory search.
//
// Every driver reports cosine distance in QueryResult.Distance, so callers
// convert to similarity with 1 - distance regardless of backend.
package vector

import (
	"context"
	"time"
)

// Document is an indexed memory embedding.
type Document struct {
	// ID is the memory id.
	ID string

	SessionID  string
	MemoryType string
	Timestamp  time.Time

	// Embedding is the vector representation of the memory content.
	Embedding []float32
}

// QueryResult is a nearest-neighbour hit.
type QueryResult struct {
	Document

	// Distance is the cosine distance to the query (lower = more similar).
	Distance float32
}

// Similarity converts the cosine distance to a similarity.
func (r QueryResult) Similarity() float64 {
	return 1 - float64(r.Distance)
}

// Filter restricts a query to documents with matching metadata. Empty
// fields match everything.
type Filter struct {
	SessionID  string
	MemoryType string
}

// Matches reports whether doc satisfies f.
func (f Filter) Matches(doc Document) bool {
	if f.SessionID != "" && doc.SessionID != f.SessionID {
		return false
	}
	if f.MemoryType != "" && doc.MemoryType != f.MemoryType {
		return false
	}
	return true
}

// Driver handles storage and retrieval of vector embeddings.
type Driver interface {
	// Add stores documents with their embeddings.
	// If a document with the same ID already exists, implementers should update
	// the document.
	Add(ctx context.Context, docs []Document) error

	// Query finds the topK nearest documents to the given embedding that
	// satisfy filter, ordered by ascending distance.
	Query(ctx context.Context, embedding []float32, topK int, filter Filter) ([]QueryResult, error)

	// Get retrieves documents by their IDs. Unknown IDs are skipped.
	Get(ctx context.Context, ids []string) ([]Document, error)

	// Delete removes documents by their IDs.
	Delete(ctx context.Context, ids []string) error

	// Count returns the number of indexed documents.
	Count(ctx context.Context) (int, error)

	// Reset removes every document.
	Reset(ctx context.Context) error

	// Close releases any resources held by the driver.
	Close() error
}

package retriever

import (
	"context"
	"fmt"

	"github.com/papercomputeco/recall/pkg/memory"
	"github.com/papercomputeco/recall/pkg/storage"
	"github.com/papercomputeco/recall/pkg/vector"
)

// Index embeds m and adds it to the vector index. It reports whether the
// memory was indexed; failures are logged and never returned.
func (r *Retriever) Index(ctx context.Context, m *memory.Memory) bool {
	if r.vector == nil {
		return false
	}
	emb := r.Embed(ctx, m.Content)
	if emb == nil {
		return false
	}
	if err := r.vector.Add(ctx, []vector.Document{toDocument(m, emb)}); err != nil {
		r.logger.Warn("indexing memory failed", "memory_id", m.ID, "error", err)
		return false
	}
	return true
}

// Forget removes ids from the vector index.
func (r *Retriever) Forget(ctx context.Context, ids []string) error {
	if r.vector == nil || len(ids) == 0 {
		return nil
	}
	if err := r.vector.Delete(ctx, ids); err != nil {
		return fmt.Errorf("removing %d documents from vector index: %w", len(ids), err)
	}
	return nil
}

// SimilarMemories returns up to limit memories of m's session whose
// embeddings are closest to m, excluding m itself.
func (r *Retriever) SimilarMemories(ctx context.Context, m *memory.Memory, limit int) ([]*memory.Memory, error) {
	if limit <= 0 {
		limit = 5
	}
	if r.vector == nil {
		return nil, ErrEmbeddingUnavailable
	}

	var emb []float32
	if docs, err := r.vector.Get(ctx, []string{m.ID}); err == nil && len(docs) == 1 {
		emb = docs[0].Embedding
	}
	if emb == nil {
		emb = r.Embed(ctx, m.Content)
	}
	if emb == nil {
		return nil, ErrEmbeddingUnavailable
	}

	hits, err := r.vector.Query(ctx, emb, limit+1, vector.Filter{SessionID: m.SessionID})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		if h.ID != m.ID {
			ids = append(ids, h.ID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	found, err := r.store.GetMemories(ctx, storage.Filter{IDs: ids})
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*memory.Memory, len(found))
	for _, f := range found {
		byID[f.ID] = f
	}

	out := make([]*memory.Memory, 0, limit)
	for _, id := range ids {
		if f, ok := byID[id]; ok {
			out = append(out, f)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// ReindexEmbeddings embeds the most recent memories that are missing from
// the vector index, inspecting up to 2*batch memories. It returns how many
// were indexed.
func (r *Retriever) ReindexEmbeddings(ctx context.Context, batch int) (int, error) {
	if batch <= 0 {
		batch = 50
	}
	if r.vector == nil {
		return 0, nil
	}

	recent, err := r.store.GetMemories(ctx, storage.Filter{Order: storage.OrderNewest, Limit: 2 * batch})
	if err != nil {
		return 0, err
	}
	if len(recent) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(recent))
	for _, m := range recent {
		ids = append(ids, m.ID)
	}
	existing, err := r.vector.Get(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("listing indexed documents: %w", err)
	}
	indexed := make(map[string]struct{}, len(existing))
	for _, d := range existing {
		indexed[d.ID] = struct{}{}
	}

	var docs []vector.Document
	for _, m := range recent {
		if _, ok := indexed[m.ID]; ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		emb := r.Embed(ctx, m.Content)
		if emb == nil {
			continue
		}
		docs = append(docs, toDocument(m, emb))
		if len(docs) == batch {
			break
		}
	}
	if len(docs) == 0 {
		return 0, nil
	}

	if err := r.vector.Add(ctx, docs); err != nil {
		return 0, fmt.Errorf("adding %d documents to vector index: %w", len(docs), err)
	}
	r.logger.Info("reindexed embeddings", "count", len(docs))
	return len(docs), nil
}

func toDocument(m *memory.Memory, emb []float32) vector.Document {
	return vector.Document{
		ID:         m.ID,
		SessionID:  m.SessionID,
		MemoryType: string(m.Type),
		Timestamp:  m.Timestamp,
		Embedding:  emb,
	}
}

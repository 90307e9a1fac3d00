// Package retriever ranks memories for a query by fusing vector similarity
// with keyword overlap, and assembles token-bounded context for a turn.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/papercomputeco/recall/pkg/embeddings"
	"github.com/papercomputeco/recall/pkg/lexical"
	"github.com/papercomputeco/recall/pkg/memory"
	"github.com/papercomputeco/recall/pkg/storage"
	"github.com/papercomputeco/recall/pkg/vector"
)

// ErrEmbeddingUnavailable is returned by SemanticSearch when the query
// cannot be embedded.
var ErrEmbeddingUnavailable = errors.New("query embedding unavailable")

// Fusion and per-branch weights.
const (
	SemanticWeight = 0.7
	LexicalWeight  = 0.3

	MatchWeight     = 0.6
	RelevanceWeight = 0.3
	DecayWeight     = 0.1

	// MinLexicalScore drops weak keyword hits.
	MinLexicalScore = 0.1

	// DefaultMinRelevance is the fused score a hybrid hit must reach.
	DefaultMinRelevance = 0.3
)

// Context assembly sizes.
const (
	RecentWindow       = 10
	ContextSearchLimit = 15
	DefaultLimit       = 10
)

// Store is the part of storage.Driver the retriever reads.
type Store interface {
	GetMemories(ctx context.Context, f storage.Filter) ([]*memory.Memory, error)
	SearchContent(ctx context.Context, terms []string, f storage.Filter) ([]*memory.Memory, error)
}

// Filter restricts a search. Empty fields match everything.
type Filter struct {
	SessionID string
	Types     []memory.Type
}

func (f Filter) matches(m *memory.Memory) bool {
	if f.SessionID != "" && m.SessionID != f.SessionID {
		return false
	}
	return len(f.Types) == 0 || slices.Contains(f.Types, m.Type)
}

// Options configures HybridSearch.
type Options struct {
	Limit  int
	Filter Filter

	// MinRelevance is the minimum fused score. Zero selects
	// DefaultMinRelevance; a negative value keeps every hit.
	MinRelevance float64
}

// Scored is a memory with its ranking score.
type Scored struct {
	Memory *memory.Memory `json:"memory"`
	Score  float64        `json:"score"`
}

// Config configures a Retriever.
type Config struct {
	Store    Store
	Vector   vector.Driver
	Embedder embeddings.Embedder
	Logger   *slog.Logger

	// Now is the clock used for temporal decay. Defaults to time.Now.
	Now func() time.Time
}

// Retriever runs semantic, lexical and hybrid searches over a session's
// memories.
type Retriever struct {
	store    Store
	vector   vector.Driver
	embedder embeddings.Embedder
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Retriever.
func New(c Config) *Retriever {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Embedder == nil {
		c.Embedder = embeddings.None{}
	}
	return &Retriever{
		store:    c.Store,
		vector:   c.Vector,
		embedder: c.Embedder,
		logger:   c.Logger,
		now:      c.Now,
	}
}

// Embed returns the embedding of text, or nil when the provider fails.
func (r *Retriever) Embed(ctx context.Context, text string) []float32 {
	emb, err := r.embedder.Embed(ctx, text)
	if err != nil {
		r.logger.Warn("embedding failed", "chars", len(text), "error", err)
		return nil
	}
	return emb
}

func (r *Retriever) branchScore(match float64, m *memory.Memory, now time.Time) float64 {
	return match*MatchWeight + m.RelevanceScore*RelevanceWeight + TemporalDecay(m.Timestamp, now)*DecayWeight
}

// SemanticSearch ranks memories by vector similarity to query.
func (r *Retriever) SemanticSearch(ctx context.Context, query string, limit int, f Filter) ([]Scored, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if r.vector == nil {
		return nil, ErrEmbeddingUnavailable
	}

	emb := r.Embed(ctx, query)
	if emb == nil {
		return nil, ErrEmbeddingUnavailable
	}

	vf := vector.Filter{SessionID: f.SessionID}
	if len(f.Types) == 1 {
		vf.MemoryType = string(f.Types[0])
	}
	hits, err := r.vector.Query(ctx, emb, 2*limit, vf)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.ID)
	}
	found, err := r.store.GetMemories(ctx, storage.Filter{IDs: ids})
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*memory.Memory, len(found))
	for _, m := range found {
		byID[m.ID] = m
	}

	now := r.now()
	scored := make([]Scored, 0, len(hits))
	for _, h := range hits {
		m, ok := byID[h.ID]
		if !ok || !f.matches(m) {
			continue
		}
		scored = append(scored, Scored{Memory: m, Score: r.branchScore(h.Similarity(), m, now)})
	}

	sortScored(scored)
	return truncate(scored, limit), nil
}

// LexicalSearch ranks memories containing any query word by keyword
// overlap.
func (r *Retriever) LexicalSearch(ctx context.Context, query string, limit int, f Filter) ([]Scored, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	candidates, err := r.store.SearchContent(ctx, lexical.Terms(query), storage.Filter{
		SessionID: f.SessionID,
		Types:     f.Types,
		Limit:     2 * limit,
	})
	if err != nil {
		return nil, err
	}

	now := r.now()
	scored := make([]Scored, 0, len(candidates))
	for _, m := range candidates {
		s := r.branchScore(lexical.Score(query, m.Content), m, now)
		if s < MinLexicalScore {
			continue
		}
		scored = append(scored, Scored{Memory: m, Score: s})
	}

	sortScored(scored)
	return truncate(scored, limit), nil
}

// HybridSearch runs both branches concurrently and fuses their scores.
// A failing branch contributes nothing.
func (r *Retriever) HybridSearch(ctx context.Context, query string, o Options) []*memory.Memory {
	scored := r.HybridSearchScored(ctx, query, o)
	out := make([]*memory.Memory, len(scored))
	for i, s := range scored {
		out[i] = s.Memory
	}
	return out
}

// HybridSearchScored is HybridSearch with the fused scores.
func (r *Retriever) HybridSearchScored(ctx context.Context, query string, o Options) []Scored {
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	minScore := o.MinRelevance
	if minScore == 0 {
		minScore = DefaultMinRelevance
	}

	var (
		g        errgroup.Group
		semantic []Scored
		keyword  []Scored
	)
	g.Go(func() error {
		var err error
		semantic, err = r.SemanticSearch(ctx, query, o.Limit, o.Filter)
		if err != nil {
			r.logger.Warn("semantic search failed", "error", err)
			semantic = nil
		}
		return nil
	})
	g.Go(func() error {
		var err error
		keyword, err = r.LexicalSearch(ctx, query, o.Limit, o.Filter)
		if err != nil {
			r.logger.Warn("lexical search failed", "error", err)
			keyword = nil
		}
		return nil
	})
	_ = g.Wait()

	type fused struct {
		m        *memory.Memory
		sem, lex float64
	}
	byID := make(map[string]*fused, len(semantic)+len(keyword))
	order := make([]string, 0, len(semantic)+len(keyword))
	for _, s := range semantic {
		byID[s.Memory.ID] = &fused{m: s.Memory, sem: s.Score}
		order = append(order, s.Memory.ID)
	}
	for _, s := range keyword {
		if f, ok := byID[s.Memory.ID]; ok {
			f.lex = s.Score
			continue
		}
		byID[s.Memory.ID] = &fused{m: s.Memory, lex: s.Score}
		order = append(order, s.Memory.ID)
	}

	results := make([]Scored, 0, len(order))
	for _, id := range order {
		f := byID[id]
		score := f.sem*SemanticWeight + f.lex*LexicalWeight
		if score < minScore {
			continue
		}
		results = append(results, Scored{Memory: f.m, Score: score})
	}

	sortScored(results)
	results = truncate(results, o.Limit)

	r.logger.Debug("hybrid search",
		"semantic", len(semantic),
		"lexical", len(keyword),
		"returned", len(results),
	)
	return results
}

// RetrieveContext assembles the context for a turn: the session's most
// recent conversation memories plus the best hybrid hits, ordered
// chronologically and cut at the first memory that would exceed maxTokens.
// A failed read of the recent window is logged and the hybrid hits are
// still returned.
func (r *Retriever) RetrieveContext(ctx context.Context, query, sessionID string, maxTokens int) ([]*memory.Memory, string) {
	selected, text, err := r.LoadContext(ctx, query, sessionID, maxTokens)
	if err != nil {
		r.logger.Warn("loading recent memories failed", "session_id", sessionID, "error", err)
	}
	return selected, text
}

// LoadContext is RetrieveContext that also reports a failed read of the
// recent window, so callers can switch to another context source.
func (r *Retriever) LoadContext(ctx context.Context, query, sessionID string, maxTokens int) ([]*memory.Memory, string, error) {
	recent, loadErr := r.store.GetMemories(ctx, storage.Filter{
		SessionID: sessionID,
		Types:     []memory.Type{memory.TypeConversation},
		Order:     storage.OrderNewest,
		Limit:     RecentWindow,
	})
	if loadErr != nil {
		loadErr = fmt.Errorf("failed to load recent memories: %w", loadErr)
	}

	relevant := r.HybridSearch(ctx, query, Options{
		Limit:  ContextSearchLimit,
		Filter: Filter{SessionID: sessionID},
	})

	seen := make(map[string]struct{}, len(recent)+len(relevant))
	all := make([]*memory.Memory, 0, len(recent)+len(relevant))
	for _, m := range slices.Concat(recent, relevant) {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		all = append(all, m)
	}
	SortChronological(all)

	selected := PackGreedy(all, maxTokens)

	r.logger.Info("retrieved context",
		"session_id", sessionID,
		"memories", len(selected),
		"tokens", memory.TotalTokens(selected),
	)
	return selected, memory.FormatContext(selected), loadErr
}

// PackGreedy keeps memories in order while their running token sum stays
// within maxTokens, stopping at the first one that does not fit.
func PackGreedy(ms []*memory.Memory, maxTokens int) []*memory.Memory {
	var (
		out   []*memory.Memory
		total int
	)
	for _, m := range ms {
		if total+m.TokenCount > maxTokens {
			break
		}
		out = append(out, m)
		total += m.TokenCount
	}
	return out
}

// SortChronological orders memories by timestamp, oldest first.
func SortChronological(ms []*memory.Memory) {
	slices.SortStableFunc(ms, func(a, b *memory.Memory) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
}

func sortScored(s []Scored) {
	slices.SortStableFunc(s, func(a, b Scored) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return b.Memory.Timestamp.Compare(a.Memory.Timestamp)
	})
}

func truncate(s []Scored, limit int) []Scored {
	if len(s) > limit {
		return s[:limit]
	}
	return s
}

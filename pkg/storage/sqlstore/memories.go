package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"

	"github.com/papercomputeco/recall/pkg/memory"
	"github.com/papercomputeco/recall/pkg/storage"
)

var memoryColumns = []string{
	"id", "session_id", "memory_type", "content", "relevance_score",
	"compression_ratio", "token_count", "timestamp", "metadata",
}

// PutMemory inserts a memory. Existing rows keep their content and have
// their mutable columns replaced.
func (s *Store) PutMemory(ctx context.Context, m *memory.Memory) error {
	if m == nil {
		return errors.New("cannot store nil memory")
	}
	md, err := memory.EncodeMetadata(m.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	insert := s.builder().Insert(tableMemories).
		Columns(memoryColumns...).
		Values(m.ID, m.SessionID, string(m.Type), m.Content,
			memory.ClampRelevance(m.RelevanceScore), m.CompressionRatio, m.TokenCount,
			toUnix(m.Timestamp), string(md)).
		OnConflict(
			entsql.ConflictColumns("id"),
			entsql.ResolveWith(func(u *entsql.UpdateSet) {
				u.SetExcluded("relevance_score")
				u.SetExcluded("compression_ratio")
				u.SetExcluded("token_count")
				u.SetExcluded("metadata")
			}),
		)
	if _, err := s.exec(ctx, s.drv, insert); err != nil {
		return fmt.Errorf("failed to insert memory: %w", err)
	}
	return nil
}

// GetMemory returns a memory by id.
func (s *Store) GetMemory(ctx context.Context, id string) (*memory.Memory, error) {
	ms, err := s.queryMemories(ctx, s.selectMemories(entsql.EQ("id", id), storage.OrderNewest, 1))
	if err != nil {
		return nil, fmt.Errorf("failed to get memory: %w", err)
	}
	if len(ms) == 0 {
		return nil, storage.ErrNotFound{Kind: "memory", ID: id}
	}
	return ms[0], nil
}

// GetMemories returns the memories matching f.
func (s *Store) GetMemories(ctx context.Context, f storage.Filter) ([]*memory.Memory, error) {
	return s.queryMemories(ctx, s.selectMemories(filterPredicate(f), f.Order, f.Limit))
}

// SearchContent returns memories whose content contains any of terms,
// compared case-insensitively.
func (s *Store) SearchContent(ctx context.Context, terms []string, f storage.Filter) ([]*memory.Memory, error) {
	var likes []*entsql.Predicate
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		likes = append(likes, entsql.ContainsFold("content", t))
	}
	if len(likes) == 0 {
		return nil, nil
	}

	preds := []*entsql.Predicate{entsql.Or(likes...)}
	if p := filterPredicate(f); p != nil {
		preds = append(preds, p)
	}
	return s.queryMemories(ctx, s.selectMemories(and(preds), storage.OrderRelevance, f.Limit))
}

// CountMemories returns how many memories match f.
func (s *Store) CountMemories(ctx context.Context, f storage.Filter) (int, error) {
	sel := where(s.builder().Select(entsql.Count("*")).From(entsql.Table(tableMemories)), filterPredicate(f))
	var n int
	if err := s.scanOne(ctx, sel, &n); err != nil {
		return 0, fmt.Errorf("failed to count memories: %w", err)
	}
	return n, nil
}

// ScaleRelevance multiplies a memory's relevance by factor in one statement.
func (s *Store) ScaleRelevance(ctx context.Context, id string, factor float64) error {
	update := s.builder().Update(tableMemories).
		Set("relevance_score", s.scaledRelevance(factor)).
		Where(entsql.EQ("id", id))
	res, err := s.exec(ctx, s.drv, update)
	if err != nil {
		return fmt.Errorf("failed to scale relevance: %w", err)
	}
	return expectRow(res, "memory", id)
}

// ScaleRelevanceWhere scales every memory older than olderThan, limited to
// one session when sessionID is set.
func (s *Store) ScaleRelevanceWhere(ctx context.Context, sessionID string, olderThan time.Time, factor float64) (int64, error) {
	preds := []*entsql.Predicate{entsql.LT("timestamp", toUnix(olderThan))}
	if sessionID != "" {
		preds = append(preds, entsql.EQ("session_id", sessionID))
	}
	update := s.builder().Update(tableMemories).
		Set("relevance_score", s.scaledRelevance(factor)).
		Where(and(preds))
	res, err := s.exec(ctx, s.drv, update)
	if err != nil {
		return 0, fmt.Errorf("failed to scale relevance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n, nil
}

// scaledRelevance renders relevance_score * factor clamped to [0, 1].
func (s *Store) scaledRelevance(factor float64) *entsql.Predicate {
	return entsql.P(func(b *entsql.Builder) {
		s.dialect.Clamp(b, func(b *entsql.Builder) {
			b.Ident("relevance_score").WriteString(" * ").Arg(factor)
		})
	})
}

// SetRelevance overwrites a memory's relevance.
func (s *Store) SetRelevance(ctx context.Context, id string, score float64) error {
	update := s.builder().Update(tableMemories).
		Set("relevance_score", memory.ClampRelevance(score)).
		Where(entsql.EQ("id", id))
	res, err := s.exec(ctx, s.drv, update)
	if err != nil {
		return fmt.Errorf("failed to set relevance: %w", err)
	}
	return expectRow(res, "memory", id)
}

// MergeMetadata merges patch into a memory's metadata in one statement.
func (s *Store) MergeMetadata(ctx context.Context, id string, patch map[string]any) error {
	raw, err := memory.EncodeMetadata(patch)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	merged := entsql.P(func(b *entsql.Builder) {
		s.dialect.MergeJSON(b, "metadata", string(raw))
	})
	update := s.builder().Update(tableMemories).
		Set("metadata", merged).
		Where(entsql.EQ("id", id))
	res, err := s.exec(ctx, s.drv, update)
	if err != nil {
		return fmt.Errorf("failed to merge metadata: %w", err)
	}
	return expectRow(res, "memory", id)
}

// DeleteWhere removes memories older than olderThan with relevance below
// relevanceBelow and returns their ids.
func (s *Store) DeleteWhere(ctx context.Context, olderThan time.Time, relevanceBelow float64) ([]string, error) {
	return s.deleteMatching(ctx, entsql.And(
		entsql.LT("timestamp", toUnix(olderThan)),
		entsql.LT("relevance_score", relevanceBelow),
	))
}

// DeleteSessionMemories removes every memory of a session.
func (s *Store) DeleteSessionMemories(ctx context.Context, sessionID string) ([]string, error) {
	return s.deleteMatching(ctx, entsql.EQ("session_id", sessionID))
}

// deleteMatching collects the ids matching p and deletes exactly those rows
// in one transaction.
func (s *Store) deleteMatching(ctx context.Context, p *entsql.Predicate) ([]string, error) {
	var ids []string
	err := s.inTx(ctx, func(tx dialect.Tx) error {
		sel := s.builder().Select("id").From(entsql.Table(tableMemories)).Where(p)
		rows, err := s.query(ctx, tx, sel)
		if err != nil {
			return err
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan deleted id: %w", err)
			}
			ids = append(ids, id)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()
		if len(ids) == 0 {
			return nil
		}

		_, err = s.exec(ctx, tx, s.builder().Delete(tableMemories).Where(entsql.In("id", anys(ids)...)))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to delete memories: %w", err)
	}
	return ids, nil
}

// SessionStats summarizes a session's memories.
func (s *Store) SessionStats(ctx context.Context, sessionID string) (memory.Stats, error) {
	sel := s.builder().Select(
		entsql.Count("*"),
		"CAST(COALESCE(SUM(token_count), 0) AS BIGINT)",
		"CAST(COALESCE(AVG(relevance_score), 0) AS DOUBLE PRECISION)",
		"MIN(timestamp)",
		"MAX(timestamp)",
	).From(entsql.Table(tableMemories)).Where(entsql.EQ("session_id", sessionID))

	var (
		stats          memory.Stats
		oldest, newest entsql.NullInt64
	)
	if err := s.scanOne(ctx, sel, &stats.TotalMemories, &stats.TotalTokens, &stats.AvgRelevance, &oldest, &newest); err != nil {
		return memory.Stats{}, fmt.Errorf("failed to compute session stats: %w", err)
	}
	if oldest.Valid {
		stats.Oldest = fromUnix(oldest.Int64)
	}
	if newest.Valid {
		stats.Newest = fromUnix(newest.Int64)
	}

	summaries, err := s.CountMemories(ctx, storage.Filter{
		SessionID: sessionID,
		Types:     []memory.Type{memory.TypeSummary},
	})
	if err != nil {
		return memory.Stats{}, err
	}
	stats.SummaryCount = summaries
	return stats, nil
}

func (s *Store) selectMemories(p *entsql.Predicate, o storage.Order, limit int) *entsql.Selector {
	sel := where(s.builder().Select(memoryColumns...).From(entsql.Table(tableMemories)), p).
		OrderBy(orderColumns(o)...)
	if limit > 0 {
		sel.Limit(limit)
	}
	return sel
}

func (s *Store) queryMemories(ctx context.Context, sel *entsql.Selector) ([]*memory.Memory, error) {
	rows, err := s.query(ctx, s.drv, sel)
	if err != nil {
		return nil, fmt.Errorf("failed to query memories: %w", err)
	}
	defer rows.Close()

	var out []*memory.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query memories: %w", err)
	}
	return out, nil
}

// scanOne scans the single row produced by sel into dest.
func (s *Store) scanOne(ctx context.Context, sel *entsql.Selector, dest ...any) error {
	rows, err := s.query(ctx, s.drv, sel)
	if err != nil {
		return err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return err
		}
		return errors.New("no rows returned")
	}
	return rows.Scan(dest...)
}

func scanMemory(row scanner) (*memory.Memory, error) {
	var (
		m     memory.Memory
		typ   string
		ts    int64
		rawMD entsql.NullString
	)
	if err := row.Scan(&m.ID, &m.SessionID, &typ, &m.Content, &m.RelevanceScore,
		&m.CompressionRatio, &m.TokenCount, &ts, &rawMD); err != nil {
		return nil, err
	}
	m.Type = memory.Type(typ)
	m.Timestamp = fromUnix(ts)
	m.Metadata = memory.DecodeMetadata([]byte(rawMD.String))
	return &m, nil
}

func filterPredicate(f storage.Filter) *entsql.Predicate {
	var ps []*entsql.Predicate
	if f.SessionID != "" {
		ps = append(ps, entsql.EQ("session_id", f.SessionID))
	}
	if len(f.IDs) > 0 {
		ps = append(ps, entsql.In("id", anys(f.IDs)...))
	}
	if len(f.Types) > 0 {
		ps = append(ps, entsql.In("memory_type", typeArgs(f.Types)...))
	}
	if len(f.ExcludeTypes) > 0 {
		ps = append(ps, entsql.NotIn("memory_type", typeArgs(f.ExcludeTypes)...))
	}
	if !f.Before.IsZero() {
		ps = append(ps, entsql.LT("timestamp", toUnix(f.Before)))
	}
	if !f.After.IsZero() {
		ps = append(ps, entsql.GTE("timestamp", toUnix(f.After)))
	}
	if f.HasRelevanceAbove {
		ps = append(ps, entsql.GT("relevance_score", f.RelevanceAbove))
	}
	return and(ps)
}

func orderColumns(o storage.Order) []string {
	switch o {
	case storage.OrderOldest:
		return []string{entsql.Asc("timestamp"), entsql.Asc("id")}
	case storage.OrderRelevance:
		return []string{entsql.Desc("relevance_score"), entsql.Desc("timestamp")}
	default:
		return []string{entsql.Desc("timestamp"), entsql.Desc("id")}
	}
}

func anys(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func typeArgs(ts []memory.Type) []any {
	out := make([]any, len(ts))
	for i, t := range ts {
		out[i] = string(t)
	}
	return out
}

package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/papercomputeco/recall/pkg/memory"
)

// PutMetric records a metric.
func (s *Store) PutMetric(ctx context.Context, m *memory.Metric) error {
	if m == nil {
		return errors.New("cannot store nil metric")
	}
	md, err := memory.EncodeMetadata(m.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	insert := s.builder().Insert(tableMetrics).
		Columns("metric_name", "metric_value", "timestamp", "metadata").
		Values(m.Name, m.Value, toUnix(m.Timestamp), string(md))
	if _, err := s.exec(ctx, s.drv, insert); err != nil {
		return fmt.Errorf("failed to insert metric: %w", err)
	}
	return nil
}

// GetMetrics returns the named metrics recorded at or after since.
func (s *Store) GetMetrics(ctx context.Context, name string, since time.Time) ([]*memory.Metric, error) {
	sel := s.builder().Select("id", "metric_name", "metric_value", "timestamp", "metadata").
		From(entsql.Table(tableMetrics)).
		Where(entsql.And(
			entsql.EQ("metric_name", name),
			entsql.GTE("timestamp", toUnix(since)),
		)).
		OrderBy(entsql.Asc("timestamp"))
	rows, err := s.query(ctx, s.drv, sel)
	if err != nil {
		return nil, fmt.Errorf("failed to get metrics: %w", err)
	}
	defer rows.Close()

	var out []*memory.Metric
	for rows.Next() {
		var (
			m  memory.Metric
			ts int64
			md entsql.NullString
		)
		if err := rows.Scan(&m.ID, &m.Name, &m.Value, &ts, &md); err != nil {
			return nil, fmt.Errorf("failed to scan metric: %w", err)
		}
		m.Timestamp = fromUnix(ts)
		m.Metadata = memory.DecodeMetadata([]byte(md.String))
		out = append(out, &m)
	}
	return out, rows.Err()
}

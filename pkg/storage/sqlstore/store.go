// Package sqlstore implements storage.Driver over database/sql with queries
// built by ent's dialect-aware SQL builder. The sqlite and postgres drivers
// embed a Store configured with their Dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"

	"github.com/papercomputeco/recall/pkg/storage"
)

const (
	tableSessions = "sessions"
	tableMessages = "messages"
	tableMemories = "memories"
	tableMetrics  = "metrics"
)

// Store is a storage.Driver backed by an ent SQL driver.
type Store struct {
	drv     *entsql.Driver
	dialect Dialect
}

var _ storage.Driver = (*Store)(nil)

// New wraps db with ent's driver for the dialect, creates the schema and
// returns a Store.
func New(ctx context.Context, db *sql.DB, d Dialect) (*Store, error) {
	s := &Store{drv: entsql.OpenDB(d.Name, db), dialect: d}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.drv.DB()
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schema() {
		if _, err := s.exec(ctx, s.drv, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

func (s *Store) builder() *entsql.DialectBuilder {
	return entsql.Dialect(s.dialect.Name)
}

func (s *Store) exec(ctx context.Context, conn dialect.ExecQuerier, q entsql.Querier) (sql.Result, error) {
	query, args := q.Query()
	var res sql.Result
	if err := conn.Exec(ctx, query, args, &res); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Store) query(ctx context.Context, conn dialect.ExecQuerier, q entsql.Querier) (*entsql.Rows, error) {
	query, args := q.Query()
	rows := &entsql.Rows{}
	if err := conn.Query(ctx, query, args, rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// inTx runs fn in a transaction, committing when it returns nil.
func (s *Store) inTx(ctx context.Context, fn func(tx dialect.Tx) error) error {
	tx, err := s.drv.Tx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Reset removes every record.
func (s *Store) Reset(ctx context.Context) error {
	for _, table := range []string{tableMetrics, tableMemories, tableMessages, tableSessions} {
		if _, err := s.exec(ctx, s.drv, s.builder().Delete(table)); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.drv.Close()
}

func toUnix(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromUnix(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func expectRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound{Kind: kind, ID: id}
	}
	return nil
}

// and combines predicates, returning nil when there are none.
func and(ps []*entsql.Predicate) *entsql.Predicate {
	switch len(ps) {
	case 0:
		return nil
	case 1:
		return ps[0]
	default:
		return entsql.And(ps...)
	}
}

// where applies p to sel when p is set.
func where(sel *entsql.Selector, p *entsql.Predicate) *entsql.Selector {
	if p != nil {
		sel.Where(p)
	}
	return sel
}

type scanner interface {
	Scan(dest ...any) error
}

// Package sqlitevec provides a SQLite-backed vector driver using sqlite-vec.
package sqlitevec

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/papercomputeco/recall/pkg/vector"
)

// Driver implements vector.Driver using SQLite with sqlite-vec.
type Driver struct {
	db         *sql.DB
	dimensions uint
	logger     *slog.Logger
}

var _ vector.Driver = (*Driver)(nil)

// Config holds configuration for the SQLite vec driver.
type Config struct {
	// DBPath is the path to the SQLite database file.
	// Use ":memory:" for an in-memory database.
	DBPath string

	// Dimensions is the number of dimensions for the embedding vectors.
	Dimensions uint
}

// NewDriver creates a new SQLite vector driver backed by sqlite-vec.
func NewDriver(c Config, logger *slog.Logger) (*Driver, error) {
	// enable connection to have sqlite-vec extension
	sqlite_vec.Auto()

	if c.DBPath == "" {
		return nil, errors.New("database path is required")
	}

	if c.Dimensions == 0 {
		return nil, errors.New("sqlite-vec embedding dimensions cannot be 0, must be configured")
	}

	db, err := sql.Open("sqlite3", c.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if c.DBPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Verify sqlite-vec is loaded
	var vecVersion string
	if err := db.QueryRow("SELECT vec_version()").Scan(&vecVersion); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite-vec not available: %w", err)
	}

	d := &Driver{db: db, dimensions: c.Dimensions, logger: logger}
	if err := d.createTables(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("sqlite-vec vector driver initialized",
		"db_path", c.DBPath,
		"dimensions", c.Dimensions,
		"vec_version", vecVersion,
	)

	return d, nil
}

func (d *Driver) createTables(ctx context.Context) error {
	// vec0 virtual tables use integer rowids, so memory ids and timestamps
	// live in a mapping table joined on rowid.
	if _, err := d.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS vec_documents (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			doc_id TEXT NOT NULL UNIQUE,
			timestamp INTEGER NOT NULL DEFAULT 0
		)
	`); err != nil {
		return fmt.Errorf("creating documents table: %w", err)
	}

	// Metadata columns let KNN queries filter by session and type before k
	// is applied.
	createVec := fmt.Sprintf(`
		CREATE VIRTUAL TABLE IF NOT EXISTS vec_memories USING vec0(
			session_id text,
			memory_type text,
			embedding float[%d] distance_metric=cosine
		)`, d.dimensions)
	if _, err := d.db.ExecContext(ctx, createVec); err != nil {
		return fmt.Errorf("creating vec0 table: %w", err)
	}
	return nil
}

// serializeFloat32 converts a float32 slice to a little-endian byte slice
// suitable for sqlite-vec BLOB format.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// deserializeFloat32 converts a little-endian byte slice back to a float32 slice.
func deserializeFloat32(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding blob length %d: must be divisible by 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

// Add stores documents with their embeddings.
// If a document with the same ID already exists, it is replaced.
func (d *Driver) Add(ctx context.Context, docs []vector.Document) error {
	if len(docs) == 0 {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, doc := range docs {
		if uint(len(doc.Embedding)) != d.dimensions {
			return fmt.Errorf("%w: doc %s has %d, want %d", vector.ErrDimensions, doc.ID, len(doc.Embedding), d.dimensions)
		}

		var rowID int64
		err = tx.QueryRowContext(ctx, `SELECT rowid FROM vec_documents WHERE doc_id = ?`, doc.ID).Scan(&rowID)
		switch {
		case err == nil:
			// vec0 does not support UPDATE of vector columns
			if _, err := tx.ExecContext(ctx, `DELETE FROM vec_memories WHERE rowid = ?`, rowID); err != nil {
				return fmt.Errorf("deleting old embedding for doc %s: %w", doc.ID, err)
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE vec_documents SET timestamp = ? WHERE rowid = ?`,
				doc.Timestamp.UnixNano(), rowID,
			); err != nil {
				return fmt.Errorf("updating document %s: %w", doc.ID, err)
			}
		case errors.Is(err, sql.ErrNoRows):
			result, err := tx.ExecContext(ctx,
				`INSERT INTO vec_documents(doc_id, timestamp) VALUES (?, ?)`,
				doc.ID, doc.Timestamp.UnixNano(),
			)
			if err != nil {
				return fmt.Errorf("inserting document %s: %w", doc.ID, err)
			}
			rowID, err = result.LastInsertId()
			if err != nil {
				return fmt.Errorf("getting rowid for doc %s: %w", doc.ID, err)
			}
		default:
			return fmt.Errorf("checking for existing document %s: %w", doc.ID, err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO vec_memories(rowid, session_id, memory_type, embedding) VALUES (?, ?, ?, ?)`,
			rowID, doc.SessionID, doc.MemoryType, serializeFloat32(doc.Embedding),
		); err != nil {
			return fmt.Errorf("inserting embedding for doc %s: %w", doc.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	d.logger.Debug("added documents to sqlite-vec", "count", len(docs))
	return nil
}

// Query finds the topK nearest documents to the given embedding.
func (d *Driver) Query(ctx context.Context, embedding []float32, topK int, filter vector.Filter) ([]vector.QueryResult, error) {
	if topK <= 0 {
		topK = 10
	}
	if uint(len(embedding)) != d.dimensions {
		return nil, fmt.Errorf("%w: query has %d, want %d", vector.ErrDimensions, len(embedding), d.dimensions)
	}

	conds := []string{"ve.embedding MATCH ?", "ve.k = ?"}
	args := []any{serializeFloat32(embedding), topK}
	if filter.SessionID != "" {
		conds = append(conds, "ve.session_id = ?")
		args = append(args, filter.SessionID)
	}
	if filter.MemoryType != "" {
		conds = append(conds, "ve.memory_type = ?")
		args = append(args, filter.MemoryType)
	}

	// KNN query via vec0 MATCH, then JOIN back to get the memory id.
	rows, err := d.db.QueryContext(ctx, `
		SELECT d.doc_id, ve.session_id, ve.memory_type, d.timestamp, ve.distance
		FROM vec_memories ve
		INNER JOIN vec_documents d ON d.rowid = ve.rowid
		WHERE `+strings.Join(conds, " AND ")+`
		ORDER BY ve.distance`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	var results []vector.QueryResult
	for rows.Next() {
		var (
			r        vector.QueryResult
			ts       int64
			distance float64
		)
		if err := rows.Scan(&r.ID, &r.SessionID, &r.MemoryType, &ts, &distance); err != nil {
			return nil, fmt.Errorf("scanning query result: %w", err)
		}
		r.Timestamp = time.Unix(0, ts).UTC()
		r.Distance = float32(distance)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating query results: %w", err)
	}

	d.logger.Debug("queried sqlite-vec", "results", len(results))
	return results, nil
}

// Get retrieves documents by their IDs.
func (d *Driver) Get(ctx context.Context, ids []string) ([]vector.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	in, args := inClause(ids)
	rows, err := d.db.QueryContext(ctx, `
		SELECT d.doc_id, d.timestamp, ve.session_id, ve.memory_type, ve.embedding
		FROM vec_documents d
		INNER JOIN vec_memories ve ON ve.rowid = d.rowid
		WHERE d.doc_id IN (`+in+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	var docs []vector.Document
	for rows.Next() {
		var (
			doc  vector.Document
			ts   int64
			blob []byte
		)
		if err := rows.Scan(&doc.ID, &ts, &doc.SessionID, &doc.MemoryType, &blob); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		doc.Timestamp = time.Unix(0, ts).UTC()
		if doc.Embedding, err = deserializeFloat32(blob); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}
	return docs, nil
}

// Delete removes documents by their IDs.
func (d *Driver) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	in, args := inClause(ids)
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM vec_memories WHERE rowid IN (SELECT rowid FROM vec_documents WHERE doc_id IN (`+in+`))`,
		args...,
	); err != nil {
		return fmt.Errorf("deleting embeddings: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM vec_documents WHERE doc_id IN (`+in+`)`, args...); err != nil {
		return fmt.Errorf("deleting documents: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	d.logger.Debug("deleted documents from sqlite-vec", "count", len(ids))
	return nil
}

// Count returns the number of indexed documents.
func (d *Driver) Count(ctx context.Context) (int, error) {
	var n int
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vec_documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return n, nil
}

// Reset drops and recreates both tables.
func (d *Driver) Reset(ctx context.Context) error {
	for _, stmt := range []string{`DROP TABLE IF EXISTS vec_memories`, `DROP TABLE IF EXISTS vec_documents`} {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("resetting vector tables: %w", err)
		}
	}
	return d.createTables(ctx)
}

// Close releases resources held by the driver.
func (d *Driver) Close() error {
	return d.db.Close()
}

func inClause(ids []string) (string, []any) {
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	return strings.Join(placeholders, ","), args
}

package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"

	"github.com/papercomputeco/recall/pkg/memory"
	"github.com/papercomputeco/recall/pkg/storage"
)

var sessionColumns = []string{"id", "title", "created_at", "updated_at", "metadata"}

// CreateSession inserts a session.
func (s *Store) CreateSession(ctx context.Context, sess *memory.Session) error {
	if sess == nil {
		return errors.New("cannot store nil session")
	}
	md, err := memory.EncodeMetadata(sess.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	insert := s.builder().Insert(tableSessions).
		Columns(sessionColumns...).
		Values(sess.ID, sess.Title, toUnix(sess.CreatedAt), toUnix(sess.UpdatedAt), string(md))
	if _, err := s.exec(ctx, s.drv, insert); err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// GetSession returns a session with its messages.
func (s *Store) GetSession(ctx context.Context, id string) (*memory.Session, error) {
	sel := s.builder().Select(sessionColumns...).
		From(entsql.Table(tableSessions)).
		Where(entsql.EQ("id", id))
	sessions, err := s.querySessions(ctx, sel)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if len(sessions) == 0 {
		return nil, storage.ErrNotFound{Kind: "session", ID: id}
	}

	sess := sessions[0]
	msgs, err := s.GetMessages(ctx, id, 0)
	if err != nil {
		return nil, err
	}
	sess.Messages = msgs
	return sess, nil
}

// ListSessions returns sessions by most recent update.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]*memory.Session, error) {
	sel := s.builder().Select(sessionColumns...).
		From(entsql.Table(tableSessions)).
		OrderBy(entsql.Desc("updated_at"))
	if limit > 0 {
		sel.Limit(limit)
	}
	out, err := s.querySessions(ctx, sel)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return out, nil
}

// UpdateSession writes the title, metadata and updated_at of a session.
func (s *Store) UpdateSession(ctx context.Context, sess *memory.Session) error {
	md, err := memory.EncodeMetadata(sess.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	update := s.builder().Update(tableSessions).
		Set("title", sess.Title).
		Set("metadata", string(md)).
		Set("updated_at", toUnix(sess.UpdatedAt)).
		Where(entsql.EQ("id", sess.ID))
	res, err := s.exec(ctx, s.drv, update)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return expectRow(res, "session", sess.ID)
}

// TouchSession sets updated_at.
func (s *Store) TouchSession(ctx context.Context, id string, at time.Time) error {
	update := s.builder().Update(tableSessions).
		Set("updated_at", toUnix(at)).
		Where(entsql.EQ("id", id))
	res, err := s.exec(ctx, s.drv, update)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return expectRow(res, "session", id)
}

// DeleteSession removes a session with its messages and memories.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx dialect.Tx) error {
		for _, table := range []string{tableMemories, tableMessages} {
			if _, err := s.exec(ctx, tx, s.builder().Delete(table).Where(entsql.EQ("session_id", id))); err != nil {
				return fmt.Errorf("failed to delete session records: %w", err)
			}
		}
		res, err := s.exec(ctx, tx, s.builder().Delete(tableSessions).Where(entsql.EQ("id", id)))
		if err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}
		return expectRow(res, "session", id)
	})
}

// CountActiveSessions counts sessions updated at or after since.
func (s *Store) CountActiveSessions(ctx context.Context, since time.Time) (int, error) {
	sel := s.builder().Select(entsql.Count("*")).
		From(entsql.Table(tableSessions)).
		Where(entsql.GTE("updated_at", toUnix(since)))
	var n int
	if err := s.scanOne(ctx, sel, &n); err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return n, nil
}

// PutMessage stores a message in a session.
func (s *Store) PutMessage(ctx context.Context, sessionID string, msg *memory.Message) error {
	if msg == nil {
		return errors.New("cannot store nil message")
	}
	md, err := memory.EncodeMetadata(msg.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	insert := s.builder().Insert(tableMessages).
		Columns("id", "session_id", "role", "content", "timestamp", "metadata").
		Values(msg.ID, sessionID, string(msg.Role), msg.Content, toUnix(msg.Timestamp), string(md))
	if _, err := s.exec(ctx, s.drv, insert); err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// GetMessages returns a session's messages oldest first.
func (s *Store) GetMessages(ctx context.Context, sessionID string, limit int) ([]*memory.Message, error) {
	sel := s.builder().Select("id", "role", "content", "timestamp", "metadata").
		From(entsql.Table(tableMessages)).
		Where(entsql.EQ("session_id", sessionID)).
		OrderBy(entsql.Asc("timestamp"), entsql.Asc("id"))
	if limit > 0 {
		sel.Limit(limit)
	}
	rows, err := s.query(ctx, s.drv, sel)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	defer rows.Close()

	var out []*memory.Message
	for rows.Next() {
		var (
			msg  memory.Message
			role string
			ts   int64
			md   entsql.NullString
		)
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &ts, &md); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Role = memory.Role(role)
		msg.Timestamp = fromUnix(ts)
		msg.Metadata = memory.DecodeMetadata([]byte(md.String))
		out = append(out, &msg)
	}
	return out, rows.Err()
}

func (s *Store) querySessions(ctx context.Context, sel *entsql.Selector) ([]*memory.Session, error) {
	rows, err := s.query(ctx, s.drv, sel)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*memory.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func scanSession(row scanner) (*memory.Session, error) {
	var (
		sess             memory.Session
		created, updated int64
		md               entsql.NullString
	)
	if err := row.Scan(&sess.ID, &sess.Title, &created, &updated, &md); err != nil {
		return nil, err
	}
	sess.CreatedAt = fromUnix(created)
	sess.UpdatedAt = fromUnix(updated)
	sess.Metadata = memory.DecodeMetadata([]byte(md.String))
	return &sess, nil
}

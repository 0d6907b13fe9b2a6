// Package storage is the persistence collaborator for sidenote: sessions,
// transcript messages, and the discovery feed, backed by SQLite.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"go.uber.org/zap"

	"github.com/sidenote-dev/sidenote/internal/feed"
)

// schemaVersion is bumped whenever the schema changes shape. Databases
// reporting a newer version than we know belong to a newer build.
const schemaVersion = 1

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrSessionNotFound is returned when a session id does not exist.
var ErrSessionNotFound = errors.New("session not found")

// Session is one independent conversation.
type Session struct {
	ID         string
	Title      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ForkedFrom string // id of the session this one was forked from, if any
}

// Message is one transcript entry.
type Message struct {
	ID        string
	SessionID string
	Role      string
	Content   string
	CreatedAt time.Time
}

// Store wraps the SQLite database. Safe for concurrent use; SQLite
// serializes writers and WAL keeps readers off the write lock.
type Store struct {
	db  *sql.DB
	log *zap.Logger
}

// New opens (creating if needed) the database at path and initializes the
// schema. Pass ":memory:" for an in-memory database in tests.
func New(path string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}

	if !strings.Contains(path, ":memory:") {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	// WAL for concurrency, busy timeout so debounced flushes and the REPL
	// never trip over each other, foreign keys for cascade deletes.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// An in-memory database exists per connection; pin the pool to one so
	// every query sees the same data.
	if strings.Contains(path, ":memory:") {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	s := &Store{db: db, log: log}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// init creates the schema and records or checks the schema version.
func (s *Store) init() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("initializing schema: %w", err)
	}

	var raw string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&raw)
	switch {
	case err == sql.ErrNoRows:
		if _, err := s.db.Exec(
			`INSERT INTO meta (key, value) VALUES ('schema_version', ?)`,
			strconv.Itoa(schemaVersion),
		); err != nil {
			return fmt.Errorf("recording schema version: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("reading schema version: %w", err)
	}

	found, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("corrupt schema version %q: %w", raw, err)
	}
	if found > schemaVersion {
		return fmt.Errorf("database schema version %d is newer than this build supports (%d); upgrade sidenote", found, schemaVersion)
	}
	// Older versions would be migrated here; v1 is the first shape.
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSession inserts a new session. An empty title gets a placeholder.
func (s *Store) CreateSession(ctx context.Context, title string) (*Session, error) {
	if title == "" {
		title = "Untitled chat"
	}
	now := time.Now().UTC()
	sess := &Session{
		ID:        uuid.NewString(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		sess.ID, sess.Title, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	s.log.Info("session created", zap.String("session_id", sess.ID), zap.String("title", title))
	return sess, nil
}

// GetSession fetches one session by id.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, created_at, updated_at, forked_from FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

// ListSessions returns all sessions, most recently updated first.
func (s *Store) ListSessions(ctx context.Context) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, created_at, updated_at, forked_from FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// RenameSession updates a session's title.
func (s *Store) RenameSession(ctx context.Context, id, title string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET title = ?, updated_at = ? WHERE id = ?`,
		title, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("renaming session: %w", err)
	}
	return requireRow(res)
}

// TouchSession bumps a session's updated_at so recency ordering holds.
func (s *Store) TouchSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("touching session: %w", err)
	}
	return requireRow(res)
}

// DeleteSession removes a session; messages and items cascade.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	if err := requireRow(res); err != nil {
		return err
	}
	s.log.Info("session deleted", zap.String("session_id", id))
	return nil
}

// ForkSession copies a session's transcript and feed into a new session
// under fresh ids, recording the lineage in forked_from.
func (s *Store) ForkSession(ctx context.Context, id, title string) (*Session, error) {
	src, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if title == "" {
		title = src.Title + " (fork)"
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning fork transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	fork := &Session{
		ID:         uuid.NewString(),
		Title:      title,
		CreatedAt:  now,
		UpdatedAt:  now,
		ForkedFrom: src.ID,
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (id, title, created_at, updated_at, forked_from) VALUES (?, ?, ?, ?, ?)`,
		fork.ID, fork.Title, fork.CreatedAt, fork.UpdatedAt, fork.ForkedFrom); err != nil {
		return nil, fmt.Errorf("inserting forked session: %w", err)
	}

	// Copied rows get fresh primary keys; timestamps are preserved so the
	// fork reads like the original.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, role, content, created_at)
		SELECT lower(hex(randomblob(16))), ?, role, content, created_at
		FROM messages WHERE session_id = ? ORDER BY created_at, rowid`,
		fork.ID, src.ID); err != nil {
		return nil, fmt.Errorf("copying messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO items (id, session_id, turn_id, mode_id, title, one_liner,
		                   full_summary, relevance, source_url, source_domain,
		                   created_at, expanded, position)
		SELECT lower(hex(randomblob(16))), ?, turn_id, mode_id, title, one_liner,
		       full_summary, relevance, source_url, source_domain,
		       created_at, expanded, position
		FROM items WHERE session_id = ?`,
		fork.ID, src.ID); err != nil {
		return nil, fmt.Errorf("copying items: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing fork: %w", err)
	}
	s.log.Info("session forked",
		zap.String("source_id", src.ID), zap.String("fork_id", fork.ID))
	return fork, nil
}

// AppendMessage adds one transcript entry and bumps the session's
// updated_at in the same transaction.
func (s *Store) AppendMessage(ctx context.Context, sessionID, role, content string) (*Message, error) {
	if role != RoleUser && role != RoleAssistant {
		return nil, fmt.Errorf("invalid message role %q", role)
	}

	msg := &Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning message transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, msg.Role, msg.Content, msg.CreatedAt); err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE id = ?`, msg.CreatedAt, sessionID)
	if err != nil {
		return nil, fmt.Errorf("touching session: %w", err)
	}
	if err := requireRow(res); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing message: %w", err)
	}
	return msg, nil
}

// GetMessages returns a session's transcript in append order.
func (s *Store) GetMessages(ctx context.Context, sessionID string) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, created_at
		 FROM messages WHERE session_id = ? ORDER BY created_at, rowid`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		m := &Message{}
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// GetItems loads a session's feed in stored (arrival) order. This is the
// load half of the persistence contract.
func (s *Store) GetItems(ctx context.Context, sessionID string) ([]feed.Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, turn_id, mode_id, title, one_liner,
		       full_summary, relevance, source_url, source_domain,
		       created_at, expanded
		FROM items WHERE session_id = ? ORDER BY position`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading items: %w", err)
	}
	defer rows.Close()

	var items []feed.Item
	for rows.Next() {
		var it feed.Item
		var expanded int
		if err := rows.Scan(&it.ID, &it.SessionID, &it.TurnID, &it.ModeID,
			&it.Title, &it.OneLiner, &it.FullSummary, &it.Relevance,
			&it.SourceURL, &it.SourceDomain, &it.CreatedAt, &expanded); err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		it.Expanded = expanded != 0
		items = append(items, it)
	}
	return items, rows.Err()
}

// ReplaceItems rewrites a session's feed rows to match the given items in
// order. This is the persist half of the contract: the in-memory feed is
// authoritative for any session it holds items for, so replacement is
// lossless. Items carrying a different session id are rejected.
func (s *Store) ReplaceItems(ctx context.Context, sessionID string, items []feed.Item) error {
	for _, it := range items {
		if it.SessionID != sessionID {
			return fmt.Errorf("item %s belongs to session %s, not %s", it.ID, it.SessionID, sessionID)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning replace transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM items WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("clearing items: %w", err)
	}
	for i, it := range items {
		expanded := 0
		if it.Expanded {
			expanded = 1
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO items (id, session_id, turn_id, mode_id, title, one_liner,
			                   full_summary, relevance, source_url, source_domain,
			                   created_at, expanded, position)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			it.ID, it.SessionID, it.TurnID, it.ModeID, it.Title, it.OneLiner,
			it.FullSummary, it.Relevance, it.SourceURL, it.SourceDomain,
			it.CreatedAt, expanded, i); err != nil {
			return fmt.Errorf("inserting item %s: %w", it.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing replace: %w", err)
	}
	return nil
}

// CountItems returns how many items a session has stored.
func (s *Store) CountItems(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM items WHERE session_id = ?`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting items: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	sess := &Session{}
	var forkedFrom sql.NullString
	err := row.Scan(&sess.ID, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt, &forkedFrom)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}
	sess.ForkedFrom = forkedFrom.String
	return sess, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

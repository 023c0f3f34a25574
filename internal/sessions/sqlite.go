package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/haasonsaas/sidekick/pkg/models"
)

// SQLiteStore implements Store on an embedded SQLite database.
type SQLiteStore struct {
	db *sql.DB

	// Prepared statements for the hot paths.
	stmtGetSession    *sql.Stmt
	stmtInsertSession *sql.Stmt
	stmtUpdateSession *sql.Stmt
	stmtAppendMessage *sql.Stmt
	stmtGetHistory    *sql.Stmt
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	key            TEXT PRIMARY KEY,
	turn_offset    INTEGER NOT NULL DEFAULT 0,
	turn_count     INTEGER NOT NULL DEFAULT 0,
	expired        INTEGER NOT NULL DEFAULT 0,
	metadata       TEXT,
	created_at     TIMESTAMP NOT NULL,
	updated_at     TIMESTAMP NOT NULL,
	last_active_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id          TEXT PRIMARY KEY,
	session_key TEXT NOT NULL,
	role        TEXT NOT NULL,
	blocks      TEXT NOT NULL,
	metadata    TEXT,
	archived    INTEGER NOT NULL DEFAULT 0,
	created_at  TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_session ON messages (session_key, archived);
`

// NewSQLiteStore opens (or creates) the database at path and runs the
// schema migration.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sessions dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sessions db: %w", err)
	}
	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sessions schema: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare statements: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.stmtGetSession, err = s.db.Prepare(`
		SELECT key, turn_offset, turn_count, expired, metadata, created_at, updated_at, last_active_at
		FROM sessions WHERE key = ?
	`)
	if err != nil {
		return err
	}

	s.stmtInsertSession, err = s.db.Prepare(`
		INSERT INTO sessions (key, turn_offset, turn_count, expired, metadata, created_at, updated_at, last_active_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			turn_offset = excluded.turn_offset,
			turn_count = excluded.turn_count,
			expired = excluded.expired,
			metadata = excluded.metadata,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			last_active_at = excluded.last_active_at
	`)
	if err != nil {
		return err
	}

	s.stmtUpdateSession, err = s.db.Prepare(`
		UPDATE sessions SET turn_offset = ?, turn_count = ?, expired = ?, metadata = ?, updated_at = ?, last_active_at = ?
		WHERE key = ?
	`)
	if err != nil {
		return err
	}

	s.stmtAppendMessage, err = s.db.Prepare(`
		INSERT INTO messages (id, session_key, role, blocks, metadata, archived, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)
	`)
	if err != nil {
		return err
	}

	s.stmtGetHistory, err = s.db.Prepare(`
		SELECT id, session_key, role, blocks, metadata, created_at
		FROM messages WHERE session_key = ? AND archived = 0
		ORDER BY rowid DESC
		LIMIT ?
	`)
	return err
}

func (s *SQLiteStore) GetOrCreate(ctx context.Context, key models.SessionKey) (*models.Session, error) {
	existing, err := s.Get(ctx, key)
	if err == nil {
		return existing, nil
	}
	if err != ErrNotFound {
		return nil, err
	}

	// A replaced session keeps its old messages archived rather than live.
	if _, err := s.db.ExecContext(ctx,
		`UPDATE messages SET archived = 1 WHERE session_key = ?`, key.String()); err != nil {
		return nil, fmt.Errorf("archive old history: %w", err)
	}

	now := time.Now().UTC()
	session := &models.Session{
		Key:          key.String(),
		CreatedAt:    now,
		UpdatedAt:    now,
		LastActiveAt: now,
	}
	if _, err := s.stmtInsertSession.ExecContext(ctx,
		session.Key, 0, 0, 0, nil, now, now, now); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key models.SessionKey) (*models.Session, error) {
	session, err := s.scanSession(s.stmtGetSession.QueryRowContext(ctx, key.String()))
	if err != nil {
		return nil, err
	}
	if session.Expired {
		return nil, ErrNotFound
	}
	return session, nil
}

func (s *SQLiteStore) scanSession(row *sql.Row) (*models.Session, error) {
	var session models.Session
	var expired int
	var metadata sql.NullString
	err := row.Scan(&session.Key, &session.TurnOffset, &session.TurnCount, &expired,
		&metadata, &session.CreatedAt, &session.UpdatedAt, &session.LastActiveAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	session.Expired = expired != 0
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &session.Metadata); err != nil {
			return nil, fmt.Errorf("parse session metadata: %w", err)
		}
	}
	return &session, nil
}

func (s *SQLiteStore) Update(ctx context.Context, session *models.Session) error {
	var metadata any
	if session.Metadata != nil {
		data, err := json.Marshal(session.Metadata)
		if err != nil {
			return fmt.Errorf("encode session metadata: %w", err)
		}
		metadata = string(data)
	}
	expired := 0
	if session.Expired {
		expired = 1
	}
	result, err := s.stmtUpdateSession.ExecContext(ctx,
		session.TurnOffset, session.TurnCount, expired, metadata,
		time.Now().UTC(), session.LastActiveAt, session.Key)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, key models.SessionKey, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	msg.SessionKey = key.String()

	blocks, err := json.Marshal(msg.Blocks)
	if err != nil {
		return fmt.Errorf("encode message blocks: %w", err)
	}
	var metadata any
	if msg.Metadata != nil {
		data, merr := json.Marshal(msg.Metadata)
		if merr != nil {
			return fmt.Errorf("encode message metadata: %w", merr)
		}
		metadata = string(data)
	}

	if _, err := s.stmtAppendMessage.ExecContext(ctx,
		msg.ID, msg.SessionKey, string(msg.Role), string(blocks), metadata, msg.CreatedAt); err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_active_at = ?, updated_at = ? WHERE key = ?`,
		msg.CreatedAt, msg.CreatedAt, msg.SessionKey); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) History(ctx context.Context, key models.SessionKey, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		limit = -1 // no LIMIT
	}
	rows, err := s.stmtGetHistory.QueryContext(ctx, key.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var msgs []*models.Message
	for rows.Next() {
		var msg models.Message
		var role, blocks string
		var metadata sql.NullString
		if err := rows.Scan(&msg.ID, &msg.SessionKey, &role, &blocks, &metadata, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = models.Role(role)
		if err := json.Unmarshal([]byte(blocks), &msg.Blocks); err != nil {
			return nil, fmt.Errorf("parse message blocks: %w", err)
		}
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &msg.Metadata); err != nil {
				return nil, fmt.Errorf("parse message metadata: %w", err)
			}
		}
		msgs = append(msgs, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Rows arrive newest-first; flip to chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *SQLiteStore) ExpireStale(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET expired = 1, updated_at = ? WHERE expired = 0 AND last_active_at < ?`,
		time.Now().UTC(), cutoff)
	if err != nil {
		return 0, fmt.Errorf("expire sessions: %w", err)
	}
	affected, err := result.RowsAffected()
	return int(affected), err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Open builds the configured store backend.
func Open(backend, path string) (Store, error) {
	switch backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSQLiteStore(path)
	default:
		return nil, fmt.Errorf("unknown sessions backend %q", backend)
	}
}

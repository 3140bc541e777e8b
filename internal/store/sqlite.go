package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Store is the SQLite-backed conversation and message log store.
type Store struct {
	db *sql.DB

	// defaultMu serializes default-conversation resolution, which is
	// select-then-insert: without it two concurrent first contacts to
	// an empty space would each create a conversation.
	defaultMu sync.Mutex
}

// Open opens (or creates) the database at dbPath and migrates the schema.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// New wraps an existing database handle and migrates the schema.
// The caller retains ownership of db.
func New(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// DB exposes the underlying handle so sibling stores (the tree cache)
// can share one database file.
func (s *Store) DB() *sql.DB {
	return s.db
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		space_id TEXT NOT NULL,
		name TEXT NOT NULL,
		agent_config TEXT,
		created_at TIMESTAMP NOT NULL,
		last_accessed_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_space ON conversations(space_id, last_accessed_at);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		metadata TEXT,
		timestamp TIMESTAMP NOT NULL,
		FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, timestamp, id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create creates a new conversation in the given space. An empty name
// gets a timestamp-derived default.
func (s *Store) Create(ctx context.Context, spaceID, name, agentConfig string) (*Conversation, error) {
	now := time.Now().UTC()
	if name == "" {
		name = "Conversation - " + now.Format("2006-01-02 15:04")
	}

	conv := &Conversation{
		ID:             uuid.New().String(),
		SpaceID:        spaceID,
		Name:           name,
		AgentConfig:    agentConfig,
		CreatedAt:      now,
		LastAccessedAt: now,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, space_id, name, agent_config, created_at, last_accessed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, conv.ID, conv.SpaceID, conv.Name, nullable(conv.AgentConfig), conv.CreatedAt, conv.LastAccessedAt)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// GetOrCreateDefault resolves the default conversation for a space: the
// most recently accessed one, refreshing its last-access stamp. Ties
// break by creation time, then id, so resolution is deterministic.
// When the space has no conversation yet, one is created.
func (s *Store) GetOrCreateDefault(ctx context.Context, spaceID, agentConfig string) (*Conversation, error) {
	s.defaultMu.Lock()
	defer s.defaultMu.Unlock()

	conv, err := s.scanConversation(s.db.QueryRowContext(ctx, `
		SELECT id, space_id, name, COALESCE(agent_config, ''), created_at, last_accessed_at
		FROM conversations
		WHERE space_id = ?
		ORDER BY last_accessed_at DESC, created_at DESC, id DESC
		LIMIT 1
	`, spaceID))
	if err == sql.ErrNoRows {
		return s.Create(ctx, spaceID, "", agentConfig)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve default conversation: %w", err)
	}

	if err := s.TouchLastAccess(ctx, conv.ID); err != nil {
		return nil, err
	}
	conv.LastAccessedAt = time.Now().UTC()
	return conv, nil
}

// GetByID fetches a conversation, refreshing its last-access stamp as a
// read side effect.
func (s *Store) GetByID(ctx context.Context, id string) (*Conversation, error) {
	conv, err := s.scanConversation(s.db.QueryRowContext(ctx, `
		SELECT id, space_id, name, COALESCE(agent_config, ''), created_at, last_accessed_at
		FROM conversations WHERE id = ?
	`, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}

	if err := s.TouchLastAccess(ctx, id); err != nil {
		return nil, err
	}
	conv.LastAccessedAt = time.Now().UTC()
	return conv, nil
}

// TouchLastAccess updates a conversation's last-access timestamp. Kept
// as a named operation so the read-side-effect contract is visible at
// every call site.
func (s *Store) TouchLastAccess(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET last_accessed_at = ? WHERE id = ?
	`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("touch last access: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a conversation and all its message log entries.
// Returns false when the id does not exist.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return false, fmt.Errorf("delete messages: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete conversation: %w", err)
	}
	n, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return n > 0, nil
}

// Append adds an entry to a conversation's message log and touches the
// conversation's last-access stamp in the same transaction. Returns the
// generated entry id. Unknown conversation ids yield ErrNotFound.
func (s *Store) Append(ctx context.Context, conversationID string, role Role, content string, meta *Metadata) (string, error) {
	if !role.Valid() {
		return "", fmt.Errorf("invalid role %q", role)
	}

	encoded, err := encodeMetadata(meta)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}

	// UUIDv7 ids are time-ordered, which makes them a stable tiebreak
	// for entries sharing a timestamp.
	entryID, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate entry id: %w", err)
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = ?`, conversationID).Scan(&exists); err != nil {
		if err == sql.ErrNoRows {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("check conversation: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, metadata, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`, entryID.String(), conversationID, string(role), content, encoded, now); err != nil {
		return "", fmt.Errorf("insert message: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE conversations SET last_accessed_at = ? WHERE id = ?
	`, now, conversationID); err != nil {
		return "", fmt.Errorf("touch last access: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return entryID.String(), nil
}

// List returns entries oldest-first with limit/offset pagination.
func (s *Store) List(ctx context.Context, conversationID string, limit, offset int) ([]Entry, error) {
	if err := s.mustExist(ctx, conversationID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, COALESCE(metadata, ''), timestamp
		FROM messages
		WHERE conversation_id = ?
		ORDER BY timestamp ASC, id ASC
		LIMIT ? OFFSET ?
	`, conversationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// Tail returns the most recent n entries in chronological (oldest-first)
// order.
func (s *Store) Tail(ctx context.Context, conversationID string, n int) ([]Entry, error) {
	if err := s.mustExist(ctx, conversationID); err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, COALESCE(metadata, ''), timestamp
		FROM messages
		WHERE conversation_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, conversationID, n)
	if err != nil {
		return nil, fmt.Errorf("tail messages: %w", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}

	// Reverse back to chronological order.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// ListBySpace returns a space's conversations, most recently accessed
// first.
func (s *Store) ListBySpace(ctx context.Context, spaceID string) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, space_id, name, COALESCE(agent_config, ''), created_at, last_accessed_at
		FROM conversations
		WHERE space_id = ?
		ORDER BY last_accessed_at DESC, created_at DESC, id DESC
	`, spaceID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.SpaceID, &c.Name, &c.AgentConfig, &c.CreatedAt, &c.LastAccessedAt); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// mustExist verifies the conversation id, translating absence to
// ErrNotFound.
func (s *Store) mustExist(ctx context.Context, conversationID string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = ?`, conversationID).Scan(&one)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	return err
}

func (s *Store) scanConversation(row *sql.Row) (*Conversation, error) {
	var c Conversation
	if err := row.Scan(&c.ID, &c.SpaceID, &c.Name, &c.AgentConfig, &c.CreatedAt, &c.LastAccessedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var e Entry
		var rawMeta string
		if err := rows.Scan(&e.ID, &e.ConversationID, &e.Role, &e.Content, &rawMeta, &e.Timestamp); err != nil {
			return nil, err
		}
		meta, err := decodeMetadata(rawMeta)
		if err != nil {
			return nil, fmt.Errorf("decode metadata for entry %s: %w", e.ID, err)
		}
		e.Metadata = meta
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

package session

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store is a SQLite-backed session store. Turns are append-only; a whole
// turn batch (user message, tool results, assistant reply) commits in one
// transaction so readers never observe a half-written exchange.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the session database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return store, nil
}

// NewStoreWithDB wraps an existing database handle. The caller is
// responsible for closing it.
func NewStoreWithDB(db *sql.DB) (*Store, error) {
	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id, updated_at);

	CREATE TABLE IF NOT EXISTS turns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id INTEGER NOT NULL,
		user_id INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		tool_name TEXT,
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (conversation_id) REFERENCES conversations(id)
	);
	CREATE INDEX IF NOT EXISTS idx_turns_conversation ON turns(conversation_id, created_at, id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateConversation starts a new conversation owned by userID.
func (s *Store) CreateConversation(userID int64) (*Conversation, error) {
	now := time.Now().UTC()
	res, err := s.db.Exec(`
		INSERT INTO conversations (user_id, created_at, updated_at)
		VALUES (?, ?, ?)
	`, userID, now, now)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	return &Conversation{ID: id, UserID: userID, CreatedAt: now, UpdatedAt: now}, nil
}

// GetConversation returns the conversation if it is owned by userID,
// otherwise ErrNotFound.
func (s *Store) GetConversation(conversationID, userID int64) (*Conversation, error) {
	row := s.db.QueryRow(`
		SELECT id, user_id, created_at, updated_at
		FROM conversations
		WHERE id = ? AND user_id = ?
	`, conversationID, userID)

	var c Conversation
	if err := row.Scan(&c.ID, &c.UserID, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return &c, nil
}

// ListConversations returns the conversations owned by userID, most
// recently active first.
func (s *Store) ListConversations(userID int64) ([]Conversation, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, created_at, updated_at
		FROM conversations
		WHERE user_id = ?
		ORDER BY updated_at DESC, id DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.UserID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// AppendTurns writes a batch of turns to a conversation in one
// transaction and bumps the conversation's updated_at. The conversation
// must be owned by userID. Turn order inside the batch is preserved.
func (s *Store) AppendTurns(conversationID, userID int64, turns []Turn) error {
	if len(turns) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Ownership check inside the transaction so the append and the check
	// see the same snapshot.
	var owner int64
	err = tx.QueryRow(`SELECT user_id FROM conversations WHERE id = ?`, conversationID).Scan(&owner)
	if err == sql.ErrNoRows || (err == nil && owner != userID) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check owner: %w", err)
	}

	now := time.Now().UTC()
	for i := range turns {
		ts := turns[i].CreatedAt
		if ts.IsZero() {
			ts = now
		}
		var toolName any
		if turns[i].ToolName != "" {
			toolName = turns[i].ToolName
		}
		if _, err := tx.Exec(`
			INSERT INTO turns (conversation_id, user_id, role, content, tool_name, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, conversationID, userID, turns[i].Role, turns[i].Content, toolName, ts); err != nil {
			return fmt.Errorf("insert turn: %w", err)
		}
	}

	if _, err := tx.Exec(`UPDATE conversations SET updated_at = ? WHERE id = ?`, now, conversationID); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}

	return tx.Commit()
}

// LoadTurns returns the most recent limit turns of a conversation in
// chronological order. A limit <= 0 loads the full transcript. The
// conversation must be owned by userID.
func (s *Store) LoadTurns(conversationID, userID int64, limit int) ([]Turn, error) {
	if _, err := s.GetConversation(conversationID, userID); err != nil {
		return nil, err
	}

	// Select the newest rows, then flip them back to ascending order.
	q := `
		SELECT id, conversation_id, user_id, role, content, tool_name, created_at
		FROM turns
		WHERE conversation_id = ?
		ORDER BY created_at DESC, id DESC`
	args := []any{conversationID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		var toolName sql.NullString
		if err := rows.Scan(&t.ID, &t.ConversationID, &t.UserID, &t.Role,
			&t.Content, &toolName, &t.CreatedAt); err != nil {
			return nil, err
		}
		if toolName.Valid {
			t.ToolName = toolName.String
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse into ascending order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

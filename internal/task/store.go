package task

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store is a SQLite-backed task store. Every query is scoped by the owning
// user id; there is no unscoped lookup path.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the task database at dbPath.
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
// responsible for closing it. Used when tasks and conversations share one
// database file.
func NewStoreWithDB(db *sql.DB) (*Store, error) {
	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		completed BOOLEAN NOT NULL DEFAULT FALSE,
		due_date TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_user_completed ON tasks(user_id, completed);
	CREATE INDEX IF NOT EXISTS idx_tasks_user_created ON tasks(user_id, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create inserts a new task owned by userID.
func (s *Store) Create(userID int64, title, description string, due *time.Time) (*Task, error) {
	now := time.Now().UTC()

	res, err := s.db.Exec(`
		INSERT INTO tasks (user_id, title, description, completed, due_date, created_at, updated_at)
		VALUES (?, ?, ?, FALSE, ?, ?, ?)
	`, userID, title, description, due, now, now)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	return &Task{
		ID:          id,
		UserID:      userID,
		Title:       title,
		Description: description,
		DueDate:     due,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Get returns the task with the given id if it is owned by userID,
// otherwise ErrNotFound.
func (s *Store) Get(userID, taskID int64) (*Task, error) {
	row := s.db.QueryRow(`
		SELECT id, user_id, title, description, completed, due_date, created_at, updated_at
		FROM tasks
		WHERE id = ? AND user_id = ?
	`, taskID, userID)
	return scanTask(row)
}

// List returns the tasks owned by userID matching the status filter,
// oldest first.
func (s *Store) List(userID int64, filter StatusFilter) ([]Task, error) {
	q := `
		SELECT id, user_id, title, description, completed, due_date, created_at, updated_at
		FROM tasks
		WHERE user_id = ?`
	switch filter {
	case StatusPending:
		q += ` AND completed = FALSE`
	case StatusCompleted:
		q += ` AND completed = TRUE`
	}
	q += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.db.Query(q, userID)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		t, err := scanTaskRows(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// FindByTitle locates a task owned by userID whose title contains the
// fragment, case-insensitively. The oldest match wins. Returns ErrNotFound
// when nothing matches.
func (s *Store) FindByTitle(userID int64, fragment string) (*Task, error) {
	// Escape LIKE metacharacters so a literal % or _ in the fragment
	// cannot widen the match.
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(fragment)

	row := s.db.QueryRow(`
		SELECT id, user_id, title, description, completed, due_date, created_at, updated_at
		FROM tasks
		WHERE user_id = ? AND title LIKE ? ESCAPE '\' COLLATE NOCASE
		ORDER BY created_at ASC, id ASC
		LIMIT 1
	`, userID, "%"+escaped+"%")
	return scanTask(row)
}

// Complete marks a task as done and returns its updated state.
func (s *Store) Complete(userID, taskID int64) (*Task, error) {
	now := time.Now().UTC()
	res, err := s.db.Exec(`
		UPDATE tasks SET completed = TRUE, updated_at = ?
		WHERE id = ? AND user_id = ?
	`, now, taskID, userID)
	if err != nil {
		return nil, fmt.Errorf("complete task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.Get(userID, taskID)
}

// Delete removes a task and returns its final state for reporting.
func (s *Store) Delete(userID, taskID int64) (*Task, error) {
	t, err := s.Get(userID, taskID)
	if err != nil {
		return nil, err
	}

	if _, err := s.db.Exec(`DELETE FROM tasks WHERE id = ? AND user_id = ?`, taskID, userID); err != nil {
		return nil, fmt.Errorf("delete task: %w", err)
	}
	return t, nil
}

// Apply mutates the task's title and/or description and returns the
// updated state. Nil fields in upd are left unchanged.
func (s *Store) Apply(userID, taskID int64, upd Update) (*Task, error) {
	t, err := s.Get(userID, taskID)
	if err != nil {
		return nil, err
	}

	title := t.Title
	if upd.Title != nil {
		title = *upd.Title
	}
	description := t.Description
	if upd.Description != nil {
		description = *upd.Description
	}

	now := time.Now().UTC()
	if _, err := s.db.Exec(`
		UPDATE tasks SET title = ?, description = ?, updated_at = ?
		WHERE id = ? AND user_id = ?
	`, title, description, now, taskID, userID); err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}

	t.Title = title
	t.Description = description
	t.UpdatedAt = now
	return t, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row *sql.Row) (*Task, error) {
	t, err := scanInto(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return t, err
}

func scanTaskRows(rows *sql.Rows) (*Task, error) {
	return scanInto(rows)
}

func scanInto(r rowScanner) (*Task, error) {
	var t Task
	var due sql.NullTime
	if err := r.Scan(&t.ID, &t.UserID, &t.Title, &t.Description, &t.Completed,
		&due, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	if due.Valid {
		t.DueDate = &due.Time
	}
	return &t, nil
}

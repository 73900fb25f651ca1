// Package task provides durable storage for user-owned todo items.
package task

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a task does not exist for the given owner.
// Lookups are always scoped by owner, so a task belonging to another user
// yields the same error as a nonexistent one.
var ErrNotFound = errors.New("task not found")

// Task represents a todo item created by a specific user.
type Task struct {
	ID          int64      `json:"id"`
	UserID      int64      `json:"user_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Completed   bool       `json:"completed"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// StatusFilter selects tasks by completion state.
type StatusFilter string

const (
	StatusAll       StatusFilter = "all"
	StatusPending   StatusFilter = "pending"
	StatusCompleted StatusFilter = "completed"
)

// ParseStatusFilter validates a filter string. An empty string means "all".
func ParseStatusFilter(s string) (StatusFilter, bool) {
	switch StatusFilter(s) {
	case "", StatusAll:
		return StatusAll, true
	case StatusPending:
		return StatusPending, true
	case StatusCompleted:
		return StatusCompleted, true
	default:
		return "", false
	}
}

// Update describes a partial mutation of a task. Nil fields are left
// unchanged.
type Update struct {
	Title       *string
	Description *string
}

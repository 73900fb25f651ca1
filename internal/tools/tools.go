// Package tools defines the tools available to the agent.
package tools

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/nida1khurram/todo-chatbot-phase3-sub001/internal/task"
)

// Argument bounds, enforced before any store access.
const (
	MaxTitleLen       = 200
	MaxDescriptionLen = 1000
)

// Tool represents a callable tool. The handler receives the authenticated
// user id directly; any user identifier in the model-supplied arguments is
// ignored.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Handler     func(userID int64, args map[string]any) (any, error)
}

// Registry holds the fixed tool catalogue, each tool delegating to the
// task store.
type Registry struct {
	tools map[string]*Tool
	store *task.Store
}

// NewRegistry creates the registry with the five task tools.
func NewRegistry(store *task.Store) *Registry {
	r := &Registry{
		tools: make(map[string]*Tool),
		store: store,
	}
	r.registerBuiltins()
	return r
}

func (r *Registry) registerBuiltins() {
	r.register(&Tool{
		Name:        "create_task",
		Description: "Create a new task on the user's todo list.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"title": map[string]any{
					"type":        "string",
					"description": "The title of the task",
				},
				"description": map[string]any{
					"type":        "string",
					"description": "The description of the task (optional)",
				},
			},
			"required": []string{"title"},
		},
		Handler: r.handleCreateTask,
	})

	r.register(&Tool{
		Name:        "list_tasks",
		Description: "Retrieve the user's tasks, optionally filtered by status.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"status": map[string]any{
					"type":        "string",
					"enum":        []string{"all", "pending", "completed"},
					"description": "Filter tasks by status (optional, defaults to 'all')",
				},
			},
		},
		Handler: r.handleListTasks,
	})

	r.register(&Tool{
		Name:        "complete_task",
		Description: "Mark a task as complete.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"task_id": map[string]any{
					"type":        "integer",
					"description": "The ID of the task to mark as complete",
				},
			},
			"required": []string{"task_id"},
		},
		Handler: r.handleCompleteTask,
	})

	r.register(&Tool{
		Name:        "delete_task",
		Description: "Remove a task from the list, by id or by title.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"task_id": map[string]any{
					"type":        "integer",
					"description": "The ID of the task to delete (optional if title is provided)",
				},
				"title": map[string]any{
					"type":        "string",
					"description": "The title of the task to delete (optional if task_id is provided)",
				},
			},
		},
		Handler: r.handleDeleteTask,
	})

	r.register(&Tool{
		Name:        "update_task",
		Description: "Modify a task's title or description.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"task_id": map[string]any{
					"type":        "integer",
					"description": "The ID of the task to update (optional if title_to_find is provided)",
				},
				"title_to_find": map[string]any{
					"type":        "string",
					"description": "The title of the task to update (optional if task_id is provided)",
				},
				"new_title": map[string]any{
					"type":        "string",
					"description": "The new title for the task (optional)",
				},
				"new_description": map[string]any{
					"type":        "string",
					"description": "The new description for the task (optional)",
				},
			},
		},
		Handler: r.handleUpdateTask,
	})
}

func (r *Registry) register(t *Tool) {
	r.tools[t.Name] = t
}

// Names returns the catalogue's tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Schema returns the tool catalogue in the function-calling format the
// completion provider expects. Order is deterministic.
func (r *Registry) Schema() []map[string]any {
	var result []map[string]any
	for _, name := range r.Names() {
		t := r.tools[name]
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return result
}

// Execute runs a tool by name for the authenticated user. The userID is
// supplied by the caller from verified identity, never taken from args;
// any "user_id" key the model put in args is discarded.
func (r *Registry) Execute(userID int64, name string, args map[string]any) (any, error) {
	tool, ok := r.tools[name]
	if !ok {
		return nil, &UnknownToolError{ToolName: name}
	}

	if args == nil {
		args = map[string]any{}
	}
	delete(args, "user_id")

	return tool.Handler(userID, args)
}

// Tool handlers

func (r *Registry) handleCreateTask(userID int64, args map[string]any) (any, error) {
	title, err := requireTitle(args, "title")
	if err != nil {
		return nil, err
	}
	description, err := optionalDescription(args, "description")
	if err != nil {
		return nil, err
	}

	t, err := r.store.Create(userID, title, description, nil)
	if err != nil {
		return nil, &ExecutionError{ToolName: "create_task", Err: err}
	}

	return map[string]any{
		"task_id":     t.ID,
		"status":      "created",
		"title":       t.Title,
		"description": t.Description,
		"completed":   t.Completed,
	}, nil
}

func (r *Registry) handleListTasks(userID int64, args map[string]any) (any, error) {
	status, _ := stringArg(args, "status")
	filter, ok := task.ParseStatusFilter(status)
	if !ok {
		return nil, &ValidationError{Reason: fmt.Sprintf("invalid status %q (valid: all, pending, completed)", status)}
	}

	tasks, err := r.store.List(userID, filter)
	if err != nil {
		return nil, &ExecutionError{ToolName: "list_tasks", Err: err}
	}

	result := make([]map[string]any, 0, len(tasks))
	for _, t := range tasks {
		result = append(result, map[string]any{
			"id":          t.ID,
			"title":       t.Title,
			"description": t.Description,
			"completed":   t.Completed,
		})
	}
	return result, nil
}

func (r *Registry) handleCompleteTask(userID int64, args map[string]any) (any, error) {
	taskID, ok, err := intArg(args, "task_id")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &ValidationError{Reason: "task_id is required"}
	}

	t, err := r.store.Complete(userID, taskID)
	if err != nil {
		return nil, wrapStoreErr("complete_task", err)
	}

	return map[string]any{
		"task_id": t.ID,
		"status":  "completed",
		"title":   t.Title,
	}, nil
}

func (r *Registry) handleDeleteTask(userID int64, args map[string]any) (any, error) {
	t, err := r.locateTask(userID, args, "title", "delete_task")
	if err != nil {
		return nil, err
	}

	deleted, err := r.store.Delete(userID, t.ID)
	if err != nil {
		return nil, wrapStoreErr("delete_task", err)
	}

	return map[string]any{
		"task_id": deleted.ID,
		"title":   deleted.Title,
		"status":  "deleted",
	}, nil
}

func (r *Registry) handleUpdateTask(userID int64, args map[string]any) (any, error) {
	t, err := r.locateTask(userID, args, "title_to_find", "update_task")
	if err != nil {
		return nil, err
	}

	var upd task.Update
	if raw, ok := stringArg(args, "new_title"); ok {
		title := strings.TrimSpace(raw)
		if err := validateTitle(title); err != nil {
			return nil, err
		}
		upd.Title = &title
	}
	if raw, ok := stringArg(args, "new_description"); ok {
		if utf8.RuneCountInString(raw) > MaxDescriptionLen {
			return nil, &ValidationError{Reason: fmt.Sprintf("description exceeds %d characters", MaxDescriptionLen)}
		}
		upd.Description = &raw
	}
	if upd.Title == nil && upd.Description == nil {
		return nil, &ValidationError{Reason: "nothing to update: provide new_title or new_description"}
	}

	updated, err := r.store.Apply(userID, t.ID, upd)
	if err != nil {
		return nil, wrapStoreErr("update_task", err)
	}

	return map[string]any{
		"task_id":     updated.ID,
		"status":      "updated",
		"title":       updated.Title,
		"description": updated.Description,
	}, nil
}

// locateTask resolves the target task from a task_id argument, falling
// back to a title fragment lookup. Models frequently reference tasks by
// name instead of id.
func (r *Registry) locateTask(userID int64, args map[string]any, titleKey, toolName string) (*task.Task, error) {
	taskID, ok, err := intArg(args, "task_id")
	if err != nil {
		return nil, err
	}
	if ok {
		t, err := r.store.Get(userID, taskID)
		if err != nil {
			return nil, wrapStoreErr(toolName, err)
		}
		return t, nil
	}

	// Accept the alternate spellings models use for the title argument.
	for _, key := range []string{titleKey, "title", "task_name", "name", "task_title"} {
		if fragment, ok := stringArg(args, key); ok && strings.TrimSpace(fragment) != "" {
			t, err := r.store.FindByTitle(userID, strings.TrimSpace(fragment))
			if err != nil {
				return nil, wrapStoreErr(toolName, err)
			}
			return t, nil
		}
	}

	return nil, &ValidationError{Reason: fmt.Sprintf("either task_id or %s must be provided", titleKey)}
}

// Argument helpers. JSON numbers decode as float64; models also send
// numbers as strings, so both are accepted.

func stringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func intArg(args map[string]any, key string) (int64, bool, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return 0, false, nil
	}
	switch n := v.(type) {
	case float64:
		return int64(n), true, nil
	case int64:
		return n, true, nil
	case int:
		return int64(n), true, nil
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0, false, &ValidationError{Reason: fmt.Sprintf("%s must be an integer, got %q", key, n)}
		}
		return parsed, true, nil
	default:
		return 0, false, &ValidationError{Reason: fmt.Sprintf("%s must be an integer", key)}
	}
}

func requireTitle(args map[string]any, key string) (string, error) {
	raw, ok := stringArg(args, key)
	if !ok {
		return "", &ValidationError{Reason: key + " is required"}
	}
	title := strings.TrimSpace(raw)
	if err := validateTitle(title); err != nil {
		return "", err
	}
	return title, nil
}

func optionalDescription(args map[string]any, key string) (string, error) {
	raw, ok := stringArg(args, key)
	if !ok {
		return "", nil
	}
	if utf8.RuneCountInString(raw) > MaxDescriptionLen {
		return "", &ValidationError{Reason: fmt.Sprintf("description exceeds %d characters", MaxDescriptionLen)}
	}
	return raw, nil
}

func validateTitle(title string) error {
	if title == "" {
		return &ValidationError{Reason: "title must not be empty"}
	}
	if utf8.RuneCountInString(title) > MaxTitleLen {
		return &ValidationError{Reason: fmt.Sprintf("title exceeds %d characters", MaxTitleLen)}
	}
	return nil
}

// wrapStoreErr passes not-found through untouched (the agent reports it
// as such) and wraps everything else as an execution failure.
func wrapStoreErr(toolName string, err error) error {
	if IsNotFound(err) {
		return err
	}
	return &ExecutionError{ToolName: toolName, Err: err}
}

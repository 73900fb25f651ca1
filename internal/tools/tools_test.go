package tools

import (
	"path/filepath"
	"testing"

	"github.com/nida1khurram/todo-chatbot-phase3-sub001/internal/task"
)

func newTestRegistry(t *testing.T) (*Registry, *task.Store) {
	t.Helper()
	store, err := task.NewStore(filepath.Join(t.TempDir(), "tasks.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewRegistry(store), store
}

func TestSchemaListsFiveTools(t *testing.T) {
	r, _ := newTestRegistry(t)

	schema := r.Schema()
	if len(schema) != 5 {
		t.Fatalf("len(schema) = %d, want 5", len(schema))
	}

	want := []string{"complete_task", "create_task", "delete_task", "list_tasks", "update_task"}
	for i, entry := range schema {
		fn, ok := entry["function"].(map[string]any)
		if !ok {
			t.Fatalf("schema entry %d has no function object", i)
		}
		if fn["name"] != want[i] {
			t.Errorf("schema[%d] = %v, want %s", i, fn["name"], want[i])
		}
	}
}

func TestCreateTask(t *testing.T) {
	r, store := newTestRegistry(t)

	result, err := r.Execute(1, "create_task", map[string]any{
		"title":       "Buy milk",
		"description": "2%",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	payload, ok := result.(map[string]any)
	if !ok {
		t.Fatalf("result type %T", result)
	}
	if payload["status"] != "created" || payload["title"] != "Buy milk" {
		t.Errorf("payload = %v", payload)
	}

	tasks, err := store.List(1, task.StatusPending)
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 {
		t.Fatalf("stored %d tasks, want 1", len(tasks))
	}
}

func TestCreateTaskValidation(t *testing.T) {
	r, _ := newTestRegistry(t)

	tests := []struct {
		name string
		args map[string]any
	}{
		{"missing title", map[string]any{}},
		{"whitespace title", map[string]any{"title": "   "}},
		{"title too long", map[string]any{"title": longString(201)}},
		{"description too long", map[string]any{"title": "ok", "description": longString(1001)}},
		{"title wrong type", map[string]any{"title": 42}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Execute(1, "create_task", tt.args)
			if !IsValidation(err) {
				t.Errorf("err = %v, want validation error", err)
			}
		})
	}
}

func TestInjectedUserOverridesModelSuppliedID(t *testing.T) {
	r, store := newTestRegistry(t)

	// The model claims to act for user 999; the authenticated user is 1.
	_, err := r.Execute(1, "create_task", map[string]any{
		"user_id": "999",
		"title":   "sneaky",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	mine, err := store.List(1, task.StatusAll)
	if err != nil {
		t.Fatal(err)
	}
	theirs, err := store.List(999, task.StatusAll)
	if err != nil {
		t.Fatal(err)
	}
	if len(mine) != 1 || len(theirs) != 0 {
		t.Errorf("task landed under wrong owner: mine=%d theirs=%d", len(mine), len(theirs))
	}
}

func TestCompleteForeignTaskIsNotFound(t *testing.T) {
	r, store := newTestRegistry(t)

	other, err := store.Create(2, "not yours", "", nil)
	if err != nil {
		t.Fatal(err)
	}

	_, err = r.Execute(1, "complete_task", map[string]any{"task_id": float64(other.ID)})
	if !IsNotFound(err) {
		t.Fatalf("err = %v, want not-found", err)
	}

	// No row for any user was mutated.
	got, err := store.Get(2, other.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Completed {
		t.Error("foreign task was mutated")
	}
}

func TestListTasksStatusFilter(t *testing.T) {
	r, store := newTestRegistry(t)

	a, _ := store.Create(1, "one", "", nil)
	if _, err := store.Create(1, "two", "", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Complete(1, a.ID); err != nil {
		t.Fatal(err)
	}

	result, err := r.Execute(1, "list_tasks", map[string]any{"status": "pending"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	list, ok := result.([]map[string]any)
	if !ok {
		t.Fatalf("result type %T", result)
	}
	if len(list) != 1 || list[0]["title"] != "two" {
		t.Errorf("pending list = %v", list)
	}

	if _, err := r.Execute(1, "list_tasks", map[string]any{"status": "someday"}); !IsValidation(err) {
		t.Errorf("invalid status err = %v, want validation error", err)
	}
}

func TestDeleteByTitleFragment(t *testing.T) {
	r, store := newTestRegistry(t)

	if _, err := store.Create(1, "Buy groceries", "", nil); err != nil {
		t.Fatal(err)
	}

	result, err := r.Execute(1, "delete_task", map[string]any{"title": "groceries"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	payload := result.(map[string]any)
	if payload["status"] != "deleted" {
		t.Errorf("payload = %v", payload)
	}

	remaining, err := store.List(1, task.StatusAll)
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 0 {
		t.Errorf("%d tasks remain after delete", len(remaining))
	}
}

func TestUpdateTaskRequiresAField(t *testing.T) {
	r, store := newTestRegistry(t)

	created, err := store.Create(1, "draft", "", nil)
	if err != nil {
		t.Fatal(err)
	}

	_, err = r.Execute(1, "update_task", map[string]any{"task_id": float64(created.ID)})
	if !IsValidation(err) {
		t.Fatalf("err = %v, want validation error", err)
	}

	result, err := r.Execute(1, "update_task", map[string]any{
		"task_id":   float64(created.ID),
		"new_title": "final",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.(map[string]any)["title"] != "final" {
		t.Errorf("payload = %v", result)
	}
}

func TestUpdateTaskStringTaskID(t *testing.T) {
	r, store := newTestRegistry(t)

	created, err := store.Create(1, "draft", "", nil)
	if err != nil {
		t.Fatal(err)
	}

	// Models sometimes send integers as strings.
	_, err = r.Execute(1, "complete_task", map[string]any{"task_id": "bogus"})
	if !IsValidation(err) {
		t.Errorf("non-numeric task_id err = %v, want validation error", err)
	}

	result, err := r.Execute(1, "update_task", map[string]any{
		"task_id":         "1",
		"new_description": "via string id",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.(map[string]any)["task_id"] != created.ID {
		t.Errorf("payload = %v", result)
	}
}

func TestUnknownToolRejected(t *testing.T) {
	r, _ := newTestRegistry(t)

	_, err := r.Execute(1, "drop_database", map[string]any{})
	if !IsValidation(err) {
		t.Fatalf("err = %v, want validation error for unknown tool", err)
	}
}

func longString(n int) string {
	b := make([]rune, n)
	for i := range b {
		b[i] = 'x'
	}
	return string(b)
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"taskboard/internal/api/middleware"
	"taskboard/internal/model"
	"taskboard/internal/pkg/metrics"

	"github.com/gin-gonic/gin"
)

type mockTodoStore struct {
	listFunc    func(ctx context.Context, userID uint, completed *bool) ([]model.Todo, error)
	getFunc     func(ctx context.Context, userID, todoID uint) (*model.Todo, error)
	createFunc  func(ctx context.Context, todo *model.Todo) error
	updateFunc  func(ctx context.Context, userID, todoID uint, updates map[string]interface{}) error
	deleteFunc  func(ctx context.Context, userID, todoID uint) error
	countFunc   func(ctx context.Context, userID uint) (int64, int64, error)
	createCalls int
	updateCalls int
	deleteCalls int
}

func (m *mockTodoStore) ListTodos(ctx context.Context, userID uint, completed *bool) ([]model.Todo, error) {
	return m.listFunc(ctx, userID, completed)
}

func (m *mockTodoStore) GetTodo(ctx context.Context, userID, todoID uint) (*model.Todo, error) {
	return m.getFunc(ctx, userID, todoID)
}

func (m *mockTodoStore) CreateTodo(ctx context.Context, todo *model.Todo) error {
	m.createCalls++
	return m.createFunc(ctx, todo)
}

func (m *mockTodoStore) UpdateTodo(ctx context.Context, userID, todoID uint, updates map[string]interface{}) error {
	m.updateCalls++
	return m.updateFunc(ctx, userID, todoID, updates)
}

func (m *mockTodoStore) DeleteTodo(ctx context.Context, userID, todoID uint) error {
	m.deleteCalls++
	return m.deleteFunc(ctx, userID, todoID)
}

func (m *mockTodoStore) CountTodos(ctx context.Context, userID uint) (int64, int64, error) {
	return m.countFunc(ctx, userID)
}

func newTestServer(store TodoStore) *Server {
	gin.SetMode(gin.TestMode)
	metrics.InitMetrics()
	return &Server{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		todos:  store,
	}
}

func authedRouter(s *Server, userID uint, register func(r *gin.Engine)) *gin.Engine {
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.CtxUserID, userID)
		c.Set(middleware.CtxUserRole, model.RoleUser)
		c.Set(middleware.CtxUser, &model.User{Username: "alice", Role: model.RoleUser, IsActive: true})
	})
	register(r)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateTodo_Normal(t *testing.T) {
	store := &mockTodoStore{
		createFunc: func(ctx context.Context, todo *model.Todo) error {
			todo.ID = 7
			return nil
		},
	}
	s := newTestServer(store)
	r := authedRouter(s, 1, func(r *gin.Engine) { r.POST("/todos", s.handleCreateTodo) })

	w := doJSON(t, r, http.MethodPost, "/todos", createTodoRequest{
		Title:     "  ship release  ",
		Priority:  model.PriorityHigh,
		StartDate: "2026-09-01",
		EndDate:   "2026-09-05",
	})

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if store.createCalls != 1 {
		t.Fatalf("expected create to be called")
	}

	var resp todoResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != 7 || resp.UserID != 1 {
		t.Fatalf("unexpected ids: %+v", resp)
	}
	if resp.Title != "ship release" {
		t.Fatalf("expected trimmed title, got %q", resp.Title)
	}
	if resp.Status != model.StatusTodo || resp.Category != "General" {
		t.Fatalf("expected defaults applied, got %+v", resp)
	}
}

func TestCreateTodo_DateOrder(t *testing.T) {
	store := &mockTodoStore{
		createFunc: func(ctx context.Context, todo *model.Todo) error { return nil },
	}
	s := newTestServer(store)
	r := authedRouter(s, 1, func(r *gin.Engine) { r.POST("/todos", s.handleCreateTodo) })

	w := doJSON(t, r, http.MethodPost, "/todos", createTodoRequest{
		Title:     "backwards",
		StartDate: "2026-09-10",
		EndDate:   "2026-09-01",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if store.createCalls != 0 {
		t.Fatalf("expected no create on invalid range")
	}

	w = doJSON(t, r, http.MethodPost, "/todos", createTodoRequest{
		Title:     "bad format",
		StartDate: "01/09/2026",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad date format, got %d", w.Code)
	}
}

func TestCreateTodo_CompletedFollowsStatus(t *testing.T) {
	store := &mockTodoStore{
		createFunc: func(ctx context.Context, todo *model.Todo) error { return nil },
	}
	s := newTestServer(store)
	r := authedRouter(s, 1, func(r *gin.Engine) { r.POST("/todos", s.handleCreateTodo) })

	w := doJSON(t, r, http.MethodPost, "/todos", createTodoRequest{
		Title:  "already finished",
		Status: model.StatusDone,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	var resp todoResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Completed {
		t.Fatalf("expected status=done to mark the todo completed")
	}

	// 只给 completed=true 时 status 要提升为 done
	w = doJSON(t, r, http.MethodPost, "/todos", createTodoRequest{
		Title:     "done on arrival",
		Completed: true,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != model.StatusDone || !resp.Completed {
		t.Fatalf("expected completed=true to imply status=done, got %+v", resp)
	}
}

func TestCreateTodo_InvalidStatus(t *testing.T) {
	store := &mockTodoStore{
		createFunc: func(ctx context.Context, todo *model.Todo) error { return nil },
	}
	s := newTestServer(store)
	r := authedRouter(s, 1, func(r *gin.Engine) { r.POST("/todos", s.handleCreateTodo) })

	w := doJSON(t, r, http.MethodPost, "/todos", createTodoRequest{
		Title:  "bad status",
		Status: "paused",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestListTodos_CompletedFilter(t *testing.T) {
	var gotFilter *bool
	store := &mockTodoStore{
		listFunc: func(ctx context.Context, userID uint, completed *bool) ([]model.Todo, error) {
			gotFilter = completed
			return []model.Todo{}, nil
		},
	}
	s := newTestServer(store)
	r := authedRouter(s, 1, func(r *gin.Engine) { r.GET("/todos", s.handleListTodos) })

	w := doJSON(t, r, http.MethodGet, "/todos?completed=true", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if gotFilter == nil || !*gotFilter {
		t.Fatalf("expected completed=true filter to reach the store")
	}
	if w.Body.String() != "[]" {
		t.Fatalf("expected empty array body, got %s", w.Body.String())
	}

	w = doJSON(t, r, http.MethodGet, "/todos?completed=banana", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad filter, got %d", w.Code)
	}
}

func TestGetTodo_NotOwned(t *testing.T) {
	store := &mockTodoStore{
		getFunc: func(ctx context.Context, userID, todoID uint) (*model.Todo, error) {
			return nil, model.ErrTodoNotFound
		},
	}
	s := newTestServer(store)
	r := authedRouter(s, 1, func(r *gin.Engine) { r.GET("/todos/:id", s.handleGetTodo) })

	w := doJSON(t, r, http.MethodGet, "/todos/42", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestUpdateTodo_Partial(t *testing.T) {
	existing := model.Todo{UserID: 1, Title: "old", Status: model.StatusTodo, Priority: model.PriorityMedium, Category: "General"}
	existing.ID = 5
	var gotUpdates map[string]interface{}
	store := &mockTodoStore{
		getFunc: func(ctx context.Context, userID, todoID uint) (*model.Todo, error) {
			cp := existing
			return &cp, nil
		},
		updateFunc: func(ctx context.Context, userID, todoID uint, updates map[string]interface{}) error {
			gotUpdates = updates
			return nil
		},
	}
	s := newTestServer(store)
	r := authedRouter(s, 1, func(r *gin.Engine) { r.PUT("/todos/:id", s.handleUpdateTodo) })

	completed := true
	status := model.StatusDone
	w := doJSON(t, r, http.MethodPut, "/todos/5", updateTodoRequest{
		Completed: &completed,
		Status:    &status,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(gotUpdates) != 2 {
		t.Fatalf("expected exactly the submitted fields, got %v", gotUpdates)
	}
	if gotUpdates["completed"] != true || gotUpdates["status"] != model.StatusDone {
		t.Fatalf("unexpected updates: %v", gotUpdates)
	}
}

func TestUpdateTodo_StatusSyncsCompleted(t *testing.T) {
	existing := model.Todo{UserID: 1, Title: "task", Status: model.StatusTodo}
	existing.ID = 5
	var gotUpdates map[string]interface{}
	store := &mockTodoStore{
		getFunc: func(ctx context.Context, userID, todoID uint) (*model.Todo, error) {
			cp := existing
			return &cp, nil
		},
		updateFunc: func(ctx context.Context, userID, todoID uint, updates map[string]interface{}) error {
			gotUpdates = updates
			return nil
		},
	}
	s := newTestServer(store)
	r := authedRouter(s, 1, func(r *gin.Engine) { r.PUT("/todos/:id", s.handleUpdateTodo) })

	status := model.StatusDone
	w := doJSON(t, r, http.MethodPut, "/todos/5", updateTodoRequest{Status: &status})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if gotUpdates["completed"] != true {
		t.Fatalf("expected status=done to set completed, got %v", gotUpdates)
	}

	status = model.StatusInProgress
	w = doJSON(t, r, http.MethodPut, "/todos/5", updateTodoRequest{Status: &status})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if gotUpdates["completed"] != false {
		t.Fatalf("expected non-done status to clear completed, got %v", gotUpdates)
	}
}

func TestUpdateTodo_CompletedSyncsStatus(t *testing.T) {
	existing := model.Todo{UserID: 1, Title: "task", Status: model.StatusDone, Completed: true}
	existing.ID = 5
	var gotUpdates map[string]interface{}
	store := &mockTodoStore{
		getFunc: func(ctx context.Context, userID, todoID uint) (*model.Todo, error) {
			cp := existing
			return &cp, nil
		},
		updateFunc: func(ctx context.Context, userID, todoID uint, updates map[string]interface{}) error {
			gotUpdates = updates
			return nil
		},
	}
	s := newTestServer(store)
	r := authedRouter(s, 1, func(r *gin.Engine) { r.PUT("/todos/:id", s.handleUpdateTodo) })

	// 已完成的任务重新打开时 status 也要退出 done
	completed := false
	w := doJSON(t, r, http.MethodPut, "/todos/5", updateTodoRequest{Completed: &completed})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if gotUpdates["status"] != model.StatusTodo {
		t.Fatalf("expected reopening to reset status, got %v", gotUpdates)
	}

	completed = true
	w = doJSON(t, r, http.MethodPut, "/todos/5", updateTodoRequest{Completed: &completed})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if gotUpdates["status"] != model.StatusDone {
		t.Fatalf("expected completed=true to set status=done, got %v", gotUpdates)
	}
}

func TestUpdateTodo_CompletedConflictsStatus(t *testing.T) {
	existing := model.Todo{UserID: 1, Title: "task", Status: model.StatusTodo}
	existing.ID = 5
	store := &mockTodoStore{
		getFunc: func(ctx context.Context, userID, todoID uint) (*model.Todo, error) {
			cp := existing
			return &cp, nil
		},
		updateFunc: func(ctx context.Context, userID, todoID uint, updates map[string]interface{}) error {
			return nil
		},
	}
	s := newTestServer(store)
	r := authedRouter(s, 1, func(r *gin.Engine) { r.PUT("/todos/:id", s.handleUpdateTodo) })

	completed := true
	status := model.StatusInProgress
	w := doJSON(t, r, http.MethodPut, "/todos/5", updateTodoRequest{Completed: &completed, Status: &status})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for contradictory completed/status, got %d", w.Code)
	}
	if store.updateCalls != 0 {
		t.Fatalf("expected no update on conflict")
	}
}

func TestUpdateTodo_DateAgainstExisting(t *testing.T) {
	existing := model.Todo{UserID: 1, Title: "planned", StartDate: "2026-09-10"}
	existing.ID = 5
	store := &mockTodoStore{
		getFunc: func(ctx context.Context, userID, todoID uint) (*model.Todo, error) {
			cp := existing
			return &cp, nil
		},
		updateFunc: func(ctx context.Context, userID, todoID uint, updates map[string]interface{}) error {
			return nil
		},
	}
	s := newTestServer(store)
	r := authedRouter(s, 1, func(r *gin.Engine) { r.PUT("/todos/:id", s.handleUpdateTodo) })

	// 只提交 end_date，要和库里的 start_date 比较
	end := "2026-09-01"
	w := doJSON(t, r, http.MethodPut, "/todos/5", updateTodoRequest{EndDate: &end})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for end before stored start, got %d", w.Code)
	}
	if store.updateCalls != 0 {
		t.Fatalf("expected no update on invalid range")
	}
}

func TestUpdateTodo_NoFields(t *testing.T) {
	existing := model.Todo{UserID: 1, Title: "old"}
	existing.ID = 5
	store := &mockTodoStore{
		getFunc: func(ctx context.Context, userID, todoID uint) (*model.Todo, error) {
			cp := existing
			return &cp, nil
		},
		updateFunc: func(ctx context.Context, userID, todoID uint, updates map[string]interface{}) error {
			return nil
		},
	}
	s := newTestServer(store)
	r := authedRouter(s, 1, func(r *gin.Engine) { r.PUT("/todos/:id", s.handleUpdateTodo) })

	w := doJSON(t, r, http.MethodPut, "/todos/5", updateTodoRequest{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty update, got %d", w.Code)
	}
}

func TestDeleteTodo_Normal(t *testing.T) {
	existing := model.Todo{UserID: 1, Title: "done with this"}
	existing.ID = 9
	store := &mockTodoStore{
		getFunc: func(ctx context.Context, userID, todoID uint) (*model.Todo, error) {
			cp := existing
			return &cp, nil
		},
		deleteFunc: func(ctx context.Context, userID, todoID uint) error { return nil },
	}
	s := newTestServer(store)
	r := authedRouter(s, 1, func(r *gin.Engine) { r.DELETE("/todos/:id", s.handleDeleteTodo) })

	w := doJSON(t, r, http.MethodDelete, "/todos/9", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if store.deleteCalls != 1 {
		t.Fatalf("expected delete to be called")
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("todo deleted")) {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}

func TestDeleteTodo_NotOwned(t *testing.T) {
	store := &mockTodoStore{
		getFunc: func(ctx context.Context, userID, todoID uint) (*model.Todo, error) {
			return nil, model.ErrTodoNotFound
		},
		deleteFunc: func(ctx context.Context, userID, todoID uint) error { return nil },
	}
	s := newTestServer(store)
	r := authedRouter(s, 1, func(r *gin.Engine) { r.DELETE("/todos/:id", s.handleDeleteTodo) })

	w := doJSON(t, r, http.MethodDelete, "/todos/9", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if store.deleteCalls != 0 {
		t.Fatalf("expected no delete for foreign todo")
	}
}

func TestStats_Counts(t *testing.T) {
	store := &mockTodoStore{
		countFunc: func(ctx context.Context, userID uint) (int64, int64, error) {
			return 10, 4, nil
		},
	}
	s := newTestServer(store)
	r := authedRouter(s, 1, func(r *gin.Engine) { r.GET("/stats", s.handleStats) })

	w := doJSON(t, r, http.MethodGet, "/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp struct {
		Total     int64  `json:"total"`
		Completed int64  `json:"completed"`
		Pending   int64  `json:"pending"`
		User      string `json:"user"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Total != 10 || resp.Completed != 4 || resp.Pending != 6 {
		t.Fatalf("unexpected stats: %+v", resp)
	}
	if resp.User != "alice" {
		t.Fatalf("expected username in stats, got %q", resp.User)
	}
}

// memTodoStore 把更新真正落到内存里，用来验证写路径和统计口径的衔接。
type memTodoStore struct {
	todos map[uint]*model.Todo
}

func (m *memTodoStore) ListTodos(ctx context.Context, userID uint, completed *bool) ([]model.Todo, error) {
	out := []model.Todo{}
	for _, t := range m.todos {
		if t.UserID == userID && (completed == nil || t.Completed == *completed) {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *memTodoStore) GetTodo(ctx context.Context, userID, todoID uint) (*model.Todo, error) {
	t, ok := m.todos[todoID]
	if !ok || t.UserID != userID {
		return nil, model.ErrTodoNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memTodoStore) CreateTodo(ctx context.Context, todo *model.Todo) error {
	todo.ID = uint(len(m.todos) + 1)
	m.todos[todo.ID] = todo
	return nil
}

func (m *memTodoStore) UpdateTodo(ctx context.Context, userID, todoID uint, updates map[string]interface{}) error {
	t, ok := m.todos[todoID]
	if !ok || t.UserID != userID {
		return model.ErrTodoNotFound
	}
	for k, v := range updates {
		switch k {
		case "title":
			t.Title = v.(string)
		case "description":
			t.Description = v.(string)
		case "completed":
			t.Completed = v.(bool)
		case "status":
			t.Status = v.(string)
		case "priority":
			t.Priority = v.(string)
		case "category":
			t.Category = v.(string)
		case "start_date":
			t.StartDate = v.(string)
		case "end_date":
			t.EndDate = v.(string)
		}
	}
	return nil
}

func (m *memTodoStore) DeleteTodo(ctx context.Context, userID, todoID uint) error {
	delete(m.todos, todoID)
	return nil
}

func (m *memTodoStore) CountTodos(ctx context.Context, userID uint) (int64, int64, error) {
	var total, completed int64
	for _, t := range m.todos {
		if t.UserID != userID {
			continue
		}
		total++
		if t.Completed {
			completed++
		}
	}
	return total, completed, nil
}

func TestStats_ReflectStatusDone(t *testing.T) {
	todo := &model.Todo{UserID: 1, Title: "finish the report", Status: model.StatusTodo}
	todo.ID = 5
	store := &memTodoStore{todos: map[uint]*model.Todo{5: todo}}
	s := newTestServer(store)
	r := authedRouter(s, 1, func(r *gin.Engine) {
		r.PUT("/todos/:id", s.handleUpdateTodo)
		r.GET("/stats", s.handleStats)
	})

	status := model.StatusDone
	w := doJSON(t, r, http.MethodPut, "/todos/5", updateTodoRequest{Status: &status})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, r, http.MethodGet, "/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Total     int64 `json:"total"`
		Completed int64 `json:"completed"`
		Pending   int64 `json:"pending"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Completed != 1 || resp.Pending != 0 {
		t.Fatalf("expected stats to count the status=done todo as completed, got %+v", resp)
	}
}

package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"taskboard/internal/model"

	"github.com/gin-gonic/gin"
)

const dateLayout = "2006-01-02"

// createTodoRequest 创建任务的请求参数。
type createTodoRequest struct {
	Title       string `json:"title" binding:"required,max=200"`
	Description string `json:"description" binding:"max=1000"`
	Completed   bool   `json:"completed"`
	Status      string `json:"status"`
	Priority    string `json:"priority"`
	Category    string `json:"category"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
}

// updateTodoRequest 更新任务的请求参数，所有字段可选。
type updateTodoRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Completed   *bool   `json:"completed"`
	Status      *string `json:"status"`
	Priority    *string `json:"priority"`
	Category    *string `json:"category"`
	StartDate   *string `json:"start_date"`
	EndDate     *string `json:"end_date"`
}

type todoResponse struct {
	ID          uint      `json:"id"`
	UserID      uint      `json:"user_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Completed   bool      `json:"completed"`
	Status      string    `json:"status"`
	Priority    string    `json:"priority"`
	Category    string    `json:"category"`
	StartDate   string    `json:"start_date,omitempty"`
	EndDate     string    `json:"end_date,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func newTodoResponse(t *model.Todo) todoResponse {
	return todoResponse{
		ID:          t.ID,
		UserID:      t.UserID,
		Title:       t.Title,
		Description: t.Description,
		Completed:   t.Completed,
		Status:      t.Status,
		Priority:    t.Priority,
		Category:    t.Category,
		StartDate:   t.StartDate,
		EndDate:     t.EndDate,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

// handleCreateTodo 处理创建任务的请求。
//
// POST /todos
func (s *Server) handleCreateTodo(c *gin.Context) {
	var req createTodoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userID := getUserID(c)

	title := strings.TrimSpace(req.Title)
	if title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title cannot be empty"})
		return
	}

	status := req.Status
	if status == "" {
		status = model.StatusTodo
	}
	if !model.ValidStatus(status) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
		return
	}

	priority := req.Priority
	if priority == "" {
		priority = model.PriorityMedium
	}
	if !model.ValidPriority(priority) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid priority"})
		return
	}

	category := strings.TrimSpace(req.Category)
	if category == "" {
		category = "General"
	}

	// completed 与 status 始终保持一致：done 即完成。提交了 status 时以
	// status 为准，只提交 completed=true 时把 status 提升为 done。
	if req.Status == "" && req.Completed {
		status = model.StatusDone
	}

	if err := validateDateRange(req.StartDate, req.EndDate); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	todo := model.Todo{
		UserID:      userID,
		Title:       title,
		Description: req.Description,
		Completed:   status == model.StatusDone,
		Status:      status,
		Priority:    priority,
		Category:    category,
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
	}

	if err := s.todos.CreateTodo(c.Request.Context(), &todo); err != nil {
		s.logger.Error("create todo failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create todo failed"})
		return
	}

	c.JSON(http.StatusCreated, newTodoResponse(&todo))
}

// handleListTodos 返回当前用户的任务列表，支持 completed 过滤。
//
// GET /todos?completed=true
func (s *Server) handleListTodos(c *gin.Context) {
	userID := getUserID(c)

	var completed *bool
	if v := c.Query("completed"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid completed filter"})
			return
		}
		completed = &b
	}

	todos, err := s.todos.ListTodos(c.Request.Context(), userID, completed)
	if err != nil {
		s.logger.Error("list todos failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list todos failed"})
		return
	}

	resp := make([]todoResponse, 0, len(todos))
	for i := range todos {
		resp = append(resp, newTodoResponse(&todos[i]))
	}
	c.JSON(http.StatusOK, resp)
}

// handleGetTodo 返回单条任务。
//
// 归属他人的任务和不存在的任务一样返回 404，不暴露任务是否存在。
//
// GET /todos/:id
func (s *Server) handleGetTodo(c *gin.Context) {
	userID := getUserID(c)
	todoID, ok := parseTodoID(c)
	if !ok {
		return
	}

	todo, err := s.todos.GetTodo(c.Request.Context(), userID, todoID)
	if err != nil {
		if errors.Is(err, model.ErrTodoNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "todo not found"})
			return
		}
		s.logger.Error("get todo failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "get todo failed"})
		return
	}

	c.JSON(http.StatusOK, newTodoResponse(todo))
}

// handleUpdateTodo 部分更新任务。
//
// PUT /todos/:id
func (s *Server) handleUpdateTodo(c *gin.Context) {
	userID := getUserID(c)
	todoID, ok := parseTodoID(c)
	if !ok {
		return
	}

	var req updateTodoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	existing, err := s.todos.GetTodo(c.Request.Context(), userID, todoID)
	if err != nil {
		if errors.Is(err, model.ErrTodoNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "todo not found"})
			return
		}
		s.logger.Error("load todo failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update todo failed"})
		return
	}

	updates := map[string]interface{}{}
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" || len(title) > 200 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid title"})
			return
		}
		updates["title"] = title
	}
	if req.Description != nil {
		if len(*req.Description) > 1000 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid description"})
			return
		}
		updates["description"] = *req.Description
	}
	// completed 与 status 始终保持一致：done 即完成。两者都提交且互相矛盾
	// 时拒绝，只提交一侧时把另一侧同步过去。
	if req.Status != nil {
		if !model.ValidStatus(*req.Status) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
			return
		}
		done := *req.Status == model.StatusDone
		if req.Completed != nil && *req.Completed != done {
			c.JSON(http.StatusBadRequest, gin.H{"error": "completed conflicts with status"})
			return
		}
		updates["status"] = *req.Status
		updates["completed"] = done
	} else if req.Completed != nil {
		updates["completed"] = *req.Completed
		if *req.Completed {
			updates["status"] = model.StatusDone
		} else if existing.Status == model.StatusDone {
			updates["status"] = model.StatusTodo
		}
	}
	if req.Priority != nil {
		if !model.ValidPriority(*req.Priority) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid priority"})
			return
		}
		updates["priority"] = *req.Priority
	}
	if req.Category != nil {
		category := strings.TrimSpace(*req.Category)
		if category == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid category"})
			return
		}
		updates["category"] = category
	}

	// 日期校验要对更新后的组合生效，未提交的一侧取既有值
	startDate := existing.StartDate
	endDate := existing.EndDate
	if req.StartDate != nil {
		startDate = *req.StartDate
		updates["start_date"] = *req.StartDate
	}
	if req.EndDate != nil {
		endDate = *req.EndDate
		updates["end_date"] = *req.EndDate
	}
	if req.StartDate != nil || req.EndDate != nil {
		if err := validateDateRange(startDate, endDate); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	if len(updates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no updates"})
		return
	}

	if err := s.todos.UpdateTodo(c.Request.Context(), userID, todoID, updates); err != nil {
		s.logger.Error("update todo failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update todo failed"})
		return
	}

	updated, err := s.todos.GetTodo(c.Request.Context(), userID, todoID)
	if err != nil {
		s.logger.Error("reload todo failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update todo failed"})
		return
	}
	c.JSON(http.StatusOK, newTodoResponse(updated))
}

// handleDeleteTodo 删除任务。
//
// DELETE /todos/:id
func (s *Server) handleDeleteTodo(c *gin.Context) {
	userID := getUserID(c)
	todoID, ok := parseTodoID(c)
	if !ok {
		return
	}

	// 先确认归属，404 语义与 Get 保持一致
	if _, err := s.todos.GetTodo(c.Request.Context(), userID, todoID); err != nil {
		if errors.Is(err, model.ErrTodoNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "todo not found"})
			return
		}
		s.logger.Error("load todo failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete todo failed"})
		return
	}

	if err := s.todos.DeleteTodo(c.Request.Context(), userID, todoID); err != nil {
		s.logger.Error("delete todo failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete todo failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "todo deleted", "id": todoID})
}

// handleStats 返回当前用户的任务统计。
//
// GET /stats
func (s *Server) handleStats(c *gin.Context) {
	userID := getUserID(c)

	total, completed, err := s.todos.CountTodos(c.Request.Context(), userID)
	if err != nil {
		s.logger.Error("count todos failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count todos failed"})
		return
	}

	username := ""
	if u := getUser(c); u != nil {
		username = u.Username
	}
	c.JSON(http.StatusOK, gin.H{
		"total":     total,
		"completed": completed,
		"pending":   total - completed,
		"user":      username,
	})
}

// validateDateRange 校验日期格式 (YYYY-MM-DD)，两端都给出时要求 start <= end。
func validateDateRange(start, end string) error {
	var startT, endT time.Time
	var err error
	if start != "" {
		startT, err = time.Parse(dateLayout, start)
		if err != nil {
			return errors.New("invalid start_date, expect YYYY-MM-DD")
		}
	}
	if end != "" {
		endT, err = time.Parse(dateLayout, end)
		if err != nil {
			return errors.New("invalid end_date, expect YYYY-MM-DD")
		}
	}
	if start != "" && end != "" && startT.After(endT) {
		return errors.New("start_date must not be after end_date")
	}
	return nil
}

func parseTodoID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid todo id"})
		return 0, false
	}
	return uint(id), true
}

package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"taskboard/internal/api/auth"
	"taskboard/internal/model"
	"taskboard/internal/pkg/metrics"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// dbAdminStore 是 AdminStore 的 GORM 实现。
type dbAdminStore struct {
	db *gorm.DB
}

func (s dbAdminStore) ListUsers(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := s.db.WithContext(ctx).Order("id").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

func (s dbAdminStore) DeleteUserCascade(ctx context.Context, id uint) (int64, error) {
	var todosDeleted int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("user_id = ?", id).Delete(&model.Todo{})
		if res.Error != nil {
			return res.Error
		}
		todosDeleted = res.RowsAffected
		return tx.Delete(&model.User{}, id).Error
	})
	return todosDeleted, err
}

func (s dbAdminStore) SetUserRole(ctx context.Context, id uint, role string) error {
	return s.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).Update("role", role).Error
}

func (s dbAdminStore) SiteStats(ctx context.Context) (SiteStats, error) {
	var stats SiteStats
	counts := []struct {
		dst   *int64
		query *gorm.DB
	}{
		{&stats.Users, s.db.WithContext(ctx).Model(&model.User{})},
		{&stats.Admins, s.db.WithContext(ctx).Model(&model.User{}).Where("role = ?", model.RoleAdmin)},
		{&stats.ActiveUsers, s.db.WithContext(ctx).Model(&model.User{}).Where("is_active = ?", true)},
		{&stats.Todos, s.db.WithContext(ctx).Model(&model.Todo{})},
		{&stats.CompletedTodos, s.db.WithContext(ctx).Model(&model.Todo{}).Where("completed = ?", true)},
	}
	for _, cnt := range counts {
		if err := cnt.query.Count(cnt.dst).Error; err != nil {
			return SiteStats{}, err
		}
	}
	return stats, nil
}

// handleAdminListUsers 返回全部用户。
//
// GET /admin/users
func (s *Server) handleAdminListUsers(c *gin.Context) {
	users, err := s.admins.ListUsers(c.Request.Context())
	if err != nil {
		s.logger.Error("list users failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list users failed"})
		return
	}

	resp := make([]auth.UserResponse, 0, len(users))
	for i := range users {
		resp = append(resp, auth.NewUserResponse(&users[i]))
	}
	c.JSON(http.StatusOK, resp)
}

// handleAdminGetUser 返回指定用户。
//
// GET /admin/users/:id
func (s *Server) handleAdminGetUser(c *gin.Context) {
	targetID, ok := parseUserID(c)
	if !ok {
		return
	}

	user, err := s.loadUser(c, targetID)
	if err != nil {
		return
	}
	c.JSON(http.StatusOK, auth.NewUserResponse(user))
}

// handleAdminListUserTodos 返回指定用户的全部任务。
//
// GET /admin/users/:id/todos
func (s *Server) handleAdminListUserTodos(c *gin.Context) {
	targetID, ok := parseUserID(c)
	if !ok {
		return
	}
	if _, err := s.loadUser(c, targetID); err != nil {
		return
	}

	todos, err := s.todos.ListTodos(c.Request.Context(), targetID, nil)
	if err != nil {
		s.logger.Error("list user todos failed",
			slog.Uint64("target_id", uint64(targetID)),
			slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list todos failed"})
		return
	}

	resp := make([]todoResponse, 0, len(todos))
	for i := range todos {
		resp = append(resp, newTodoResponse(&todos[i]))
	}
	c.JSON(http.StatusOK, resp)
}

// handleAdminDeleteUser 删除用户及其全部任务，并吊销其所有会话。
//
// 管理员不能删除自己，避免把系统锁死。
//
// DELETE /admin/users/:id
func (s *Server) handleAdminDeleteUser(c *gin.Context) {
	targetID, ok := parseUserID(c)
	if !ok {
		return
	}
	if targetID == getUserID(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "cannot delete your own account"})
		return
	}

	user, err := s.loadUser(c, targetID)
	if err != nil {
		return
	}

	todosDeleted, err := s.admins.DeleteUserCascade(c.Request.Context(), targetID)
	if err != nil {
		s.logger.Error("delete user failed",
			slog.Uint64("target_id", uint64(targetID)),
			slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete user failed"})
		return
	}

	// 用户已删除，吊销会话失败只记日志
	if revoked, err := s.sessions.InvalidateUser(c.Request.Context(), targetID); err != nil {
		s.logger.Warn("revoke sessions failed",
			slog.Uint64("target_id", uint64(targetID)),
			slog.String("error", err.Error()))
	} else {
		metrics.SessionsRevokedTotal.Add(float64(revoked))
	}

	s.logger.Info("user deleted",
		slog.Uint64("admin_id", uint64(getUserID(c))),
		slog.Uint64("target_id", uint64(targetID)),
		slog.String("username", user.Username),
		slog.Int64("todos_deleted", todosDeleted))

	c.JSON(http.StatusOK, gin.H{
		"message":       "user deleted",
		"user_id":       targetID,
		"username":      user.Username,
		"todos_deleted": todosDeleted,
	})
}

// handleAdminToggleRole 在 admin 与 user 之间切换用户角色。
//
// 管理员不能修改自己的角色。
//
// PUT /admin/users/:id/role
func (s *Server) handleAdminToggleRole(c *gin.Context) {
	targetID, ok := parseUserID(c)
	if !ok {
		return
	}
	if targetID == getUserID(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "cannot change your own role"})
		return
	}

	user, err := s.loadUser(c, targetID)
	if err != nil {
		return
	}

	newRole := model.RoleAdmin
	if user.IsAdmin() {
		newRole = model.RoleUser
	}
	if err := s.admins.SetUserRole(c.Request.Context(), targetID, newRole); err != nil {
		s.logger.Error("update role failed",
			slog.Uint64("target_id", uint64(targetID)),
			slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update role failed"})
		return
	}
	user.Role = newRole

	s.logger.Info("role changed",
		slog.Uint64("admin_id", uint64(getUserID(c))),
		slog.Uint64("target_id", uint64(targetID)),
		slog.String("role", newRole))

	c.JSON(http.StatusOK, auth.NewUserResponse(user))
}

// handleAdminStats 返回全站用户与任务统计。
//
// GET /admin/stats
func (s *Server) handleAdminStats(c *gin.Context) {
	stats, err := s.admins.SiteStats(c.Request.Context())
	if err != nil {
		s.logger.Error("admin stats failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"users": gin.H{
			"total":  stats.Users,
			"admins": stats.Admins,
			"active": stats.ActiveUsers,
		},
		"todos": gin.H{
			"total":     stats.Todos,
			"completed": stats.CompletedTodos,
			"pending":   stats.Todos - stats.CompletedTodos,
		},
	})
}

// loadUser 按 ID 查找用户，不存在时写出 404 并返回错误。
func (s *Server) loadUser(c *gin.Context, id uint) (*model.User, error) {
	user, err := s.users.GetUser(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return nil, err
		}
		s.logger.Error("load user failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load user failed"})
		return nil, err
	}
	return user, nil
}

func parseUserID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return 0, false
	}
	return uint(id), true
}

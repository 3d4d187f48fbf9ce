package api

import (
	"context"
	"errors"

	"taskboard/internal/model"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// SeedDemoData 初始化演示账号和示例任务。
//
// 只在 app.seed_demo 打开时由 main 调用，重复执行是幂等的。
func (s *Server) SeedDemoData(ctx context.Context) error {
	if !s.cfg.App.SeedDemo {
		return nil
	}

	const demoEmail = "demo@taskboard.local"
	var user model.User
	err := s.db.WithContext(ctx).Where("email = ?", demoEmail).First(&user).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		hash, hashErr := bcrypt.GenerateFromPassword([]byte("demo-password"), bcrypt.DefaultCost)
		if hashErr != nil {
			return hashErr
		}
		user = model.User{
			Username:      "demo",
			Email:         demoEmail,
			Password:      string(hash),
			Role:          model.RoleUser,
			IsActive:      true,
			EmailVerified: true,
		}
		if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
			return err
		}
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&model.Todo{}).Where("user_id = ?", user.ID).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	samples := []model.Todo{
		{
			UserID:      user.ID,
			Title:       "Explore the API",
			Description: "Login as demo and walk through the todo endpoints",
			Status:      model.StatusInProgress,
			Priority:    model.PriorityHigh,
			Category:    "Onboarding",
		},
		{
			UserID:    user.ID,
			Title:     "Plan the week",
			Status:    model.StatusTodo,
			Priority:  model.PriorityMedium,
			Category:  "General",
			StartDate: "2026-01-05",
			EndDate:   "2026-01-09",
		},
		{
			UserID:    user.ID,
			Title:     "Read the deployment notes",
			Completed: true,
			Status:    model.StatusDone,
			Priority:  model.PriorityLow,
			Category:  "Docs",
		},
	}
	return s.db.WithContext(ctx).Create(&samples).Error
}

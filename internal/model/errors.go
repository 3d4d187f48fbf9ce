package model

import "errors"

// 存储层统一的错误，避免 handler 直接依赖 gorm 的错误类型。
var (
	ErrUserNotFound = errors.New("user not found")
	ErrTodoNotFound = errors.New("todo not found")

	// ErrUserExists 表示用户名或邮箱撞上了唯一索引。
	ErrUserExists = errors.New("user already exists")
)

package model

import (
	"time"
)

// Todo 状态枚举。四个状态之间可以任意切换，没有状态机限制。
const (
	StatusTodo       = "todo"
	StatusInProgress = "in-progress"
	StatusDone       = "done"
	StatusBlocked    = "blocked"
)

// Todo 优先级枚举。
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Todo 表示一条待办任务。
//
// 每条任务归属于唯一的用户，所有查询/修改都按 user_id 过滤，
// 用户之间互相不可见。删除用户时级联删除其全部任务。
type Todo struct {
	ID        uint      `gorm:"primaryKey"` // 任务唯一标识
	CreatedAt time.Time // 创建时间
	UpdatedAt time.Time // 更新时间

	UserID uint `gorm:"not null;index"`    // 所属用户 ID
	User   User `gorm:"foreignKey:UserID"` // 所属用户

	Title       string `gorm:"type:varchar(200);not null"` // 标题（必填，非空）
	Description string `gorm:"type:varchar(1000)"`         // 描述（可选）
	Completed   bool   `gorm:"default:false"`              // 是否已完成
	Status      string `gorm:"type:varchar(16);default:todo"`    // 状态: todo / in-progress / done / blocked
	Priority    string `gorm:"type:varchar(16);default:medium"`  // 优先级: low / medium / high
	Category    string `gorm:"type:varchar(64);default:General"` // 分类标签
	StartDate   string `gorm:"type:varchar(10)"`                 // 开始日期 (YYYY-MM-DD，可为空)
	EndDate     string `gorm:"type:varchar(10)"`                 // 结束日期 (YYYY-MM-DD，可为空)
}

// ValidStatus 判断状态取值是否合法。
func ValidStatus(s string) bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusDone, StatusBlocked:
		return true
	}
	return false
}

// ValidPriority 判断优先级取值是否合法。
func ValidPriority(p string) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

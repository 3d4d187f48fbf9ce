package model

import "time"

// 用户角色。
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// User 表示系统用户。
type User struct {
	ID              uint   `gorm:"primaryKey"`                    // 用户 ID
	Username        string `gorm:"type:varchar(50);uniqueIndex"`  // 用户名（唯一）
	Email           string `gorm:"type:varchar(191);uniqueIndex"` // 邮箱（唯一）
	Password        string `gorm:"not null"`                      // bcrypt 哈希
	Role            string `gorm:"type:varchar(16);default:user"` // 角色: admin / user
	IsActive        bool   `gorm:"default:true"`                  // 账户是否可用
	EmailVerified   bool   `gorm:"default:true"`                  // 邮箱是否已验证
	ProfileImageURL string `gorm:"type:varchar(512)"`             // 头像链接（可为空）
	CreatedAt       time.Time

	Todos []Todo `gorm:"foreignKey:UserID"`
}

// IsAdmin 判断用户是否为管理员。
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

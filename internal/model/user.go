// Package model 定义了与数据库表对应的 Go 结构体。
package model

import "time"

// 用户角色常量。MANAGER 和 ADMIN 在查询 CRM 数据时不受负责人范围限制。
const (
	RoleUser    = "USER"
	RoleManager = "MANAGER"
	RoleAdmin   = "ADMIN"
)

// User 定义了 users 表的 ORM 模型。
type User struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Username  string    `gorm:"type:varchar(50);uniqueIndex;not null" json:"username"`
	Password  string    `gorm:"type:varchar(100);not null" json:"-"` // bcrypt 哈希，不对外输出
	Role      string    `gorm:"type:varchar(20);not null;default:'USER'" json:"role"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (User) TableName() string {
	return "users"
}

// IsElevated 判断用户是否拥有跨负责人查看数据的权限。
func (u *User) IsElevated() bool {
	return u.Role == RoleManager || u.Role == RoleAdmin
}

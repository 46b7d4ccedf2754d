// Package model 包含了应用的数据模型定义。
package model

import "time"

// 对话消息角色常量。
const (
	RoleTurnUser      = "user"
	RoleTurnAssistant = "assistant"
)

// ChatMessage 代表存储在 Redis 中的单条对话消息。
// Meta 仅在 assistant 消息上携带路由与意图的附加信息。
type ChatMessage struct {
	Role      string                 `json:"role"` // "user" 或 "assistant"
	Content   string                 `json:"content"`
	Mode      string                 `json:"mode,omitempty"`
	Meta      map[string]interface{} `json:"meta,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// ChatSession 定义了 chat_sessions 表的 ORM 模型。
// 会话一经创建不再修改，下游组件只读。
type ChatSession struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"sessionId"`
	UserID    uint      `gorm:"index;not null" json:"userId"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (ChatSession) TableName() string {
	return "chat_sessions"
}

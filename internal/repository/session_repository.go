// Package repository 提供了数据访问层的实现。
package repository

import (
	"sales-crm-go/internal/model"

	"gorm.io/gorm"
)

// SessionRepository 接口定义了聊天会话的持久化操作。
type SessionRepository interface {
	Create(session *model.ChatSession) error
	FindLatestByUser(userID uint) (*model.ChatSession, error)
	FindByUser(userID uint) ([]model.ChatSession, error)
}

// sessionRepository 是 SessionRepository 接口的 GORM 实现。
type sessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository 创建一个新的 SessionRepository 实例。
func NewSessionRepository(db *gorm.DB) SessionRepository {
	return &sessionRepository{db: db}
}

// Create 在数据库中创建一条新的会话记录。
func (r *sessionRepository) Create(session *model.ChatSession) error {
	return r.db.Create(session).Error
}

// FindLatestByUser 查找用户最近创建的一个会话。
func (r *sessionRepository) FindLatestByUser(userID uint) (*model.ChatSession, error) {
	var session model.ChatSession
	err := r.db.Where("user_id = ?", userID).Order("created_at DESC").First(&session).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// FindByUser 查找用户的全部会话，按创建时间倒序。
func (r *sessionRepository) FindByUser(userID uint) ([]model.ChatSession, error) {
	var sessions []model.ChatSession
	err := r.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&sessions).Error
	return sessions, err
}

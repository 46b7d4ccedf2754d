// Package service 包含了应用的业务逻辑层。
package service

import (
	"errors"
	"sales-crm-go/internal/model"
	"sales-crm-go/internal/repository"
	"sales-crm-go/pkg/log"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SessionService 定义了聊天会话解析的业务接口。
type SessionService interface {
	// Resolve 解析本次请求使用的会话 ID。总是返回一个可用的 ID，不会失败。
	Resolve(userID uint, suppliedSessionID string) string
	ListByUser(userID uint) ([]model.ChatSession, error)
}

type sessionService struct {
	sessionRepo repository.SessionRepository
}

// NewSessionService 创建一个新的 SessionService 实例。
func NewSessionService(sessionRepo repository.SessionRepository) SessionService {
	return &sessionService{sessionRepo: sessionRepo}
}

// Resolve 按优先级解析会话：
// 1. 调用方显式传入的会话 ID 直接信任并原样返回，历史是否存在由记忆层在读取时处理；
// 2. 未传入时复用该用户最近的会话；
// 3. 没有任何会话时新建一条。入库失败不致命：返回新生成的 ID 继续本次请求，
//    代价只是这一次调用没有可持久化的会话记录。
func (s *sessionService) Resolve(userID uint, suppliedSessionID string) string {
	if suppliedSessionID != "" {
		return suppliedSessionID
	}

	latest, err := s.sessionRepo.FindLatestByUser(userID)
	if err == nil {
		return latest.ID
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		log.Errorf("[SessionService] 查询用户最近会话失败, userID: %d, error: %v", userID, err)
	}

	session := &model.ChatSession{
		ID:     uuid.NewString(),
		UserID: userID,
	}
	if err := s.sessionRepo.Create(session); err != nil {
		log.Errorf("[SessionService] 创建会话失败, userID: %d, error: %v", userID, err)
	}
	return session.ID
}

// ListByUser 返回用户的全部会话。
func (s *sessionService) ListByUser(userID uint) ([]model.ChatSession, error) {
	return s.sessionRepo.FindByUser(userID)
}

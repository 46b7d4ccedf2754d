// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sales-crm-go/internal/config"
	"sales-crm-go/internal/model"
	"sales-crm-go/internal/repository"
	"sales-crm-go/pkg/log"
	"sales-crm-go/pkg/storage"
	"time"
)

// ConversationService 定义了对话记忆的业务接口。
type ConversationService interface {
	// LoadRecent 读取会话最近 limit 条消息，按时间先后排列。
	// 任何读取失败都降级为空历史，绝不把错误抛回请求路径。
	LoadRecent(ctx context.Context, userID uint, sessionID string, limit int) []model.ChatMessage
	// Append 在答案产出后异步写入一轮对话。响应下发不等待持久化结果，
	// 写入失败只记录日志。
	Append(userID uint, sessionID string, userMsg, assistantMsg model.ChatMessage)
	// GetHistory 供查询历史的接口使用，错误正常返回。
	GetHistory(ctx context.Context, userID uint, sessionID string) ([]model.ChatMessage, error)
	// ArchiveAll 将当前留存的所有会话快照归档到对象存储，返回归档条数。
	ArchiveAll(ctx context.Context) (int, error)
	// StartArchiver 周期性执行 ArchiveAll，直到 ctx 被取消。由 main 启动。
	StartArchiver(ctx context.Context, interval time.Duration)
}

type conversationService struct {
	repo  repository.ConversationRepository
	minio config.MinIOConfig

	// 测试替换点，默认写 MinIO
	putObject func(ctx context.Context, bucket, object string, data []byte) error
}

// NewConversationService 创建一个新的 ConversationService。
func NewConversationService(repo repository.ConversationRepository, minioCfg config.MinIOConfig) ConversationService {
	return &conversationService{
		repo:      repo,
		minio:     minioCfg,
		putObject: storage.PutJSONObject,
	}
}

// LoadRecent 读取会话最近的消息。
func (s *conversationService) LoadRecent(ctx context.Context, userID uint, sessionID string, limit int) []model.ChatMessage {
	history, err := s.repo.GetHistory(ctx, userID, sessionID)
	if err != nil {
		log.Errorf("[ConversationService] 读取对话历史失败, userID: %d, sessionID: %s, error: %v", userID, sessionID, err)
		return []model.ChatMessage{}
	}
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history
}

// Append 异步追加一轮对话。
func (s *conversationService) Append(userID uint, sessionID string, userMsg, assistantMsg model.ChatMessage) {
	go func() {
		// 使用后台上下文：即使原始请求已被取消，也要保存已产出的回答
		if err := s.repo.AppendTurn(context.Background(), userID, sessionID, userMsg, assistantMsg); err != nil {
			log.Errorf("[ConversationService] 保存对话历史失败, userID: %d, sessionID: %s, error: %v", userID, sessionID, err)
		}
	}()
}

// GetHistory 返回会话的完整留存历史。
func (s *conversationService) GetHistory(ctx context.Context, userID uint, sessionID string) ([]model.ChatMessage, error) {
	return s.repo.GetHistory(ctx, userID, sessionID)
}

// archiveEnvelope 是写入对象存储的会话快照结构。
type archiveEnvelope struct {
	UserID     uint                `json:"userId"`
	SessionID  string              `json:"sessionId"`
	ArchivedAt time.Time           `json:"archivedAt"`
	Messages   []model.ChatMessage `json:"messages"`
}

// ArchiveAll 扫描 Redis 里的全部会话并逐个写入对象存储。
// 同名对象直接覆盖，因此反复归档同一会话得到的是最新快照。
// 单个会话失败不中断整体归档。
func (s *conversationService) ArchiveAll(ctx context.Context) (int, error) {
	refs, err := s.repo.ListSessionRefs(ctx)
	if err != nil {
		return 0, fmt.Errorf("扫描会话列表失败: %w", err)
	}

	archived := 0
	for _, ref := range refs {
		history, err := s.repo.GetHistory(ctx, ref.UserID, ref.SessionID)
		if err != nil {
			log.Errorf("[ConversationService] 归档时读取会话失败, userID: %d, sessionID: %s, error: %v", ref.UserID, ref.SessionID, err)
			continue
		}
		if len(history) == 0 {
			continue
		}

		envelope := archiveEnvelope{
			UserID:     ref.UserID,
			SessionID:  ref.SessionID,
			ArchivedAt: time.Now(),
			Messages:   history,
		}
		data, err := json.Marshal(envelope)
		if err != nil {
			log.Errorf("[ConversationService] 序列化会话快照失败, sessionID: %s, error: %v", ref.SessionID, err)
			continue
		}

		objectName := fmt.Sprintf("archive/%d/%s.json", ref.UserID, ref.SessionID)
		if err := s.putObject(ctx, s.minio.BucketName, objectName, data); err != nil {
			log.Errorf("[ConversationService] 写入会话归档失败, object: %s, error: %v", objectName, err)
			continue
		}
		archived++
	}

	log.Infof("[ConversationService] 会话归档完成, 本轮归档 %d/%d 条", archived, len(refs))
	return archived, nil
}

// StartArchiver 周期性执行归档，直到 ctx 被取消。
func (s *conversationService) StartArchiver(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.ArchiveAll(ctx); err != nil {
				log.Errorf("[ConversationService] 归档任务执行失败: %v", err)
			}
		}
	}
}

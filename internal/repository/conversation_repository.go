// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sales-crm-go/internal/model"
	"time"

	"github.com/go-redis/redis/v8"
)

// 单个会话在 Redis 中保留的最大消息条数与过期时间。
const (
	maxTurnsPerSession = 50
	conversationTTL    = 7 * 24 * time.Hour
)

// SessionRef 标识一条存在于 Redis 中的会话记录。
type SessionRef struct {
	UserID    uint
	SessionID string
}

// ConversationRepository 定义了对话历史记录的操作接口。
type ConversationRepository interface {
	GetHistory(ctx context.Context, userID uint, sessionID string) ([]model.ChatMessage, error)
	AppendTurn(ctx context.Context, userID uint, sessionID string, messages ...model.ChatMessage) error
	ListSessionRefs(ctx context.Context) ([]SessionRef, error)
}

type redisConversationRepository struct {
	redisClient *redis.Client
}

// NewConversationRepository 创建一个新的 ConversationRepository 实例。
func NewConversationRepository(redisClient *redis.Client) ConversationRepository {
	return &redisConversationRepository{redisClient: redisClient}
}

func conversationKey(userID uint, sessionID string) string {
	return fmt.Sprintf("conversation:%d:%s", userID, sessionID)
}

// GetHistory 从 Redis 获取一个会话的历史消息，按时间先后排列。
func (r *redisConversationRepository) GetHistory(ctx context.Context, userID uint, sessionID string) ([]model.ChatMessage, error) {
	jsonData, err := r.redisClient.Get(ctx, conversationKey(userID, sessionID)).Result()
	if err == redis.Nil {
		return []model.ChatMessage{}, nil // No history yet
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation history: %w", err)
	}
	var messages []model.ChatMessage
	err = json.Unmarshal([]byte(jsonData), &messages)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation history: %w", err)
	}
	return messages, nil
}

// AppendTurn 将若干条消息追加到会话末尾并续期。
// 同一会话的写入来自单个用户的顺序请求，读改写即可，无需跨进程锁。
func (r *redisConversationRepository) AppendTurn(ctx context.Context, userID uint, sessionID string, messages ...model.ChatMessage) error {
	existing, err := r.GetHistory(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	merged := append(existing, messages...)
	// 保留最近 maxTurnsPerSession 条
	if len(merged) > maxTurnsPerSession {
		merged = merged[len(merged)-maxTurnsPerSession:]
	}
	jsonData, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation history: %w", err)
	}
	err = r.redisClient.Set(ctx, conversationKey(userID, sessionID), jsonData, conversationTTL).Err()
	if err != nil {
		return fmt.Errorf("failed to set conversation history: %w", err)
	}
	return nil
}

// ListSessionRefs 扫描 conversation:* 键，返回当前留存的全部会话标识。
// 供管理端总览和归档任务使用。
func (r *redisConversationRepository) ListSessionRefs(ctx context.Context) ([]SessionRef, error) {
	keys, err := r.redisClient.Keys(ctx, "conversation:*").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to scan conversation keys: %w", err)
	}
	refs := make([]SessionRef, 0, len(keys))
	for _, k := range keys {
		// k format: conversation:{uid}:{sessionID}
		var uid uint
		var sid string
		_, scanErr := fmt.Sscanf(k, "conversation:%d:%s", &uid, &sid)
		if scanErr != nil {
			continue
		}
		refs = append(refs, SessionRef{UserID: uid, SessionID: sid})
	}
	return refs, nil
}

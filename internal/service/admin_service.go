// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"sales-crm-go/internal/model"
	"sales-crm-go/internal/repository"
	"sales-crm-go/pkg/kafka"
	"sales-crm-go/pkg/log"
	"sales-crm-go/pkg/tasks"
	"time"
)

// UserListResponse 定义了用户列表 API 的响应结构。
type UserListResponse struct {
	Content       []UserDetailResponse `json:"content"`
	TotalElements int64                `json:"totalElements"`
	TotalPages    int                  `json:"totalPages"`
	Size          int                  `json:"size"`
	Number        int                  `json:"number"`
}

// UserDetailResponse 定义了用户列表项的详细结构。
type UserDetailResponse struct {
	UserID    uint            `json:"userId"`
	Username  string          `json:"username"`
	Role      string          `json:"role"`
	CreatedAt model.LocalTime `json:"createdAt"`
}

// AdminService 接口定义了所有管理员相关的业务操作。
type AdminService interface {
	ListUsers(page, size int) (*UserListResponse, error)
	SetUserRole(userID uint, role string) (*model.User, error)
	GetAllConversations(ctx context.Context, userID *uint, startTime, endTime *time.Time) ([]map[string]interface{}, error)
	// ReindexSearch 把全部 CRM 行重新投递到搜索同步队列，返回投递的任务数。
	ReindexSearch(ctx context.Context) (int, error)
}

// adminService 是 AdminService 接口的实现。
type adminService struct {
	userRepo         repository.UserRepository
	conversationRepo repository.ConversationRepository
	crmRepo          repository.CrmRepository
	produce          func(task tasks.SearchSyncTask) error
}

// NewAdminService 创建一个新的 AdminService 实例。
func NewAdminService(userRepo repository.UserRepository, conversationRepo repository.ConversationRepository, crmRepo repository.CrmRepository) AdminService {
	return &adminService{
		userRepo:         userRepo,
		conversationRepo: conversationRepo,
		crmRepo:          crmRepo,
		produce:          kafka.ProduceSyncTask,
	}
}

// ListUsers 以分页的形式返回用户列表
func (s *adminService) ListUsers(page, size int) (*UserListResponse, error) {
	offset := (page - 1) * size
	users, total, err := s.userRepo.FindWithPagination(offset, size)
	if err != nil {
		return nil, err
	}

	userResponses := make([]UserDetailResponse, 0, len(users))
	for _, u := range users {
		userResponses = append(userResponses, UserDetailResponse{
			UserID:    u.ID,
			Username:  u.Username,
			Role:      u.Role,
			CreatedAt: model.LocalTime(u.CreatedAt),
		})
	}

	totalPages := 0
	if total > 0 && size > 0 {
		totalPages = (int(total) + size - 1) / size
	}

	response := &UserListResponse{
		Content:       userResponses,
		TotalElements: total,
		TotalPages:    totalPages,
		Size:          size,
		Number:        page,
	}
	return response, nil
}

// SetUserRole 调整用户角色。MANAGER 与 ADMIN 可以看到全量 CRM 数据。
func (s *adminService) SetUserRole(userID uint, role string) (*model.User, error) {
	switch role {
	case model.RoleUser, model.RoleManager, model.RoleAdmin:
	default:
		return nil, errors.New("角色必须是 USER、MANAGER 或 ADMIN")
	}

	user, err := s.userRepo.FindByID(userID)
	if err != nil {
		return nil, errors.New("user not found")
	}
	user.Role = role
	if err := s.userRepo.Update(user); err != nil {
		return nil, err
	}
	return user, nil
}

// GetAllConversations 汇总所有（或指定）用户的会话历史，可按时间过滤。
func (s *adminService) GetAllConversations(ctx context.Context, userID *uint, startTime, endTime *time.Time) ([]map[string]interface{}, error) {
	refs, err := s.conversationRepo.ListSessionRefs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list session refs from redis: %w", err)
	}

	// 用户名查一次缓存一次，避免逐条回表
	usernames := make(map[uint]string)
	allConversations := make([]map[string]interface{}, 0)
	for _, ref := range refs {
		if userID != nil && ref.UserID != *userID {
			continue
		}

		name, ok := usernames[ref.UserID]
		if !ok {
			user, err := s.userRepo.FindByID(ref.UserID)
			if err != nil {
				continue
			}
			name = user.Username
			usernames[ref.UserID] = name
		}

		history, err := s.conversationRepo.GetHistory(ctx, ref.UserID, ref.SessionID)
		if err != nil {
			continue
		}
		for _, msg := range history {
			if startTime != nil && msg.Timestamp.Before(*startTime) {
				continue
			}
			if endTime != nil && msg.Timestamp.After(*endTime) {
				continue
			}
			allConversations = append(allConversations, map[string]interface{}{
				"username":  name,
				"sessionId": ref.SessionID,
				"role":      msg.Role,
				"mode":      msg.Mode,
				"content":   msg.Content,
				"timestamp": msg.Timestamp.Format("2006-01-02T15:04:05"),
			})
		}
	}
	return allConversations, nil
}

// ReindexSearch 扫描全部 CRM 表，把每一行作为索引任务重新投递到 Kafka。
// 消费端会逐条抓取行内容并写入 ES，坏掉的索引由此整体重建。
func (s *adminService) ReindexSearch(ctx context.Context) (int, error) {
	published := 0
	for _, entity := range repository.Entities() {
		ids, err := s.crmRepo.ListIDs(entity)
		if err != nil {
			log.Errorf("[AdminService] 读取实体主键失败, entity: %s, error: %v", entity, err)
			continue
		}
		for _, id := range ids {
			if ctx.Err() != nil {
				return published, ctx.Err()
			}
			task := tasks.SearchSyncTask{Entity: entity, EntityID: id, Action: tasks.ActionIndex}
			if err := s.produce(task); err != nil {
				log.Errorf("[AdminService] 投递索引任务失败, task: %s, error: %v", task.Key(), err)
				continue
			}
			published++
		}
	}
	log.Infof("[AdminService] 重建索引任务已投递, 共 %d 条", published)
	return published, nil
}

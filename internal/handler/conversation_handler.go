// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"net/http"
	"sales-crm-go/internal/service"
	"sales-crm-go/pkg/token"

	"github.com/gin-gonic/gin"
)

// ConversationHandler 处理与对话相关的 API 请求。
type ConversationHandler struct {
	conversationService service.ConversationService
	sessionService      service.SessionService
}

// NewConversationHandler 创建一个新的 ConversationHandler。
func NewConversationHandler(conversationService service.ConversationService, sessionService service.SessionService) *ConversationHandler {
	return &ConversationHandler{
		conversationService: conversationService,
		sessionService:      sessionService,
	}
}

// GetConversations 处理获取用户对话历史的请求。
// 不带 sessionId 时返回最近一个会话的历史。
func (h *ConversationHandler) GetConversations(c *gin.Context) {
	claims := c.MustGet("claims").(*token.CustomClaims)

	sessionID := h.sessionService.Resolve(claims.UserID, c.Query("sessionId"))
	history, err := h.conversationService.GetHistory(c.Request.Context(), claims.UserID, sessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    http.StatusInternalServerError,
			"message": "Failed to retrieve conversation history",
			"data":    nil,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data": gin.H{
			"sessionId": sessionID,
			"messages":  history,
		},
	})
}

// ListSessions 返回当前用户的全部会话，按创建时间倒序。
func (h *ConversationHandler) ListSessions(c *gin.Context) {
	claims := c.MustGet("claims").(*token.CustomClaims)

	sessions, err := h.sessionService.ListByUser(claims.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    http.StatusInternalServerError,
			"message": "Failed to list sessions",
			"data":    nil,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    sessions,
	})
}

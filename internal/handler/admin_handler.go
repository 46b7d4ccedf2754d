// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"net/http"
	"sales-crm-go/internal/service"
	"sales-crm-go/pkg/log"
	"sales-crm-go/pkg/token"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// AdminHandler 负责处理所有与管理员相关的 API 请求。
type AdminHandler struct {
	adminService service.AdminService
}

// NewAdminHandler 创建一个新的 AdminHandler 实例。
func NewAdminHandler(adminService service.AdminService) *AdminHandler {
	return &AdminHandler{adminService: adminService}
}

// ListUsers 处理分页获取用户列表的请求。
func (h *AdminHandler) ListUsers(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "10"))

	userList, err := h.adminService.ListUsers(page, size)
	if err != nil {
		log.Error("ListUsers: Failed to list users", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "获取用户列表失败", "data": nil})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    userList,
	})
}

// SetUserRoleRequest 定义了调整用户角色 API 的请求体结构。
type SetUserRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

// SetUserRole 处理调整指定用户角色的请求。
func (h *AdminHandler) SetUserRole(c *gin.Context) {
	// 从 URL 路径中解析 userID
	userID, err := strconv.ParseUint(c.Param("userId"), 10, 32)
	if err != nil {
		log.Warnf("SetUserRole: Invalid user ID format, error: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的用户 ID", "data": nil})
		return
	}

	var req SetUserRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("SetUserRole: Invalid request payload for user ID %d, error: %v", userID, err)
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载：role 不能为空", "data": nil})
		return
	}

	user, err := h.adminService.SetUserRole(uint(userID), strings.ToUpper(strings.TrimSpace(req.Role)))
	if err != nil {
		if err.Error() == "user not found" {
			c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "用户不存在", "data": nil})
			return
		}
		if strings.Contains(err.Error(), "角色必须是") {
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": err.Error(), "data": nil})
			return
		}
		log.Error("SetUserRole: Failed to update role", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "更新角色失败", "data": nil})
		return
	}

	claimsValue, _ := c.Get("claims")
	claims := claimsValue.(*token.CustomClaims)
	log.Infof("Admin user '%s' set role of user ID %d to %s", claims.Username, userID, user.Role)
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": user})
}

// GetAllConversations 汇总全部用户的会话历史，可按用户与日期过滤。
func (h *AdminHandler) GetAllConversations(c *gin.Context) {
	// Parse optional userid
	var userID *uint
	if userIDStr := c.Query("userid"); userIDStr != "" {
		id, err := strconv.ParseUint(userIDStr, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "Invalid user ID format", "data": nil})
			return
		}
		uid := uint(id)
		userID = &uid
	}

	// Parse optional time range
	var startTime, endTime *time.Time
	timeLayout := "2006-01-02"
	if startDateStr := c.Query("start_date"); startDateStr != "" {
		t, err := time.Parse(timeLayout, startDateStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "Invalid start_date format, use YYYY-MM-DD", "data": nil})
			return
		}
		startTime = &t
	}
	if endDateStr := c.Query("end_date"); endDateStr != "" {
		t, err := time.Parse(timeLayout, endDateStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "Invalid end_date format, use YYYY-MM-DD", "data": nil})
			return
		}
		// Include the whole day
		t = t.Add(23*time.Hour + 59*time.Minute + 59*time.Second)
		endTime = &t
	}

	conversations, err := h.adminService.GetAllConversations(c.Request.Context(), userID, startTime, endTime)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": err.Error(), "data": nil})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": conversations})
}

// ReindexSearch 把全部 CRM 行重新投递到搜索同步队列。
func (h *AdminHandler) ReindexSearch(c *gin.Context) {
	published, err := h.adminService.ReindexSearch(c.Request.Context())
	if err != nil {
		log.Error("ReindexSearch: Failed to republish sync tasks", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "重建索引任务投递失败", "data": nil})
		return
	}

	claimsValue, _ := c.Get("claims")
	claims := claimsValue.(*token.CustomClaims)
	log.Infof("Admin user '%s' triggered search reindex, %d tasks published", claims.Username, published)
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": gin.H{"published": published}})
}

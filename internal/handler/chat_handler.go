// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sales-crm-go/internal/config"
	"sales-crm-go/internal/model"
	"sales-crm-go/internal/ratelimit"
	"sales-crm-go/internal/service"
	"sales-crm-go/pkg/log"
	"sales-crm-go/pkg/token"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var (
	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // 允许所有来源
		},
	}
)

// ChatHandler 负责处理聊天入口：同步 JSON、SSE 流式与 WebSocket。
type ChatHandler struct {
	chatService   service.ChatService
	userService   service.UserService
	jwtManager    *token.JWTManager
	limiter       *ratelimit.Limiter
	rlCfg         config.RateLimitConfig
	stopToken     string
	stopTokenLock sync.Mutex
	// 每连接停止标志
	stopFlags sync.Map // key: session pointer string, value: bool
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(
	chatService service.ChatService,
	userService service.UserService,
	jwtManager *token.JWTManager,
	limiter *ratelimit.Limiter,
	rlCfg config.RateLimitConfig,
) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		userService: userService,
		jwtManager:  jwtManager,
		limiter:     limiter,
		rlCfg:       rlCfg,
	}
}

// Chat 处理 POST /api/v1/chat。带 stream=true 且接受事件流时走 SSE，否则同步返回。
func (h *ChatHandler) Chat(c *gin.Context) {
	userValue, _ := c.Get("user")
	user, ok := userValue.(*model.User)
	if !ok || user == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "InternalError", "message": "无法获取用户信息"})
		return
	}

	var req model.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("Chat: Invalid request payload, error: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "ValidationError", "message": "message 不能为空"})
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ValidationError", "message": "message 不能为空"})
		return
	}
	req.Mode = strings.ToUpper(strings.TrimSpace(req.Mode))
	if req.Mode != "" && req.Mode != model.ModeCoach && req.Mode != model.ModeQuery {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ValidationError", "message": "mode 只能是 COACH 或 QUERY"})
		return
	}

	// 流式协商：显式 stream=true 且客户端声明接受 text/event-stream
	if c.Query("stream") == "true" && strings.Contains(c.GetHeader("Accept"), "text/event-stream") {
		sink := newSSEWriter(c)
		if err := h.chatService.StreamResponse(c.Request.Context(), req, user, sink); err != nil {
			// error 事件已由服务侧推送，这里只记录
			log.Errorf("Chat: 流式管道执行失败, user: %s, error: %v", user.Username, err)
		}
		return
	}

	resp, err := h.chatService.Respond(c.Request.Context(), req, user)
	if err != nil {
		log.Errorf("Chat: 管道执行失败, user: %s, error: %v", user.Username, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "QueryExecutionError", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Metadata 处理 GET /api/v1/chat，返回聊天服务的静态说明，无任何副作用。
func (h *ChatHandler) Metadata(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service":   "sales-crm-chat",
		"modes":     []string{model.ModeCoach, model.ModeQuery},
		"streaming": []string{"sse", "websocket"},
		"rateLimit": gin.H{
			"limit":         h.rlCfg.Ceiling(),
			"windowMinutes": int(h.rlCfg.Window().Minutes()),
		},
	})
}

// GetWebsocketToken 为 WebSocket 连接签发路径令牌与停止指令令牌。
func (h *ChatHandler) GetWebsocketToken(c *gin.Context) {
	userValue, _ := c.Get("user")
	user, ok := userValue.(*model.User)
	if !ok || user == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "无法获取用户信息", "data": nil})
		return
	}

	wsToken, err := h.jwtManager.GenerateToken(user.ID, user.Username, user.Role)
	if err != nil {
		log.Error("GetWebsocketToken: 签发 WebSocket 令牌失败", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "签发令牌失败", "data": nil})
		return
	}

	h.stopTokenLock.Lock()
	// 在真实的多服务器设置中，这应该在 Redis 中生成和存储
	// 为简单起见，我们在这里使用一个单一的、轮换的令牌。
	h.stopToken = "WSS_STOP_CMD_" + token.GenerateRandomString(16)
	stopToken := h.stopToken
	h.stopTokenLock.Unlock()

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": gin.H{
		"wsToken":  wsToken,
		"cmdToken": stopToken,
	}})
}

// Handle 处理一个传入的 WebSocket 连接，每条消息走一遍完整聊天管道。
func (h *ChatHandler) Handle(c *gin.Context) {
	tokenString := c.Param("token")
	claims, err := h.jwtManager.VerifyToken(tokenString)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的 token", "data": nil})
		return
	}

	// 获取用户模型
	user, err := h.userService.GetProfile(claims.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "无法获取用户信息", "data": nil})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	log.Infof("WebSocket 连接已建立，用户: %s", claims.Username)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("从 WebSocket 读取消息失败: %v", err)
			break
		}

		// 停止指令只置位标志，不触发管道
		if h.handleStopCommand(conn, message) {
			continue
		}

		// 与 REST 入口共享同一个限流计数器
		decision := h.limiter.Check(user.ID)
		if !decision.Allowed {
			resetAt := decision.ResetAt.UTC().Format(time.RFC3339)
			writeWsEvent(conn, model.StreamEvent{Type: model.EventError, Payload: gin.H{
				"error":   "RateLimitExceeded",
				"message": fmt.Sprintf("请求过于频繁，已达窗口上限 %d 次，请在 %s 后重试", decision.Limit, resetAt),
				"resetAt": resetAt,
			}})
			continue
		}

		req, err := parseWsChatRequest(message)
		if err != nil {
			writeWsEvent(conn, model.StreamEvent{Type: model.EventError, Payload: gin.H{
				"error":   "ValidationError",
				"message": err.Error(),
			}})
			continue
		}

		// 清除上一轮的停止标志
		key := sessionKey(conn)
		h.stopFlags.Delete(key)
		sink := &wsEventWriter{
			conn: conn,
			shouldStop: func() bool {
				v, ok := h.stopFlags.Load(key)
				return ok && v.(bool)
			},
		}
		if err := h.chatService.StreamResponse(c.Request.Context(), req, user, sink); err != nil {
			// error 事件已由服务侧推送
			log.Errorf("处理流式响应失败: %v", err)
		}
	}
}

// handleStopCommand 识别停止指令。命中时置位当前连接的停止标志并回执。
func (h *ChatHandler) handleStopCommand(conn *websocket.Conn, message []byte) bool {
	h.stopTokenLock.Lock()
	stopTokenValue := h.stopToken
	h.stopTokenLock.Unlock()

	matched := false
	// 1) JSON 停止指令: {"type":"stop","_internal_cmd_token":"..."}
	if len(message) > 0 && message[0] == '{' {
		var ctrl map[string]interface{}
		if err := json.Unmarshal(message, &ctrl); err == nil {
			if t, ok := ctrl["type"].(string); ok && t == "stop" {
				if tok, ok := ctrl["_internal_cmd_token"].(string); ok && stopTokenValue != "" && tok == stopTokenValue {
					matched = true
				}
			}
		}
	}
	// 2) 旧停止令牌：整条消息等于 stopToken（保留兼容）
	if !matched && stopTokenValue != "" && string(message) == stopTokenValue {
		matched = true
	}
	if !matched {
		return false
	}

	log.Info("收到停止指令，正在中断分块下发...")
	h.stopFlags.Store(sessionKey(conn), true)
	writeWsEvent(conn, model.StreamEvent{Type: "stop", Payload: gin.H{
		"message":   "响应已停止",
		"timestamp": time.Now().UnixMilli(),
	}})
	return true
}

// parseWsChatRequest 解析一条 WebSocket 聊天消息。
// JSON 形式 {"message","mode","sessionId"} 与纯文本形式都接受。
func parseWsChatRequest(message []byte) (model.ChatRequest, error) {
	var req model.ChatRequest
	if len(message) > 0 && message[0] == '{' {
		if err := json.Unmarshal(message, &req); err != nil {
			return req, fmt.Errorf("无法解析聊天消息")
		}
	} else {
		req.Message = string(message)
	}

	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		return req, fmt.Errorf("message 不能为空")
	}
	req.Mode = strings.ToUpper(strings.TrimSpace(req.Mode))
	if req.Mode != "" && req.Mode != model.ModeCoach && req.Mode != model.ModeQuery {
		return req, fmt.Errorf("mode 只能是 COACH 或 QUERY")
	}
	return req, nil
}

// wsEventWriter 把管道事件作为 JSON 文本消息写入 WebSocket 连接。
// 停止标志置位后丢弃后续 chunk，其余事件照常下发。
type wsEventWriter struct {
	mu         sync.Mutex
	conn       *websocket.Conn
	shouldStop func() bool
}

// Send 实现 service.EventSink。
func (w *wsEventWriter) Send(event model.StreamEvent) error {
	if event.Type == model.EventChunk && w.shouldStop != nil && w.shouldStop() {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	b, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return w.conn.WriteMessage(websocket.TextMessage, b)
}

func writeWsEvent(conn *websocket.Conn, event model.StreamEvent) {
	b, err := json.Marshal(event)
	if err != nil {
		return
	}
	_ = conn.WriteMessage(websocket.TextMessage, b)
}

func sessionKey(conn *websocket.Conn) string {
	return fmt.Sprintf("%p", conn)
}

// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"sales-crm-go/internal/config"
	"sales-crm-go/internal/model"
	"sales-crm-go/pkg/log"
	"time"
)

// EventSink 接收管道各阶段的类型化事件，SSE 与 WebSocket 传输各自实现。
// Send 返回错误视为客户端已断开，管道停止后续阶段。
type EventSink interface {
	Send(event model.StreamEvent) error
}

// errClientGone 标记客户端断开导致的提前终止，与管道自身的失败区分开。
var errClientGone = errors.New("client disconnected")

// 纯模式切换指令的确定性应答，不触发任何 LLM 调用。
const (
	coachSwitchAck = "已切换到教练模式。说说你手头的销售难题，我来给建议。"
	querySwitchAck = "已切换到查询模式。想查哪类数据？比如【本月新增了多少线索】。"
)

// ChatService 是聊天管道的编排器：会话解析、历史加载、模式路由、
// 意图识别、数据查询、答案合成与对话落地按固定顺序执行。
type ChatService interface {
	// Respond 同步执行完整管道并返回最终响应。
	Respond(ctx context.Context, req model.ChatRequest, user *model.User) (*model.ChatResponse, error)
	// StreamResponse 执行同一条管道，把各阶段事件实时推送给 sink。
	// 管道失败时推送单条 error 事件后终止；客户端断开不算失败。
	StreamResponse(ctx context.Context, req model.ChatRequest, user *model.User, sink EventSink) error
}

type chatService struct {
	sessionService      SessionService
	conversationService ConversationService
	modeRouter          ModeRouter
	intentClassifier    IntentClassifier
	queryService        QueryService
	answerService       AnswerService
	chatCfg             config.ChatConfig
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(
	sessionService SessionService,
	conversationService ConversationService,
	modeRouter ModeRouter,
	intentClassifier IntentClassifier,
	queryService QueryService,
	answerService AnswerService,
	chatCfg config.ChatConfig,
) ChatService {
	return &chatService{
		sessionService:      sessionService,
		conversationService: conversationService,
		modeRouter:          modeRouter,
		intentClassifier:    intentClassifier,
		queryService:        queryService,
		answerService:       answerService,
		chatCfg:             chatCfg,
	}
}

// Respond 同步执行管道，不产生流式事件。
func (s *chatService) Respond(ctx context.Context, req model.ChatRequest, user *model.User) (*model.ChatResponse, error) {
	return s.run(ctx, req, user, nil)
}

// StreamResponse 执行管道并把事件推送给 sink。
func (s *chatService) StreamResponse(ctx context.Context, req model.ChatRequest, user *model.User, sink EventSink) error {
	_, err := s.run(ctx, req, user, sink)
	if err == nil {
		return nil
	}
	if errors.Is(err, errClientGone) {
		log.Warnf("[ChatService] 客户端断开，管道提前终止, userID: %d", user.ID)
		return nil
	}
	// 管道失败：推送单条 error 事件后终止，不再有 done
	_ = sink.Send(model.StreamEvent{Type: model.EventError, Payload: map[string]string{
		"error":   "ChatPipelineError",
		"message": err.Error(),
	}})
	return err
}

// run 是两条入口共用的管道主体。sink 为 nil 时只计算最终响应。
func (s *chatService) run(ctx context.Context, req model.ChatRequest, user *model.User, sink EventSink) (*model.ChatResponse, error) {
	emit := func(eventType string, payload interface{}) error {
		if sink == nil {
			return nil
		}
		if err := sink.Send(model.StreamEvent{Type: eventType, Payload: payload}); err != nil {
			return errClientGone
		}
		return nil
	}

	// 1. 解析会话并加载最近历史
	sessionID := s.sessionService.Resolve(user.ID, req.SessionID)
	if err := emit(model.EventStatus, map[string]interface{}{"message": "正在处理请求", "sessionId": sessionID}); err != nil {
		return nil, err
	}
	history := s.conversationService.LoadRecent(ctx, user.ID, sessionID, s.chatCfg.History())

	// 2. 路由模式：切换短语 > 显式参数 > 分类
	route := s.modeRouter.Route(ctx, req.Message, req.Mode, history)
	if route.Source != "pinned" {
		if err := emit(model.EventMode, map[string]interface{}{"mode": route.Mode, "source": route.Source}); err != nil {
			return nil, err
		}
	}

	// 纯切换指令（剥离短语后无剩余内容）：确定性确认，不走后续 LLM 阶段
	switchAck := route.Source == "switch" && route.Message == ""

	// 3. 查询模式先做意图识别与数据检索
	var result *model.QueryResult
	confidence := 1.0
	if !switchAck && route.Mode == model.ModeQuery {
		intent := s.intentClassifier.Classify(ctx, route.Message, user.ID)
		confidence = intent.Confidence
		if err := emit(model.EventQuery, intent); err != nil {
			return nil, err
		}

		r := s.queryService.Execute(ctx, route.Message, intent, user)
		if !r.Success {
			return nil, fmt.Errorf("数据查询失败：主查询与关键词检索均未成功，请稍后重试")
		}
		result = &r
		if err := emit(model.EventData, map[string]interface{}{
			"rows":     r.Rows,
			"count":    len(r.Rows),
			"tables":   r.Tables,
			"sql":      r.SQL,
			"fallback": r.Fallback,
		}); err != nil {
			return nil, err
		}
	}

	// 4. 合成回答并流式下发分块
	if err := emit(model.EventResponseStart, nil); err != nil {
		return nil, err
	}
	var answer string
	finalConf := confidence
	if switchAck {
		answer = switchAckFor(route.Mode)
		if err := emit(model.EventChunk, map[string]string{"chunk": answer}); err != nil {
			return nil, err
		}
	} else {
		var onChunk func(chunk string) error
		if sink != nil {
			onChunk = func(chunk string) error {
				return sink.Send(model.StreamEvent{Type: model.EventChunk, Payload: map[string]string{"chunk": chunk}})
			}
		}
		answer, finalConf = s.answerService.Synthesize(ctx, SynthesisInput{
			Question:   route.Message,
			Mode:       route.Mode,
			Result:     result,
			Confidence: confidence,
			History:    history,
		}, onChunk)
	}
	if err := emit(model.EventResponseEnd, nil); err != nil {
		return nil, err
	}

	// 5. 组装响应，异步落地本轮对话，最后收尾
	resp := &model.ChatResponse{
		Answer:     answer,
		Mode:       route.Mode,
		Confidence: finalConf,
		SessionID:  sessionID,
	}
	if result != nil {
		resp.Data = result.Rows
		resp.SQL = result.SQL
		resp.Sources = result.Tables
	}
	s.appendTurn(user.ID, sessionID, req.Message, resp, result)

	if err := emit(model.EventDone, map[string]interface{}{"sessionId": sessionID, "confidence": finalConf}); err != nil {
		return nil, err
	}
	return resp, nil
}

// appendTurn 异步保存一轮完整对话，响应下发不等待它。
func (s *chatService) appendTurn(userID uint, sessionID, question string, resp *model.ChatResponse, result *model.QueryResult) {
	now := time.Now()
	meta := map[string]interface{}{"confidence": resp.Confidence}
	if result != nil && result.Fallback {
		meta["fallback"] = true
	}
	userMsg := model.ChatMessage{Role: model.RoleTurnUser, Content: question, Timestamp: now}
	assistantMsg := model.ChatMessage{Role: model.RoleTurnAssistant, Content: resp.Answer, Mode: resp.Mode, Meta: meta, Timestamp: now}
	s.conversationService.Append(userID, sessionID, userMsg, assistantMsg)
}

func switchAckFor(mode string) string {
	if mode == model.ModeCoach {
		return coachSwitchAck
	}
	return querySwitchAck
}

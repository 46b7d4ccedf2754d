// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"sales-crm-go/internal/config"
	"sales-crm-go/internal/model"
	"sales-crm-go/pkg/llm"
	"sales-crm-go/pkg/log"
	"strings"
)

// RouteResult 是一次模式路由的结果。
type RouteResult struct {
	Mode    string
	Message string // 剥离切换短语后的有效消息
	Source  string // switch / pinned / heuristic / llm / fallback
}

// ModeRouter 决定一条消息走建议模式还是查询模式。
type ModeRouter interface {
	Route(ctx context.Context, message, pinnedMode string, history []model.ChatMessage) RouteResult
}

type modeRouter struct {
	llmClient llm.Client
	chatCfg   config.ChatConfig
}

// NewModeRouter 创建一个新的 ModeRouter 实例。
func NewModeRouter(llmClient llm.Client, chatCfg config.ChatConfig) ModeRouter {
	return &modeRouter{llmClient: llmClient, chatCfg: chatCfg}
}

// 切换短语表。短语命中的优先级最高，覆盖显式参数与分类结果。
var switchPhrases = []struct {
	phrase string
	mode   string
}{
	{"switch to coach mode", model.ModeCoach},
	{"switch to query mode", model.ModeQuery},
	{"切换到教练模式", model.ModeCoach},
	{"切换到查询模式", model.ModeQuery},
	{"切换教练模式", model.ModeCoach},
	{"切换查询模式", model.ModeQuery},
}

// detectSwitchPhrase 识别消息开头的切换短语，返回目标模式与剩余文本。
func detectSwitchPhrase(message string) (mode, remainder string, ok bool) {
	trimmed := strings.TrimSpace(message)
	lower := strings.ToLower(trimmed)
	for _, sp := range switchPhrases {
		if !strings.HasPrefix(lower, sp.phrase) {
			continue
		}
		rest := strings.TrimSpace(trimmed[len(sp.phrase):])
		rest = strings.TrimLeft(rest, ",，.。:：;；")
		return sp.mode, strings.TrimSpace(rest), true
	}
	return "", "", false
}

// 启发式关键词。先看强信号，拿不准再请 LLM 判定一次。
var queryHints = []string{
	"多少", "几个", "几条", "列出", "统计", "查一下", "查询", "总额", "金额", "数量",
	"how many", "count", "list ", "show me", "total", "sum of",
	"客户", "联系人", "线索", "商机", "跟进", "account", "contact", "lead", "opportunit", "activit", "deal", "pipeline",
}

var coachHints = []string{
	"怎么", "如何", "怎样", "建议", "策略", "应该", "提升", "改进", "话术",
	"how do i", "how should", "should i", "advice", "improve", "strategy", "tips",
}

// heuristicMode 根据关键词信号判定模式。两类信号同时出现或都缺失时判定失败。
func heuristicMode(message string) (string, bool) {
	lower := strings.ToLower(message)
	queryScore, coachScore := 0, 0
	for _, h := range queryHints {
		if strings.Contains(lower, h) {
			queryScore++
		}
	}
	for _, h := range coachHints {
		if strings.Contains(lower, h) {
			coachScore++
		}
	}
	if queryScore > 0 && coachScore == 0 {
		return model.ModeQuery, true
	}
	if coachScore > 0 && queryScore == 0 {
		return model.ModeCoach, true
	}
	return "", false
}

const routePrompt = `你是销售 CRM 助手的模式路由器。判断用户这条消息属于哪种模式：
QUERY：询问客户、联系人、线索、商机、跟进记录等数据事实（数量、列表、金额）。
COACH：寻求销售建议、策略、话术等指导性内容。
只回答 QUERY 或 COACH，不要输出其他内容。`

// classifyByLLM 发起一次完成调用判定模式。带超时，解不出有效结果时返回 false。
func (r *modeRouter) classifyByLLM(ctx context.Context, message string, history []model.ChatMessage) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, r.chatCfg.ClassifyTimeout())
	defer cancel()

	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, llm.Message{Role: "system", Content: routePrompt})
	// 最多携带最近 10 轮历史辅助判定
	if len(history) > 10 {
		history = history[len(history)-10:]
	}
	for _, m := range history {
		msgs = append(msgs, llm.Message{Role: m.Role, Content: m.Content})
	}
	msgs = append(msgs, llm.Message{Role: "user", Content: message})

	reply, err := r.llmClient.Chat(ctx, msgs, nil)
	if err != nil {
		log.Errorf("[ModeRouter] LLM 模式判定失败: %v", err)
		return "", false
	}

	upper := strings.ToUpper(reply)
	switch {
	case strings.Contains(upper, model.ModeCoach):
		return model.ModeCoach, true
	case strings.Contains(upper, model.ModeQuery):
		return model.ModeQuery, true
	default:
		log.Warnf("[ModeRouter] LLM 返回了无法识别的模式: %q", reply)
		return "", false
	}
}

// Route 按优先级解析模式：切换短语 > 显式参数 > 关键词启发 > 一次 LLM 判定。
// 全部失手时确定性地落到 QUERY。
func (r *modeRouter) Route(ctx context.Context, message, pinnedMode string, history []model.ChatMessage) RouteResult {
	if mode, remainder, ok := detectSwitchPhrase(message); ok {
		return RouteResult{Mode: mode, Message: remainder, Source: "switch"}
	}

	if pinnedMode == model.ModeCoach || pinnedMode == model.ModeQuery {
		return RouteResult{Mode: pinnedMode, Message: message, Source: "pinned"}
	}

	if mode, ok := heuristicMode(message); ok {
		return RouteResult{Mode: mode, Message: message, Source: "heuristic"}
	}

	if mode, ok := r.classifyByLLM(ctx, message, history); ok {
		return RouteResult{Mode: mode, Message: message, Source: "llm"}
	}

	return RouteResult{Mode: model.ModeQuery, Message: message, Source: "fallback"}
}

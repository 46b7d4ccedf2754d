// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sales-crm-go/internal/config"
	"sales-crm-go/internal/model"
	"sales-crm-go/pkg/llm"
	"sales-crm-go/pkg/log"
	"strings"
)

// 空结果解释本身就是一个有效回答，置信度抬升到此下限。
const emptyResultConfidenceFloor = 0.5

// LLM 失败时的确定性兜底回答，管道绝不返回空答案。
const (
	coachFallbackAnswer = "抱歉，智能建议服务暂时不可用。可以先从最近未跟进的客户入手，整理一份待办清单，稍后再来询问我。"
	queryFallbackAnswer = "抱歉，暂时无法生成数据解读。查询结果已经返回，可以直接查看明细数据，或稍后重试。"
	emptyResultAnswer   = "这次查询没有找到匹配的记录。可能是该条件下还没有数据，也可能是筛选条件太严格。建议放宽条件再查一次，例如去掉状态或时间限制。"
)

// SynthesisInput 是一次答案合成的输入。
type SynthesisInput struct {
	Question   string
	Mode       string
	Result     *model.QueryResult // QUERY 模式下非 nil
	Confidence float64            // 意图置信度
	History    []model.ChatMessage
}

// AnswerService 负责把查询结果或建议请求合成为自然语言回答。
type AnswerService interface {
	// Synthesize 返回回答文本与最终置信度。onChunk 非 nil 时流式回调增量分块。
	// 永远返回非空回答：完成调用失败时降级为确定性兜底文案。
	Synthesize(ctx context.Context, in SynthesisInput, onChunk func(chunk string) error) (string, float64)
}

type answerService struct {
	llmClient llm.Client
	chatCfg   config.ChatConfig
}

// NewAnswerService 创建一个新的 AnswerService 实例。
func NewAnswerService(llmClient llm.Client, chatCfg config.ChatConfig) AnswerService {
	return &answerService{llmClient: llmClient, chatCfg: chatCfg}
}

const defaultCoachRules = `你是经验丰富的销售教练，为销售人员提供务实、可执行的建议。
回答控制在三五句话内，给出一个明确的下一步行动。`

const defaultQueryRules = `你是销售 CRM 的数据助手。根据参考数据回答用户的问题。
只基于参考数据作答，不要编造数字。回答简洁，先给结论再给要点。`

const emptyResultRules = `你是销售 CRM 的数据助手。本次查询没有命中任何记录。
向用户说明两种可能：一是该条件下确实还没有数据，二是筛选条件可能写得太严。
然后给出一个具体的下一步建议（例如放宽某个条件重查，或先录入数据）。
不要假装有数据，控制在三句话内。`

// Synthesize 合成回答。
func (s *answerService) Synthesize(ctx context.Context, in SynthesisInput, onChunk func(chunk string) error) (string, float64) {
	ctx, cancel := context.WithTimeout(ctx, s.chatCfg.AnswerTimeout())
	defer cancel()

	confidence := in.Confidence
	emptyResult := in.Mode == model.ModeQuery && in.Result != nil && len(in.Result.Rows) == 0
	if emptyResult && confidence < emptyResultConfidenceFloor {
		confidence = emptyResultConfidenceFloor
	}

	messages := s.composeMessages(in, emptyResult)

	var answer string
	var err error
	if onChunk == nil {
		answer, err = s.llmClient.Chat(ctx, messages, nil)
	} else {
		builder := &strings.Builder{}
		err = s.llmClient.StreamChat(ctx, messages, nil, func(chunk string) error {
			builder.WriteString(chunk)
			return onChunk(chunk)
		})
		answer = builder.String()
	}

	if err != nil && answer == "" {
		log.Errorf("[AnswerService] 答案合成失败, mode: %s, error: %v", in.Mode, err)
		return s.fallbackAnswer(in.Mode, emptyResult), confidence
	}
	if err != nil {
		// 流已经吐出部分内容后才失败，保留已产出的部分
		log.Errorf("[AnswerService] 答案流中断, 保留已产出内容, error: %v", err)
	}
	if strings.TrimSpace(answer) == "" {
		return s.fallbackAnswer(in.Mode, emptyResult), confidence
	}
	return answer, confidence
}

// composeMessages 按教练/查询两种模式组装提示消息。
func (s *answerService) composeMessages(in SynthesisInput, emptyResult bool) []llm.Message {
	var system strings.Builder

	switch {
	case in.Mode == model.ModeCoach:
		rules := s.chatCfg.CoachRules
		if rules == "" {
			rules = defaultCoachRules
		}
		system.WriteString(rules)
	case emptyResult:
		system.WriteString(emptyResultRules)
		system.WriteString("\n\n用户的查询条件: ")
		system.WriteString(in.Result.SQL)
	default:
		rules := s.chatCfg.QueryRules
		if rules == "" {
			rules = defaultQueryRules
		}
		system.WriteString(rules)
		system.WriteString("\n\n<<REF>>\n")
		system.WriteString(s.buildContextText(in.Result))
		system.WriteString("<<END>>")
	}

	messages := make([]llm.Message, 0, len(in.History)+2)
	messages = append(messages, llm.Message{Role: "system", Content: system.String()})
	for _, m := range in.History {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, llm.Message{Role: "user", Content: in.Question})
	return messages
}

// buildContextText 把查询结果序列化为参考数据块。
func (s *answerService) buildContextText(result *model.QueryResult) string {
	if result == nil {
		return "（无参考数据）\n"
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("数据来源表: %s\n", strings.Join(result.Tables, ", ")))
	if result.Fallback {
		b.WriteString("（以下为关键词检索结果）\n")
	}

	// 控制进入提示词的行数
	rows := result.Rows
	const maxRows = 20
	if len(rows) > maxRows {
		rows = rows[:maxRows]
	}
	for i, row := range rows {
		line, err := json.Marshal(row)
		if err != nil {
			continue
		}
		b.WriteString(fmt.Sprintf("[%d] %s\n", i+1, string(line)))
	}
	if len(result.Rows) > maxRows {
		b.WriteString(fmt.Sprintf("（共 %d 行，仅展示前 %d 行）\n", len(result.Rows), maxRows))
	}
	return b.String()
}

func (s *answerService) fallbackAnswer(mode string, emptyResult bool) string {
	if emptyResult {
		return emptyResultAnswer
	}
	if mode == model.ModeCoach {
		return coachFallbackAnswer
	}
	return queryFallbackAnswer
}

// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"encoding/json"
	"sales-crm-go/internal/config"
	"sales-crm-go/internal/model"
	"sales-crm-go/internal/repository"
	"sales-crm-go/pkg/llm"
	"sales-crm-go/pkg/log"
	"strings"
)

// 启发式兜底产出的意图置信度。
const heuristicConfidence = 0.2

// IntentClassifier 把查询模式下的自由文本解析为结构化查询意图。
type IntentClassifier interface {
	// Classify 总是返回一个可执行的意图，解析失败时降级为低置信度的关键词意图。
	Classify(ctx context.Context, message string, userID uint) model.QueryIntent
}

type intentClassifier struct {
	llmClient llm.Client
	chatCfg   config.ChatConfig
}

// NewIntentClassifier 创建一个新的 IntentClassifier 实例。
func NewIntentClassifier(llmClient llm.Client, chatCfg config.ChatConfig) IntentClassifier {
	return &intentClassifier{llmClient: llmClient, chatCfg: chatCfg}
}

const intentPrompt = `你是销售 CRM 的查询意图解析器。把用户消息解析为 JSON，结构如下：
{"category":"list 或 stats","entities":["account","contact","lead","opportunity","activity" 中的若干项],"filters":{"列名":"值"},"aggregation":"count、sum、avg 或空串","confidence":0到1的小数}
filters 的列名只能用：name、company、subject、title、industry、region、status、stage、source、type、email、done。
sum 和 avg 只对 opportunity 的金额有意义。
只输出 JSON 本身，不要输出任何解释或代码块标记。`

// Classify 解析查询意图。
func (c *intentClassifier) Classify(ctx context.Context, message string, userID uint) model.QueryIntent {
	ctx, cancel := context.WithTimeout(ctx, c.chatCfg.ClassifyTimeout())
	defer cancel()

	msgs := []llm.Message{
		{Role: "system", Content: intentPrompt},
		{Role: "user", Content: message},
	}

	reply, err := c.llmClient.Chat(ctx, msgs, nil)
	if err != nil {
		log.Errorf("[IntentClassifier] LLM 意图解析失败, userID: %d, error: %v", userID, err)
		return heuristicIntent(message)
	}

	intent, ok := parseIntentJSON(reply)
	if !ok {
		log.Warnf("[IntentClassifier] LLM 返回了无法解析的意图: %q", reply)
		return heuristicIntent(message)
	}
	return intent
}

// parseIntentJSON 宽容地解析 LLM 输出：剥掉围栏标记、截取 JSON 主体、
// 逐字段设默认值并做合法性过滤。
func parseIntentJSON(reply string) (model.QueryIntent, bool) {
	raw := extractJSON(reply)
	if raw == "" {
		return model.QueryIntent{}, false
	}

	var parsed struct {
		Category    string            `json:"category"`
		Entities    []string          `json:"entities"`
		Filters     map[string]string `json:"filters"`
		Aggregation string            `json:"aggregation"`
		Confidence  float64           `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return model.QueryIntent{}, false
	}

	intent := model.QueryIntent{
		Category:    parsed.Category,
		Entities:    make([]string, 0, len(parsed.Entities)),
		Filters:     map[string]string{},
		Aggregation: normalizeAggregation(parsed.Aggregation),
		Confidence:  clampConfidence(parsed.Confidence),
	}
	if intent.Category == "" {
		intent.Category = "list"
	}
	for _, e := range parsed.Entities {
		if canonical, ok := canonicalEntity(e); ok && !containsString(intent.Entities, canonical) {
			intent.Entities = append(intent.Entities, canonical)
		}
	}
	for k, v := range parsed.Filters {
		key := strings.ToLower(strings.TrimSpace(k))
		val := strings.TrimSpace(v)
		if key != "" && val != "" {
			intent.Filters[key] = val
		}
	}
	return intent, true
}

// extractJSON 截取回复中首个 '{' 到末个 '}' 之间的内容。
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

func normalizeAggregation(agg string) string {
	switch strings.ToLower(strings.TrimSpace(agg)) {
	case model.AggregationCount:
		return model.AggregationCount
	case model.AggregationSum:
		return model.AggregationSum
	case model.AggregationAvg:
		return model.AggregationAvg
	default:
		return model.AggregationNone
	}
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// canonicalEntity 把 LLM 或关键词产出的实体名归一化为受支持的逻辑名。
func canonicalEntity(e string) (string, bool) {
	normalized := strings.ToLower(strings.TrimSpace(e))
	normalized = strings.TrimSuffix(normalized, "s")
	switch normalized {
	case "account", "customer", "company":
		return "account", true
	case "contact", "person", "people":
		return "contact", true
	case "lead", "prospect":
		return "lead", true
	case "opportunity", "opportunitie", "deal":
		return "opportunity", true
	case "activity", "activitie", "task", "followup", "follow-up":
		return "activity", true
	}
	if repository.KnownEntity(normalized) {
		return normalized, true
	}
	return "", false
}

// 实体关键词表，供启发式兜底使用。
var entityHints = map[string][]string{
	"account":     {"客户", "公司", "account", "customer"},
	"contact":     {"联系人", "contact"},
	"lead":        {"线索", "lead", "prospect"},
	"opportunity": {"商机", "订单", "opportunit", "deal", "pipeline"},
	"activity":    {"跟进", "拜访", "任务", "日程", "activit", "task", "follow"},
}

// heuristicIntent 关键词兜底：实体与聚合从字面匹配，置信度固定为低值。
func heuristicIntent(message string) model.QueryIntent {
	lower := strings.ToLower(message)

	intent := model.QueryIntent{
		Category:    "list",
		Entities:    []string{},
		Filters:     map[string]string{},
		Aggregation: model.AggregationNone,
		Confidence:  heuristicConfidence,
	}

	for _, entity := range repository.Entities() {
		for _, hint := range entityHints[entity] {
			if strings.Contains(lower, hint) {
				intent.Entities = append(intent.Entities, entity)
				break
			}
		}
	}

	switch {
	case containsAny(lower, "多少", "几个", "几条", "数量", "how many", "count"):
		intent.Aggregation = model.AggregationCount
		intent.Category = "stats"
	case containsAny(lower, "总额", "总金额", "合计", "total", "sum"):
		intent.Aggregation = model.AggregationSum
		intent.Category = "stats"
	case containsAny(lower, "平均", "均值", "average", "avg"):
		intent.Aggregation = model.AggregationAvg
		intent.Category = "stats"
	}

	// 金额聚合只对商机有意义，实体缺失时补上
	if (intent.Aggregation == model.AggregationSum || intent.Aggregation == model.AggregationAvg) && len(intent.Entities) == 0 {
		intent.Entities = append(intent.Entities, "opportunity")
	}

	return intent
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

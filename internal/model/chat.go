// Package model 包含了应用的数据模型定义。
package model

// 聊天模式常量。COACH 为建议模式，QUERY 为数据查询模式。
const (
	ModeCoach = "COACH"
	ModeQuery = "QUERY"
)

// 意图聚合类型常量。
const (
	AggregationNone  = ""
	AggregationCount = "count"
	AggregationSum   = "sum"
	AggregationAvg   = "avg"
)

// ChatRequest 定义了聊天接口的请求体。
type ChatRequest struct {
	Message   string `json:"message" binding:"required"`
	Mode      string `json:"mode"`      // 可选：显式指定 COACH 或 QUERY
	SessionID string `json:"sessionId"` // 可选：延续已有会话
}

// ChatResponse 定义了非流式聊天接口的响应体。
type ChatResponse struct {
	Answer     string                   `json:"answer"`
	Mode       string                   `json:"mode"`
	Data       []map[string]interface{} `json:"data,omitempty"`
	Confidence float64                  `json:"confidence"`
	SessionID  string                   `json:"sessionId"`
	SQL        string                   `json:"sql,omitempty"`
	Sources    []string                 `json:"sources,omitempty"`
}

// QueryIntent 是意图分类的结果，仅在当次请求内使用，不落库。
type QueryIntent struct {
	Category    string            `json:"category"`
	Entities    []string          `json:"entities"`
	Filters     map[string]string `json:"filters"`
	Aggregation string            `json:"aggregation"`
	Confidence  float64           `json:"confidence"`
}

// QueryResult 是查询执行器的输出，供答案生成与响应序列化使用。
type QueryResult struct {
	Rows     []map[string]interface{} `json:"rows"`
	Tables   []string                 `json:"tables"`   // 实际贡献了数据的来源表
	SQL      string                   `json:"sql"`      // 合成的查询描述，用于透明展示
	Success  bool                     `json:"success"`  // 至少一个来源成功即为 true
	Fallback bool                     `json:"fallback"` // 是否由关键词兜底引擎产出
}

// 流式事件类型常量，顺序固定：
// status -> mode -> query -> data -> response_start -> chunk* -> response_end -> done。
// 任一阶段出错时发送 error 并终止。
const (
	EventStatus        = "status"
	EventMode          = "mode"
	EventQuery         = "query"
	EventData          = "data"
	EventResponseStart = "response_start"
	EventChunk         = "chunk"
	EventResponseEnd   = "response_end"
	EventDone          = "done"
	EventError         = "error"
)

// StreamEvent 代表推送给客户端的一个流式事件。
type StreamEvent struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

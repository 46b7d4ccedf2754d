// Package model 定义了与数据库表对应的 Go 结构体。
package model

// SearchDoc 代表存储在 Elasticsearch 中的 CRM 检索文档结构。
// 每条 CRM 记录在索引中对应一个扁平化的文档，关键词兜底查询走此索引。
type SearchDoc struct {
	DocID     string  `json:"doc_id"` // 唯一标识，例如 "account:42"
	Entity    string  `json:"entity"` // account / contact / lead / opportunity / activity
	EntityID  uint    `json:"entity_id"`
	OwnerID   uint    `json:"owner_id"`
	Title     string  `json:"title"` // 名称、主题等主显示字段
	Body      string  `json:"body"`  // 拼接的可检索正文
	Status    string  `json:"status,omitempty"`
	Amount    float64 `json:"amount,omitempty"`
	CreatedAt string  `json:"created_at"`
}

// SearchHit 定义了关键词检索返回的单条命中结果。
type SearchHit struct {
	DocID    string  `json:"docId"`
	Entity   string  `json:"entity"`
	EntityID uint    `json:"entityId"`
	Title    string  `json:"title"`
	Body     string  `json:"body"`
	Score    float64 `json:"score"`
}

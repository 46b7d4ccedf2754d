// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

import "fmt"

// 同步动作常量。
const (
	ActionIndex  = "index"
	ActionDelete = "delete"
)

// SearchSyncTask represents a CRM row change that must be synced into the
// search index.
type SearchSyncTask struct {
	Entity   string `json:"entity"` // account / contact / lead / opportunity / activity
	EntityID uint   `json:"entity_id"`
	Action   string `json:"action"` // index / delete
}

// Key 返回任务的唯一键，同时用作 Kafka 消息 key 和失败重试计数键，
// 保证同一条记录的变更顺序进入同一分区。
func (t SearchSyncTask) Key() string {
	return fmt.Sprintf("%s:%d", t.Entity, t.EntityID)
}

// Package pipeline 定义了 CRM 数据同步到搜索索引的核心流程。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sales-crm-go/internal/config"
	"sales-crm-go/internal/model"
	"sales-crm-go/internal/repository"
	"sales-crm-go/pkg/es"
	"sales-crm-go/pkg/log"
	"sales-crm-go/pkg/tasks"

	"gorm.io/gorm"
)

// Indexer 消费搜索同步任务，把 CRM 行写入或移出 Elasticsearch 索引。
type Indexer struct {
	crmRepo repository.CrmRepository
	esCfg   config.ElasticsearchConfig

	indexDoc  func(ctx context.Context, indexName string, doc model.SearchDoc) error
	deleteDoc func(ctx context.Context, indexName, docID string) error
}

// NewIndexer 创建一个新的 Indexer 实例。
func NewIndexer(crmRepo repository.CrmRepository, esCfg config.ElasticsearchConfig) *Indexer {
	return &Indexer{
		crmRepo:   crmRepo,
		esCfg:     esCfg,
		indexDoc:  es.IndexDocument,
		deleteDoc: es.DeleteDocument,
	}
}

// Process 是搜索同步任务的主函数。返回错误时由消费端的重试计数决定去留。
func (p *Indexer) Process(ctx context.Context, task tasks.SearchSyncTask) error {
	if !repository.KnownEntity(task.Entity) {
		// 未知实体无法通过重试恢复，直接吞掉
		log.Warnf("[Indexer] 跳过未知实体任务, task: %s", task.Key())
		return nil
	}

	if task.Action == tasks.ActionDelete {
		log.Infof("[Indexer] 删除检索文档, task: %s", task.Key())
		return p.deleteDoc(ctx, p.esCfg.IndexName, task.Key())
	}

	// 1. 回表读取最新行内容
	doc, err := p.crmRepo.FindForIndex(task.Entity, task.EntityID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// 行已不存在：索引任务降级为删除，保证索引不留孤儿
		log.Warnf("[Indexer] 行已删除, 转为移除检索文档, task: %s", task.Key())
		return p.deleteDoc(ctx, p.esCfg.IndexName, task.Key())
	}
	if err != nil {
		log.Errorf("[Indexer] 回表读取失败, task: %s, error: %v", task.Key(), err)
		return fmt.Errorf("回表读取 %s 失败: %w", task.Key(), err)
	}

	// 2. 写入 Elasticsearch
	if err := p.indexDoc(ctx, p.esCfg.IndexName, *doc); err != nil {
		log.Errorf("[Indexer] 索引检索文档失败, task: %s, error: %v", task.Key(), err)
		return fmt.Errorf("索引 %s 到 Elasticsearch 失败: %w", task.Key(), err)
	}
	log.Infof("[Indexer] 检索文档已更新, task: %s", task.Key())
	return nil
}

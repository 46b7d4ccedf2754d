// Package repository 提供了数据访问层的实现。
package repository

import (
	"fmt"
	"sales-crm-go/internal/model"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"
)

// 实体逻辑名与数据库表名的映射。
var entityTables = map[string]string{
	"account":     "accounts",
	"contact":     "contacts",
	"lead":        "leads",
	"opportunity": "opportunities",
	"activity":    "activities",
}

// 模糊匹配的列。其余白名单列做等值匹配。
var likeColumns = map[string]bool{
	"name":    true,
	"company": true,
	"subject": true,
	"title":   true,
}

// 各实体允许过滤的列白名单，意图里出现的其他键一律忽略。
var entityColumns = map[string]map[string]bool{
	"account":     {"name": true, "industry": true, "region": true, "status": true},
	"contact":     {"name": true, "title": true, "email": true},
	"lead":        {"name": true, "company": true, "source": true, "status": true},
	"opportunity": {"name": true, "stage": true},
	"activity":    {"type": true, "subject": true, "done": true},
}

// CrmScope 表示一次查询的可见范围。非特权用户只能看到自己名下的记录。
type CrmScope struct {
	UserID   uint
	Elevated bool
}

// RowQuery 是一次针对单个实体的结构化行查询。
type RowQuery struct {
	Entity  string
	Filters map[string]string
	Since   *time.Time // created_at >= Since
	Until   *time.Time // created_at < Until
	Limit   int
}

// CrmRepository 接口定义了聊天管道对 CRM 数据的只读访问。
type CrmRepository interface {
	FindRows(query RowQuery, scope CrmScope) ([]map[string]interface{}, error)
	Count(query RowQuery, scope CrmScope) (int64, error)
	SumAmount(query RowQuery, scope CrmScope) (float64, error)
	AvgAmount(query RowQuery, scope CrmScope) (float64, error)
	FindForIndex(entity string, entityID uint) (*model.SearchDoc, error)
	ListIDs(entity string) ([]uint, error)
}

// crmRepository 是 CrmRepository 接口的 GORM 实现。
type crmRepository struct {
	db *gorm.DB
}

// NewCrmRepository 创建一个新的 CrmRepository 实例。
func NewCrmRepository(db *gorm.DB) CrmRepository {
	return &crmRepository{db: db}
}

// buildQuery 将结构化查询翻译为 GORM 查询链。
// 白名单之外的过滤键直接忽略，保证意图里的任意键不会进入 SQL。
func (r *crmRepository) buildQuery(query RowQuery, scope CrmScope) (*gorm.DB, error) {
	table, ok := entityTables[query.Entity]
	if !ok {
		return nil, fmt.Errorf("未知的查询实体: %s", query.Entity)
	}

	db := r.db.Table(table)
	if !scope.Elevated {
		db = db.Where("owner_id = ?", scope.UserID)
	}

	allowed := entityColumns[query.Entity]
	for col, val := range query.Filters {
		if !allowed[col] {
			continue
		}
		switch {
		case likeColumns[col]:
			db = db.Where(col+" LIKE ?", "%"+val+"%")
		case col == "done":
			db = db.Where("done = ?", val == "true" || val == "1")
		default:
			db = db.Where(col+" = ?", val)
		}
	}

	if query.Since != nil {
		db = db.Where("created_at >= ?", *query.Since)
	}
	if query.Until != nil {
		db = db.Where("created_at < ?", *query.Until)
	}
	return db, nil
}

// FindRows 执行行查询，按创建时间倒序返回至多 Limit 条记录。
func (r *crmRepository) FindRows(query RowQuery, scope CrmScope) ([]map[string]interface{}, error) {
	db, err := r.buildQuery(query, scope)
	if err != nil {
		return nil, err
	}
	limit := query.Limit
	if limit <= 0 {
		limit = 20
	}
	var rows []map[string]interface{}
	if err := db.Order("created_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("查询 %s 失败: %w", query.Entity, err)
	}
	return rows, nil
}

// Count 统计满足条件的记录数。
func (r *crmRepository) Count(query RowQuery, scope CrmScope) (int64, error) {
	db, err := r.buildQuery(query, scope)
	if err != nil {
		return 0, err
	}
	var total int64
	if err := db.Count(&total).Error; err != nil {
		return 0, fmt.Errorf("统计 %s 失败: %w", query.Entity, err)
	}
	return total, nil
}

// SumAmount 汇总商机金额，仅对 opportunity 实体有意义。
func (r *crmRepository) SumAmount(query RowQuery, scope CrmScope) (float64, error) {
	return r.aggregateAmount(query, scope, "COALESCE(SUM(amount), 0)")
}

// AvgAmount 计算商机平均金额，仅对 opportunity 实体有意义。
func (r *crmRepository) AvgAmount(query RowQuery, scope CrmScope) (float64, error) {
	return r.aggregateAmount(query, scope, "COALESCE(AVG(amount), 0)")
}

func (r *crmRepository) aggregateAmount(query RowQuery, scope CrmScope, expr string) (float64, error) {
	if query.Entity != "opportunity" {
		return 0, fmt.Errorf("实体 %s 不支持金额聚合", query.Entity)
	}
	db, err := r.buildQuery(query, scope)
	if err != nil {
		return 0, err
	}
	var value float64
	if err := db.Select(expr).Row().Scan(&value); err != nil {
		return 0, fmt.Errorf("聚合 %s 失败: %w", query.Entity, err)
	}
	return value, nil
}

// FindForIndex 读取单条 CRM 记录并扁平化为检索文档，供索引器使用。
// 记录已不存在时返回 gorm.ErrRecordNotFound。
func (r *crmRepository) FindForIndex(entity string, entityID uint) (*model.SearchDoc, error) {
	const timeLayout = "2006-01-02 15:04:05"
	docID := fmt.Sprintf("%s:%d", entity, entityID)

	switch entity {
	case "account":
		var row model.Account
		if err := r.db.First(&row, entityID).Error; err != nil {
			return nil, err
		}
		return &model.SearchDoc{
			DocID: docID, Entity: entity, EntityID: row.ID, OwnerID: row.OwnerID,
			Title:  row.Name,
			Body:   strings.TrimSpace(row.Industry + " " + row.Region),
			Status: row.Status, CreatedAt: row.CreatedAt.Format(timeLayout),
		}, nil
	case "contact":
		var row model.Contact
		if err := r.db.First(&row, entityID).Error; err != nil {
			return nil, err
		}
		return &model.SearchDoc{
			DocID: docID, Entity: entity, EntityID: row.ID, OwnerID: row.OwnerID,
			Title:     row.Name,
			Body:      strings.TrimSpace(row.Title + " " + row.Email + " " + row.Phone),
			CreatedAt: row.CreatedAt.Format(timeLayout),
		}, nil
	case "lead":
		var row model.Lead
		if err := r.db.First(&row, entityID).Error; err != nil {
			return nil, err
		}
		return &model.SearchDoc{
			DocID: docID, Entity: entity, EntityID: row.ID, OwnerID: row.OwnerID,
			Title:  row.Name,
			Body:   strings.TrimSpace(row.Company + " " + row.Source),
			Status: row.Status, CreatedAt: row.CreatedAt.Format(timeLayout),
		}, nil
	case "opportunity":
		var row model.Opportunity
		if err := r.db.First(&row, entityID).Error; err != nil {
			return nil, err
		}
		return &model.SearchDoc{
			DocID: docID, Entity: entity, EntityID: row.ID, OwnerID: row.OwnerID,
			Title:  row.Name,
			Body:   row.Stage,
			Status: row.Stage, Amount: row.Amount, CreatedAt: row.CreatedAt.Format(timeLayout),
		}, nil
	case "activity":
		var row model.Activity
		if err := r.db.First(&row, entityID).Error; err != nil {
			return nil, err
		}
		return &model.SearchDoc{
			DocID: docID, Entity: entity, EntityID: row.ID, OwnerID: row.OwnerID,
			Title:     row.Subject,
			Body:      row.Type,
			Status:    strconv.FormatBool(row.Done),
			CreatedAt: row.CreatedAt.Format(timeLayout),
		}, nil
	default:
		return nil, fmt.Errorf("未知的查询实体: %s", entity)
	}
}

// ListIDs 返回实体全表的主键列表，供重建索引时逐条投递任务。
func (r *crmRepository) ListIDs(entity string) ([]uint, error) {
	table, ok := entityTables[entity]
	if !ok {
		return nil, fmt.Errorf("未知的查询实体: %s", entity)
	}
	var ids []uint
	if err := r.db.Table(table).Order("id").Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("扫描 %s 主键失败: %w", entity, err)
	}
	return ids, nil
}

// Entities 返回全部受支持的实体逻辑名，顺序固定。
func Entities() []string {
	return []string{"account", "contact", "lead", "opportunity", "activity"}
}

// KnownEntity 判断实体逻辑名是否受支持。
func KnownEntity(entity string) bool {
	_, ok := entityTables[entity]
	return ok
}

// TableOf 返回实体对应的表名，未知实体返回空串。
func TableOf(entity string) string {
	return entityTables[entity]
}

// DescribeQuery 以可读 SQL 形式描述一次行查询，用于响应中的透明展示。
// 它只是展示用途，真实查询由 GORM 构建。
func DescribeQuery(query RowQuery, scope CrmScope, aggregation string) string {
	table := entityTables[query.Entity]
	if table == "" {
		table = query.Entity
	}

	sel := "*"
	switch aggregation {
	case model.AggregationCount:
		sel = "COUNT(*)"
	case model.AggregationSum:
		sel = "SUM(amount)"
	case model.AggregationAvg:
		sel = "AVG(amount)"
	}

	conds := make([]string, 0, len(query.Filters)+3)
	if !scope.Elevated {
		conds = append(conds, fmt.Sprintf("owner_id = %d", scope.UserID))
	}
	allowed := entityColumns[query.Entity]
	for _, col := range []string{"name", "company", "subject", "title", "industry", "region", "status", "stage", "source", "type", "email", "done"} {
		val, ok := query.Filters[col]
		if !ok || !allowed[col] {
			continue
		}
		if likeColumns[col] {
			conds = append(conds, fmt.Sprintf("%s LIKE '%%%s%%'", col, val))
		} else {
			conds = append(conds, fmt.Sprintf("%s = '%s'", col, val))
		}
	}
	if query.Since != nil {
		conds = append(conds, fmt.Sprintf("created_at >= '%s'", query.Since.Format("2006-01-02")))
	}
	if query.Until != nil {
		conds = append(conds, fmt.Sprintf("created_at < '%s'", query.Until.Format("2006-01-02")))
	}

	sql := fmt.Sprintf("SELECT %s FROM %s", sel, table)
	if len(conds) > 0 {
		sql += " WHERE " + strings.Join(conds, " AND ")
	}
	if aggregation == model.AggregationNone {
		limit := query.Limit
		if limit <= 0 {
			limit = 20
		}
		sql += fmt.Sprintf(" ORDER BY created_at DESC LIMIT %d", limit)
	}
	return sql
}

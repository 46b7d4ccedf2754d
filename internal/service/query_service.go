// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"fmt"
	"sales-crm-go/internal/config"
	"sales-crm-go/internal/model"
	"sales-crm-go/internal/repository"
	"sales-crm-go/pkg/log"
	"strings"
	"time"
)

// QueryService 把结构化意图翻译为数据查询并执行。
type QueryService interface {
	// Execute 总是返回一个结果：Success 标记至少一个数据源成功。
	// 主路径全部失败时同步调用一次关键词兜底引擎，兜底结果即为最终结果。
	Execute(ctx context.Context, message string, intent model.QueryIntent, user *model.User) model.QueryResult
}

type queryService struct {
	crmRepo        repository.CrmRepository
	keywordService KeywordService
	chatCfg        config.ChatConfig
}

// NewQueryService 创建一个新的 QueryService 实例。
func NewQueryService(crmRepo repository.CrmRepository, keywordService KeywordService, chatCfg config.ChatConfig) QueryService {
	return &queryService{
		crmRepo:        crmRepo,
		keywordService: keywordService,
		chatCfg:        chatCfg,
	}
}

// Execute 执行一次意图查询。
func (s *queryService) Execute(ctx context.Context, message string, intent model.QueryIntent, user *model.User) model.QueryResult {
	ctx, cancel := context.WithTimeout(ctx, s.chatCfg.QueryTimeout())
	defer cancel()

	result := s.executePrimary(intent, user)
	if result.Success {
		return result
	}

	// 主路径全军覆没，关键词引擎兜底，只试这一次
	log.Warnf("[QueryService] 结构化查询全部失败, 转关键词兜底, userID: %d", user.ID)
	return s.executeFallback(ctx, message, user)
}

// executePrimary 逐实体执行结构化查询。单个实体失败只记日志，不影响其余实体。
func (s *queryService) executePrimary(intent model.QueryIntent, user *model.User) model.QueryResult {
	scope := repository.CrmScope{UserID: user.ID, Elevated: user.IsElevated()}

	entities := intent.Entities
	if len(entities) == 0 {
		// 意图没给出实体时扫全部实体，宁可多查不可漏查
		entities = repository.Entities()
	}

	filters, since, until := splitFilters(intent.Filters)

	result := model.QueryResult{
		Rows:   []map[string]interface{}{},
		Tables: []string{},
	}
	var sqlParts []string

	switch intent.Aggregation {
	case model.AggregationSum, model.AggregationAvg:
		// 金额聚合只对商机有意义，其余实体直接忽略
		query := repository.RowQuery{Entity: "opportunity", Filters: filters, Since: since, Until: until}
		var value float64
		var err error
		var column string
		if intent.Aggregation == model.AggregationSum {
			value, err = s.crmRepo.SumAmount(query, scope)
			column = "total_amount"
		} else {
			value, err = s.crmRepo.AvgAmount(query, scope)
			column = "avg_amount"
		}
		sqlParts = append(sqlParts, repository.DescribeQuery(query, scope, intent.Aggregation))
		if err != nil {
			log.Errorf("[QueryService] 商机金额聚合失败: %v", err)
			break
		}
		result.Rows = append(result.Rows, map[string]interface{}{"entity": "opportunity", column: value})
		result.Tables = append(result.Tables, repository.TableOf("opportunity"))
		result.Success = true

	case model.AggregationCount:
		for _, entity := range entities {
			query := repository.RowQuery{Entity: entity, Filters: filters, Since: since, Until: until}
			sqlParts = append(sqlParts, repository.DescribeQuery(query, scope, model.AggregationCount))
			total, err := s.crmRepo.Count(query, scope)
			if err != nil {
				log.Errorf("[QueryService] 统计 %s 失败: %v", entity, err)
				continue
			}
			result.Rows = append(result.Rows, map[string]interface{}{"entity": entity, "count": total})
			result.Tables = append(result.Tables, repository.TableOf(entity))
			result.Success = true
		}

	default:
		for _, entity := range entities {
			query := repository.RowQuery{Entity: entity, Filters: filters, Since: since, Until: until}
			sqlParts = append(sqlParts, repository.DescribeQuery(query, scope, model.AggregationNone))
			rows, err := s.crmRepo.FindRows(query, scope)
			if err != nil {
				log.Errorf("[QueryService] 查询 %s 失败: %v", entity, err)
				continue
			}
			for _, row := range rows {
				row["entity"] = entity
				result.Rows = append(result.Rows, row)
			}
			result.Tables = append(result.Tables, repository.TableOf(entity))
			result.Success = true
		}
	}

	result.SQL = strings.Join(sqlParts, "; ")
	return result
}

// executeFallback 用原始消息做一次关键词检索。检索出错即为最终失败。
func (s *queryService) executeFallback(ctx context.Context, message string, user *model.User) model.QueryResult {
	result := model.QueryResult{
		Rows:     []map[string]interface{}{},
		Tables:   []string{},
		SQL:      fmt.Sprintf("keyword_search(%q)", message),
		Fallback: true,
	}

	hits, err := s.keywordService.Search(ctx, message, 10, user)
	if err != nil {
		log.Errorf("[QueryService] 关键词兜底也失败了: %v", err)
		return result
	}

	for _, hit := range hits {
		result.Rows = append(result.Rows, map[string]interface{}{
			"entity": hit.Entity,
			"id":     hit.EntityID,
			"title":  hit.Title,
			"body":   hit.Body,
			"score":  hit.Score,
		})
	}
	result.Tables = append(result.Tables, "crm_search")
	result.Success = true
	return result
}

// splitFilters 把意图过滤条件拆成列过滤与时间范围。
// created_after / created_before 支持日期或日期时间两种写法。
func splitFilters(raw map[string]string) (filters map[string]string, since, until *time.Time) {
	filters = make(map[string]string, len(raw))
	for k, v := range raw {
		switch k {
		case "created_after", "since":
			if t, ok := parseDay(v); ok {
				since = &t
			}
		case "created_before", "until":
			if t, ok := parseDay(v); ok {
				until = &t
			}
		default:
			filters[k] = v
		}
	}
	return filters, since, until
}

func parseDay(v string) (time.Time, bool) {
	for _, layout := range []string{"2006-01-02", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	log.Warnf("[QueryService] 忽略无法解析的时间过滤值: %q", v)
	return time.Time{}, false
}

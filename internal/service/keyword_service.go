// Package service 提供了搜索相关的业务逻辑。
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"sales-crm-go/internal/config"
	"sales-crm-go/internal/model"
	"sales-crm-go/pkg/log"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
)

// KeywordService 是结构化查询失败后的关键词兜底引擎：
// 一次 BM25 检索，命中什么返回什么。
type KeywordService interface {
	Search(ctx context.Context, query string, topK int, user *model.User) ([]model.SearchHit, error)
}

type keywordService struct {
	esClient *elasticsearch.Client
	esCfg    config.ElasticsearchConfig
}

// NewKeywordService 创建一个新的 KeywordService 实例。
func NewKeywordService(esClient *elasticsearch.Client, esCfg config.ElasticsearchConfig) KeywordService {
	return &keywordService{esClient: esClient, esCfg: esCfg}
}

// Search 在 crm_search 索引上执行关键词检索，范围限定在用户可见的记录内。
func (s *keywordService) Search(ctx context.Context, query string, topK int, user *model.User) ([]model.SearchHit, error) {
	log.Infof("[KeywordService] 开始关键词检索, query: '%s', topK: %d, user: %s", query, topK, user.Username)

	// 1. 轻量归一化去噪，提取核心关键词
	normalized := normalizeQuery(query)
	if normalized != query {
		log.Infof("[KeywordService] 规范化查询: '%s' -> '%s'", query, normalized)
	}

	// 2. 构建 BM25 查询。非特权用户加 owner_id 过滤
	boolQuery := map[string]interface{}{
		"must": map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  normalized,
				"fields": []string{"title^2", "body"},
			},
		},
	}
	if !user.IsElevated() {
		boolQuery["filter"] = []map[string]interface{}{
			{"term": map[string]interface{}{"owner_id": user.ID}},
		}
	}

	esQuery := map[string]interface{}{
		"query": map[string]interface{}{"bool": boolQuery},
		"size":  topK,
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}

	// 3. 执行搜索
	res, err := s.esClient.Search(
		s.esClient.Search.WithContext(ctx),
		s.esClient.Search.WithIndex(s.esCfg.IndexName),
		s.esClient.Search.WithBody(&buf),
		s.esClient.Search.WithTrackTotalHits(true),
	)
	if err != nil {
		log.Errorf("[KeywordService] 向 Elasticsearch 发送搜索请求失败: %v", err)
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		log.Errorf("[KeywordService] Elasticsearch 返回错误, status: %s, body: %s", res.Status(), string(bodyBytes))
		return nil, fmt.Errorf("elasticsearch returned an error: %s", res.String())
	}

	// 4. 解析结果
	var esResponse struct {
		Hits struct {
			Hits []struct {
				Source model.SearchDoc `json:"_source"`
				Score  float64         `json:"_score"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}

	hits := make([]model.SearchHit, 0, len(esResponse.Hits.Hits))
	for _, hit := range esResponse.Hits.Hits {
		hits = append(hits, model.SearchHit{
			DocID:    hit.Source.DocID,
			Entity:   hit.Source.Entity,
			EntityID: hit.Source.EntityID,
			Title:    hit.Source.Title,
			Body:     hit.Source.Body,
			Score:    hit.Score,
		})
	}

	log.Infof("[KeywordService] 关键词检索完毕, 命中 %d 条", len(hits))
	return hits, nil
}

// normalizeQuery 对用户查询进行轻量去噪：剥掉口语功能词，只保留中英文与数字。
func normalizeQuery(q string) string {
	if q == "" {
		return q
	}
	lower := strings.ToLower(q)
	stopPhrases := []string{"是谁", "是什么", "是啥", "请问", "告诉我", "帮我", "查一下", "看一下", "有没有", "吗", "呢", "？", "?"}
	for _, sp := range stopPhrases {
		lower = strings.ReplaceAll(lower, sp, " ")
	}
	reKeep := regexp.MustCompile(`[^\p{Han}a-z0-9\s]+`)
	kept := reKeep.ReplaceAllString(lower, " ")
	reSpace := regexp.MustCompile(`\s+`)
	kept = strings.TrimSpace(reSpace.ReplaceAllString(kept, " "))
	if kept == "" {
		return q
	}
	return kept
}

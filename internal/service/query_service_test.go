package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sales-crm-go/internal/config"
	"sales-crm-go/internal/model"
	"sales-crm-go/internal/repository"
)

// mockCrmRepo 按实体名返回预置数据，并记录收到的查询与范围。
type mockCrmRepo struct {
	rows      map[string][]map[string]interface{}
	rowErrs   map[string]error
	counts    map[string]int64
	countErrs map[string]error
	sum       float64
	sumErr    error
	avg       float64
	avgErr    error

	gotQueries  []repository.RowQuery
	gotScopes   []repository.CrmScope
	amountCalls int
}

func (m *mockCrmRepo) record(query repository.RowQuery, scope repository.CrmScope) {
	m.gotQueries = append(m.gotQueries, query)
	m.gotScopes = append(m.gotScopes, scope)
}

func (m *mockCrmRepo) FindRows(query repository.RowQuery, scope repository.CrmScope) ([]map[string]interface{}, error) {
	m.record(query, scope)
	if err := m.rowErrs[query.Entity]; err != nil {
		return nil, err
	}
	return m.rows[query.Entity], nil
}

func (m *mockCrmRepo) Count(query repository.RowQuery, scope repository.CrmScope) (int64, error) {
	m.record(query, scope)
	if err := m.countErrs[query.Entity]; err != nil {
		return 0, err
	}
	return m.counts[query.Entity], nil
}

func (m *mockCrmRepo) SumAmount(query repository.RowQuery, scope repository.CrmScope) (float64, error) {
	m.record(query, scope)
	m.amountCalls++
	return m.sum, m.sumErr
}

func (m *mockCrmRepo) AvgAmount(query repository.RowQuery, scope repository.CrmScope) (float64, error) {
	m.record(query, scope)
	m.amountCalls++
	return m.avg, m.avgErr
}

func (m *mockCrmRepo) FindForIndex(entity string, entityID uint) (*model.SearchDoc, error) {
	return nil, errors.New("not used in query tests")
}

func (m *mockCrmRepo) ListIDs(entity string) ([]uint, error) {
	return nil, errors.New("not used in query tests")
}

// mockKeyword 记录兜底检索的调用情况。
type mockKeyword struct {
	hits []model.SearchHit
	err  error

	calls    int
	gotQuery string
	gotTopK  int
}

func (m *mockKeyword) Search(_ context.Context, query string, topK int, _ *model.User) ([]model.SearchHit, error) {
	m.calls++
	m.gotQuery = query
	m.gotTopK = topK
	return m.hits, m.err
}

func newTestQueryService(repo *mockCrmRepo, keyword *mockKeyword) QueryService {
	return NewQueryService(repo, keyword, config.ChatConfig{})
}

func salesUser() *model.User {
	return &model.User{ID: 7, Username: "zhangsan", Role: model.RoleUser}
}

func TestExecute_ListQueriesEachRequestedEntity(t *testing.T) {
	repo := &mockCrmRepo{rows: map[string][]map[string]interface{}{
		"account": {{"name": "星河科技"}},
		"lead":    {{"name": "线索甲"}, {"name": "线索乙"}},
	}}
	keyword := &mockKeyword{}
	svc := newTestQueryService(repo, keyword)

	intent := model.QueryIntent{Category: "list", Entities: []string{"account", "lead"}}
	r := svc.Execute(context.Background(), "查客户和线索", intent, salesUser())

	require.True(t, r.Success)
	require.False(t, r.Fallback)
	require.Len(t, r.Rows, 3)
	require.Equal(t, "account", r.Rows[0]["entity"])
	require.Equal(t, "lead", r.Rows[1]["entity"])
	require.Equal(t, []string{"accounts", "leads"}, r.Tables)
	require.NotEmpty(t, r.SQL)
	require.Equal(t, 0, keyword.calls)

	// 非特权用户的查询范围限定在本人名下
	for _, scope := range repo.gotScopes {
		require.Equal(t, uint(7), scope.UserID)
		require.False(t, scope.Elevated)
	}
}

func TestExecute_EmptyEntitiesScanAllEntities(t *testing.T) {
	repo := &mockCrmRepo{rows: map[string][]map[string]interface{}{}}
	svc := newTestQueryService(repo, &mockKeyword{})

	intent := model.QueryIntent{Category: "list"}
	r := svc.Execute(context.Background(), "看看数据", intent, salesUser())

	require.True(t, r.Success)
	var entities []string
	for _, q := range repo.gotQueries {
		entities = append(entities, q.Entity)
	}
	require.Equal(t, repository.Entities(), entities)
}

func TestExecute_EmptyRowsStillSuccessful(t *testing.T) {
	repo := &mockCrmRepo{rows: map[string][]map[string]interface{}{}}
	keyword := &mockKeyword{}
	svc := newTestQueryService(repo, keyword)

	intent := model.QueryIntent{Entities: []string{"contact"}}
	r := svc.Execute(context.Background(), "查联系人", intent, salesUser())

	// 空结果集是合法结果，不触发兜底
	require.True(t, r.Success)
	require.Empty(t, r.Rows)
	require.Equal(t, []string{"contacts"}, r.Tables)
	require.Equal(t, 0, keyword.calls)
}

func TestExecute_CountAggregation(t *testing.T) {
	repo := &mockCrmRepo{counts: map[string]int64{"account": 12, "lead": 3}}
	svc := newTestQueryService(repo, &mockKeyword{})

	intent := model.QueryIntent{Category: "stats", Entities: []string{"account", "lead"}, Aggregation: model.AggregationCount}
	r := svc.Execute(context.Background(), "各有多少", intent, salesUser())

	require.True(t, r.Success)
	require.Equal(t, []map[string]interface{}{
		{"entity": "account", "count": int64(12)},
		{"entity": "lead", "count": int64(3)},
	}, r.Rows)
}

func TestExecute_SumAggregationTargetsOpportunityOnly(t *testing.T) {
	repo := &mockCrmRepo{sum: 25000}
	svc := newTestQueryService(repo, &mockKeyword{})

	// 即使意图里带了别的实体，金额聚合也只打商机表
	intent := model.QueryIntent{Category: "stats", Entities: []string{"account", "lead"}, Aggregation: model.AggregationSum}
	r := svc.Execute(context.Background(), "商机总额", intent, salesUser())

	require.True(t, r.Success)
	require.Equal(t, 1, repo.amountCalls)
	require.Len(t, repo.gotQueries, 1)
	require.Equal(t, "opportunity", repo.gotQueries[0].Entity)
	require.Equal(t, []map[string]interface{}{{"entity": "opportunity", "total_amount": 25000.0}}, r.Rows)
	require.Equal(t, []string{"opportunities"}, r.Tables)
}

func TestExecute_AvgAggregation(t *testing.T) {
	repo := &mockCrmRepo{avg: 1250.5}
	svc := newTestQueryService(repo, &mockKeyword{})

	intent := model.QueryIntent{Category: "stats", Aggregation: model.AggregationAvg}
	r := svc.Execute(context.Background(), "平均单子多大", intent, salesUser())

	require.True(t, r.Success)
	require.Equal(t, []map[string]interface{}{{"entity": "opportunity", "avg_amount": 1250.5}}, r.Rows)
}

func TestExecute_SingleEntityFailureDoesNotAbortOthers(t *testing.T) {
	repo := &mockCrmRepo{
		rows:    map[string][]map[string]interface{}{"account": {{"name": "星河科技"}}},
		rowErrs: map[string]error{"contact": errors.New("table lock timeout")},
	}
	keyword := &mockKeyword{}
	svc := newTestQueryService(repo, keyword)

	intent := model.QueryIntent{Entities: []string{"account", "contact"}}
	r := svc.Execute(context.Background(), "客户和联系人", intent, salesUser())

	require.True(t, r.Success)
	require.Len(t, r.Rows, 1)
	require.Equal(t, []string{"accounts"}, r.Tables)
	require.Equal(t, 0, keyword.calls)
}

func TestExecute_AllSourcesFailedFallsBackToKeywordOnce(t *testing.T) {
	repo := &mockCrmRepo{rowErrs: map[string]error{
		"account": errors.New("db down"),
		"lead":    errors.New("db down"),
	}}
	keyword := &mockKeyword{hits: []model.SearchHit{
		{DocID: "account:42", Entity: "account", EntityID: 42, Title: "星河科技", Body: "科技 华东", Score: 3.2},
	}}
	svc := newTestQueryService(repo, keyword)

	intent := model.QueryIntent{Entities: []string{"account", "lead"}}
	r := svc.Execute(context.Background(), "星河科技的情况", intent, salesUser())

	require.True(t, r.Success)
	require.True(t, r.Fallback)
	require.Equal(t, 1, keyword.calls)
	require.Equal(t, "星河科技的情况", keyword.gotQuery)
	require.Equal(t, 10, keyword.gotTopK)
	require.Equal(t, []string{"crm_search"}, r.Tables)
	require.Len(t, r.Rows, 1)
	require.Equal(t, "account", r.Rows[0]["entity"])
	require.Equal(t, uint(42), r.Rows[0]["id"])
	require.Contains(t, r.SQL, "keyword_search")
}

func TestExecute_FallbackFailureYieldsUnsuccessfulResult(t *testing.T) {
	repo := &mockCrmRepo{rowErrs: map[string]error{"account": errors.New("db down")}}
	keyword := &mockKeyword{err: errors.New("es down")}
	svc := newTestQueryService(repo, keyword)

	intent := model.QueryIntent{Entities: []string{"account"}}
	r := svc.Execute(context.Background(), "查客户", intent, salesUser())

	require.False(t, r.Success)
	require.True(t, r.Fallback)
	require.Empty(t, r.Rows)
	require.Equal(t, 1, keyword.calls)
}

func TestExecute_ElevatedRoleWidensScope(t *testing.T) {
	repo := &mockCrmRepo{rows: map[string][]map[string]interface{}{}}
	svc := newTestQueryService(repo, &mockKeyword{})

	manager := &model.User{ID: 2, Username: "boss", Role: model.RoleManager}
	intent := model.QueryIntent{Entities: []string{"account"}}
	svc.Execute(context.Background(), "查客户", intent, manager)

	require.Len(t, repo.gotScopes, 1)
	require.True(t, repo.gotScopes[0].Elevated)
}

func TestExecute_TimeFiltersSplitFromColumnFilters(t *testing.T) {
	repo := &mockCrmRepo{rows: map[string][]map[string]interface{}{}}
	svc := newTestQueryService(repo, &mockKeyword{})

	intent := model.QueryIntent{
		Entities: []string{"account"},
		Filters: map[string]string{
			"status":         "active",
			"created_after":  "2025-01-01",
			"created_before": "2025-02-01 00:00:00",
		},
	}
	svc.Execute(context.Background(), "一月的新客户", intent, salesUser())

	require.Len(t, repo.gotQueries, 1)
	q := repo.gotQueries[0]
	require.Equal(t, map[string]string{"status": "active"}, q.Filters)
	require.NotNil(t, q.Since)
	require.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), *q.Since)
	require.NotNil(t, q.Until)
	require.Equal(t, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), *q.Until)
}

func TestExecute_UnparseableTimeFilterIgnored(t *testing.T) {
	repo := &mockCrmRepo{rows: map[string][]map[string]interface{}{}}
	svc := newTestQueryService(repo, &mockKeyword{})

	intent := model.QueryIntent{
		Entities: []string{"account"},
		Filters:  map[string]string{"created_after": "下周"},
	}
	svc.Execute(context.Background(), "查客户", intent, salesUser())

	require.Len(t, repo.gotQueries, 1)
	require.Nil(t, repo.gotQueries[0].Since)
}

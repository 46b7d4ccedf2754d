package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEntities_OrderIsStable(t *testing.T) {
	require.Equal(t, []string{"account", "contact", "lead", "opportunity", "activity"}, Entities())
}

func TestKnownEntity(t *testing.T) {
	for _, entity := range Entities() {
		require.True(t, KnownEntity(entity))
	}
	require.False(t, KnownEntity("spaceship"))
	require.False(t, KnownEntity(""))
}

func TestTableOf(t *testing.T) {
	require.Equal(t, "accounts", TableOf("account"))
	require.Equal(t, "opportunities", TableOf("opportunity"))
	require.Equal(t, "", TableOf("spaceship"))
}

func TestDescribeQuery_ScopedListQuery(t *testing.T) {
	query := RowQuery{Entity: "account", Filters: map[string]string{"name": "星河", "industry": "科技"}}
	scope := CrmScope{UserID: 7}

	sql := DescribeQuery(query, scope, "")

	require.Equal(t, "SELECT * FROM accounts WHERE owner_id = 7 AND name LIKE '%星河%' AND industry = '科技' ORDER BY created_at DESC LIMIT 20", sql)
}

func TestDescribeQuery_ElevatedScopeOmitsOwnerClause(t *testing.T) {
	query := RowQuery{Entity: "lead"}
	scope := CrmScope{UserID: 2, Elevated: true}

	sql := DescribeQuery(query, scope, "")

	require.NotContains(t, sql, "owner_id")
	require.Contains(t, sql, "FROM leads")
}

func TestDescribeQuery_AggregationsSkipLimit(t *testing.T) {
	query := RowQuery{Entity: "opportunity"}
	scope := CrmScope{UserID: 7}

	sql := DescribeQuery(query, scope, "sum")

	require.Equal(t, "SELECT SUM(amount) FROM opportunities WHERE owner_id = 7", sql)
	require.NotContains(t, sql, "LIMIT")
}

func TestDescribeQuery_CountSelect(t *testing.T) {
	sql := DescribeQuery(RowQuery{Entity: "contact"}, CrmScope{UserID: 1}, "count")

	require.Equal(t, "SELECT COUNT(*) FROM contacts WHERE owner_id = 1", sql)
}

func TestDescribeQuery_TimeBounds(t *testing.T) {
	since := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	until := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	query := RowQuery{Entity: "activity", Since: &since, Until: &until}

	sql := DescribeQuery(query, CrmScope{UserID: 7}, "")

	require.Contains(t, sql, "created_at >= '2025-01-01'")
	require.Contains(t, sql, "created_at < '2025-02-01'")
}

func TestDescribeQuery_IgnoresColumnsOutsideWhitelist(t *testing.T) {
	query := RowQuery{Entity: "account", Filters: map[string]string{"password": "x", "stage": "won"}}

	sql := DescribeQuery(query, CrmScope{UserID: 7}, "")

	// stage 不在 account 的白名单里，password 根本不是已知列
	require.NotContains(t, sql, "password")
	require.NotContains(t, sql, "stage")
}

func TestDescribeQuery_CustomLimit(t *testing.T) {
	sql := DescribeQuery(RowQuery{Entity: "lead", Limit: 5}, CrmScope{UserID: 7}, "")

	require.Contains(t, sql, "LIMIT 5")
}

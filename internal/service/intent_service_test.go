package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"sales-crm-go/internal/config"
	"sales-crm-go/internal/model"
)

func newTestClassifier(llmClient *mockLLM) IntentClassifier {
	return NewIntentClassifier(llmClient, config.ChatConfig{})
}

func TestClassify_ParsesWellFormedJSON(t *testing.T) {
	mock := &mockLLM{reply: `{"category":"stats","entities":["account"],"filters":{"industry":"科技"},"aggregation":"count","confidence":0.9}`}
	classifier := newTestClassifier(mock)

	intent := classifier.Classify(context.Background(), "科技行业有多少客户", 1)

	require.Equal(t, "stats", intent.Category)
	require.Equal(t, []string{"account"}, intent.Entities)
	require.Equal(t, map[string]string{"industry": "科技"}, intent.Filters)
	require.Equal(t, model.AggregationCount, intent.Aggregation)
	require.Equal(t, 0.9, intent.Confidence)
}

func TestClassify_ToleratesCodeFenceAndProse(t *testing.T) {
	mock := &mockLLM{reply: "好的，解析结果如下：\n```json\n{\"category\":\"list\",\"entities\":[\"lead\"],\"filters\":{},\"aggregation\":\"\",\"confidence\":0.8}\n```"}
	classifier := newTestClassifier(mock)

	intent := classifier.Classify(context.Background(), "列出线索", 1)

	require.Equal(t, "list", intent.Category)
	require.Equal(t, []string{"lead"}, intent.Entities)
	require.Equal(t, 0.8, intent.Confidence)
}

func TestClassify_NormalizesEntitiesAndClampsConfidence(t *testing.T) {
	mock := &mockLLM{reply: `{"entities":["Customers","deal","account","飞船"],"aggregation":"SUM","confidence":1.7}`}
	classifier := newTestClassifier(mock)

	intent := classifier.Classify(context.Background(), "客户和商机的总额", 1)

	// 同义词归一并去重，未知实体丢弃
	require.Equal(t, []string{"account", "opportunity"}, intent.Entities)
	require.Equal(t, model.AggregationSum, intent.Aggregation)
	require.Equal(t, "list", intent.Category)
	require.Equal(t, 1.0, intent.Confidence)
}

func TestClassify_CleansFilterKeysAndDropsEmptyValues(t *testing.T) {
	mock := &mockLLM{reply: `{"category":"list","entities":["account"],"filters":{" Industry ":" 金融 ","region":""},"confidence":0.6}`}
	classifier := newTestClassifier(mock)

	intent := classifier.Classify(context.Background(), "金融行业的客户", 1)

	require.Equal(t, map[string]string{"industry": "金融"}, intent.Filters)
}

func TestClassify_LLMErrorFallsBackToHeuristic(t *testing.T) {
	mock := &mockLLM{err: errors.New("llm down")}
	classifier := newTestClassifier(mock)

	intent := classifier.Classify(context.Background(), "我有多少个客户和联系人", 1)

	require.Equal(t, "stats", intent.Category)
	require.Equal(t, []string{"account", "contact"}, intent.Entities)
	require.Equal(t, model.AggregationCount, intent.Aggregation)
	require.Equal(t, heuristicConfidence, intent.Confidence)
}

func TestClassify_UnparseableReplyFallsBackToHeuristic(t *testing.T) {
	mock := &mockLLM{reply: "抱歉，这个问题我不太确定。"}
	classifier := newTestClassifier(mock)

	intent := classifier.Classify(context.Background(), "本季度商机总金额", 1)

	require.Equal(t, "stats", intent.Category)
	require.Equal(t, []string{"opportunity"}, intent.Entities)
	require.Equal(t, model.AggregationSum, intent.Aggregation)
	require.Equal(t, heuristicConfidence, intent.Confidence)
}

func TestClassify_HeuristicAmountImpliesOpportunity(t *testing.T) {
	classifier := newTestClassifier(&mockLLM{err: errors.New("llm down")})

	intent := classifier.Classify(context.Background(), "算一下总额", 1)

	require.Equal(t, []string{"opportunity"}, intent.Entities)
	require.Equal(t, model.AggregationSum, intent.Aggregation)
}

func TestClassify_HeuristicWithoutSignalsYieldsOpenListIntent(t *testing.T) {
	classifier := newTestClassifier(&mockLLM{reply: "not json"})

	intent := classifier.Classify(context.Background(), "随便看看", 1)

	require.Equal(t, "list", intent.Category)
	require.Empty(t, intent.Entities)
	require.Equal(t, model.AggregationNone, intent.Aggregation)
	require.Equal(t, heuristicConfidence, intent.Confidence)
}

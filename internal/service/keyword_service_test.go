package service

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeQuery_StripsStopPhrases(t *testing.T) {
	require.Equal(t, "星河科技", normalizeQuery("请问星河科技是谁"))
	require.Equal(t, "星河科技 的联系人", normalizeQuery("帮我查一下星河科技￥的联系人吗"))
}

func TestNormalizeQuery_KeepsHanLatinAndDigits(t *testing.T) {
	require.Equal(t, "acme 2025 年 的商机", normalizeQuery("ACME（2025 年）的商机！"))
}

func TestNormalizeQuery_CollapsesWhitespace(t *testing.T) {
	require.Equal(t, "星河 科技", normalizeQuery("  星河   科技  "))
}

func TestNormalizeQuery_AllNoiseFallsBackToOriginal(t *testing.T) {
	// 归一化后什么都不剩时退回原始输入，保证检索请求永远有查询词
	require.Equal(t, "？！", normalizeQuery("？！"))
	require.Equal(t, "", normalizeQuery(""))
}

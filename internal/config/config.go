// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	LLM           LLMConfig           `mapstructure:"llm"`
	RateLimit     RateLimitConfig     `mapstructure:"ratelimit"`
	Chat          ChatConfig          `mapstructure:"chat"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储 JWT 相关的配置。
type JWTConfig struct {
	Secret                 string `mapstructure:"secret"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours"`
	RefreshTokenExpireDays int    `mapstructure:"refresh_token_expire_days"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Model      string              `mapstructure:"model"`
	Generation LLMGenerationConfig `mapstructure:"generation"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// RateLimitConfig 存储聊天接口限流的配置。
type RateLimitConfig struct {
	Limit         int `mapstructure:"limit"`
	WindowMinutes int `mapstructure:"window_minutes"`
}

// Window 返回限流窗口时长，未配置时默认 1 小时。
func (c RateLimitConfig) Window() time.Duration {
	if c.WindowMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(c.WindowMinutes) * time.Minute
}

// Ceiling 返回限流上限，未配置时默认每窗口 50 次。
func (c RateLimitConfig) Ceiling() int {
	if c.Limit <= 0 {
		return 50
	}
	return c.Limit
}

// ChatConfig 存储聊天管道各阶段的配置。
type ChatConfig struct {
	HistoryLimit          int    `mapstructure:"history_limit"`
	ClassifyTimeoutSecond int    `mapstructure:"classify_timeout_seconds"`
	QueryTimeoutSecond    int    `mapstructure:"query_timeout_seconds"`
	AnswerTimeoutSecond   int    `mapstructure:"answer_timeout_seconds"`
	CoachRules            string `mapstructure:"coach_rules"`
	QueryRules            string `mapstructure:"query_rules"`
}

// ClassifyTimeout 返回模式/意图分类调用的超时，默认 8 秒。
func (c ChatConfig) ClassifyTimeout() time.Duration {
	if c.ClassifyTimeoutSecond <= 0 {
		return 8 * time.Second
	}
	return time.Duration(c.ClassifyTimeoutSecond) * time.Second
}

// QueryTimeout 返回数据查询阶段的超时，默认 10 秒。
func (c ChatConfig) QueryTimeout() time.Duration {
	if c.QueryTimeoutSecond <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.QueryTimeoutSecond) * time.Second
}

// AnswerTimeout 返回答案生成阶段的超时，默认 60 秒。
func (c ChatConfig) AnswerTimeout() time.Duration {
	if c.AnswerTimeoutSecond <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.AnswerTimeoutSecond) * time.Second
}

// History 返回构建上下文时读取的最近轮数，默认 10。
func (c ChatConfig) History() int {
	if c.HistoryLimit <= 0 {
		return 10
	}
	return c.HistoryLimit
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("读取配置文件失败: %w", err))
	}

	if err := viper.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("无法将配置解析到结构体中: %w", err))
	}
}

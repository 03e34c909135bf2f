// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Extractor     ExtractorConfig     `mapstructure:"extractor"`
	Chunking      ChunkingConfig      `mapstructure:"chunking"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	Pipeline      PipelineConfig      `mapstructure:"pipeline"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Auth          AuthConfig          `mapstructure:"auth"`
}

// ServerConfig 存储 HTTP 服务器相关的配置。
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

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储消息队列相关的配置。三条主题分别对应
// 文档抽取、切块向量化、查询应答三个处理阶段。
type KafkaConfig struct {
	Brokers      string            `mapstructure:"brokers"`
	Group        string            `mapstructure:"group"`
	Topics       KafkaTopicsConfig `mapstructure:"topics"`
	MaxRetries   int               `mapstructure:"max_retries"`
	MinBackoffMS int               `mapstructure:"min_backoff_ms"`
}

// KafkaTopicsConfig 定义三个处理阶段的主题名。
type KafkaTopicsConfig struct {
	Extract string `mapstructure:"extract"`
	Embed   string `mapstructure:"embed"`
	Search  string `mapstructure:"search"`
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

// ExtractorConfig 存储文本抽取服务相关的配置。
type ExtractorConfig struct {
	Provider      string `mapstructure:"provider"`
	ServerURL     string `mapstructure:"server_url"`
	MaxFileSizeMB int64  `mapstructure:"max_file_size_mb"`
}

// ChunkingConfig 存储文本切块相关的配置。Mode 为 "window"（滑动窗口）
// 或 "paragraph"（按空行切段）。
type ChunkingConfig struct {
	Mode         string `mapstructure:"mode"`
	ChunkSize    int    `mapstructure:"chunk_size"`
	ChunkOverlap int    `mapstructure:"chunk_overlap"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	Provider      string `mapstructure:"provider"`
	APIKey        string `mapstructure:"api_key"`
	BaseURL       string `mapstructure:"base_url"`
	Model         string `mapstructure:"model"`
	Dimensions    int    `mapstructure:"dimensions"`
	BatchSize     int    `mapstructure:"batch_size"`
	MaxTextLength int    `mapstructure:"max_text_length"`
}

// PipelineConfig 存储处理管道的准入控制配置。
type PipelineConfig struct {
	MaxMemoryPercent float64 `mapstructure:"max_memory_percent"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	Provider   string              `mapstructure:"provider"`
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Model      string              `mapstructure:"model"`
	Generation LLMGenerationConfig `mapstructure:"generation"`
	Prompt     LLMPromptConfig     `mapstructure:"prompt"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// LLMPromptConfig 配置系统提示与上下文包裹格式（可选）。
type LLMPromptConfig struct {
	Rules    string `mapstructure:"rules"`
	RefStart string `mapstructure:"ref_start"`
	RefEnd   string `mapstructure:"ref_end"`
}

// AuthConfig 存储服务鉴权相关的配置。Enabled 为 false 时公共接口
// 不做鉴权（JWT 仅作为内部服务间的 mock 凭证）。
type AuthConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	JWTSecret        string `mapstructure:"jwt_secret"`
	TokenExpireHours int    `mapstructure:"token_expire_hours"`
	AdminKeyHash     string `mapstructure:"admin_key_hash"`
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

	if err := Conf.Validate(); err != nil {
		panic(fmt.Errorf("配置校验失败: %w", err))
	}
}

// Validate 检查处理管道依赖的数值边界。切块参数的前置条件
// （chunk_size > chunk_overlap）由切块服务的构造函数负责校验。
func (c *Config) Validate() error {
	if c.Kafka.Brokers == "" {
		return fmt.Errorf("kafka.brokers 不能为空")
	}
	if c.Kafka.Topics.Extract == "" || c.Kafka.Topics.Embed == "" || c.Kafka.Topics.Search == "" {
		return fmt.Errorf("kafka.topics 三个主题均不能为空")
	}
	if c.Kafka.MaxRetries < 1 {
		return fmt.Errorf("kafka.max_retries 必须 >= 1, 当前为 %d", c.Kafka.MaxRetries)
	}
	if c.Kafka.MinBackoffMS < 0 {
		return fmt.Errorf("kafka.min_backoff_ms 不能为负数, 当前为 %d", c.Kafka.MinBackoffMS)
	}
	if c.Embedding.BatchSize < 1 {
		return fmt.Errorf("embedding.batch_size 必须 >= 1, 当前为 %d", c.Embedding.BatchSize)
	}
	if c.Embedding.MaxTextLength < 1 {
		return fmt.Errorf("embedding.max_text_length 必须 >= 1, 当前为 %d", c.Embedding.MaxTextLength)
	}
	if c.Pipeline.MaxMemoryPercent <= 0 || c.Pipeline.MaxMemoryPercent > 100 {
		return fmt.Errorf("pipeline.max_memory_percent 必须在 (0, 100] 之间, 当前为 %.1f", c.Pipeline.MaxMemoryPercent)
	}
	if c.Extractor.MaxFileSizeMB < 1 {
		return fmt.Errorf("extractor.max_file_size_mb 必须 >= 1, 当前为 %d", c.Extractor.MaxFileSizeMB)
	}
	return nil
}

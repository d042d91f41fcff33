package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

type MainConfig struct {
	AppName    string `toml:"appName"`
	Host       string `toml:"host"`
	Port       int    `toml:"port"`
	SSLEnabled bool   `toml:"sslEnabled"` // 启用后强制 HTTPS 跳转
}

type LogConfig struct {
	Level      string `toml:"level"`
	LogPath    string `toml:"logPath"`
	MaxSizeMB  int    `toml:"maxSizeMB"`
	MaxBackups int    `toml:"maxBackups"`
	MaxAgeDays int    `toml:"maxAgeDays"`
}

type DatabaseConfig struct {
	Driver       string `toml:"driver"` // sqlite | mysql
	SqlitePath   string `toml:"sqlitePath"`
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	User         string `toml:"user"`
	Password     string `toml:"password"`
	DatabaseName string `toml:"databaseName"`
}

// VectorStoreConfig 向量库连接描述，启动时确定后不再变更
type VectorStoreConfig struct {
	ConnectionType   string `toml:"connectionType"` // local | remote
	LocalPath        string `toml:"localPath"`
	Host             string `toml:"host"`
	Port             int    `toml:"port"`
	AuthToken        string `toml:"authToken"`
	SSLEnabled       bool   `toml:"sslEnabled"`
	DBName           string `toml:"dbName"`
	CollectionPrefix string `toml:"collectionPrefix"`
}

// Validate 校验连接描述完整性
func (c VectorStoreConfig) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.ConnectionType)) {
	case "local":
		if strings.TrimSpace(c.LocalPath) == "" {
			return fmt.Errorf("vector store: local path is required for local connection")
		}
	case "remote":
		if strings.TrimSpace(c.Host) == "" {
			return fmt.Errorf("vector store: host is required for remote connection")
		}
		if c.Port <= 0 {
			return fmt.Errorf("vector store: port is required for remote connection")
		}
	default:
		return fmt.Errorf("vector store: unknown connection type %q", c.ConnectionType)
	}
	return nil
}

type EmbeddingConfig struct {
	Provider        string `toml:"provider"` // mock | openai | ark | dashscope
	APIKey          string `toml:"apiKey"`
	AccessKey       string `toml:"accessKey"`
	SecretKey       string `toml:"secretKey"`
	BaseURL         string `toml:"baseURL"`
	Region          string `toml:"region"`
	Model           string `toml:"model"`
	Dimensions      int    `toml:"dimensions"`
	TimeoutSeconds  int    `toml:"timeoutSeconds"`
	RetryTimes      int    `toml:"retryTimes"`
	ByAzure         bool   `toml:"byAzure"`
	AzureAPIVersion string `toml:"azureApiVersion"`
}

type RerankerConfig struct {
	Enabled        bool   `toml:"enabled"`
	BaseURL        string `toml:"baseURL"`
	APIKey         string `toml:"apiKey"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeoutSeconds"`
	RetryTimes     int    `toml:"retryTimes"`
}

type ChatModelConfig struct {
	Provider        string `toml:"provider"` // openai | ark
	APIKey          string `toml:"apiKey"`
	AccessKey       string `toml:"accessKey"`
	SecretKey       string `toml:"secretKey"`
	BaseURL         string `toml:"baseURL"`
	Region          string `toml:"region"`
	Model           string `toml:"model"`
	TimeoutSeconds  int    `toml:"timeoutSeconds"`
	RetryTimes      int    `toml:"retryTimes"`
	ByAzure         bool   `toml:"byAzure"`
	AzureAPIVersion string `toml:"azureApiVersion"`
}

// KnowledgeBaseConfig 知识库行为参数
type KnowledgeBaseConfig struct {
	Enabled               bool    `toml:"enabled"`
	ChunkSize             int     `toml:"chunkSize"`
	ChunkOverlap          int     `toml:"chunkOverlap"`
	MaxFileSizeMB         int     `toml:"maxFileSizeMB"`
	MaxCollections        int     `toml:"maxCollections"`
	MaxConcurrentTasks    int     `toml:"maxConcurrentTasks"`
	TaskRetentionHours    int     `toml:"taskRetentionHours"`
	TopK                  int     `toml:"topK"`
	MinRelevanceScore     float64 `toml:"minRelevanceScore"`
	MaxKnowledgeFragments int     `toml:"maxKnowledgeFragments"`
	MaxContextLength      int     `toml:"maxContextLength"`
	UploadDir             string  `toml:"uploadDir"`
}

type Config struct {
	MainConfig          `toml:"mainConfig"`
	LogConfig           `toml:"logConfig"`
	DatabaseConfig      `toml:"databaseConfig"`
	VectorStoreConfig   `toml:"vectorStoreConfig"`
	EmbeddingConfig     `toml:"embeddingConfig"`
	RerankerConfig      `toml:"rerankerConfig"`
	ChatModelConfig     `toml:"chatModelConfig"`
	KnowledgeBaseConfig `toml:"knowledgeBaseConfig"`
}

// Load 从 toml 文件加载配置并填充默认值。
// 配置对象构造一次后显式传入各组件，不提供全局可变入口。
func Load(path string) (*Config, error) {
	conf := new(Config)
	if _, err := toml.DecodeFile(path, conf); err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	conf.applyDefaults()
	return conf, nil
}

// Default 返回带默认值的配置，测试与本地快速启动用
func Default() *Config {
	conf := new(Config)
	conf.applyDefaults()
	return conf
}

func (c *Config) applyDefaults() {
	if c.MainConfig.AppName == "" {
		c.MainConfig.AppName = "QuizGazer"
	}
	if c.MainConfig.Port == 0 {
		c.MainConfig.Port = 8090
	}
	if c.DatabaseConfig.Driver == "" {
		c.DatabaseConfig.Driver = "sqlite"
	}
	if c.DatabaseConfig.SqlitePath == "" {
		c.DatabaseConfig.SqlitePath = "data/quizgazer.db"
	}
	if c.VectorStoreConfig.ConnectionType == "" {
		c.VectorStoreConfig.ConnectionType = "local"
	}
	if c.VectorStoreConfig.LocalPath == "" && strings.EqualFold(c.VectorStoreConfig.ConnectionType, "local") {
		c.VectorStoreConfig.LocalPath = "data/vectors.db"
	}
	if c.VectorStoreConfig.CollectionPrefix == "" {
		c.VectorStoreConfig.CollectionPrefix = "kb_"
	}
	if c.EmbeddingConfig.Provider == "" {
		c.EmbeddingConfig.Provider = "mock"
	}
	if c.EmbeddingConfig.Dimensions <= 0 {
		c.EmbeddingConfig.Dimensions = 768
	}
	if c.EmbeddingConfig.RetryTimes <= 0 {
		c.EmbeddingConfig.RetryTimes = 3
	}
	if c.RerankerConfig.RetryTimes <= 0 {
		c.RerankerConfig.RetryTimes = 3
	}
	if c.RerankerConfig.TimeoutSeconds <= 0 {
		c.RerankerConfig.TimeoutSeconds = 30
	}
	kb := &c.KnowledgeBaseConfig
	if kb.ChunkSize <= 0 {
		kb.ChunkSize = 1000
	}
	if kb.ChunkOverlap < 0 || kb.ChunkOverlap >= kb.ChunkSize {
		kb.ChunkOverlap = 200
	}
	if kb.MaxFileSizeMB <= 0 {
		kb.MaxFileSizeMB = 100
	}
	if kb.MaxCollections <= 0 {
		kb.MaxCollections = 50
	}
	if kb.MaxConcurrentTasks <= 0 {
		kb.MaxConcurrentTasks = 3
	}
	if kb.TaskRetentionHours <= 0 {
		kb.TaskRetentionHours = 24
	}
	if kb.TopK <= 0 {
		kb.TopK = 5
	}
	if kb.MinRelevanceScore <= 0 {
		kb.MinRelevanceScore = 0.3
	}
	if kb.MaxKnowledgeFragments <= 0 {
		kb.MaxKnowledgeFragments = 5
	}
	if kb.MaxContextLength <= 0 {
		kb.MaxContextLength = 4000
	}
	if kb.UploadDir == "" {
		kb.UploadDir = "data/uploads"
	}
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"job-matcher-go/internal/logger"
)

// EmbeddingConfig 嵌入模型配置
type EmbeddingConfig struct {
	Model      string `yaml:"model"`      // 嵌入模型名
	BaseURL    string `yaml:"base_url"`   // OpenAI兼容embedding接口地址
	Dimensions int    `yaml:"dimensions"` // 向量维度
}

// AliyunConfig 阿里云LLM与嵌入配置
type AliyunConfig struct {
	APIKey    string          `yaml:"api_key"`
	APIURL    string          `yaml:"api_url"`
	Model     string          `yaml:"model"`
	Embedding EmbeddingConfig `yaml:"embedding"`
}

// CorpusConfig 职位数据集配置
type CorpusConfig struct {
	DatasetPath string `yaml:"dataset_path"` // 职位数据集JSON文件路径
	MaxJobs     int    `yaml:"max_jobs"`     // 加载的职位上限，约束索引规模
}

// IndexConfig 语义索引配置
type IndexConfig struct {
	StoragePath         string `yaml:"storage_path"`          // 索引持久化文件路径
	TopK                int    `yaml:"top_k"`                 // 每次检索返回的最近邻数量
	EmbedTimeoutSeconds int    `yaml:"embed_timeout_seconds"` // 单次嵌入调用的超时(秒)
	EmbedQPM            int    `yaml:"embed_qpm"`             // 嵌入调用每分钟配额
	EmbedBurst          int    `yaml:"embed_burst"`           // 令牌桶容量
}

// MatcherConfig 匹配打分权重配置
// 三个权重与基线分来自业务约定的默认值，保留为配置项便于测试敏感性
type MatcherConfig struct {
	SemanticWeight float64 `yaml:"semantic_weight"` // 语义相似度权重
	SkillWeight    float64 `yaml:"skill_weight"`    // 技能重合度权重
	BaselineWeight float64 `yaml:"baseline_weight"` // 基线项权重
	BaselineScore  float64 `yaml:"baseline_score"`  // 基线分，代表未度量的契合因素
}

// RedisConfig 向量缓存用Redis配置，Address为空则禁用缓存
type RedisConfig struct {
	Address        string `yaml:"address"`
	Password       string `yaml:"password"`
	DB             int    `yaml:"db"`
	VectorTTLHours int    `yaml:"vector_ttl_hours"` // 职位向量缓存过期时间(小时)
}

// ServerConfig HTTP服务配置
type ServerConfig struct {
	Address string `yaml:"address"`
}

// Config 应用程序配置
type Config struct {
	Aliyun  AliyunConfig  `yaml:"aliyun"`
	Corpus  CorpusConfig  `yaml:"corpus"`
	Index   IndexConfig   `yaml:"index"`
	Matcher MatcherConfig `yaml:"matcher"`
	Redis   RedisConfig   `yaml:"redis"`
	Server  ServerConfig  `yaml:"server"`
	Logger  logger.Config `yaml:"logger"`
}

// LoadConfig 加载配置文件，路径为空时在常见位置查找
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		searchPaths := []string{
			"config.yaml",
			"./config.yaml",
			"../config.yaml",
			"../../config.yaml",
			filepath.Join(os.Getenv("HOME"), ".job-matcher", "config.yaml"),
		}

		if execPath, err := os.Executable(); err == nil {
			execDir := filepath.Dir(execPath)
			searchPaths = append(searchPaths, filepath.Join(execDir, "config.yaml"))
		}

		for _, path := range searchPaths {
			if _, err := os.Stat(path); err == nil {
				configPath = path
				break
			}
		}

		// 仍找不到配置文件时，测试环境返回默认配置，避免每个测试都准备文件
		if configPath == "" {
			if inTestEnv() {
				return DefaultConfig(), nil
			}
			configPath = "config.yaml"
		}
	}

	if _, err := os.Stat(configPath); err != nil {
		if inTestEnv() {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("配置文件不存在: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	applyEnvOverrides(config)
	return config, nil
}

// applyEnvOverrides 从环境变量覆盖敏感配置
func applyEnvOverrides(config *Config) {
	if envKey := os.Getenv("ALIYUN_API_KEY"); envKey != "" {
		config.Aliyun.APIKey = envKey
	}
	if envURL := os.Getenv("ALIYUN_API_URL"); envURL != "" {
		config.Aliyun.APIURL = envURL
	}
	if envModel := os.Getenv("ALIYUN_MODEL"); envModel != "" {
		config.Aliyun.Model = envModel
	}
	if envAddr := os.Getenv("REDIS_ADDRESS"); envAddr != "" {
		config.Redis.Address = envAddr
	}
}

// DefaultConfig 返回带默认值的配置
func DefaultConfig() *Config {
	return &Config{
		Aliyun: AliyunConfig{
			Model: "qwen-plus",
			Embedding: EmbeddingConfig{
				Model:      "text-embedding-v3",
				Dimensions: 1024,
			},
		},
		Corpus: CorpusConfig{
			DatasetPath: "job_dataset.json",
			MaxJobs:     100,
		},
		Index: IndexConfig{
			StoragePath:         "index_snapshot.json",
			TopK:                5,
			EmbedTimeoutSeconds: 30,
			EmbedQPM:            60,
			EmbedBurst:          10,
		},
		Matcher: MatcherConfig{
			SemanticWeight: 0.5,
			SkillWeight:    0.3,
			BaselineWeight: 0.2,
			BaselineScore:  0.8,
		},
		Redis: RedisConfig{
			VectorTTLHours: 72,
		},
		Server: ServerConfig{
			Address: ":8000",
		},
		Logger: logger.Config{
			Level:  "info",
			Format: "json",
		},
	}
}

// inTestEnv 粗略判断是否运行在go test环境
func inTestEnv() bool {
	for _, arg := range os.Args {
		if strings.Contains(arg, "test") {
			return true
		}
	}
	return false
}

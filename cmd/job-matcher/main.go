package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	hlog "github.com/cloudwego/hertz/pkg/common/hlog"
	hertzadapter "github.com/hertz-contrib/logger/zerolog"
	"github.com/spf13/pflag"

	"job-matcher-go/internal/agent"
	"job-matcher-go/internal/api/handler"
	"job-matcher-go/internal/api/router"
	"job-matcher-go/internal/config"
	"job-matcher-go/internal/index"
	"job-matcher-go/internal/logger"
	"job-matcher-go/internal/parser"
	"job-matcher-go/internal/pipeline"
	"job-matcher-go/internal/ratelimit"
	"job-matcher-go/internal/scorer"
	"job-matcher-go/internal/storage"
)

func main() {
	var configPath string
	pflag.StringVarP(&configPath, "config", "c", "", "Path to config file")
	pflag.Parse()

	// 1. 加载配置
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Init(logger.Config{Level: "info", Format: "json", TimeFormat: time.RFC3339})
		logger.Fatal().Err(err).Msg("加载配置失败")
	}

	// 2. 初始化日志系统，并把Hertz框架日志桥接到zerolog
	initLogger(cfg)
	logger.Info().Msg("配置加载成功")

	ctx := context.Background()

	// 3. 可选的Redis向量缓存，未配置地址时直接跳过
	var indexOptions []index.Option
	var redisAdapter *storage.Redis
	if cfg.Redis.Address != "" {
		redisAdapter, err = storage.NewRedisAdapter(&cfg.Redis)
		if err != nil {
			logger.Warn().Err(err).Msg("初始化Redis失败，向量缓存不启用")
		} else {
			defer redisAdapter.Close()
			indexOptions = append(indexOptions, index.WithVectorCache(redisAdapter))
			logger.Info().Str("address", cfg.Redis.Address).Msg("Redis向量缓存已启用")
		}
	}

	// 4. 嵌入调用限流与超时
	limiter := ratelimit.NewTokenBucket(cfg.Index.EmbedQPM, cfg.Index.EmbedBurst)
	indexOptions = append(indexOptions,
		index.WithRateLimiter(limiter),
		index.WithEmbedTimeout(time.Duration(cfg.Index.EmbedTimeoutSeconds)*time.Second),
	)

	// 5. 阿里云嵌入客户端
	embedder, err := index.NewAliyunEmbedder(cfg.Aliyun.APIKey, cfg.Aliyun.Embedding)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化阿里云Embedder失败")
	}

	// 6. 语料与索引快照，初始化失败降级运行而不是退出
	snapshot := index.NewSnapshot(index.SnapshotConfig{
		DatasetPath: cfg.Corpus.DatasetPath,
		MaxJobs:     cfg.Corpus.MaxJobs,
		StoragePath: cfg.Index.StoragePath,
		Model:       cfg.Aliyun.Embedding.Model,
	}, embedder, indexOptions...)
	if err := snapshot.Bootstrap(ctx); err != nil {
		logger.Error().Err(err).Msg("索引快照初始化失败，服务以降级模式启动")
	}
	logger.Info().
		Str("state", snapshot.State().String()).
		Int("corpus_size", snapshot.CorpusSize()).
		Msg("索引快照初始化完成")

	// 7. 阿里云通义千问LLM客户端
	llm, err := agent.NewAliyunQwenChatModel(cfg.Aliyun.APIKey, cfg.Aliyun.Model, cfg.Aliyun.APIURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化LLM客户端失败")
	}

	// 8. 文本提取器
	textExtractor, err := parser.NewTextExtractor(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化文本提取器失败")
	}

	// 9. 组装分析管道与API处理器
	rankingPipeline := pipeline.New(snapshot, scorer.New(cfg.Matcher), cfg.Index.TopK)
	analyzeHandler := handler.NewAnalyzeHandler(
		textExtractor,
		parser.NewLLMSkillExtractor(llm),
		parser.NewLLMReportGenerator(llm),
		rankingPipeline,
		snapshot,
	)

	// 10. 启动HTTP服务器
	h := server.Default(server.WithHostPorts(cfg.Server.Address))
	router.RegisterRoutes(h, analyzeHandler)

	go func() {
		if err := h.Run(); err != nil {
			logger.Fatal().Err(err).Msg("启动HTTP服务器失败")
		}
	}()
	logger.Info().Str("address", cfg.Server.Address).Msg("HTTP服务器已启动")

	// 11. 等待终止信号并优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("接收到终止信号，正在优雅退出...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("服务器关闭失败")
	}

	logger.Info().Msg("优雅退出完成")
}

// initLogger 按配置初始化zerolog，并将Hertz的hlog替换为zerolog适配器
func initLogger(cfg *config.Config) {
	logger.Init(cfg.Logger)
	logger.Logger = logger.Logger.With().
		Str("app", "job-matcher-go").
		Logger()

	hlog.SetLogger(hertzadapter.From(logger.Logger))
}

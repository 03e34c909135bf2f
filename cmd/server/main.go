// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"zhiku-rag/internal/chunker"
	"zhiku-rag/internal/config"
	"zhiku-rag/internal/embedder"
	"zhiku-rag/internal/handler"
	"zhiku-rag/internal/middleware"
	"zhiku-rag/internal/model"
	"zhiku-rag/internal/pipeline"
	"zhiku-rag/internal/repository"
	"zhiku-rag/internal/service"
	"zhiku-rag/pkg/database"
	"zhiku-rag/pkg/embedding"
	"zhiku-rag/pkg/es"
	"zhiku-rag/pkg/extract"
	"zhiku-rag/pkg/kafka"
	"zhiku-rag/pkg/llm"
	"zhiku-rag/pkg/log"
	"zhiku-rag/pkg/storage"
	"zhiku-rag/pkg/token"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化基础设施连接
	database.InitMySQL(cfg.Database.MySQL.DSN)
	if err := database.DB.AutoMigrate(
		&model.Document{},
		&model.DocumentChunk{},
		&model.Message{},
		&model.ResultToken{},
		&model.ChunkMessage{},
	); err != nil {
		log.Fatalf("数据库迁移失败: %v", err)
	}
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	storage.InitMinIO(cfg.MinIO)
	if err := es.InitES(cfg.Elasticsearch, cfg.Embedding.Dimensions); err != nil {
		log.Fatalf("es 初始化失败: %v", err)
	}
	kafka.InitProducer(cfg.Kafka)
	defer func() {
		if err := kafka.CloseProducer(); err != nil {
			log.Errorf("关闭 Kafka 生产者失败: %v", err)
		}
	}()

	// 4. 初始化外部服务客户端
	extractor, err := extract.NewExtractor(cfg.Extractor)
	if err != nil {
		log.Fatalf("初始化抽取客户端失败: %v", err)
	}
	embeddingClient, err := embedding.NewClient(cfg.Embedding)
	if err != nil {
		log.Fatalf("初始化 Embedding 客户端失败: %v", err)
	}
	llmClient, err := llm.NewClient(cfg.LLM)
	if err != nil {
		log.Fatalf("初始化 LLM 客户端失败: %v", err)
	}
	chunkService, err := chunker.NewChunker(cfg.Chunking.Mode, cfg.Chunking.ChunkSize, cfg.Chunking.ChunkOverlap)
	if err != nil {
		log.Fatalf("初始化切块服务失败: %v", err)
	}
	batcher, err := embedder.NewBatcher(embeddingClient, cfg.Embedding.BatchSize, cfg.Embedding.MaxTextLength)
	if err != nil {
		log.Fatalf("初始化向量化批处理失败: %v", err)
	}

	// 5. 初始化 Repository
	docRepo := repository.NewDocumentRepository(database.DB)
	messageRepo := repository.NewMessageRepository(database.DB)
	chunkSearchRepo := repository.NewChunkSearchRepository(es.ESClient, cfg.Elasticsearch.IndexName)

	// 6. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.TokenExpireHours)
	bucketStore := storage.NewBucketStore(cfg.MinIO.BucketName)
	ingestService := service.NewIngestService(bucketStore, kafka.Produce, cfg.Kafka.Topics.Extract, cfg.Extractor.MaxFileSizeMB)
	searchService := service.NewSearchService(embeddingClient, llmClient, chunkSearchRepo, messageRepo, cfg.LLM)
	documentService := service.NewDocumentService(docRepo, es.DeleteByQuery, cfg.Elasticsearch.IndexName, bucketStore)

	// 7. 初始化三个管道阶段的消费者
	extractWorker := pipeline.NewExtractWorker(extractor, bucketStore, kafka.Produce, cfg.Kafka.Topics.Embed, cfg.Embedding.Model, cfg.Extractor.MaxFileSizeMB)
	embedWorker := pipeline.NewEmbedWorker(chunkService, batcher, docRepo, bucketStore, es.IndexChunk, cfg.Elasticsearch.IndexName, cfg.Pipeline.MaxMemoryPercent)
	searchWorker := pipeline.NewSearchWorker(searchService, service.DefaultChunksLimit)

	consumerCtx, cancelConsumers := context.WithCancel(context.Background())
	defer cancelConsumers()
	go kafka.StartConsumer(consumerCtx, cfg.Kafka, cfg.Kafka.Topics.Extract, extractWorker)
	go kafka.StartConsumer(consumerCtx, cfg.Kafka, cfg.Kafka.Topics.Embed, embedWorker)
	go kafka.StartConsumer(consumerCtx, cfg.Kafka, cfg.Kafka.Topics.Search, searchWorker)

	// 8. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	// 添加我们自定义的日志中间件和 Gin 的 Recovery 中间件
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 9. 注册路由
	documentHandler := handler.NewDocumentHandler(ingestService, documentService)
	searchHandler := handler.NewSearchHandler(searchService)
	adminHandler := handler.NewAdminHandler(documentService, jwtManager)

	apiV1 := r.Group("/api/v1")
	{
		// 公共接口, 鉴权由配置开关控制
		public := apiV1.Group("/")
		public.Use(middleware.AuthMiddleware(jwtManager, cfg.Auth.Enabled))
		{
			document := public.Group("/document")
			{
				document.POST("/upload", documentHandler.Upload)
				document.GET("/:doc_id", documentHandler.GetDocument)
			}

			search := public.Group("/search")
			{
				search.POST("/query", searchHandler.Query)
				search.GET("/result", searchHandler.GetResult)
				search.POST("/chunks", searchHandler.SearchChunks)
				search.GET("/stream", searchHandler.Stream)
			}
		}

		// 管理接口, 使用独立的管理密钥
		admin := apiV1.Group("/admin")
		admin.Use(middleware.AdminAuthMiddleware(cfg.Auth.AdminKeyHash))
		{
			admin.DELETE("/document/:doc_id", adminHandler.DeleteDocument)
			admin.POST("/tenant/clean", adminHandler.CleanTenant)
			admin.POST("/token", adminHandler.GenerateServiceToken)
		}
	}

	// 10. 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	// 先停掉消费者, 在途消息处理完后 StartConsumer 会自行退出
	cancelConsumers()

	// 设置一个5秒的超时上下文
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 关闭 HTTP 服务器
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	log.Info("服务已优雅关闭")
}

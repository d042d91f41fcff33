package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"QuizGazer/internal/config"
	"QuizGazer/internal/initial"
	"QuizGazer/internal/modules/knowledge/application/service"
	"QuizGazer/internal/modules/knowledge/domain/repository"
	"QuizGazer/internal/modules/knowledge/infrastructure/chunking"
	"QuizGazer/internal/modules/knowledge/infrastructure/embedding"
	"QuizGazer/internal/modules/knowledge/infrastructure/llm"
	"QuizGazer/internal/modules/knowledge/infrastructure/persistence"
	"QuizGazer/internal/modules/knowledge/infrastructure/pipeline"
	"QuizGazer/internal/modules/knowledge/infrastructure/processor"
	"QuizGazer/internal/modules/knowledge/infrastructure/queue"
	"QuizGazer/internal/modules/knowledge/infrastructure/rerank"
	"QuizGazer/internal/modules/knowledge/infrastructure/retriever"
	"QuizGazer/internal/modules/knowledge/infrastructure/vectordb"
	knowledgeHandler "QuizGazer/internal/modules/knowledge/interface/http"
	"QuizGazer/pkg/ssl"
	"QuizGazer/pkg/zlog"

	cors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Server 组合根：在这里完成全部依赖装配，组件只接收显式传入的配置
type Server struct {
	conf       *config.Config
	engine     *gin.Engine
	httpServer *http.Server
	tasks      *queue.TaskManager
	store      repository.VectorStore
	taskSvc    service.TaskService
}

func NewServer(ctx context.Context, conf *config.Config) (*Server, error) {
	db, err := initial.NewGormDB(conf)
	if err != nil {
		return nil, err
	}

	store, err := vectordb.NewVectorStore(ctx, conf)
	if err != nil {
		return nil, err
	}
	if err := store.Initialize(ctx); err != nil {
		return nil, err
	}

	embedder, embedMeta, err := embedding.NewEmbedderFromConfig(ctx, conf)
	if err != nil {
		return nil, err
	}
	zlog.Info("embedding provider ready",
		zap.String("provider", embedMeta.Provider),
		zap.String("model", embedMeta.Model),
		zap.Int("dim", embedMeta.Dim))

	var generator llm.Generator
	cm, cmMeta, err := llm.NewChatModelFromConfig(ctx, conf)
	if err != nil {
		zlog.Warn("chat model not configured, /kb/ask will be unavailable", zap.Error(err))
		generator = llm.NewChatModelGenerator(nil, "")
	} else {
		zlog.Info("chat model ready", zap.String("provider", cmMeta.Provider), zap.String("model", cmMeta.Model))
		generator = llm.NewChatModelGenerator(cm, "")
	}

	var reranker repository.Reranker
	if conf.RerankerConfig.Enabled {
		reranker = rerank.NewClient(conf.RerankerConfig)
		zlog.Info("reranker enabled", zap.String("model", conf.RerankerConfig.Model))
	}

	colRepo := persistence.NewCollectionRepository(db)
	docRepo := persistence.NewDocumentRepository(db)
	uow := persistence.NewKnowledgeUnitOfWork(db)

	chunker := chunking.NewRecursiveChunker(conf.KnowledgeBaseConfig.ChunkSize, conf.KnowledgeBaseConfig.ChunkOverlap)
	proc := processor.NewProcessor(chunker, conf.KnowledgeBaseConfig.MaxFileSizeMB)

	ingest := pipeline.NewIngestPipeline(proc, embedder, store, colRepo, uow, conf)
	tasks := queue.NewTaskManager(ingest, conf)

	ret := retriever.NewRetriever(embedder, store, reranker, conf)
	rag := pipeline.NewRAGPipeline(ret, generator, colRepo, docRepo, conf)

	knowledgeSvc := service.NewKnowledgeService(colRepo, docRepo, uow, store, proc, tasks, conf)
	taskSvc := service.NewTaskService(tasks)
	querySvc := service.NewQueryService(ret, rag, colRepo)

	engine := gin.Default()
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"*"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	engine.Use(cors.New(corsConfig))
	if conf.MainConfig.SSLEnabled {
		engine.Use(ssl.TlsHandler(conf.MainConfig.Host, conf.MainConfig.Port))
	}

	knowledgeH := knowledgeHandler.NewKnowledgeHandler(knowledgeSvc, conf.KnowledgeBaseConfig.UploadDir)
	taskH := knowledgeHandler.NewTaskHandler(taskSvc)
	queryH := knowledgeHandler.NewQueryHandler(querySvc)

	kbGroup := engine.Group("/kb")
	kbGroup.POST("/collections", knowledgeH.CreateCollection)
	kbGroup.GET("/collections", knowledgeH.ListCollections)
	kbGroup.GET("/collections/:id", knowledgeH.GetCollection)
	kbGroup.DELETE("/collections/:id", knowledgeH.DeleteCollection)
	kbGroup.POST("/collections/:id/documents", knowledgeH.UploadDocument)
	kbGroup.GET("/collections/:id/documents", knowledgeH.ListDocuments)
	kbGroup.DELETE("/collections/:id/documents/:docId", knowledgeH.RemoveDocument)
	kbGroup.GET("/collections/:id/export", knowledgeH.ExportCollection)
	kbGroup.POST("/collections/import", knowledgeH.ImportCollection)
	kbGroup.GET("/stats", knowledgeH.Stats)
	kbGroup.GET("/tasks", taskH.ListActiveTasks)
	kbGroup.GET("/tasks/:id", taskH.GetTask)
	kbGroup.POST("/tasks/:id/cancel", taskH.CancelTask)
	kbGroup.POST("/tasks/cleanup", taskH.CleanupTasks)
	kbGroup.POST("/search", queryH.Search)
	kbGroup.POST("/ask", queryH.Ask)
	kbGroup.GET("/status", queryH.Status)

	return &Server{
		conf:    conf,
		engine:  engine,
		tasks:   tasks,
		store:   store,
		taskSvc: taskSvc,
	}, nil
}

// Run 启动 worker 池、定时清理与 HTTP 监听，阻塞到监听结束
func (s *Server) Run(ctx context.Context) error {
	s.tasks.Start(ctx)
	go s.cleanupLoop(ctx)

	addr := fmt.Sprintf("%s:%d", s.conf.MainConfig.Host, s.conf.MainConfig.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: s.engine}
	zlog.Info("http server listening", zap.String("addr", addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// cleanupLoop 每小时清理一次过期终态任务
func (s *Server) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.taskSvc.CleanupTasks()
		}
	}
}

// Shutdown 先停收请求，再排干任务队列，最后关闭向量库
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			zlog.Warn("http server shutdown", zap.Error(err))
		}
	}
	if err := s.tasks.Shutdown(ctx); err != nil {
		zlog.Warn("task manager shutdown", zap.Error(err))
	}
	if err := s.store.Close(ctx); err != nil {
		zlog.Warn("vector store close", zap.Error(err))
		return err
	}
	return nil
}

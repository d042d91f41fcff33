package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpServer "QuizGazer/api/http"
	"QuizGazer/internal/config"
	"QuizGazer/pkg/zlog"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "configs/config_local.toml", "path to config file")
	flag.Parse()

	// 1. 加载配置
	conf, err := config.Load(*configPath)
	if err != nil {
		zlog.Warn("config file not loaded, using defaults", zap.String("path", *configPath), zap.Error(err))
		conf = config.Default()
	}
	zlog.Init(zlog.Options{
		Level:      conf.LogConfig.Level,
		Path:       conf.LogConfig.LogPath,
		MaxSizeMB:  conf.LogConfig.MaxSizeMB,
		MaxBackups: conf.LogConfig.MaxBackups,
		MaxAgeDays: conf.LogConfig.MaxAgeDays,
	})
	defer zlog.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. 装配并启动服务
	server, err := httpServer.NewServer(ctx, conf)
	if err != nil {
		zlog.Fatal("server init failed", zap.Error(err))
	}
	go func() {
		if err := server.Run(ctx); err != nil {
			zlog.Fatal("server run failed", zap.Error(err))
		}
	}()

	// 3. 优雅关闭：先停收请求，排干在途摄取任务，再释放存储
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zlog.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Warn("shutdown incomplete", zap.Error(err))
	}
	zlog.Info("server stopped")
}

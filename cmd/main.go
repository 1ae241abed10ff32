package main

import (
	"context"
	"flag"
	"os"

	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos/eidos-faucet/internal/app"
	"github.com/eidos-exchange/eidos/eidos-faucet/internal/config"
	"github.com/eidos-exchange/eidos/eidos-faucet/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "配置文件路径")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic("load config: " + err.Error())
	}

	if err := logger.Init(&logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: cfg.Service.Name,
		Environment: cfg.Service.Env,
	}); err != nil {
		panic("init logger: " + err.Error())
	}
	defer logger.Sync()

	log := logger.L()
	log.Info("starting service",
		zap.String("service", cfg.Service.Name),
		zap.String("env", cfg.Service.Env),
		zap.Int("port", cfg.Service.HTTPPort),
		zap.Int("chains", len(cfg.Chains)),
	)

	application := app.New(cfg, log)
	if err := application.Start(context.Background()); err != nil {
		log.Fatal("failed to start application", zap.Error(err))
	}
	log.Info("service started successfully", zap.Int("port", cfg.Service.HTTPPort))

	application.WaitForShutdown()
	os.Exit(0)
}

package main

import (
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"radish/internal/agent"
	"radish/internal/common"

	"go.uber.org/zap"
)

func main() {
	var (
		port        = flag.Int("port", 8042, "Agent HTTP port")
		configPath  = flag.String("config", "", "Config file path (YAML)")
		development = flag.Bool("dev", false, "Enable development mode")
	)
	flag.Parse()

	// 初始化日志系统
	if err := common.InitLogger(*development); err != nil {
		panic(err)
	}
	defer common.Sync()

	config := common.GetDefaultConfig()
	if *configPath != "" {
		loaded, err := common.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		config = loaded
	}

	logger := common.GetLogger()
	logger.Info("Agent configuration",
		zap.Int("port", *port),
		zap.Bool("development", *development),
		zap.Bool("events_enabled", config.Events.Enabled))

	a, err := agent.NewAgent(config)
	if err != nil {
		log.Fatalf("Failed to create agent: %v", err)
	}

	// 优雅关闭处理
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Received shutdown signal")
		if err := a.Stop(); err != nil {
			logger.Error("Error stopping agent", zap.Error(err))
		}
	}()

	// 启动服务
	if err := a.Start(*port); err != nil {
		if !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start agent: %v", err)
		}
	}

	logger.Info("Agent exited gracefully")
}

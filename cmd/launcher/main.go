package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"radish/internal/common"
	"radish/internal/events"
	"radish/internal/launcher"

	"go.uber.org/zap"
)

func main() {
	var (
		imageDir     = flag.String("image", "/tmp/radish/image", "Image directory produced by the builder")
		entrypoint   = flag.String("entrypoint", "run:app", "Application entrypoint (module:attribute)")
		host         = flag.String("host", "0.0.0.0", "Bind host")
		port         = flag.Int("port", 8080, "Bind port")
		proxyHeaders = flag.Bool("proxy-headers", false, "Trust reverse-proxy forwarding headers")
		configPath   = flag.String("config", "", "Config file path (YAML)")
		development  = flag.Bool("dev", false, "Enable development mode")
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
	logger.Info("Launcher configuration",
		zap.String("image", *imageDir),
		zap.String("entrypoint", *entrypoint),
		zap.String("host", *host),
		zap.Int("port", *port),
		zap.Bool("proxy_headers", *proxyHeaders),
		zap.Bool("development", *development))

	spec := common.LaunchSpec{
		Entrypoint:   *entrypoint,
		Host:         *host,
		Port:         *port,
		ProxyHeaders: *proxyHeaders,
		ImageDir:     *imageDir,
	}

	publisher := events.NewPublisher(&config.Events)
	defer publisher.Close()

	l := launcher.NewLauncher(&config.Launcher)

	publisher.Publish(context.Background(), events.Event{
		Type:     events.EventLaunchStarting,
		ImageDir: *imageDir,
	})

	if err := l.Start(context.Background(), spec); err != nil {
		logger.Error("Failed to start launcher", zap.Error(err))
		common.Sync()
		// 启动阶段失败时带出子进程退出码
		if code := l.ExitCode(); code > 0 {
			os.Exit(code)
		}
		os.Exit(1)
	}

	status := l.Status()
	publisher.Publish(context.Background(), events.Event{
		Type:     events.EventLaunchServing,
		LaunchID: status.ID,
		ImageDir: *imageDir,
	})

	// 优雅关闭处理
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		if err := l.Stop(context.Background()); err != nil {
			logger.Error("Error stopping launcher", zap.Error(err))
		}
		publisher.Publish(context.Background(), events.Event{
			Type:     events.EventLaunchTerminated,
			LaunchID: status.ID,
		})
		logger.Info("Launcher exited gracefully")

	case <-l.Done():
		// 服务进程自行退出属于被托管应用的不可恢复故障
		exitCode := l.ExitCode()
		publisher.Publish(context.Background(), events.Event{
			Type:     events.EventLaunchTerminated,
			LaunchID: status.ID,
			Details:  map[string]string{"exit_code": strconv.Itoa(exitCode)},
		})
		logger.Error("Runtime process exited unexpectedly", zap.Int("exit_code", exitCode))
		common.Sync()
		if exitCode > 0 {
			os.Exit(exitCode)
		}
		os.Exit(1)
	}
}

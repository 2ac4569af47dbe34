package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"radish/internal/common"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// HTTPServer Agent HTTP 服务器
type HTTPServer struct {
	server *http.Server
	logger *zap.Logger
	agent  AgentInterface
}

// AgentInterface 定义 Agent 接口
type AgentInterface interface {
	SubmitBuild(request common.BuildRequest) (string, error)
	GetBuild(id string) (*common.BuildResult, bool)
	ListBuilds() []*common.BuildResult
	StartLaunch(spec common.LaunchSpec) (string, error)
	GetLaunch(id string) (*common.LaunchStatus, bool)
	ListLaunches() []*common.LaunchStatus
	StopLaunch(id string) error
	GetLaunchLogs(id, logType string, lines int) ([]string, error)
	GetInfo() map[string]interface{}
}

// NewHTTPServer 创建新的 HTTP 服务器
func NewHTTPServer(agent AgentInterface, logger *zap.Logger) *HTTPServer {
	return &HTTPServer{
		agent:  agent,
		logger: logger,
	}
}

// Start 启动 HTTP 服务器（阻塞直至 Shutdown 或失败）
func (s *HTTPServer) Start(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.buildRouter(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("Starting agent HTTP server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// buildRouter 组装路由
func (s *HTTPServer) buildRouter() *mux.Router {
	router := mux.NewRouter()

	// 添加中间件
	router.Use(s.loggingMiddleware)
	router.Use(s.corsMiddleware)

	// API 路由
	v1 := router.PathPrefix("/ws/v1").Subrouter()
	runner := v1.PathPrefix("/runner").Subrouter()

	// 构建相关路由
	runner.HandleFunc("/builds", s.handleBuilds).Methods("GET", "POST")
	runner.HandleFunc("/builds/{buildId}", s.handleBuild).Methods("GET")

	// 启动相关路由
	runner.HandleFunc("/launches", s.handleLaunches).Methods("GET", "POST")
	runner.HandleFunc("/launches/{launchId}", s.handleLaunch).Methods("GET", "DELETE")
	runner.HandleFunc("/launches/{launchId}/logs", s.handleLaunchLogs).Methods("GET")

	// 信息路由
	runner.HandleFunc("/info", s.handleInfo).Methods("GET")
	runner.HandleFunc("/metrics", s.handleMetrics).Methods("GET")
	router.HandleFunc("/health", s.handleHealth).Methods("GET")

	return router
}

// Stop 停止 HTTP 服务器
func (s *HTTPServer) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.logger.Info("Stopping agent HTTP server")
	return s.server.Shutdown(ctx)
}

// Handler 暴露路由处理器（测试用）
func (s *HTTPServer) Handler() http.Handler {
	return s.buildRouter()
}

// handleBuilds 处理构建列表与提交请求
func (s *HTTPServer) handleBuilds(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSONResponse(w, map[string]interface{}{
			"builds": s.agent.ListBuilds(),
		})

	case http.MethodPost:
		var request common.BuildRequest
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		id, err := s.agent.SubmitBuild(request)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":   "build_submitted",
			"build_id": id,
		})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleBuild 处理单个构建查询
func (s *HTTPServer) handleBuild(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	buildID := vars["buildId"]

	result, exists := s.agent.GetBuild(buildID)
	if !exists {
		http.Error(w, "Build not found", http.StatusNotFound)
		return
	}

	s.writeJSONResponse(w, result)
}

// handleLaunches 处理启动列表与启动请求
func (s *HTTPServer) handleLaunches(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSONResponse(w, map[string]interface{}{
			"launches": s.agent.ListLaunches(),
		})

	case http.MethodPost:
		var spec common.LaunchSpec
		if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		id, err := s.agent.StartLaunch(spec)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":    "launch_starting",
			"launch_id": id,
		})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleLaunch 处理单个启动的查询与停止
func (s *HTTPServer) handleLaunch(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	launchID := vars["launchId"]

	switch r.Method {
	case http.MethodGet:
		status, exists := s.agent.GetLaunch(launchID)
		if !exists {
			http.Error(w, "Launch not found", http.StatusNotFound)
			return
		}
		s.writeJSONResponse(w, status)

	case http.MethodDelete:
		if err := s.agent.StopLaunch(launchID); err != nil {
			s.logger.Error("Failed to stop launch",
				zap.String("launch_id", launchID),
				zap.Error(err))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleLaunchLogs 处理日志查询
func (s *HTTPServer) handleLaunchLogs(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	launchID := vars["launchId"]

	logType := r.URL.Query().Get("type")
	lines := 100
	if linesParam := r.URL.Query().Get("lines"); linesParam != "" {
		if parsed, err := strconv.Atoi(linesParam); err == nil && parsed > 0 {
			lines = parsed
		}
	}

	logLines, err := s.agent.GetLaunchLogs(launchID, logType, lines)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	s.writeJSONResponse(w, map[string]interface{}{
		"launch_id": launchID,
		"type":      logType,
		"lines":     logLines,
	})
}

// handleInfo 处理 Agent 信息请求
func (s *HTTPServer) handleInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSONResponse(w, map[string]interface{}{
		"agentInfo": s.agent.GetInfo(),
	})
}

// handleMetrics 处理指标请求
func (s *HTTPServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.writeJSONResponse(w, common.GetMetrics().Snapshot())
}

// handleHealth 处理健康检查请求
func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSONResponse(w, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// loggingMiddleware 日志中间件
func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		s.logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr))

		next.ServeHTTP(w, r)

		duration := time.Since(start)
		common.GetMetrics().IncrementRequestCount(r.URL.Path)
		common.GetMetrics().RecordResponseTime(r.URL.Path, duration)

		s.logger.Debug("HTTP response",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", duration))
	})
}

// corsMiddleware CORS中间件
func (s *HTTPServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSONResponse 写入 JSON 响应
func (s *HTTPServer) writeJSONResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

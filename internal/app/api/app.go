package api

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	hertzslog "github.com/hertz-contrib/logger/slog"
	"github.com/hertz-contrib/obs-opentelemetry/provider"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"

	"agent-platform/internal/agent/executor"
	"agent-platform/internal/agent/pipeline"
	"agent-platform/internal/agent/planner"
	"agent-platform/internal/api/http"
	"agent-platform/internal/api/http/middleware"
	"agent-platform/internal/app"
	"agent-platform/internal/model/llm"
	"agent-platform/internal/parse"
	"agent-platform/internal/runtime/browser"
	"agent-platform/internal/runtime/events"
	"agent-platform/pkg/breaker"
	"agent-platform/pkg/config"
	"agent-platform/pkg/ratelimit"
)

// otelProviderShutdown 用于优雅关闭时关闭 OpenTelemetry provider
type otelProviderShutdown interface {
	Shutdown(ctx context.Context) error
}

// App API 应用（装配流水线、HTTP Router、Handler、Middleware）
type App struct {
	config       *app.Bootstrap
	driver       *pipeline.Driver
	hub          *events.Hub
	limiter      *ratelimit.Limiter
	router       *http.Router
	hertz        *server.Hertz
	otelProvider otelProviderShutdown
}

// NewApp 创建 API 应用（由 cmd/api 调用）
func NewApp(bootstrap *app.Bootstrap) (*App, error) {
	cfg := bootstrap.Config

	llmClient, err := app.NewLLMClientFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("初始化 LLM 客户端failed: %w", err)
	}
	if llm.IsMock(llmClient) {
		bootstrap.Logger.Info("LLM 未配置，规划与解析走确定性 mock 路径")
	}

	var browserCfg config.BrowserConfig
	if cfg != nil {
		browserCfg = cfg.Browser
	}
	agent := browser.NewAgent(browserCfg)
	if !agent.Configured() {
		bootstrap.Logger.Info("浏览器后端未配置，browser 步骤由内置 mock 执行")
	}

	parser := parse.New(llmClient, bootstrap.Logger)
	llmBrk := breaker.NewLLMBreaker()
	browserBrk := breaker.NewBrowserBreaker()
	exec := executor.New(
		executor.NewBrowserBackend(browserBrk, parser, bootstrap.Logger),
		executor.NewLLMBackend(llmClient, llmBrk, parser, bootstrap.Logger),
		bootstrap.Logger,
	)

	retryMax := 2
	if cfg != nil && cfg.Executor.RetryMax >= 0 {
		retryMax = cfg.Executor.RetryMax
	}
	pl := planner.New(llmClient, retryMax, bootstrap.Logger)

	maxSessions := 3
	if cfg != nil && cfg.Browser.MaxSessions > 0 {
		maxSessions = cfg.Browser.MaxSessions
	}

	hub := events.NewHub()
	driver := pipeline.New(bootstrap.TaskStore, hub, pl, exec, agent, maxSessions, bootstrap.Logger)

	handler := http.NewHandler(driver, bootstrap.TaskStore, hub)
	handler.SetMode(llmClient, agent)
	handler.SetBreakers(llmBrk, browserBrk)

	var limiter *ratelimit.Limiter
	var corsCfg config.CORSConfig
	if cfg != nil {
		corsCfg = cfg.API.CORS
		if cfg.API.Middleware.RateLimit {
			limiter = ratelimit.NewLimiter(
				cfg.API.Middleware.MaxTasksPerMinute,
				cfg.API.Middleware.MaxConcurrentTasks,
			)
		}
	}
	mw := middleware.NewMiddleware(limiter, corsCfg)
	router := http.NewRouter(handler, mw)
	if cfg != nil {
		router.SetMetricsEnabled(cfg.Monitoring.Prometheus.Enable)
	}

	if cfg != nil && cfg.API.Middleware.JWTSecret != "" {
		expiry := parseDuration(cfg.API.Middleware.JWTExpiry, time.Hour)
		jwtAuth, err := middleware.NewJWTAuth([]byte(cfg.API.Middleware.JWTSecret), expiry, expiry)
		if err != nil {
			bootstrap.Logger.Warn("JWT 初始化失败，请求将按匿名处理", "error", err)
		} else {
			router.SetJWT(jwtAuth)
			bootstrap.Logger.Info("JWT 身份解析已启用")
		}
	}

	return &App{
		config:  bootstrap,
		driver:  driver,
		hub:     hub,
		limiter: limiter,
		router:  router,
	}, nil
}

// Run 启动 HTTP 服务，addr 如 ":8080"
func (a *App) Run(addr string) error {
	a.config.Logger.Info("API 服务启动", "addr", addr)

	// 使用 Hertz slog 扩展，与 bootstrap 配置对齐
	output := os.Stdout
	if a.config.Config != nil && a.config.Config.Log.File != "" {
		f, err := os.OpenFile(a.config.Config.Log.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("打开日志文件失败: %w", err)
		}
		output = f
	}
	levelVar := &slog.LevelVar{}
	if a.config.Config != nil && a.config.Config.Log.Level != "" {
		switch a.config.Config.Log.Level {
		case "debug":
			levelVar.Set(slog.LevelDebug)
		case "warn":
			levelVar.Set(slog.LevelWarn)
		case "error":
			levelVar.Set(slog.LevelError)
		default:
			levelVar.Set(slog.LevelInfo)
		}
	} else {
		levelVar.Set(slog.LevelInfo)
	}
	hertzLogger := hertzslog.NewLogger(
		hertzslog.WithOutput(output),
		hertzslog.WithLevel(levelVar),
	)
	hlog.SetLogger(hertzLogger)

	// 可选：启用链路追踪（OpenTelemetry）
	if a.config.Config != nil && a.config.Config.Monitoring.Tracing.Enable {
		serviceName := a.config.Config.Monitoring.Tracing.ServiceName
		if serviceName == "" {
			serviceName = "agent-api"
		}
		exportEndpoint := a.config.Config.Monitoring.Tracing.ExportEndpoint
		if exportEndpoint == "" {
			exportEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
		}
		if exportEndpoint != "" {
			opts := []provider.Option{
				provider.WithServiceName(serviceName),
				provider.WithExportEndpoint(exportEndpoint),
			}
			if a.config.Config.Monitoring.Tracing.Insecure {
				opts = append(opts, provider.WithInsecure())
			}
			p := provider.NewOpenTelemetryProvider(opts...)
			a.otelProvider = p
			tracerOpt, cfg := hertztracing.NewServerTracer()
			a.hertz = a.router.Build(addr, tracerOpt)
			a.hertz.Use(hertztracing.ServerMiddleware(cfg))
			a.config.Logger.Info("链路追踪已启用", "service_name", serviceName, "endpoint", exportEndpoint)
		} else {
			a.hertz = a.router.Build(addr)
		}
	} else {
		a.hertz = a.router.Build(addr)
	}
	return a.hertz.Run()
}

// Shutdown 优雅关闭（传入 ctx 以支持超时，如 cmd 层 WithTimeout）。
// 任务执行是请求外的后台 goroutine，不等待；终态由执行方自行落盘。
func (a *App) Shutdown(ctx context.Context) error {
	if a.otelProvider != nil {
		_ = a.otelProvider.Shutdown(ctx)
	}
	if a.hertz != nil {
		if err := a.hertz.Shutdown(ctx); err != nil {
			return err
		}
	}
	if a.limiter != nil {
		a.limiter.Close()
	}
	if a.config.TaskStore != nil {
		if err := a.config.TaskStore.Close(); err != nil {
			return err
		}
	}
	return nil
}

// parseDuration 解析时长字符串，无效或空时返回 defaultVal
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

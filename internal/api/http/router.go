// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package http

import (
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/config"
	"github.com/hertz-contrib/jwt"

	"agent-platform/internal/api/http/middleware"
)

// Router HTTP 路由器：装配中间件链与任务 API 路由
type Router struct {
	handler        *Handler
	mw             *middleware.Middleware
	jwt            *jwt.HertzJWTMiddleware
	metricsEnabled bool
}

// NewRouter 创建路由器
func NewRouter(handler *Handler, mw *middleware.Middleware) *Router {
	return &Router{
		handler: handler,
		mw:      mw,
	}
}

// SetJWT 启用可选 JWT 身份解析（jwt_secret 配置时由 App 注入）
func (r *Router) SetJWT(auth *jwt.HertzJWTMiddleware) {
	r.jwt = auth
}

// SetMetricsEnabled 挂载 GET /metrics（monitoring.prometheus.enable 时由 App 开启）
func (r *Router) SetMetricsEnabled(enabled bool) {
	r.metricsEnabled = enabled
}

// Build 构建 Hertz 服务。opts 透传服务器配置（如链路追踪）。
// 中间件顺序：访问日志 → CORS → 限流 → 身份解析。
func (r *Router) Build(addr string, opts ...config.Option) *server.Hertz {
	h := server.Default(append([]config.Option{server.WithHostPorts(addr)}, opts...)...)

	h.Use(r.mw.AccessLog())
	if r.mw.CORSEnabled() {
		h.Use(r.mw.CORS())
	}
	h.Use(r.mw.RateLimit())
	if r.jwt != nil {
		h.Use(middleware.OptionalIdentity(r.jwt))
	}

	api := h.Group("/api")
	api.GET("/health", r.handler.HealthCheck)
	api.POST("/tasks", r.handler.CreateTask)
	api.POST("/tasks/sync", r.handler.CreateTaskSync)
	api.GET("/tasks", r.handler.ListTasks)
	api.GET("/tasks/:id", r.handler.GetTask)
	api.GET("/tasks/:id/result", r.handler.GetTaskResult)
	api.POST("/tasks/:id/cancel", r.handler.CancelTask)
	api.GET("/tasks/:id/events", r.handler.StreamTaskEvents)

	if r.metricsEnabled {
		h.GET("/metrics", r.handler.Metrics)
	}
	return h
}

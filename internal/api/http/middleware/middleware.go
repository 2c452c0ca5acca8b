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

// Package middleware 提供 API 层横切面：访问日志、CORS、按客户端限流、
// 可选 JWT 身份解析。
package middleware

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"agent-platform/pkg/config"
	"agent-platform/pkg/metrics"
	"agent-platform/pkg/ratelimit"
)

// 限流豁免路径：健康探测、认证端点、指标暴露按前缀匹配，
// 事件流是长连接，按请求计数没有意义
var rateLimitExemptPrefixes = []string{"/api/health", "/api/auth", "/metrics"}

// Middleware 中间件管理器
type Middleware struct {
	limiter *ratelimit.Limiter
	cors    config.CORSConfig
}

// NewMiddleware 创建中间件管理器。limiter 为 nil 时限流中间件直接放行。
func NewMiddleware(limiter *ratelimit.Limiter, cors config.CORSConfig) *Middleware {
	return &Middleware{
		limiter: limiter,
		cors:    cors,
	}
}

// CORSEnabled 是否启用 CORS
func (m *Middleware) CORSEnabled() bool {
	return m.cors.Enable
}

// CORS 跨域响应头；预检请求直接返回 204
func (m *Middleware) CORS() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		if origin := m.allowOrigin(string(c.GetHeader("Origin"))); origin != "" {
			c.Header("Access-Control-Allow-Origin", origin)
			if origin != "*" {
				c.Header("Vary", "Origin")
			}
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization")
			c.Header("Access-Control-Expose-Headers", "Content-Length, RateLimit-Limit, RateLimit-Remaining")
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Max-Age", "86400")
		}

		if string(c.Method()) == "OPTIONS" {
			c.AbortWithStatus(consts.StatusNoContent)
			return
		}
		c.Next(ctx)
	}
}

// allowOrigin 返回应答的 Allow-Origin 值；不放行时为空串。
// 未配置来源列表时视为全放行。
func (m *Middleware) allowOrigin(origin string) string {
	if len(m.cors.AllowOrigins) == 0 {
		return "*"
	}
	for _, allowed := range m.cors.AllowOrigins {
		if allowed == "*" {
			return "*"
		}
		if allowed == origin {
			return origin
		}
	}
	return ""
}

// RateLimit 按客户端令牌桶准入。拒绝时返回 429 与重试建议；
// 放行的非豁免请求带 RateLimit-Limit / RateLimit-Remaining 头。
func (m *Middleware) RateLimit() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		path := string(c.Path())
		if m.limiter == nil || rateLimitExempt(path) {
			c.Next(ctx)
			return
		}

		key := ClientKey(c)
		ok, delay := m.limiter.Allow(key)
		if !ok {
			retryAfter := math.Round(delay.Seconds()*10) / 10
			metrics.RateLimitRejectTotal.Inc()
			hlog.CtxWarnf(ctx, "限流拒绝 %s %s %s (retry_after=%.1fs)",
				key, c.Method(), path, retryAfter)
			c.Header("Retry-After", strconv.Itoa(int(retryAfter)+1))
			c.Header("RateLimit-Limit", strconv.Itoa(m.limiter.Limit()))
			c.Header("RateLimit-Remaining", "0")
			c.JSON(consts.StatusTooManyRequests, map[string]any{
				"error":               "Too many requests",
				"retry_after_seconds": retryAfter,
			})
			c.Abort()
			return
		}

		c.Header("RateLimit-Limit", strconv.Itoa(m.limiter.Limit()))
		c.Header("RateLimit-Remaining", strconv.Itoa(m.limiter.Remaining(key)))
		c.Next(ctx)
	}
}

// AccessLog 访问日志：方法、路径、状态码、客户端、耗时
func (m *Middleware) AccessLog() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		start := time.Now()
		c.Next(ctx)
		hlog.CtxInfof(ctx, "%s %s %d %s %s",
			c.Method(), c.Path(), c.Response.StatusCode(), ClientKey(c), time.Since(start))
	}
}

// ClientKey 提取客户端身份：优先反向代理转发的首个 IP，
// 其次直连对端，两者皆无时归入 unknown 桶
func ClientKey(c *app.RequestContext) string {
	if forwarded := string(c.GetHeader("X-Forwarded-For")); forwarded != "" {
		return strings.TrimSpace(strings.SplitN(forwarded, ",", 2)[0])
	}
	if ip := c.ClientIP(); ip != "" {
		return ip
	}
	return "unknown"
}

func rateLimitExempt(path string) bool {
	for _, prefix := range rateLimitExemptPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return strings.HasPrefix(path, "/api/tasks/") && strings.HasSuffix(path, "/events")
}

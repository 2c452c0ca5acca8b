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

package middleware

import (
	"context"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/hertz-contrib/jwt"
)

// identityKey 认证身份在请求上下文中的键
const identityKey = "user_id"

// NewJWTAuth 创建 JWT 中间件。令牌签发由外部服务负责，这里只做
// HS256 校验与身份提取；身份取标准 sub 声明。
func NewJWTAuth(key []byte, timeout, maxRefresh time.Duration) (*jwt.HertzJWTMiddleware, error) {
	return jwt.New(&jwt.HertzJWTMiddleware{
		Realm:       "agent-platform",
		Key:         key,
		Timeout:     timeout,
		MaxRefresh:  maxRefresh,
		IdentityKey: identityKey,
		PayloadFunc: func(data interface{}) jwt.MapClaims {
			if id, ok := data.(string); ok && id != "" {
				return jwt.MapClaims{"sub": id}
			}
			return jwt.MapClaims{}
		},
		IdentityHandler: func(ctx context.Context, c *app.RequestContext) interface{} {
			claims := jwt.ExtractClaims(ctx, c)
			if sub, ok := claims["sub"].(string); ok {
				return sub
			}
			return nil
		},
		Unauthorized: func(ctx context.Context, c *app.RequestContext, code int, message string) {
			c.JSON(code, map[string]string{
				"error": message,
			})
		},
	})
}

// OptionalIdentity 可选身份解析：带有效令牌时把 sub 写入请求上下文，
// 无令牌或令牌无效按匿名放行，不拦截请求
func OptionalIdentity(auth *jwt.HertzJWTMiddleware) app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		if auth == nil || len(c.GetHeader("Authorization")) == 0 {
			c.Next(ctx)
			return
		}
		if claims, err := auth.GetClaimsFromJWT(ctx, c); err == nil {
			if sub, ok := claims["sub"].(string); ok && sub != "" {
				c.Set(identityKey, sub)
			}
		}
		c.Next(ctx)
	}
}

// UserID 读取请求上的认证身份；匿名请求返回空串
func UserID(c *app.RequestContext) string {
	if v, ok := c.Get(identityKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

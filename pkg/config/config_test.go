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

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"agent-platform/pkg/secrets"
)

const testYAML = `
api:
  port: 8080
  host: "0.0.0.0"
  timeout: "30s"
  cors:
    enable: true
    allow_origins: ["*"]
  middleware:
    jwt_secret: "${JWT_SECRET}"
    jwt_expiry: "60m"
    rate_limit: true
    max_tasks_per_minute: 10
    max_concurrent_tasks: 5

model:
  llm:
    providers:
      openai:
        api_key: "${OPENAI_API_KEY}"
        base_url: "https://api.openai.com/v1"
        models:
          default:
            name: "gpt-4o-mini"
            context_window: 128000
            temperature: 0.2
            max_tokens: 2048
  defaults:
    llm: "openai.default"

browser:
  base_url: ""
  api_key: "${BROWSER_API_KEY}"
  headless: true
  max_sessions: 3
  timeout: "60s"

executor:
  retry_max: 2

store:
  type: "memory"

log:
  level: "info"
  format: "json"

monitoring:
  prometheus:
    enable: true
  tracing:
    enable: false

secrets:
  provider: "env"
`

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "api.yaml")
	if err := os.WriteFile(path, []byte(testYAML), 0644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadConfig_FromFile(t *testing.T) {
	path := writeTestConfig(t)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.API.Port != 8080 {
		t.Errorf("API.Port: got %d", cfg.API.Port)
	}
	if cfg.API.Middleware.MaxTasksPerMinute != 10 {
		t.Errorf("MaxTasksPerMinute: got %d", cfg.API.Middleware.MaxTasksPerMinute)
	}
	if cfg.API.Middleware.MaxConcurrentTasks != 5 {
		t.Errorf("MaxConcurrentTasks: got %d", cfg.API.Middleware.MaxConcurrentTasks)
	}
	if cfg.Model.Defaults.LLM != "openai.default" {
		t.Errorf("Defaults.LLM: got %q", cfg.Model.Defaults.LLM)
	}
	p, ok := cfg.Model.LLM.Providers["openai"]
	if !ok {
		t.Fatal("缺少 openai provider 配置")
	}
	if p.Models["default"].Name != "gpt-4o-mini" {
		t.Errorf("model name: got %q", p.Models["default"].Name)
	}
	if !cfg.Browser.Headless {
		t.Error("Browser.Headless 应为 true")
	}
	if cfg.Browser.MaxSessions != 3 {
		t.Errorf("Browser.MaxSessions: got %d", cfg.Browser.MaxSessions)
	}
	if cfg.Executor.RetryMax != 2 {
		t.Errorf("Executor.RetryMax: got %d", cfg.Executor.RetryMax)
	}
	if cfg.Store.Type != "memory" {
		t.Errorf("Store.Type: got %q", cfg.Store.Type)
	}
}

func TestLoadConfig_EnvReplacement(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test-123")
	path := writeTestConfig(t)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if got := cfg.Model.LLM.Providers["openai"].APIKey; got != "sk-test-123" {
		t.Errorf("APIKey: got %q, want sk-test-123", got)
	}
	// 未设置的环境变量保留 ${VAR} 占位，交给 Secret Store
	if got := cfg.Browser.APIKey; got != "${BROWSER_API_KEY}" {
		t.Errorf("Browser.APIKey: got %q, want 占位保留", got)
	}
}

func TestResolveSecrets(t *testing.T) {
	path := writeTestConfig(t)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	store := secrets.NewMemoryStore()
	ctx := context.Background()
	_ = store.Set(ctx, "OPENAI_API_KEY", "sk-from-store")
	_ = store.Set(ctx, "BROWSER_API_KEY", "bk-from-store")
	_ = store.Set(ctx, "JWT_SECRET", "jwt-from-store")

	if err := cfg.ResolveSecrets(ctx, store); err != nil {
		t.Fatalf("ResolveSecrets: %v", err)
	}

	if got := cfg.Model.LLM.Providers["openai"].APIKey; got != "sk-from-store" {
		t.Errorf("APIKey: got %q, want sk-from-store", got)
	}
	if got := cfg.Browser.APIKey; got != "bk-from-store" {
		t.Errorf("Browser.APIKey: got %q, want bk-from-store", got)
	}
	if got := cfg.API.Middleware.JWTSecret; got != "jwt-from-store" {
		t.Errorf("JWTSecret: got %q, want jwt-from-store", got)
	}
}

func TestClearUnresolved(t *testing.T) {
	path := writeTestConfig(t)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	cfg.ClearUnresolved()

	// 未解析的占位按未配置处理
	if got := cfg.Browser.APIKey; got != "" {
		t.Errorf("Browser.APIKey: got %q, want 空", got)
	}
	if got := cfg.API.Middleware.JWTSecret; got != "" {
		t.Errorf("JWTSecret: got %q, want 空", got)
	}
	// 字面量保持原样
	if got := cfg.Model.LLM.Providers["openai"].BaseURL; got != "https://api.openai.com/v1" {
		t.Errorf("BaseURL: got %q, want 原值", got)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig("/nonexistent/api.yaml"); err == nil {
		t.Error("缺失配置文件应返回错误")
	}
}

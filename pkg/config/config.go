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
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"agent-platform/pkg/secrets"
)

// Config 应用配置结构体
type Config struct {
	API        APIConfig        `mapstructure:"api"`
	Model      ModelConfig      `mapstructure:"model"`
	Browser    BrowserConfig    `mapstructure:"browser"`
	Executor   ExecutorConfig   `mapstructure:"executor"`
	Store      StoreConfig      `mapstructure:"store"`
	Log        LogConfig        `mapstructure:"log"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Secrets    SecretsConfig    `mapstructure:"secrets"`
}

// APIConfig API 服务配置
type APIConfig struct {
	Port       int              `mapstructure:"port"`
	Host       string           `mapstructure:"host"`
	Timeout    string           `mapstructure:"timeout"`
	CORS       CORSConfig       `mapstructure:"cors"`
	Middleware MiddlewareConfig `mapstructure:"middleware"`
}

// CORSConfig CORS 配置
type CORSConfig struct {
	Enable       bool     `mapstructure:"enable"`
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// MiddlewareConfig 中间件配置（JWT 为空时关闭鉴权）
type MiddlewareConfig struct {
	JWTSecret          string `mapstructure:"jwt_secret"`
	JWTExpiry          string `mapstructure:"jwt_expiry"` // 如 "60m"
	RateLimit          bool   `mapstructure:"rate_limit"`
	MaxTasksPerMinute  int    `mapstructure:"max_tasks_per_minute"`  // 稳态速率，<=0 使用默认 10
	MaxConcurrentTasks int    `mapstructure:"max_concurrent_tasks"`  // 突发容量，<=0 使用默认 5
}

// ModelConfig 模型配置
type ModelConfig struct {
	LLM      LLMConfig      `mapstructure:"llm"`
	Defaults DefaultsConfig `mapstructure:"defaults"`
}

// LLMConfig LLM 模型配置
type LLMConfig struct {
	Providers map[string]ProviderConfig `mapstructure:"providers"`
}

// ProviderConfig 模型提供商配置
type ProviderConfig struct {
	APIKey  string               `mapstructure:"api_key"`
	BaseURL string               `mapstructure:"base_url"`
	Models  map[string]ModelInfo `mapstructure:"models"`
}

// ModelInfo 模型信息
type ModelInfo struct {
	Name          string  `mapstructure:"name"`
	ContextWindow int     `mapstructure:"context_window"`
	Temperature   float64 `mapstructure:"temperature"`
	MaxTokens     int     `mapstructure:"max_tokens"`
}

// DefaultsConfig 默认模型配置（provider.model_key，如 openai.default）
type DefaultsConfig struct {
	LLM string `mapstructure:"llm"`
}

// BrowserConfig 浏览器 Agent 配置
type BrowserConfig struct {
	BaseURL     string `mapstructure:"base_url"` // 空则使用内置 mock
	APIKey      string `mapstructure:"api_key"`
	Headless    bool   `mapstructure:"headless"`
	MaxSessions int    `mapstructure:"max_sessions"` // 会话池容量，<=0 使用默认 3
	Timeout     string `mapstructure:"timeout"`      // 单次调用预算，如 "60s"
}

// ExecutorConfig Step 执行配置
type ExecutorConfig struct {
	RetryMax int `mapstructure:"retry_max"` // 失败后最大重试次数（不含首次），<0 使用默认 2
}

// StoreConfig 任务存储配置（memory 内置；redis 为可选外部 KV）
type StoreConfig struct {
	Type     string `mapstructure:"type"` // memory | redis
	Addr     string `mapstructure:"addr"`
	DB       int    `mapstructure:"db"`
	Password string `mapstructure:"password"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// MonitoringConfig 监控配置
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

// PrometheusConfig Prometheus 配置
type PrometheusConfig struct {
	Enable bool `mapstructure:"enable"`
}

// TracingConfig 链路追踪配置（OpenTelemetry）
type TracingConfig struct {
	Enable         bool   `mapstructure:"enable"`
	ServiceName    string `mapstructure:"service_name"`
	ExportEndpoint string `mapstructure:"export_endpoint"`
	Insecure       bool   `mapstructure:"insecure"`
}

// SecretsConfig Secret Store 配置
type SecretsConfig struct {
	Provider string            `mapstructure:"provider"` // env | memory | vault | k8s，空默认 env
	Config   map[string]string `mapstructure:"config"`
}

// LoadConfig 加载配置文件
func LoadConfig(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("无法读取配置文件: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("无法解析配置文件: %w", err)
	}

	// 替换环境变量
	replaceEnvVars(&config)

	return &config, nil
}

// LoadAPIConfig 加载 API 配置（仅 configs/api.yaml）
func LoadAPIConfig() (*Config, error) {
	return LoadConfig("configs/api.yaml")
}

// replaceEnvVars 将 ${VAR} 形式的敏感项替换为环境变量值
func replaceEnvVars(config *Config) {
	for provider, pc := range config.Model.LLM.Providers {
		if v, ok := resolveEnvRef(pc.APIKey); ok {
			pc.APIKey = v
			config.Model.LLM.Providers[provider] = pc
		}
	}
	if v, ok := resolveEnvRef(config.Browser.APIKey); ok {
		config.Browser.APIKey = v
	}
	if v, ok := resolveEnvRef(config.API.Middleware.JWTSecret); ok {
		config.API.Middleware.JWTSecret = v
	}
	if v, ok := resolveEnvRef(config.Store.Password); ok {
		config.Store.Password = v
	}
}

// ResolveSecrets 用 Secret Store 解析仍为 ${VAR} 形式的敏感项（vault/k8s 场景）
func (c *Config) ResolveSecrets(ctx context.Context, store secrets.Store) error {
	resolve := func(val string) (string, error) {
		name, ok := envRefName(val)
		if !ok {
			return val, nil
		}
		v, err := store.Get(ctx, name)
		if err != nil {
			return "", err
		}
		return v, nil
	}

	for provider, pc := range c.Model.LLM.Providers {
		v, err := resolve(pc.APIKey)
		if err != nil {
			return fmt.Errorf("解析 provider %s api_key failed: %w", provider, err)
		}
		pc.APIKey = v
		c.Model.LLM.Providers[provider] = pc
	}

	var err error
	if c.Browser.APIKey, err = resolve(c.Browser.APIKey); err != nil {
		return fmt.Errorf("解析 browser api_key failed: %w", err)
	}
	if c.API.Middleware.JWTSecret, err = resolve(c.API.Middleware.JWTSecret); err != nil {
		return fmt.Errorf("解析 jwt_secret failed: %w", err)
	}
	if c.Store.Password, err = resolve(c.Store.Password); err != nil {
		return fmt.Errorf("解析 store password failed: %w", err)
	}
	return nil
}

// ClearUnresolved 将仍为 ${VAR} 形式的敏感项置空。
// env 场景下变量未设置即视为未配置，如无 LLM key 时进入 mock 模式。
func (c *Config) ClearUnresolved() {
	blank := func(val string) string {
		if _, ok := envRefName(val); ok {
			return ""
		}
		return val
	}
	for provider, pc := range c.Model.LLM.Providers {
		pc.APIKey = blank(pc.APIKey)
		c.Model.LLM.Providers[provider] = pc
	}
	c.Browser.APIKey = blank(c.Browser.APIKey)
	c.API.Middleware.JWTSecret = blank(c.API.Middleware.JWTSecret)
	c.Store.Password = blank(c.Store.Password)
}

// resolveEnvRef 尝试从环境变量解析 ${VAR}；未设置时保留原值等待 Secret Store
func resolveEnvRef(val string) (string, bool) {
	name, ok := envRefName(val)
	if !ok {
		return "", false
	}
	if v := os.Getenv(name); v != "" {
		return v, true
	}
	return "", false
}

// envRefName 解析 ${VAR} 中的变量名
func envRefName(val string) (string, bool) {
	if !strings.HasPrefix(val, "${") || !strings.HasSuffix(val, "}") {
		return "", false
	}
	return strings.TrimSuffix(strings.TrimPrefix(val, "${"), "}"), true
}

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

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
)

// claudeDefaultMaxTokens Anthropic API 的 max_tokens 是必填项
const claudeDefaultMaxTokens = 1024

// ClaudeClient Claude 客户端
type ClaudeClient struct {
	provider string
	model    string
	apiKey   string
	baseURL  string
	client   *resty.Client
}

// NewClaudeClient 创建新的 Claude 客户端（base 优先用 ANTHROPIC_BASE_URL 环境变量）
func NewClaudeClient(model, apiKey string) (*ClaudeClient, error) {
	return NewClaudeClientWithBaseURL(model, apiKey, "")
}

// NewClaudeClientWithBaseURL 创建 Claude 客户端；baseURL 为空时用默认或 ANTHROPIC_BASE_URL
func NewClaudeClientWithBaseURL(model, apiKey, baseURL string) (*ClaudeClient, error) {
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	if baseURL == "" {
		baseURL = "https://api.anthropic.com/v1"
		if envURL := os.Getenv("ANTHROPIC_BASE_URL"); envURL != "" {
			baseURL = envURL
		}
	}

	client := resty.New()
	client.SetTimeout(30 * time.Second)
	client.SetRetryCount(3)
	client.SetRetryWaitTime(1 * time.Second)
	client.SetRetryMaxWaitTime(5 * time.Second)

	return &ClaudeClient{
		provider: "claude",
		model:    model,
		apiKey:   apiKey,
		baseURL:  baseURL,
		client:   client,
	}, nil
}

// Generate 生成文本
func (c *ClaudeClient) Generate(prompt string, options GenerateOptions) (string, error) {
	return c.GenerateWithContext(context.Background(), prompt, options)
}

// GenerateWithContext 使用上下文生成文本
func (c *ClaudeClient) GenerateWithContext(ctx context.Context, prompt string, options GenerateOptions) (string, error) {
	return c.ChatWithContext(ctx, []Message{{Role: "user", Content: prompt}}, options)
}

// Chat 聊天
func (c *ClaudeClient) Chat(messages []Message, options GenerateOptions) (string, error) {
	return c.ChatWithContext(context.Background(), messages, options)
}

// ChatWithContext 使用上下文聊天。
// Anthropic 的 messages 数组不收 system 角色，system 消息抽出放顶层字段。
func (c *ClaudeClient) ChatWithContext(ctx context.Context, messages []Message, options GenerateOptions) (string, error) {
	// 转换消息格式
	var system string
	claudeMessages := make([]map[string]string, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == "system" {
			system = msg.Content
			continue
		}
		claudeMessages = append(claudeMessages, map[string]string{
			"role":    msg.Role,
			"content": msg.Content,
		})
	}

	maxTokens := options.MaxTokens
	if maxTokens <= 0 {
		maxTokens = claudeDefaultMaxTokens
	}

	// 构建请求
	request := map[string]interface{}{
		"model":       c.model,
		"messages":    claudeMessages,
		"temperature": options.Temperature,
		"max_tokens":  maxTokens,
	}
	if system != "" {
		request["system"] = system
	}
	if len(options.Stop) > 0 {
		request["stop_sequences"] = options.Stop
	}

	// 发送请求
	response, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("x-api-key", c.apiKey).
		SetHeader("anthropic-version", "2023-06-01").
		SetBody(request).
		Post(c.baseURL + "/messages")

	if err != nil {
		return "", fmt.Errorf("调用 Claude API failed: %w", err)
	}

	// 检查响应状态
	if response.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("Claude API 返回错误: %s", response.String())
	}

	// 解析响应
	var result struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}

	if err := json.Unmarshal(response.Body(), &result); err != nil {
		return "", fmt.Errorf("解析 Claude 响应failed: %w", err)
	}

	if len(result.Content) == 0 {
		return "", fmt.Errorf("Claude API 没有返回结果")
	}

	return result.Content[0].Text, nil
}

// Model 返回模型名称
func (c *ClaudeClient) Model() string {
	return c.model
}

// Provider 返回提供商名称
func (c *ClaudeClient) Provider() string {
	return c.provider
}

// SetModel 设置模型
func (c *ClaudeClient) SetModel(model string) {
	c.model = model
}

// SetAPIKey 设置 API Key
func (c *ClaudeClient) SetAPIKey(apiKey string) {
	c.apiKey = apiKey
}

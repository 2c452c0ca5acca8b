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

// GeminiClient Gemini 客户端
type GeminiClient struct {
	provider string
	model    string
	apiKey   string
	baseURL  string
	client   *resty.Client
}

// NewGeminiClient 创建新的 Gemini 客户端（base 优先用 GEMINI_BASE_URL 环境变量）
func NewGeminiClient(model, apiKey string) (*GeminiClient, error) {
	return NewGeminiClientWithBaseURL(model, apiKey, "")
}

// NewGeminiClientWithBaseURL 创建 Gemini 客户端；baseURL 为空时用默认或 GEMINI_BASE_URL
func NewGeminiClientWithBaseURL(model, apiKey, baseURL string) (*GeminiClient, error) {
	if model == "" {
		model = "gemini-2.0-flash"
	}
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
		if envURL := os.Getenv("GEMINI_BASE_URL"); envURL != "" {
			baseURL = envURL
		}
	}

	client := resty.New()
	client.SetTimeout(30 * time.Second)
	client.SetRetryCount(3)
	client.SetRetryWaitTime(1 * time.Second)
	client.SetRetryMaxWaitTime(5 * time.Second)

	return &GeminiClient{
		provider: "gemini",
		model:    model,
		apiKey:   apiKey,
		baseURL:  baseURL,
		client:   client,
	}, nil
}

// Generate 生成文本
func (c *GeminiClient) Generate(prompt string, options GenerateOptions) (string, error) {
	return c.GenerateWithContext(context.Background(), prompt, options)
}

// GenerateWithContext 使用上下文生成文本
func (c *GeminiClient) GenerateWithContext(ctx context.Context, prompt string, options GenerateOptions) (string, error) {
	return c.ChatWithContext(ctx, []Message{{Role: "user", Content: prompt}}, options)
}

// Chat 聊天
func (c *GeminiClient) Chat(messages []Message, options GenerateOptions) (string, error) {
	return c.ChatWithContext(context.Background(), messages, options)
}

// ChatWithContext 使用上下文聊天。
// Gemini 的 contents 只收 user/model 角色：assistant 映射为 model，
// system 消息抽出放 systemInstruction；采样参数在 generationConfig 里。
func (c *GeminiClient) ChatWithContext(ctx context.Context, messages []Message, options GenerateOptions) (string, error) {
	// 转换消息格式
	var system string
	contents := make([]map[string]interface{}, 0, len(messages))
	for _, msg := range messages {
		role := msg.Role
		switch role {
		case "system":
			system = msg.Content
			continue
		case "assistant":
			role = "model"
		}
		contents = append(contents, map[string]interface{}{
			"role": role,
			"parts": []map[string]interface{}{{
				"text": msg.Content,
			}},
		})
	}

	generationConfig := map[string]interface{}{
		"temperature": options.Temperature,
	}
	if options.MaxTokens > 0 {
		generationConfig["maxOutputTokens"] = options.MaxTokens
	}
	if options.TopP > 0 {
		generationConfig["topP"] = options.TopP
	}
	if len(options.Stop) > 0 {
		generationConfig["stopSequences"] = options.Stop
	}

	// 构建请求
	request := map[string]interface{}{
		"contents":         contents,
		"generationConfig": generationConfig,
	}
	if system != "" {
		request["systemInstruction"] = map[string]interface{}{
			"parts": []map[string]interface{}{{"text": system}},
		}
	}

	// 发送请求
	response, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("x-goog-api-key", c.apiKey).
		SetBody(request).
		Post(c.baseURL + "/models/" + c.model + ":generateContent")

	if err != nil {
		return "", fmt.Errorf("调用 Gemini API failed: %w", err)
	}

	// 检查响应状态
	if response.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("Gemini API 返回错误: %s", response.String())
	}

	// 解析响应
	var result struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}

	if err := json.Unmarshal(response.Body(), &result); err != nil {
		return "", fmt.Errorf("解析 Gemini 响应failed: %w", err)
	}

	if len(result.Candidates) == 0 {
		return "", fmt.Errorf("Gemini API 没有返回结果")
	}

	if len(result.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("Gemini API 没有返回文本")
	}

	return result.Candidates[0].Content.Parts[0].Text, nil
}

// Model 返回模型名称
func (c *GeminiClient) Model() string {
	return c.model
}

// Provider 返回提供商名称
func (c *GeminiClient) Provider() string {
	return c.provider
}

// SetModel 设置模型
func (c *GeminiClient) SetModel(model string) {
	c.model = model
}

// SetAPIKey 设置 API Key
func (c *GeminiClient) SetAPIKey(apiKey string) {
	c.apiKey = apiKey
}

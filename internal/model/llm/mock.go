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
	"strings"
)

const contextMarker = "Data from prior steps:"

// MockClient 离线 mock 客户端：不发任何网络请求，按系统提示词返回确定性 JSON。
// 无 API Key 的开发环境与测试用它跑通完整流水线。
type MockClient struct {
	model string
}

// NewMockClient 创建 mock 客户端
func NewMockClient(model string) *MockClient {
	if model == "" {
		model = "mock"
	}
	return &MockClient{model: model}
}

// Generate 生成文本
func (c *MockClient) Generate(prompt string, options GenerateOptions) (string, error) {
	return c.GenerateWithContext(context.Background(), prompt, options)
}

// GenerateWithContext 使用上下文生成文本
func (c *MockClient) GenerateWithContext(ctx context.Context, prompt string, options GenerateOptions) (string, error) {
	return c.ChatWithContext(ctx, []Message{{Role: "user", Content: prompt}}, options)
}

// Chat 聊天
func (c *MockClient) Chat(messages []Message, options GenerateOptions) (string, error) {
	return c.ChatWithContext(context.Background(), messages, options)
}

// ChatWithContext 按系统提示词路由到对应的固定响应
func (c *MockClient) ChatWithContext(_ context.Context, messages []Message, _ GenerateOptions) (string, error) {
	var system, user string
	for _, m := range messages {
		switch m.Role {
		case "system":
			system = m.Content
		case "user":
			user = m.Content
		}
	}

	switch {
	case strings.Contains(system, "data analyst"):
		return mockJSON(map[string]any{
			"ranked":   stepContext(user),
			"analysis": "Mock comparison: items ranked by available data.",
		})
	case strings.Contains(system, "research summarizer"):
		return mockJSON(map[string]any{
			"summary":        "Mock summary of collected research data.",
			"highlights":     []string{"Finding 1", "Finding 2", "Finding 3"},
			"recommendation": "Based on mock data, the first result is recommended.",
		})
	case strings.Contains(system, "research analyst"):
		return mockJSON(map[string]any{
			"result": fmt.Sprintf("Mock analyze analysis of %d data points.", len(stepContext(user))),
		})
	case strings.Contains(system, "ranking engine"):
		return mockJSON(map[string]any{
			"result": fmt.Sprintf("Mock rank analysis of %d data points.", len(stepContext(user))),
		})
	default:
		return mockJSON(map[string]any{"result": "mock response"})
	}
}

// Model 返回模型名称
func (c *MockClient) Model() string {
	return c.model
}

// Provider 返回提供商名称
func (c *MockClient) Provider() string {
	return "mock"
}

// SetModel 设置模型
func (c *MockClient) SetModel(model string) {
	c.model = model
}

// SetAPIKey mock 客户端不持有密钥
func (c *MockClient) SetAPIKey(string) {}

// stepContext 从用户提示词尾部的 JSON 中还原上游步骤结果列表
func stepContext(user string) []any {
	idx := strings.Index(user, contextMarker)
	if idx < 0 {
		return nil
	}
	raw := strings.TrimSpace(user[idx+len(contextMarker):])
	var items []any
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil
	}
	return items
}

func mockJSON(v map[string]any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

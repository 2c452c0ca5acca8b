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
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/openai"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// EinoClient 基于 Eino ChatModel 的 LLM 客户端，把统一的 Client 接口映射到
// eino 的 Generate 调用上（消息转 *schema.Message，选项转 model.Option）
type EinoClient struct {
	model     string
	apiKey    string
	chatModel einomodel.BaseChatModel
}

// NewEinoClient 创建 Eino OpenAI ChatModel 客户端
func NewEinoClient(ctx context.Context, model, apiKey string) (*EinoClient, error) {
	chatModel, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		Model:  model,
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("创建 OpenAI ChatModel failed: %w", err)
	}
	return &EinoClient{model: model, apiKey: apiKey, chatModel: chatModel}, nil
}

// NewEinoClientWithModel 用已有 ChatModel 构建客户端（测试或自定义模型注入用）
func NewEinoClientWithModel(chatModel einomodel.BaseChatModel, model string) *EinoClient {
	return &EinoClient{model: model, chatModel: chatModel}
}

// Generate 生成文本
func (c *EinoClient) Generate(prompt string, options GenerateOptions) (string, error) {
	return c.GenerateWithContext(context.Background(), prompt, options)
}

// GenerateWithContext 使用上下文生成文本
func (c *EinoClient) GenerateWithContext(ctx context.Context, prompt string, options GenerateOptions) (string, error) {
	return c.ChatWithContext(ctx, []Message{{Role: "user", Content: prompt}}, options)
}

// Chat 聊天
func (c *EinoClient) Chat(messages []Message, options GenerateOptions) (string, error) {
	return c.ChatWithContext(context.Background(), messages, options)
}

// ChatWithContext 使用上下文聊天
func (c *EinoClient) ChatWithContext(ctx context.Context, messages []Message, options GenerateOptions) (string, error) {
	in := make([]*schema.Message, 0, len(messages))
	for _, m := range messages {
		in = append(in, &schema.Message{Role: roleToSchema(m.Role), Content: m.Content})
	}

	out, err := c.chatModel.Generate(ctx, in, einoOptions(options)...)
	if err != nil {
		return "", fmt.Errorf("eino 生成failed: %w", err)
	}
	if out == nil {
		return "", fmt.Errorf("eino 没有返回结果")
	}
	return out.Content, nil
}

// Model 返回模型名称
func (c *EinoClient) Model() string {
	return c.model
}

// Provider 返回提供商名称
func (c *EinoClient) Provider() string {
	return "eino"
}

// SetModel 设置模型
func (c *EinoClient) SetModel(model string) {
	c.model = model
}

// SetAPIKey 设置 API Key
func (c *EinoClient) SetAPIKey(apiKey string) {
	c.apiKey = apiKey
}

func roleToSchema(role string) schema.RoleType {
	switch role {
	case "user":
		return schema.User
	case "assistant":
		return schema.Assistant
	case "system":
		return schema.System
	default:
		return schema.RoleType(role)
	}
}

// einoOptions 转换生成选项；Temperature 始终下发（0 表示确定性输出，不能当缺省吞掉）
func einoOptions(options GenerateOptions) []einomodel.Option {
	opts := make([]einomodel.Option, 0, 4)
	opts = append(opts, einomodel.WithTemperature(float32(options.Temperature)))
	if options.MaxTokens > 0 {
		opts = append(opts, einomodel.WithMaxTokens(options.MaxTokens))
	}
	if options.TopP > 0 {
		opts = append(opts, einomodel.WithTopP(float32(options.TopP)))
	}
	if len(options.Stop) > 0 {
		opts = append(opts, einomodel.WithStop(options.Stop))
	}
	return opts
}

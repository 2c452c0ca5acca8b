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

package executor

import (
	"context"

	"agent-platform/internal/agent/task"
	"agent-platform/internal/model/llm"
	"agent-platform/internal/parse"
	"agent-platform/pkg/breaker"
	"agent-platform/pkg/log"
)

// LLMBackend 执行推理类步骤（compare/analyze/rank/summarize）：
// 把前序步骤结果作为上下文喂给 LLM，产出结构化结论
type LLMBackend struct {
	client  llm.Client
	breaker *breaker.Breaker
	parser  *parse.Parser
	logger  *log.Logger
}

// NewLLMBackend 创建 LLM 后端
func NewLLMBackend(client llm.Client, brk *breaker.Breaker, parser *parse.Parser, logger *log.Logger) *LLMBackend {
	return &LLMBackend{client: client, breaker: brk, parser: parser, logger: logger}
}

// Execute 执行一个推理步骤。LLM 未配置时返回确定性 mock 结论。
func (l *LLMBackend) Execute(ctx context.Context, step *task.Step, stepContext []map[string]any) (map[string]any, error) {
	if stepContext == nil {
		stepContext = []map[string]any{}
	}
	if llm.IsMock(l.client) {
		l.logger.Debug("LLM 未配置，返回 mock 结论", "step_id", step.ID, "action", step.Action)
		return mockLLMResult(step, stepContext), nil
	}

	systemPrompt := llmSystemPrompt(step.Action)
	userPrompt := llmUserPrompt(step, stepContext)

	var reply string
	err := l.breaker.Do(ctx, func(ctx context.Context) error {
		var chatErr error
		reply, chatErr = l.client.ChatWithContext(ctx, []llm.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		}, llm.GenerateOptions{Temperature: 0.2, MaxTokens: 2048})
		return chatErr
	})
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"success":  true,
		"response": l.parser.Parse(ctx, reply, nil),
		"raw_text": reply,
		"cost_usd": estimateLLMCost(userPrompt, reply),
		"executor": "llm",
	}, nil
}

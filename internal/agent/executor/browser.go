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
	"fmt"

	"agent-platform/internal/agent/task"
	"agent-platform/internal/parse"
	"agent-platform/internal/runtime/browser"
	"agent-platform/pkg/breaker"
	"agent-platform/pkg/log"
)

// BrowserBackend 通过会话池驱动远端浏览器 Agent 执行页面动作。
// Agent 未配置时会话为 nil，退回内置的确定性 mock 数据。
type BrowserBackend struct {
	breaker *breaker.Breaker
	parser  *parse.Parser
	logger  *log.Logger
}

// NewBrowserBackend 创建浏览器后端
func NewBrowserBackend(brk *breaker.Breaker, parser *parse.Parser, logger *log.Logger) *BrowserBackend {
	return &BrowserBackend{breaker: brk, parser: parser, logger: logger}
}

// Execute 执行一个浏览器步骤。会话在动作期间被占用，结束即归还（不关闭，留给同域复用）。
func (b *BrowserBackend) Execute(ctx context.Context, step *task.Step, pool *browser.Pool) (map[string]any, error) {
	session, err := pool.Acquire(ctx, step.Target)
	if err != nil {
		return nil, fmt.Errorf("获取浏览器会话failed: %w", err)
	}
	defer pool.Release(step.Target)

	if session == nil {
		b.logger.Debug("浏览器未配置，返回 mock 结果", "step_id", step.ID, "action", step.Action)
		return mockBrowserResult(step), nil
	}

	prompt := browserPrompt(step)
	var res *browser.ActResult
	err = b.breaker.Do(ctx, func(ctx context.Context) error {
		var actErr error
		res, actErr = session.Act(ctx, prompt)
		return actErr
	})
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, fmt.Errorf("浏览器动作failed: %s", res.Error)
	}

	return map[string]any{
		"success":  true,
		"response": b.parser.Parse(ctx, res.Response, res.Parsed),
		"url":      step.Target,
		"cost_usd": estimateBrowserCost(),
		"executor": "browser",
	}, nil
}

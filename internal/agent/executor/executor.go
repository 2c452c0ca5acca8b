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

// Package executor 把单个步骤分发到浏览器或 LLM 后端执行，
// 带指数退避重试、熔断保护与成本核算。
// 失败不向上抛：统一收敛为 {"success": false, "error": ...} 结果信封。
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"agent-platform/internal/agent/task"
	"agent-platform/internal/runtime/browser"
	"agent-platform/pkg/breaker"
	"agent-platform/pkg/log"
	"agent-platform/pkg/metrics"
	"agent-platform/pkg/tracing"
)

// Executor 步骤执行入口
type Executor struct {
	browser *BrowserBackend
	llm     *LLMBackend
	logger  *log.Logger

	// 测试里替换，免去真实退避等待
	sleep func(context.Context, time.Duration) error
}

// New 创建 Executor
func New(browserBackend *BrowserBackend, llmBackend *LLMBackend, logger *log.Logger) *Executor {
	return &Executor{
		browser: browserBackend,
		llm:     llmBackend,
		logger:  logger,
		sleep:   sleepContext,
	}
}

// Execute 执行一个步骤。attempt 从 0 数到 MaxRetries（含），第 attempt 次
// 失败后退避 2^attempt 秒再试；熔断拒绝与确定性错误不重试。
// 执行期内回写 step.Retries 与 step.CostUSD。
func (e *Executor) Execute(ctx context.Context, step *task.Step, stepContext []map[string]any, pool *browser.Pool) map[string]any {
	ctx, span := tracing.StartStepSpan(ctx, step.ID, string(step.Action))
	defer span.End()

	start := time.Now()
	result, err := e.run(ctx, step, stepContext, pool)
	metrics.StepDuration.WithLabelValues(string(step.Action)).Observe(time.Since(start).Seconds())

	if err != nil {
		return map[string]any{"success": false, "error": err.Error()}
	}
	return result
}

func (e *Executor) run(ctx context.Context, step *task.Step, stepContext []map[string]any, pool *browser.Pool) (map[string]any, error) {
	for attempt := 0; ; attempt++ {
		step.Retries = attempt

		result, err := e.dispatch(ctx, step, stepContext, pool)
		if err == nil {
			if cost, ok := result["cost_usd"].(float64); ok {
				step.CostUSD = cost
			}
			return result, nil
		}

		var open *breaker.OpenError
		switch {
		case errors.As(err, &open):
			// 重试只会继续撞闸门，原样上抛熔断错误
			metrics.BreakerRejectTotal.WithLabelValues(open.Name).Inc()
			e.logger.Warn("熔断拒绝", "step_id", step.ID, "breaker", open.Name, "retry_after", open.RetryAfter)
			return nil, err
		case nonRetryable(err):
			e.logger.Warn("确定性错误，不重试", "step_id", step.ID, "error", err)
			return nil, err
		case attempt >= step.MaxRetries:
			return nil, err
		}

		delay := backoffDelay(attempt)
		e.logger.Warn("步骤执行失败，退避后重试",
			"step_id", step.ID, "action", step.Action,
			"attempt", attempt, "delay", delay, "error", err)
		if serr := e.sleep(ctx, delay); serr != nil {
			return nil, serr
		}
	}
}

func (e *Executor) dispatch(ctx context.Context, step *task.Step, stepContext []map[string]any, pool *browser.Pool) (map[string]any, error) {
	switch step.Executor {
	case task.ExecutorBrowser:
		return e.browser.Execute(ctx, step, pool)
	case task.ExecutorLLM:
		return e.llm.Execute(ctx, step, stepContext)
	default:
		return nil, fmt.Errorf("未知执行器: %s", step.Executor)
	}
}

// backoffDelay 第 attempt 次失败后的等待时长：2^attempt 秒
func backoffDelay(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt)) * time.Second
}

// nonRetryable 远端浏览器 Agent 的确定性错误，重试必然复现
func nonRetryable(err error) bool {
	return strings.Contains(err.Error(), "ExceededMaxSteps")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

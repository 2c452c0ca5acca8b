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

// Package planner 把自然语言命令分解为带依赖的步骤图。
// LLM 规划失败或未配置时回退到确定性的关键词启发式规划。
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"agent-platform/internal/agent/task"
	"agent-platform/internal/model/llm"
	"agent-platform/pkg/log"
)

const defaultRetryMax = 2

const plannerSystemPrompt = `You are an autonomous task planner. Given a user command, decompose it into
a list of concrete steps that an AI agent will execute.

There are TWO types of executors:
  - "browser": for steps that require visiting a website (navigate, search, extract, click, fill)
  - "llm": for steps that require reasoning over data (compare, analyze, rank, summarize)

Steps that can run in parallel should NOT depend on each other.
For example, searching Amazon and searching Best Buy are independent and can run in parallel.
Only add a dependency when a step truly needs the output of a prior step.

IMPORTANT — description rules for browser steps:
  - Keep descriptions SHORT (under 10 words). They drive a browser automation agent.
  - For "search" actions: only state WHAT to search for. Example: "espresso machines under $500"
  - For "extract" actions: just say "Extract product results"
  - For "navigate" actions: just say "Open <site name>"
  - NEVER include JSON, schemas, formatting instructions, or site names in search descriptions.

Reply ONLY with a JSON array. Each element must have:
  - "action": the type of action (e.g. "navigate", "search", "extract", "compare", "summarize")
  - "target": full URL (use "aggregated" for LLM steps that process collected data)
  - "description": short action-only instruction (see rules above)
  - "executor": "browser" or "llm"
  - "group": a short label for the branch (e.g. "amazon", "bestbuy", "analysis")
  - "depends_on": array of step indices (0-based) that must complete first. Empty [] for no deps.

Example for "compare laptops on Amazon and Best Buy":
[
  {"action": "navigate", "target": "https://www.amazon.com", "description": "Open Amazon", "executor": "browser", "group": "amazon", "depends_on": []},
  {"action": "search", "target": "https://www.amazon.com", "description": "laptops under $800", "executor": "browser", "group": "amazon", "depends_on": [0]},
  {"action": "extract", "target": "https://www.amazon.com", "description": "Extract product results", "executor": "browser", "group": "amazon", "depends_on": [1]},
  {"action": "navigate", "target": "https://www.bestbuy.com", "description": "Open Best Buy", "executor": "browser", "group": "bestbuy", "depends_on": []},
  {"action": "search", "target": "https://www.bestbuy.com", "description": "laptops under $800", "executor": "browser", "group": "bestbuy", "depends_on": [3]},
  {"action": "extract", "target": "https://www.bestbuy.com", "description": "Extract product results", "executor": "browser", "group": "bestbuy", "depends_on": [4]},
  {"action": "compare", "target": "aggregated", "description": "Compare and rank by value", "executor": "llm", "group": "analysis", "depends_on": [2, 5]},
  {"action": "summarize", "target": "aggregated", "description": "Final summary with recommendations", "executor": "llm", "group": "analysis", "depends_on": [6]}
]

Do NOT include any text outside the JSON array.`

// rawStep LLM 回复与启发式规划共用的步骤描述符。
// depends_on 里既可能是下标（JSON 数字）也可能是步骤 ID（字符串）。
type rawStep struct {
	Action      string `json:"action"`
	Target      string `json:"target"`
	Description string `json:"description"`
	Executor    string `json:"executor"`
	Group       string `json:"group"`
	DependsOn   []any  `json:"depends_on"`
}

// FailedStep 重规划提示词里的失败步骤摘要
type FailedStep struct {
	ID     string `json:"id"`
	Action string `json:"action"`
	Target string `json:"target"`
	Error  string `json:"error"`
}

// Planner 计划生成器
type Planner struct {
	client   llm.Client
	retryMax int
	logger   *log.Logger
}

// New 创建 Planner；retryMax < 0 时步骤默认最多重试 2 次
func New(client llm.Client, retryMax int, logger *log.Logger) *Planner {
	if retryMax < 0 {
		retryMax = defaultRetryMax
	}
	return &Planner{client: client, retryMax: retryMax, logger: logger}
}

// Plan 为命令生成计划。LLM 不可用或产出无法通过校验时回退启发式。
func (p *Planner) Plan(ctx context.Context, taskID, command string) (*task.Plan, error) {
	raw, err := p.generate(ctx, command)
	if err != nil {
		p.logger.Warn("LLM 规划失败，回退启发式", "task_id", taskID, "error", err)
		raw = heuristicSteps(command)
	}

	plan, err := p.ingest(taskID, command, raw)
	if err != nil {
		p.logger.Warn("计划校验失败，回退启发式", "task_id", taskID, "error", err)
		return p.ingest(taskID, command, heuristicSteps(command))
	}
	return plan, nil
}

// Replan 在步骤失败后生成替代计划
func (p *Planner) Replan(ctx context.Context, taskID, command string, failed []FailedStep, results []map[string]any) (*task.Plan, error) {
	raw, err := p.generateReplan(ctx, command, failed, results)
	if err != nil {
		p.logger.Warn("LLM 重规划失败，回退启发式", "task_id", taskID, "error", err)
		raw = heuristicSteps(command)
	}

	plan, err := p.ingest(taskID, command, raw)
	if err != nil {
		p.logger.Warn("重规划校验失败，回退启发式", "task_id", taskID, "error", err)
		return p.ingest(taskID, command, heuristicSteps(command))
	}
	return plan, nil
}

func (p *Planner) generate(ctx context.Context, command string) ([]rawStep, error) {
	if llm.IsMock(p.client) {
		p.logger.Info("规划走启发式（LLM 未配置）")
		return heuristicSteps(command), nil
	}

	reply, err := p.client.ChatWithContext(ctx, []llm.Message{
		{Role: "system", Content: plannerSystemPrompt},
		{Role: "user", Content: command},
	}, llm.GenerateOptions{Temperature: 0.2, MaxTokens: 2048})
	if err != nil {
		return nil, fmt.Errorf("规划 LLM 调用failed: %w", err)
	}

	steps, err := parseStepArray(reply)
	if err != nil {
		return nil, err
	}
	p.logger.Info("LLM 规划完成", "steps", len(steps))
	return steps, nil
}

func (p *Planner) generateReplan(ctx context.Context, command string, failed []FailedStep, results []map[string]any) ([]rawStep, error) {
	if llm.IsMock(p.client) {
		p.logger.Info("重规划走启发式（LLM 未配置）")
		return heuristicSteps(command), nil
	}

	failedJSON, err := json.MarshalIndent(failed, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("序列化失败步骤failed: %w", err)
	}
	contextJSON, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("序列化上下文failed: %w", err)
	}

	prompt := fmt.Sprintf(
		"Original command: %s\n\n"+
			"These steps failed:\n%s\n\n"+
			"Available context from successful steps:\n%s\n\n"+
			"Generate an alternative plan to accomplish the original command. "+
			"Try different sites or approaches. Reply ONLY with a JSON array.",
		command, failedJSON, contextJSON,
	)

	reply, err := p.client.ChatWithContext(ctx, []llm.Message{
		{Role: "system", Content: plannerSystemPrompt},
		{Role: "user", Content: prompt},
	}, llm.GenerateOptions{Temperature: 0.3, MaxTokens: 2048})
	if err != nil {
		return nil, fmt.Errorf("重规划 LLM 调用failed: %w", err)
	}

	steps, err := parseStepArray(reply)
	if err != nil {
		return nil, err
	}
	p.logger.Info("LLM 重规划完成", "steps", len(steps))
	return steps, nil
}

// parseStepArray 从回复中提取 JSON 数组（可能被 markdown 或说明文字包裹）
func parseStepArray(reply string) ([]rawStep, error) {
	reply = strings.TrimSpace(reply)

	var steps []rawStep
	if err := json.Unmarshal([]byte(reply), &steps); err == nil {
		return steps, nil
	}

	start := strings.Index(reply, "[")
	end := strings.LastIndex(reply, "]")
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(reply[start:end+1]), &steps); err == nil {
			return steps, nil
		}
	}
	return nil, fmt.Errorf("无法从规划回复中解析步骤数组")
}

// ingest 把原始描述符转成计划：分配步骤 ID、下标依赖改写为 ID、
// 按动作归一 executor，并校验依赖图（无环、引用存在、动作已知）
func (p *Planner) ingest(taskID, command string, raw []rawStep) (*task.Plan, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("计划为空")
	}

	steps := make([]*task.Step, len(raw))
	for i, item := range raw {
		action := task.Action(item.Action)
		if !task.ValidAction(action) {
			return nil, fmt.Errorf("未知动作: %q", item.Action)
		}
		steps[i] = &task.Step{
			ID:          task.NewStepID(),
			Action:      action,
			Target:      item.Target,
			Description: item.Description,
			Executor:    action.Executor(),
			Group:       item.Group,
			Status:      task.StepPending,
			MaxRetries:  p.retryMax,
		}
	}

	byID := make(map[string]int, len(steps))
	for i, s := range steps {
		byID[s.ID] = i
	}

	for i, item := range raw {
		resolved := make([]string, 0, len(item.DependsOn))
		for _, dep := range item.DependsOn {
			switch d := dep.(type) {
			case float64:
				idx := int(d)
				if idx < 0 || idx >= len(steps) {
					return nil, fmt.Errorf("依赖下标越界: %d", idx)
				}
				resolved = append(resolved, steps[idx].ID)
			case int:
				if d < 0 || d >= len(steps) {
					return nil, fmt.Errorf("依赖下标越界: %d", d)
				}
				resolved = append(resolved, steps[d].ID)
			case string:
				if _, ok := byID[d]; !ok {
					return nil, fmt.Errorf("依赖指向不存在的步骤: %s", d)
				}
				resolved = append(resolved, d)
			default:
				return nil, fmt.Errorf("无法识别的依赖引用: %v", dep)
			}
		}
		steps[i].DependsOn = resolved
	}

	if err := validateDAG(steps); err != nil {
		return nil, err
	}

	return task.NewPlan(taskID, command, steps), nil
}

// validateDAG Kahn 拓扑排序检查依赖无环
func validateDAG(steps []*task.Step) error {
	indegree := make(map[string]int, len(steps))
	dependents := make(map[string][]string, len(steps))
	for _, s := range steps {
		indegree[s.ID] += 0
		for _, dep := range s.DependsOn {
			indegree[s.ID]++
			dependents[dep] = append(dependents[dep], s.ID)
		}
	}

	queue := make([]string, 0, len(steps))
	for id, n := range indegree {
		if n == 0 {
			queue = append(queue, id)
		}
	}

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if visited != len(steps) {
		return fmt.Errorf("依赖图存在环")
	}
	return nil
}

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

// Package scheduler 把计划当作依赖图并发执行：
// 就绪即发、先完成先收、分支互不牵连，断裂的依赖链整条跳过。
package scheduler

import (
	"context"
	"fmt"

	"agent-platform/internal/agent/executor"
	"agent-platform/internal/agent/task"
	"agent-platform/internal/runtime/browser"
	"agent-platform/internal/runtime/events"
	"agent-platform/pkg/log"
	"agent-platform/pkg/metrics"
)

// EventFunc 调度过程中逐步上报事件；task_id 由调用方补齐
type EventFunc func(kind events.Kind, data map[string]any)

// Summary 一次图执行的汇总
type Summary struct {
	Total     int
	Completed int
	Failed    int
	Skipped   int

	// CompletedByID 步骤 ID → 结果；CompletedOrder 按完成先后排列
	CompletedByID  map[string]map[string]any
	CompletedOrder []string

	// FailedIDs 失败与被跳过的步骤（级联口径，供重规划使用）
	FailedIDs []string
}

type stepOutcome struct {
	stepID string
	result map[string]any
}

// Scheduler 单次计划的执行器。所有状态只在 Run 的循环 goroutine 上读写；
// worker 只跑外部调用，经 channel 把结果送回循环。
type Scheduler struct {
	plan    *task.Plan
	exec    *executor.Executor
	pool    *browser.Pool
	onEvent EventFunc
	logger  *log.Logger

	steps          map[string]*task.Step
	pending        map[string]struct{}
	completed      map[string]map[string]any
	completedOrder []string
	broken         map[string]struct{} // failed + skipped，级联判断用
}

// New 创建一次性调度器；一个 Scheduler 只执行一个计划一次
func New(plan *task.Plan, exec *executor.Executor, pool *browser.Pool, onEvent EventFunc, logger *log.Logger) *Scheduler {
	s := &Scheduler{
		plan:      plan,
		exec:      exec,
		pool:      pool,
		onEvent:   onEvent,
		logger:    logger,
		steps:     make(map[string]*task.Step, len(plan.Steps)),
		pending:   make(map[string]struct{}, len(plan.Steps)),
		completed: make(map[string]map[string]any),
		broken:    make(map[string]struct{}),
	}
	for _, step := range plan.Steps {
		s.steps[step.ID] = step
		s.pending[step.ID] = struct{}{}
	}
	return s
}

// Run 执行整张图直到既无在途也无就绪步骤。
// ctx 取消后不再发起新步骤，但会等在途 worker 收尾（它们拿的是同一个 ctx，会很快失败）。
func (s *Scheduler) Run(ctx context.Context) *Summary {
	results := make(chan stepOutcome, len(s.plan.Steps))
	running := 0

	for {
		if ctx.Err() == nil {
			for _, step := range s.readySteps() {
				s.logger.Info("发起步骤",
					"task_id", s.plan.TaskID, "step_id", step.ID,
					"action", step.Action, "group", step.Group)
				s.launch(ctx, step, results)
				running++
			}
		}

		if running == 0 {
			break
		}

		outcome := <-results
		running--
		s.finish(outcome)
	}

	sum := s.summary()
	s.logger.Info("图执行结束",
		"task_id", s.plan.TaskID, "total", sum.Total,
		"completed", sum.Completed, "failed", sum.Failed, "skipped", sum.Skipped)
	return sum
}

// readySteps 摘出所有依赖齐备的待执行步骤；
// 依赖断裂的步骤立刻置为 skipped，并反复扫描直到级联传导完毕
func (s *Scheduler) readySteps() []*task.Step {
	var ready []*task.Step
	for {
		cascaded := false
		for id := range s.pending {
			step := s.steps[id]
			if step.Status != task.StepPending {
				delete(s.pending, id)
				continue
			}

			if s.dependencyBroken(step) {
				step.MarkSkipped("dependency failed")
				s.broken[id] = struct{}{}
				delete(s.pending, id)
				metrics.StepTotal.WithLabelValues(string(step.Action), "skipped").Inc()
				s.logger.Info("依赖链断裂，跳过步骤",
					"task_id", s.plan.TaskID, "step_id", id, "action", step.Action)
				cascaded = true
				continue
			}

			if s.dependenciesMet(step) {
				ready = append(ready, step)
				delete(s.pending, id)
			}
		}
		if !cascaded {
			return ready
		}
	}
}

func (s *Scheduler) dependencyBroken(step *task.Step) bool {
	for _, depID := range step.DependsOn {
		if _, bad := s.broken[depID]; bad {
			return true
		}
	}
	return false
}

func (s *Scheduler) dependenciesMet(step *task.Step) bool {
	for _, depID := range step.DependsOn {
		if _, ok := s.completed[depID]; !ok {
			return false
		}
	}
	return true
}

// collectContext 汇集依赖结果作为步骤上下文：
// 显式依赖按声明顺序取；无依赖的 LLM 步骤拿到当前全部已完成结果（完成顺序）
func (s *Scheduler) collectContext(step *task.Step) []map[string]any {
	stepContext := make([]map[string]any, 0, len(step.DependsOn))
	for _, depID := range step.DependsOn {
		if result, ok := s.completed[depID]; ok {
			stepContext = append(stepContext, result)
		}
	}
	if len(step.DependsOn) == 0 && step.Executor == task.ExecutorLLM {
		for _, id := range s.completedOrder {
			stepContext = append(stepContext, s.completed[id])
		}
	}
	return stepContext
}

func (s *Scheduler) launch(ctx context.Context, step *task.Step, results chan<- stepOutcome) {
	step.MarkRunning()
	s.emit(events.StepStarted, map[string]any{
		"step_id":     step.ID,
		"action":      string(step.Action),
		"description": step.Description,
		"group":       step.Group,
		"executor":    string(step.Executor),
	})
	stepContext := s.collectContext(step)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("步骤 worker panic", "step_id", step.ID, "panic", r)
				results <- stepOutcome{step.ID, map[string]any{
					"success": false,
					"error":   fmt.Sprintf("panic: %v", r),
				}}
			}
		}()
		results <- stepOutcome{step.ID, s.exec.Execute(ctx, step, stepContext, s.pool)}
	}()
}

func (s *Scheduler) finish(outcome stepOutcome) {
	step := s.steps[outcome.stepID]
	result := outcome.result

	if success, _ := result["success"].(bool); success {
		step.MarkCompleted(result)
		s.completed[step.ID] = result
		s.completedOrder = append(s.completedOrder, step.ID)
		metrics.StepTotal.WithLabelValues(string(step.Action), "completed").Inc()
		s.logger.Info("步骤完成",
			"task_id", s.plan.TaskID, "step_id", step.ID,
			"action", step.Action, "group", step.Group)
		s.emit(events.StepCompleted, map[string]any{"step_id": step.ID, "result": result})
		return
	}

	errMsg, _ := result["error"].(string)
	if errMsg == "" {
		errMsg = "unknown error"
	}
	step.MarkFailed(errMsg)
	s.broken[step.ID] = struct{}{}
	metrics.StepTotal.WithLabelValues(string(step.Action), "failed").Inc()
	s.logger.Error("步骤失败",
		"task_id", s.plan.TaskID, "step_id", step.ID,
		"action", step.Action, "target", step.Target, "error", errMsg)
	s.emit(events.StepFailed, map[string]any{"step_id": step.ID, "error": step.Error})
}

func (s *Scheduler) summary() *Summary {
	sum := &Summary{
		Total:          len(s.plan.Steps),
		CompletedByID:  s.completed,
		CompletedOrder: s.completedOrder,
	}
	for _, step := range s.plan.Steps {
		switch step.Status {
		case task.StepCompleted:
			sum.Completed++
		case task.StepFailed:
			sum.Failed++
			sum.FailedIDs = append(sum.FailedIDs, step.ID)
		case task.StepSkipped:
			sum.Skipped++
			sum.FailedIDs = append(sum.FailedIDs, step.ID)
		}
	}
	return sum
}

func (s *Scheduler) emit(kind events.Kind, data map[string]any) {
	if s.onEvent != nil {
		s.onEvent(kind, data)
	}
}

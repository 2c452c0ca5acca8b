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

// Package pipeline 驱动任务走完整生命周期：
// 规划 → 执行 → （全军覆没时重规划一次）→ 结算。
// 任务状态只在这里变更；无论哪条路径退出，恰好发一条 task_done。
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"agent-platform/internal/agent/executor"
	"agent-platform/internal/agent/planner"
	"agent-platform/internal/agent/scheduler"
	"agent-platform/internal/agent/task"
	"agent-platform/internal/output"
	"agent-platform/internal/runtime/browser"
	"agent-platform/internal/runtime/events"
	"agent-platform/internal/runtime/taskstore"
	"agent-platform/pkg/log"
	"agent-platform/pkg/metrics"
	"agent-platform/pkg/tracing"
)

const (
	// 终态落盘与会话池回收不跟随任务 ctx：取消的任务也要把结果写穿
	finalSaveTimeout    = 5 * time.Second
	poolShutdownTimeout = 10 * time.Second
)

// AlreadyTerminalError 任务已进入终态，取消请求不再受理
type AlreadyTerminalError struct {
	Status task.Status
}

func (e *AlreadyTerminalError) Error() string {
	return fmt.Sprintf("task already %s", e.Status)
}

// Driver 任务流水线。进程级单例：存储、事件、规划器、执行器共享，
// 浏览器会话池按任务创建按任务回收。
type Driver struct {
	store       taskstore.Store
	hub         *events.Hub
	planner     *planner.Planner
	exec        *executor.Executor
	agent       *browser.Agent
	maxSessions int
	logger      *log.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	killed  map[string]struct{} // 取消先于 Run 到达的任务
}

// New 创建流水线
func New(store taskstore.Store, hub *events.Hub, p *planner.Planner, exec *executor.Executor,
	agent *browser.Agent, maxSessions int, logger *log.Logger) *Driver {
	return &Driver{
		store:       store,
		hub:         hub,
		planner:     p,
		exec:        exec,
		agent:       agent,
		maxSessions: maxSessions,
		logger:      logger,
		cancels:     make(map[string]context.CancelFunc),
		killed:      make(map[string]struct{}),
	}
}

// Submit 创建任务并登记存储；不发事件。执行由调用方决定同步还是异步。
func (d *Driver) Submit(ctx context.Context, command string, format task.Format, userID string) (*task.Task, error) {
	t := task.New(command, format)
	t.UserID = userID
	if err := d.store.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("创建任务failed: %w", err)
	}
	d.logger.Info("任务入队", "task_id", t.ID, "format", string(t.Format))
	return t, nil
}

// Run 执行任务到终态并返回。可并发运行不同任务；同一任务只跑一次。
func (d *Driver) Run(ctx context.Context, t *task.Task) *task.Task {
	if t.Status.Terminal() {
		return t
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !d.track(t.ID, cancel) {
		// 取消赶在开跑之前：直接落终态
		d.finishTerminal(t, runState{}, task.StatusCancelled, "cancelled")
		d.observe(t)
		return t
	}
	defer d.untrack(t.ID)

	runCtx, span := tracing.StartTaskSpan(runCtx, t.ID, t.Command)
	defer span.End()

	pool := browser.NewPool(d.agent, d.maxSessions, d.logger)
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), poolShutdownTimeout)
		defer done()
		pool.Shutdown(shutdownCtx)
	}()

	if err := d.safeDrive(runCtx, t, pool); err != nil {
		d.logger.Error("任务failed", "task_id", t.ID, "error", err)
		t.Finalize(task.StatusFailed, err.Error())
		d.saveFinal(t)
		d.emit(t.ID, events.TaskDone, map[string]any{
			"status": string(task.StatusFailed),
			"error":  t.Error,
		})
	}
	d.observe(t)
	return t
}

// Cancel 请求取消任务。运行中的任务经 ctx 协作停止，由 Run 落终态；
// 终态任务返回 AlreadyTerminalError。
func (d *Driver) Cancel(ctx context.Context, taskID string) error {
	t, err := d.store.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if t.Status.Terminal() {
		return &AlreadyTerminalError{Status: t.Status}
	}

	d.mu.Lock()
	cancel, running := d.cancels[taskID]
	if !running {
		d.killed[taskID] = struct{}{}
	}
	d.mu.Unlock()

	if running {
		d.logger.Info("取消运行中任务", "task_id", taskID)
		cancel()
		return nil
	}

	// 标记期间任务可能恰好收尾：复查一次，避免标记悬挂
	if t, err = d.store.Get(ctx, taskID); err == nil && t.Status.Terminal() {
		d.mu.Lock()
		delete(d.killed, taskID)
		d.mu.Unlock()
		return &AlreadyTerminalError{Status: t.Status}
	}
	d.logger.Info("取消排队中任务", "task_id", taskID)
	return nil
}

// track 登记任务的取消入口；取消已先到时返回 false 拒绝开跑
func (d *Driver) track(taskID string, cancel context.CancelFunc) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, dead := d.killed[taskID]; dead {
		delete(d.killed, taskID)
		return false
	}
	d.cancels[taskID] = cancel
	return true
}

func (d *Driver) untrack(taskID string) {
	d.mu.Lock()
	delete(d.cancels, taskID)
	delete(d.killed, taskID)
	d.mu.Unlock()
}

// runState 各阶段累计的结算输入
type runState struct {
	plan        *task.Plan
	summary     *scheduler.Summary
	planningMS  int64
	executionMS int64
	replanned   bool
}

// safeDrive 兜住 drive 的 panic，折算成普通错误走故障地板
func (d *Driver) safeDrive(ctx context.Context, t *task.Task, pool *browser.Pool) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return d.drive(ctx, t, pool)
}

// drive 按阶段推进任务。正常与取消两条终态路径都在内部收尾并返回 nil；
// 返回非 nil 表示阶段本身失败，由调用方走故障地板。
func (d *Driver) drive(ctx context.Context, t *task.Task, pool *browser.Pool) error {
	var st runState

	if ctx.Err() != nil {
		d.finishTerminal(t, st, task.StatusCancelled, "cancelled")
		return nil
	}

	// 阶段一：规划
	t.Status = task.StatusPlanning
	if err := d.store.Save(ctx, t); err != nil {
		return fmt.Errorf("保存任务failed: %w", err)
	}
	planStart := time.Now()
	d.emit(t.ID, events.PlanningStarted, map[string]any{})
	d.emit(t.ID, events.PlanningReasoning, map[string]any{"text": planner.Reasoning(t.Command)})

	planCtx, planSpan := tracing.StartPlanSpan(ctx, t.ID, false)
	plan, err := d.planner.Plan(planCtx, t.ID, t.Command)
	planSpan.End()
	if err != nil {
		return fmt.Errorf("规划failed: %w", err)
	}
	if err := d.store.SetPlan(ctx, plan); err != nil {
		return fmt.Errorf("保存计划failed: %w", err)
	}
	t.Plan = plan
	st.plan = plan
	st.planningMS = time.Since(planStart).Milliseconds()
	d.emit(t.ID, events.PlanReady, map[string]any{
		"steps":       serializeSteps(plan),
		"planning_ms": st.planningMS,
	})

	if ctx.Err() != nil {
		d.finishTerminal(t, st, task.StatusCancelled, "cancelled")
		return nil
	}

	// 阶段二：执行
	t.Status = task.StatusExecuting
	if err := d.store.Save(ctx, t); err != nil {
		return fmt.Errorf("保存任务failed: %w", err)
	}
	execStart := time.Now()
	st.summary = scheduler.New(plan, d.exec, pool, d.eventFunc(t.ID), d.logger).Run(ctx)
	st.executionMS = time.Since(execStart).Milliseconds()

	// 阶段三：全军覆没时重规划一次
	if st.summary.Completed == 0 && st.summary.Failed > 0 && ctx.Err() == nil {
		if err := d.replan(ctx, t, pool, &st); err != nil {
			return err
		}
	}

	if ctx.Err() != nil {
		d.finishTerminal(t, st, task.StatusCancelled, "cancelled")
		return nil
	}

	// 阶段四：定终态
	var status task.Status
	var errMsg string
	switch {
	case st.summary.Completed > 0 && st.summary.Failed == 0:
		status = task.StatusCompleted
	case st.summary.Completed > 0:
		status = task.StatusPartial
	default:
		status = task.StatusFailed
		errMsg = "All steps failed"
	}

	// 阶段五：格式化输出
	t.Output = output.Format(st.plan, t.Format)

	// 阶段六：结算
	d.finishTerminal(t, st, status, errMsg)
	return nil
}

// replan 重规划并重执行。新计划整体替换旧计划；旧计划的步骤不再计入结算。
func (d *Driver) replan(ctx context.Context, t *task.Task, pool *browser.Pool, st *runState) error {
	t.Status = task.StatusReplanning
	if err := d.store.Save(ctx, t); err != nil {
		return fmt.Errorf("保存任务failed: %w", err)
	}
	d.emit(t.ID, events.Replanning, map[string]any{
		"reason":     "all branches failed",
		"failed_ids": st.summary.FailedIDs,
	})

	failed := failedSteps(st.plan)
	results := completedResults(st.summary)
	replanCtx, replanSpan := tracing.StartPlanSpan(ctx, t.ID, true)
	plan, err := d.planner.Replan(replanCtx, t.ID, t.Command, failed, results)
	replanSpan.End()
	if err != nil {
		return fmt.Errorf("重规划failed: %w", err)
	}
	if err := d.store.SetPlan(ctx, plan); err != nil {
		return fmt.Errorf("保存计划failed: %w", err)
	}
	t.Plan = plan
	st.plan = plan
	st.replanned = true
	d.emit(t.ID, events.PlanReady, map[string]any{
		"steps":     serializeSteps(plan),
		"is_replan": true,
	})

	t.Status = task.StatusExecuting
	if err := d.store.Save(ctx, t); err != nil {
		return fmt.Errorf("保存任务failed: %w", err)
	}
	execStart := time.Now()
	st.summary = scheduler.New(plan, d.exec, pool, d.eventFunc(t.ID), d.logger).Run(ctx)
	st.executionMS += time.Since(execStart).Milliseconds()
	return nil
}

// finishTerminal 统一收尾：算 trace、落终态、保存、发 task_done。
// 正常终态的 task_done 不带 error 字段，错误细节只留在任务实体上。
func (d *Driver) finishTerminal(t *task.Task, st runState, status task.Status, errMsg string) {
	trace := buildTrace(st.plan, st.planningMS, st.executionMS, st.replanned)
	t.CostUSD = trace["total_cost_usd"].(float64)
	t.Finalize(status, errMsg)
	d.saveFinal(t)

	var completed, failed, skipped int
	if st.summary != nil {
		completed = st.summary.Completed
		failed = st.summary.Failed
		skipped = st.summary.Skipped
	}
	d.emit(t.ID, events.TaskDone, map[string]any{
		"status":          string(status),
		"cost_usd":        t.CostUSD,
		"duration_ms":     t.DurationMS,
		"steps_completed": completed,
		"steps_failed":    failed,
		"steps_skipped":   skipped,
		"trace":           trace,
	})
	d.logger.Info("任务收尾",
		"task_id", t.ID,
		"status", string(status),
		"completed", completed,
		"failed", failed,
		"skipped", skipped,
		"cost_usd", t.CostUSD,
		"duration_ms", t.DurationMS,
	)
}

// saveFinal 终态落盘。任务 ctx 此刻可能已取消，用独立超时保证写穿。
func (d *Driver) saveFinal(t *task.Task) {
	ctx, cancel := context.WithTimeout(context.Background(), finalSaveTimeout)
	defer cancel()
	if err := d.store.Save(ctx, t); err != nil {
		d.logger.Error("终态落盘failed", "task_id", t.ID, "error", err)
	}
}

func (d *Driver) emit(taskID string, kind events.Kind, data map[string]any) {
	d.hub.Publish(events.Event{TaskID: taskID, Event: kind, Data: data})
}

// eventFunc 给调度器的事件出口，补齐 task_id
func (d *Driver) eventFunc(taskID string) scheduler.EventFunc {
	return func(kind events.Kind, data map[string]any) {
		d.emit(taskID, kind, data)
	}
}

func (d *Driver) observe(t *task.Task) {
	status := string(t.Status)
	metrics.TaskTotal.WithLabelValues(status).Inc()
	metrics.TaskDuration.WithLabelValues(status).Observe(float64(t.DurationMS) / 1000)
	if t.Plan == nil {
		return
	}
	byKind := make(map[string]float64)
	for _, s := range t.Plan.Steps {
		byKind[string(s.Executor)] += s.CostUSD
	}
	for kind, cost := range byKind {
		if cost > 0 {
			metrics.TaskCostUSD.WithLabelValues(kind).Add(cost)
		}
	}
}

// failedSteps 收集失败与被跳过的步骤摘要，供重规划提示词使用
func failedSteps(plan *task.Plan) []planner.FailedStep {
	var failed []planner.FailedStep
	for _, s := range plan.Steps {
		if s.Status == task.StepFailed || s.Status == task.StepSkipped {
			failed = append(failed, planner.FailedStep{
				ID:     s.ID,
				Action: string(s.Action),
				Target: s.Target,
				Error:  s.Error,
			})
		}
	}
	return failed
}

// completedResults 按完成先后导出成功结果，供重规划提示词使用
func completedResults(summary *scheduler.Summary) []map[string]any {
	results := make([]map[string]any, 0, len(summary.CompletedOrder))
	for _, id := range summary.CompletedOrder {
		if r, ok := summary.CompletedByID[id]; ok {
			results = append(results, r)
		}
	}
	return results
}

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

package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"agent-platform/internal/agent/pipeline"
	"agent-platform/internal/agent/task"
	"agent-platform/internal/api/http/middleware"
	"agent-platform/internal/model/llm"
	"agent-platform/internal/runtime/browser"
	"agent-platform/internal/runtime/events"
	"agent-platform/internal/runtime/taskstore"
	"agent-platform/pkg/breaker"
	pkgerrors "agent-platform/pkg/errors"
	"agent-platform/pkg/metrics"
)

// 命令长度上限（按字符计）
const maxCommandChars = 2000

// ListTasks 未指定 limit 时的默认条数
const defaultTaskListLimit = 50

// TaskRequest 提交任务的请求体
type TaskRequest struct {
	Command      string `json:"command"`
	OutputFormat string `json:"output_format"`
}

// Handler HTTP 处理器。任务生命周期全部委托给 pipeline.Driver，
// 这里只做参数校验与状态码映射。
type Handler struct {
	driver *pipeline.Driver
	store  taskstore.Store
	hub    *events.Hub

	llmClient llm.Client
	agent     *browser.Agent
	breakers  []*breaker.Breaker
}

// NewHandler 创建 HTTP 处理器
func NewHandler(driver *pipeline.Driver, store taskstore.Store, hub *events.Hub) *Handler {
	return &Handler{
		driver: driver,
		store:  store,
		hub:    hub,
	}
}

// SetMode 注入后端探测入口，供 /api/health 上报 live/mock 模式
func (h *Handler) SetMode(client llm.Client, agent *browser.Agent) {
	h.llmClient = client
	h.agent = agent
}

// SetBreakers 注入熔断器，/metrics 暴露前采样状态
func (h *Handler) SetBreakers(brks ...*breaker.Breaker) {
	h.breakers = brks
}

// CreateTask 提交任务，流水线在后台执行
// POST /api/tasks
func (h *Handler) CreateTask(c context.Context, ctx *app.RequestContext) {
	var req TaskRequest
	if err := ctx.BindJSON(&req); err != nil {
		ctx.JSON(consts.StatusBadRequest, map[string]string{
			"error": "invalid request",
		})
		return
	}
	format, errMsg := validateTaskRequest(&req)
	if errMsg != "" {
		ctx.JSON(consts.StatusBadRequest, map[string]string{
			"error": errMsg,
		})
		return
	}

	t, err := h.driver.Submit(c, req.Command, format, middleware.UserID(ctx))
	if err != nil {
		hlog.CtxErrorf(c, "submit task failed: %v", err)
		ctx.JSON(consts.StatusInternalServerError, map[string]string{
			"error": "failed to create task",
		})
		return
	}

	// 先打快照再开跑：后台 goroutine 会立即变更任务实体
	snapshot := t.Clone()
	go h.driver.Run(context.Background(), t)
	ctx.JSON(consts.StatusAccepted, snapshot)
}

// CreateTaskSync 提交任务并阻塞到终态
// POST /api/tasks/sync
func (h *Handler) CreateTaskSync(c context.Context, ctx *app.RequestContext) {
	var req TaskRequest
	if err := ctx.BindJSON(&req); err != nil {
		ctx.JSON(consts.StatusBadRequest, map[string]string{
			"error": "invalid request",
		})
		return
	}
	format, errMsg := validateTaskRequest(&req)
	if errMsg != "" {
		ctx.JSON(consts.StatusBadRequest, map[string]string{
			"error": errMsg,
		})
		return
	}

	t, err := h.driver.Submit(c, req.Command, format, middleware.UserID(ctx))
	if err != nil {
		hlog.CtxErrorf(c, "submit task failed: %v", err)
		ctx.JSON(consts.StatusInternalServerError, map[string]string{
			"error": "failed to create task",
		})
		return
	}

	ctx.JSON(consts.StatusOK, h.driver.Run(c, t))
}

// ListTasks 按创建时间倒序列出最近任务
// GET /api/tasks?limit=
func (h *Handler) ListTasks(c context.Context, ctx *app.RequestContext) {
	limit := defaultTaskListLimit
	if v := ctx.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	tasks, err := h.store.ListRecent(c, limit)
	if err != nil {
		hlog.CtxErrorf(c, "list tasks failed: %v", err)
		ctx.JSON(consts.StatusInternalServerError, map[string]string{
			"error": "failed to list tasks",
		})
		return
	}
	ctx.JSON(consts.StatusOK, tasks)
}

// GetTask 按 ID 查询任务
// GET /api/tasks/:id
func (h *Handler) GetTask(c context.Context, ctx *app.RequestContext) {
	t, ok := h.loadTask(c, ctx)
	if !ok {
		return
	}
	ctx.JSON(consts.StatusOK, t)
}

// GetTaskResult 查询任务的格式化输出；未到终态返回 409
// GET /api/tasks/:id/result
func (h *Handler) GetTaskResult(c context.Context, ctx *app.RequestContext) {
	t, ok := h.loadTask(c, ctx)
	if !ok {
		return
	}
	if !t.Status.Terminal() {
		ctx.JSON(consts.StatusConflict, map[string]string{
			"error": fmt.Sprintf("Task is still %s", t.Status),
		})
		return
	}
	ctx.JSON(consts.StatusOK, map[string]any{
		"task_id": t.ID,
		"output":  t.Output,
		"format":  string(t.Format),
	})
}

// CancelTask 请求取消任务（协作式，尽力而为）；已终态返回 409
// POST /api/tasks/:id/cancel
func (h *Handler) CancelTask(c context.Context, ctx *app.RequestContext) {
	id := strings.TrimSpace(ctx.Param("id"))
	if id == "" {
		ctx.JSON(consts.StatusBadRequest, map[string]string{
			"error": "task_id is required",
		})
		return
	}

	err := h.driver.Cancel(c, id)
	var terminal *pipeline.AlreadyTerminalError
	switch {
	case errors.Is(err, pkgerrors.ErrNotFound):
		ctx.JSON(consts.StatusNotFound, map[string]string{
			"error": "Task not found",
		})
		return
	case errors.As(err, &terminal):
		ctx.JSON(consts.StatusConflict, map[string]string{
			"error": fmt.Sprintf("Task already %s", terminal.Status),
		})
		return
	case err != nil:
		hlog.CtxErrorf(c, "cancel task %s failed: %v", id, err)
		ctx.JSON(consts.StatusInternalServerError, map[string]string{
			"error": "failed to cancel task",
		})
		return
	}

	// 返回当前实体；运行中的任务由 Run 在下一个调度边界落 cancelled
	t, err := h.store.Get(c, id)
	if err != nil {
		hlog.CtxErrorf(c, "load task %s after cancel failed: %v", id, err)
		ctx.JSON(consts.StatusInternalServerError, map[string]string{
			"error": "failed to load task",
		})
		return
	}
	ctx.JSON(consts.StatusOK, t)
}

// HealthCheck 健康检查与运行模式上报
// GET /api/health
func (h *Handler) HealthCheck(c context.Context, ctx *app.RequestContext) {
	llmConfigured := !llm.IsMock(h.llmClient)
	mode := "mock"
	if llmConfigured {
		mode = "live"
	}
	ctx.JSON(consts.StatusOK, map[string]any{
		"status":             "ok",
		"llm_configured":     llmConfigured,
		"browser_configured": h.agent.Configured(),
		"mode":               mode,
	})
}

// Metrics Prometheus 文本格式暴露
// GET /metrics
func (h *Handler) Metrics(c context.Context, ctx *app.RequestContext) {
	for _, b := range h.breakers {
		metrics.BreakerState.WithLabelValues(b.Name()).Set(breakerStateValue(b.State()))
	}

	var buf bytes.Buffer
	if err := metrics.WritePrometheus(&buf); err != nil {
		hlog.CtxErrorf(c, "gather metrics failed: %v", err)
		ctx.JSON(consts.StatusInternalServerError, map[string]string{
			"error": "failed to gather metrics",
		})
		return
	}
	ctx.Data(consts.StatusOK, "text/plain; version=0.0.4; charset=utf-8", buf.Bytes())
}

// loadTask 读取路径参数指定的任务；失败时已写响应并返回 false
func (h *Handler) loadTask(c context.Context, ctx *app.RequestContext) (*task.Task, bool) {
	id := strings.TrimSpace(ctx.Param("id"))
	if id == "" {
		ctx.JSON(consts.StatusBadRequest, map[string]string{
			"error": "task_id is required",
		})
		return nil, false
	}

	t, err := h.store.Get(c, id)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrNotFound) {
			ctx.JSON(consts.StatusNotFound, map[string]string{
				"error": "Task not found",
			})
		} else {
			hlog.CtxErrorf(c, "load task %s failed: %v", id, err)
			ctx.JSON(consts.StatusInternalServerError, map[string]string{
				"error": "failed to load task",
			})
		}
		return nil, false
	}
	return t, true
}

// validateTaskRequest 校验请求体，返回输出格式与错误消息（为空表示通过）
func validateTaskRequest(req *TaskRequest) (task.Format, string) {
	if req.Command == "" {
		return "", "command is required"
	}
	if utf8.RuneCountInString(req.Command) > maxCommandChars {
		return "", fmt.Sprintf("command exceeds %d characters", maxCommandChars)
	}
	format := task.Format(req.OutputFormat)
	if req.OutputFormat != "" && !task.ValidFormat(format) {
		return "", fmt.Sprintf("unsupported output_format: %s", req.OutputFormat)
	}
	return format, ""
}

func breakerStateValue(s breaker.State) float64 {
	switch s {
	case breaker.Open:
		return 1
	case breaker.HalfOpen:
		return 2
	default:
		return 0
	}
}

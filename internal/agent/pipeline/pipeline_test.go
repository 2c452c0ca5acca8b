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

package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-platform/internal/agent/executor"
	"agent-platform/internal/agent/planner"
	"agent-platform/internal/agent/task"
	"agent-platform/internal/model/llm"
	"agent-platform/internal/parse"
	"agent-platform/internal/runtime/browser"
	"agent-platform/internal/runtime/events"
	"agent-platform/internal/runtime/taskstore"
	"agent-platform/pkg/breaker"
	"agent-platform/pkg/config"
	pkgerrors "agent-platform/pkg/errors"
	"agent-platform/pkg/log"
)

// downClient 上游恒定报错的 LLM 客户端：规划回退启发式，LLM 步骤执行失败
type downClient struct {
	llm.Client
}

func (c *downClient) Provider() string { return "test" }

func (c *downClient) ChatWithContext(context.Context, []llm.Message, llm.GenerateOptions) (string, error) {
	return "", errors.New("llm upstream down")
}

type harness struct {
	driver *Driver
	store  taskstore.Store
	hub    *events.Hub
}

// newHarness 组全套流水线。步骤不重试（retryMax 0），失败路径立即收敛。
func newHarness(t *testing.T, client llm.Client, agentCfg config.BrowserConfig) *harness {
	t.Helper()
	logger, err := log.NewLogger(&log.Config{Level: "error", Format: "text"})
	require.NoError(t, err)

	store := taskstore.NewMemoryStore()
	hub := events.NewHub()
	pl := planner.New(client, 0, logger)
	parser := parse.New(llm.NewMockClient(""), logger)
	browserBackend := executor.NewBrowserBackend(breaker.New("browser", 3, time.Minute), parser, logger)
	llmBackend := executor.NewLLMBackend(client, breaker.New("llm", 5, time.Minute), parser, logger)
	exec := executor.New(browserBackend, llmBackend, logger)
	agent := browser.NewAgent(agentCfg)

	return &harness{
		driver: New(store, hub, pl, exec, agent, 2, logger),
		store:  store,
		hub:    hub,
	}
}

func mockHarness(t *testing.T) *harness {
	return newHarness(t, llm.NewMockClient(""), config.BrowserConfig{})
}

func collectUntilDone(t *testing.T, ch <-chan events.Event) []events.Event {
	t.Helper()
	var got []events.Event
	deadline := time.After(10 * time.Second)
	for {
		select {
		case e, ok := <-ch:
			require.True(t, ok, "事件通道提前关闭")
			got = append(got, e)
			if e.Event == events.TaskDone {
				return got
			}
		case <-deadline:
			t.Fatalf("等待 task_done 超时，已收 %d 条事件", len(got))
		}
	}
}

func kinds(evs []events.Event) []events.Kind {
	out := make([]events.Kind, 0, len(evs))
	for _, e := range evs {
		out = append(out, e.Event)
	}
	return out
}

func TestRun_HappyPathEventSequence(t *testing.T) {
	h := mockHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tk, err := h.driver.Submit(ctx, "Find me the best gaming laptop under $800 from Amazon", task.FormatJSON, "")
	require.NoError(t, err)
	assert.Equal(t, task.StatusQueued, tk.Status)
	assert.Len(t, tk.ID, 12)

	ch := h.hub.Subscribe(ctx, tk.ID)
	got := h.driver.Run(ctx, tk)
	evs := collectUntilDone(t, ch)

	// 单站点启发式计划是一条五步链，事件序列完全确定
	assert.Equal(t, []events.Kind{
		events.PlanningStarted,
		events.PlanningReasoning,
		events.PlanReady,
		events.StepStarted, events.StepCompleted,
		events.StepStarted, events.StepCompleted,
		events.StepStarted, events.StepCompleted,
		events.StepStarted, events.StepCompleted,
		events.StepStarted, events.StepCompleted,
		events.TaskDone,
	}, kinds(evs))

	assert.Equal(t, planner.Reasoning(got.Command), evs[1].Data["text"])

	planReady := evs[2].Data
	steps := planReady["steps"].([]map[string]any)
	require.Len(t, steps, 5)
	assert.Equal(t, "navigate", steps[0]["action"])
	assert.Contains(t, planReady, "planning_ms")
	assert.NotContains(t, planReady, "is_replan")

	assert.Equal(t, task.StatusCompleted, got.Status)
	assert.Empty(t, got.Error)
	require.NotNil(t, got.FinishedAt)
	assert.InDelta(t, 0.0062, got.CostUSD, 1e-9) // 3 个浏览器步骤 + 2 个 mock LLM 步骤

	done := evs[len(evs)-1].Data
	assert.Equal(t, "completed", done["status"])
	assert.Equal(t, 5, done["steps_completed"])
	assert.Equal(t, 0, done["steps_failed"])
	assert.Equal(t, 0, done["steps_skipped"])

	trace := done["trace"].(map[string]any)
	assert.Equal(t, false, trace["replanned"])
	assert.InDelta(t, 0.0062, trace["total_cost_usd"].(float64), 1e-9)
	entries := trace["steps"].([]map[string]any)
	require.Len(t, entries, 5)
	for _, entry := range entries {
		assert.Equal(t, "completed", entry["status"])
		assert.Contains(t, entry, "duration_ms")
		assert.Contains(t, entry, "started_at")
		assert.Contains(t, entry, "finished_at")
	}

	// 存储与返回值一致
	stored, err := h.store.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, stored.Status)
	plan, err := h.store.GetPlan(ctx, tk.ID)
	require.NoError(t, err)
	assert.Len(t, plan.Steps, 5)

	out, ok := got.Output.(map[string]any)
	require.True(t, ok, "json 输出应为对象")
	assert.Equal(t, got.Command, out["command"])
	assert.Equal(t, 3, out["total_results"])
}

func TestRun_PartialWhenLLMStepsFail(t *testing.T) {
	h := newHarness(t, &downClient{}, config.BrowserConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tk, err := h.driver.Submit(ctx, "compare mechanical keyboards on amazon", task.FormatJSON, "")
	require.NoError(t, err)

	ch := h.hub.Subscribe(ctx, tk.ID)
	got := h.driver.Run(ctx, tk)
	evs := collectUntilDone(t, ch)

	// 浏览器三步成功，compare 失败，summarize 级联跳过且不发事件
	assert.Equal(t, []events.Kind{
		events.PlanningStarted,
		events.PlanningReasoning,
		events.PlanReady,
		events.StepStarted, events.StepCompleted,
		events.StepStarted, events.StepCompleted,
		events.StepStarted, events.StepCompleted,
		events.StepStarted, events.StepFailed,
		events.TaskDone,
	}, kinds(evs))

	assert.Equal(t, task.StatusPartial, got.Status)
	assert.Empty(t, got.Error)

	done := evs[len(evs)-1].Data
	assert.Equal(t, "partial", done["status"])
	assert.Equal(t, 3, done["steps_completed"])
	assert.Equal(t, 1, done["steps_failed"])
	assert.Equal(t, 1, done["steps_skipped"])

	trace := done["trace"].(map[string]any)
	entries := trace["steps"].([]map[string]any)
	require.Len(t, entries, 5)
	assert.Equal(t, "failed", entries[3]["status"])
	assert.Equal(t, "skipped", entries[4]["status"])
	assert.NotContains(t, entries[4], "started_at", "被跳过的步骤没跑过，不该有开始时间")

	// 失败不影响已抓到的数据进输出
	out := got.Output.(map[string]any)
	assert.Equal(t, 3, out["total_results"])
}

// failingAgent 会话都开不出来的浏览器后端
func failingAgent(t *testing.T) config.BrowserConfig {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	return config.BrowserConfig{BaseURL: srv.URL, MaxSessions: 2, Timeout: "5s"}
}

func TestRun_AllBranchesFailedTriggersSingleReplan(t *testing.T) {
	h := newHarness(t, &downClient{}, failingAgent(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tk, err := h.driver.Submit(ctx, "find standing desks on amazon", task.FormatJSON, "")
	require.NoError(t, err)

	ch := h.hub.Subscribe(ctx, tk.ID)
	got := h.driver.Run(ctx, tk)
	evs := collectUntilDone(t, ch)

	// 两轮执行各只有首步真正跑过（其余级联跳过），重规划恰好一次
	assert.Equal(t, []events.Kind{
		events.PlanningStarted,
		events.PlanningReasoning,
		events.PlanReady,
		events.StepStarted, events.StepFailed,
		events.Replanning,
		events.PlanReady,
		events.StepStarted, events.StepFailed,
		events.TaskDone,
	}, kinds(evs))

	replanning := evs[5].Data
	assert.Equal(t, "all branches failed", replanning["reason"])
	assert.Len(t, replanning["failed_ids"].([]string), 5)

	second := evs[6].Data
	assert.Equal(t, true, second["is_replan"])
	assert.NotContains(t, second, "planning_ms")

	assert.Equal(t, task.StatusFailed, got.Status)
	assert.Equal(t, "All steps failed", got.Error)

	done := evs[len(evs)-1].Data
	assert.Equal(t, "failed", done["status"])
	assert.Equal(t, 0, done["steps_completed"])
	assert.Equal(t, 1, done["steps_failed"])
	assert.Equal(t, 4, done["steps_skipped"])
	trace := done["trace"].(map[string]any)
	assert.Equal(t, true, trace["replanned"])

	// 存储里留的是替换后的第二版计划
	firstSteps := evs[2].Data["steps"].([]map[string]any)
	secondSteps := second["steps"].([]map[string]any)
	plan, err := h.store.GetPlan(ctx, tk.ID)
	require.NoError(t, err)
	require.Len(t, plan.Steps, 5)
	assert.Equal(t, secondSteps[0]["id"], plan.Steps[0].ID)
	assert.NotEqual(t, firstSteps[0]["id"], plan.Steps[0].ID)
}

func TestCancel_BeforeRunShortCircuits(t *testing.T) {
	h := mockHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tk, err := h.driver.Submit(ctx, "research noise cancelling headphones", task.FormatJSON, "")
	require.NoError(t, err)
	require.NoError(t, h.driver.Cancel(ctx, tk.ID))

	ch := h.hub.Subscribe(ctx, tk.ID)
	got := h.driver.Run(ctx, tk)
	evs := collectUntilDone(t, ch)

	require.Len(t, evs, 1, "取消在开跑前到达时只应有一条 task_done")
	assert.Equal(t, task.StatusCancelled, got.Status)
	assert.Equal(t, "cancelled", got.Error)

	done := evs[0].Data
	assert.Equal(t, "cancelled", done["status"])
	assert.Equal(t, 0, done["steps_completed"])
	assert.NotContains(t, done, "error")
	assert.Empty(t, done["trace"].(map[string]any)["steps"])

	stored, err := h.store.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCancelled, stored.Status)
}

// stallingAgent act 调用一直挂起，直到请求 ctx 被取消
func stallingAgent(t *testing.T) config.BrowserConfig {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"session_id": "s-1"})
	})
	mux.HandleFunc("POST /v1/sessions/s-1/act", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc("DELETE /v1/sessions/s-1", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return config.BrowserConfig{BaseURL: srv.URL, MaxSessions: 2, Timeout: "30s"}
}

func TestCancel_RunningTaskFinishesCancelled(t *testing.T) {
	h := newHarness(t, llm.NewMockClient(""), stallingAgent(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tk, err := h.driver.Submit(ctx, "find robot vacuums on amazon", task.FormatJSON, "")
	require.NoError(t, err)

	ch := h.hub.Subscribe(ctx, tk.ID)
	finished := make(chan *task.Task, 1)
	go func() { finished <- h.driver.Run(ctx, tk) }()

	// 等首步挂到浏览器上再取消
	var seen []events.Event
	deadline := time.After(10 * time.Second)
	for started := false; !started; {
		select {
		case e := <-ch:
			seen = append(seen, e)
			started = e.Event == events.StepStarted
		case <-deadline:
			t.Fatal("等待 step_started 超时")
		}
	}
	require.NoError(t, h.driver.Cancel(ctx, tk.ID))

	seen = append(seen, collectUntilDone(t, ch)...)
	var got *task.Task
	select {
	case got = <-finished:
	case <-time.After(10 * time.Second):
		t.Fatal("取消后 Run 未退出")
	}

	assert.Equal(t, task.StatusCancelled, got.Status)
	assert.Equal(t, "cancelled", got.Error)

	done := seen[len(seen)-1]
	assert.Equal(t, events.TaskDone, done.Event)
	assert.Equal(t, "cancelled", done.Data["status"])
	assert.Equal(t, 0, done.Data["steps_completed"])
	assert.Equal(t, 1, done.Data["steps_failed"], "在飞步骤被打断后按失败落账")

	// 终态后再取消要报已终态
	err = h.driver.Cancel(ctx, tk.ID)
	var terminal *AlreadyTerminalError
	require.ErrorAs(t, err, &terminal)
	assert.Equal(t, task.StatusCancelled, terminal.Status)
}

func TestCancel_Errors(t *testing.T) {
	h := mockHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := h.driver.Cancel(ctx, "missing-task")
	require.ErrorIs(t, err, pkgerrors.ErrNotFound)

	tk, err := h.driver.Submit(ctx, "fastest path to a completed task", task.FormatSummary, "")
	require.NoError(t, err)
	h.driver.Run(ctx, tk)

	err = h.driver.Cancel(ctx, tk.ID)
	var terminal *AlreadyTerminalError
	require.ErrorAs(t, err, &terminal)
	assert.Equal(t, task.StatusCompleted, terminal.Status)
	assert.Equal(t, "task already completed", err.Error())
}

func TestSubmit_DefaultsAndPersistence(t *testing.T) {
	h := mockHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tk, err := h.driver.Submit(ctx, "price check on espresso machines", "", "user-7")
	require.NoError(t, err)
	assert.Equal(t, task.FormatJSON, tk.Format)
	assert.Equal(t, "user-7", tk.UserID)
	assert.Equal(t, task.StatusQueued, tk.Status)

	recent, err := h.store.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, tk.ID, recent[0].ID)
}

func TestRun_TerminalTaskIsNoOp(t *testing.T) {
	h := mockHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tk, err := h.driver.Submit(ctx, "one shot only", task.FormatJSON, "")
	require.NoError(t, err)
	first := h.driver.Run(ctx, tk)
	require.True(t, first.Status.Terminal())

	ch := h.hub.Subscribe(ctx, tk.ID)
	again := h.driver.Run(ctx, tk)
	assert.Equal(t, first.Status, again.Status)
	select {
	case e := <-ch:
		t.Fatalf("终态任务重跑不应发事件，收到 %s", e.Event)
	case <-time.After(50 * time.Millisecond):
	}
}

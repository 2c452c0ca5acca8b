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
	"encoding/json"
	"testing"
	"time"

	"github.com/cloudwego/hertz/pkg/common/ut"

	"agent-platform/internal/agent/task"
	"agent-platform/internal/runtime/events"
)

func TestStreamTaskEvents_NotFound(t *testing.T) {
	env := newTestEnv(t, nil)
	w := doGET(t, env.engine, "/api/tasks/deadbeef0000/events")
	if got := w.Result().StatusCode(); got != 404 {
		t.Fatalf("events for unknown task: status = %d, want 404", got)
	}
}

func TestStreamTaskEvents_LiveUntilTaskDone(t *testing.T) {
	env := newTestEnv(t, nil)
	tk, err := env.driver.Submit(context.Background(), testCommand, task.FormatJSON, "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// 订阅先于执行：等 handler 挂上订阅者再开跑，流里能看到全程事件
	done := make(chan struct{})
	go func() {
		defer close(done)
		deadline := time.Now().Add(5 * time.Second)
		for env.hub.SubscriberCount(tk.ID) == 0 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		env.driver.Run(context.Background(), tk)
	}()

	w := ut.PerformRequest(env.engine.Engine, "GET", "/api/tasks/"+tk.ID+"/events",
		&ut.Body{Body: bytes.NewReader(nil), Len: 0})
	<-done

	resp := w.Result()
	if got := resp.StatusCode(); got != 200 {
		t.Fatalf("stream status = %d, want 200", got)
	}
	if ct := string(resp.Header.ContentType()); ct != "application/x-ndjson" {
		t.Errorf("content type = %q, want application/x-ndjson", ct)
	}

	lines := bytes.Split(bytes.TrimSpace(resp.Body()), []byte("\n"))
	if len(lines) < 4 {
		t.Fatalf("got %d event lines, want at least planning through task_done", len(lines))
	}
	var evts []events.Event
	for _, line := range lines {
		var e events.Event
		if err := json.Unmarshal(line, &e); err != nil {
			t.Fatalf("line %s is not a JSON event: %v", line, err)
		}
		if e.TaskID != tk.ID {
			t.Errorf("event task_id = %s, want %s", e.TaskID, tk.ID)
		}
		evts = append(evts, e)
	}
	if evts[0].Event != events.PlanningStarted {
		t.Errorf("first event = %s, want planning_started", evts[0].Event)
	}
	if last := evts[len(evts)-1].Event; last != events.TaskDone {
		t.Errorf("last event = %s, want task_done", last)
	}
	for _, e := range evts[:len(evts)-1] {
		if e.Event == events.TaskDone {
			t.Error("task_done emitted more than once")
		}
	}
}

func TestStreamTaskEvents_TerminalTaskEndsImmediately(t *testing.T) {
	env := newTestEnv(t, nil)
	tk, err := env.driver.Submit(context.Background(), testCommand, task.FormatJSON, "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	env.driver.Run(context.Background(), tk)

	// 终态任务不回放历史事件，流立即结束
	w := doGET(t, env.engine, "/api/tasks/"+tk.ID+"/events")
	if got := w.Result().StatusCode(); got != 200 {
		t.Fatalf("stream status = %d, want 200", got)
	}
	if body := w.Result().Body(); len(bytes.TrimSpace(body)) != 0 {
		t.Errorf("terminal stream replayed events: %s", body)
	}

	// 注销走 ctx 取消的异步路径，稍候再断言
	deadline := time.Now().Add(2 * time.Second)
	for env.hub.SubscriberCount(tk.ID) != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := env.hub.SubscriberCount(tk.ID); n != 0 {
		t.Errorf("subscriber leaked: count = %d", n)
	}
}

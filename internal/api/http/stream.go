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
	"context"
	"encoding/json"
	"io"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"agent-platform/internal/runtime/events"
)

// StreamTaskEvents 以 NDJSON 流式推送任务事件，收到 task_done 后关闭。
// 订阅不回放历史：请求时已终态的任务直接返回空流。
// GET /api/tasks/:id/events
func (h *Handler) StreamTaskEvents(c context.Context, ctx *app.RequestContext) {
	t, ok := h.loadTask(c, ctx)
	if !ok {
		return
	}

	subCtx, cancel := context.WithCancel(context.Background())
	ch := h.hub.Subscribe(subCtx, t.ID)

	// 订阅后复查终态：task_done 先落盘再广播，此刻仍非终态
	// 就保证 task_done 会进入上面的订阅通道
	if cur, err := h.store.Get(c, t.ID); err == nil && cur.Status.Terminal() {
		cancel()
		ctx.SetStatusCode(consts.StatusOK)
		ctx.SetContentType("application/x-ndjson")
		return
	}

	pr, pw := io.Pipe()
	go pump(pw, cancel, ch)

	ctx.SetContentType("application/x-ndjson")
	ctx.SetBodyStream(pr, -1)
}

// pump 把事件写进管道，一行一条；task_done 或写端断开时退出并注销订阅
func pump(pw *io.PipeWriter, cancel context.CancelFunc, ch <-chan events.Event) {
	defer cancel()
	defer pw.Close()

	enc := json.NewEncoder(pw)
	for e := range ch {
		if err := enc.Encode(e); err != nil {
			return
		}
		if e.Event == events.TaskDone {
			return
		}
	}
}

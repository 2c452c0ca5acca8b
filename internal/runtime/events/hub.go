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

// Package events 提供按任务的事件广播：生产者序保序，慢订阅者丢弃不阻塞。
package events

import (
	"context"
	"sync"

	"agent-platform/pkg/metrics"
)

// Kind 事件类型
type Kind string

const (
	PlanningStarted   Kind = "planning_started"
	PlanningReasoning Kind = "planning_reasoning"
	PlanReady         Kind = "plan_ready"
	StepStarted       Kind = "step_started"
	StepCompleted     Kind = "step_completed"
	StepFailed        Kind = "step_failed"
	Replanning        Kind = "replanning"
	TaskDone          Kind = "task_done"
)

// Event 推送给订阅者的事件载荷（值类型，可安全共享）
type Event struct {
	TaskID string         `json:"task_id"`
	Event  Kind           `json:"event"`
	Data   map[string]any `json:"data"`
}

// 每个订阅者的队列容量；队列满时跳过发送而非阻塞生产者
const subscriberBuffer = 256

// Hub 按任务 ID 维护订阅者集合
type Hub struct {
	mu   sync.RWMutex
	subs map[string][]chan Event
}

// NewHub 创建事件广播器
func NewHub() *Hub {
	return &Hub{subs: make(map[string][]chan Event)}
}

// Publish 向该任务的所有订阅者投递事件。
// 订阅者队列满时丢弃本条，生产者永不阻塞。
func (h *Hub) Publish(e Event) {
	h.mu.RLock()
	chans := h.subs[e.TaskID]
	h.mu.RUnlock()

	for _, ch := range chans {
		select {
		case ch <- e:
		default:
			metrics.EventDropTotal.Inc()
		}
	}
}

// Subscribe 注册订阅者；ctx 结束时自动注销并关闭通道
func (h *Hub) Subscribe(ctx context.Context, taskID string) <-chan Event {
	ch := make(chan Event, subscriberBuffer)
	h.mu.Lock()
	h.subs[taskID] = append(h.subs[taskID], ch)
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.remove(taskID, ch)
	}()
	return ch
}

// SubscriberCount 该任务当前订阅者数（供观测与测试）
func (h *Hub) SubscriberCount(taskID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[taskID])
}

func (h *Hub) remove(taskID string, ch chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	chans := h.subs[taskID]
	for i, c := range chans {
		if c == ch {
			h.subs[taskID] = append(chans[:i], chans[i+1:]...)
			close(c)
			break
		}
	}
	if len(h.subs[taskID]) == 0 {
		delete(h.subs, taskID)
	}
}

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

package taskstore

import (
	"context"
	"fmt"
	"sync"

	"agent-platform/internal/agent/task"
	pkgerrors "agent-platform/pkg/errors"
)

// memoryStore 内存实现：task/plan map + 创建序时间线。
// 写入打快照，读取方拿到的对象不随运行中的任务继续变化。
type memoryStore struct {
	mu       sync.RWMutex
	tasks    map[string]*task.Task
	plans    map[string]*task.Plan
	timeline []string // 创建顺序，尾部最新
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() Store {
	return &memoryStore{
		tasks: make(map[string]*task.Task),
		plans: make(map[string]*task.Plan),
	}
}

func (s *memoryStore) Create(ctx context.Context, t *task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; ok {
		return fmt.Errorf("task %s: %w", t.ID, pkgerrors.ErrConflict)
	}
	s.tasks[t.ID] = t.Clone()
	s.timeline = append(s.timeline, t.ID)
	return nil
}

func (s *memoryStore) Get(ctx context.Context, id string) (*task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, pkgerrors.ErrNotFound)
	}
	return t, nil
}

func (s *memoryStore) Save(ctx context.Context, t *task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; !ok {
		return fmt.Errorf("task %s: %w", t.ID, pkgerrors.ErrNotFound)
	}
	s.tasks[t.ID] = t.Clone()
	return nil
}

func (s *memoryStore) SetPlan(ctx context.Context, p *task.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[p.TaskID] = p.Clone()
	return nil
}

func (s *memoryStore) GetPlan(ctx context.Context, taskID string) (*task.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plans[taskID]
	if !ok {
		return nil, fmt.Errorf("plan %s: %w", taskID, pkgerrors.ErrNotFound)
	}
	return p, nil
}

func (s *memoryStore) ListRecent(ctx context.Context, limit int) ([]*task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = defaultListLimit
	}
	out := make([]*task.Task, 0, limit)
	for i := len(s.timeline) - 1; i >= 0 && len(out) < limit; i-- {
		if t, ok := s.tasks[s.timeline[i]]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *memoryStore) Close() error { return nil }

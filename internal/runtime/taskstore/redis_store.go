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
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"agent-platform/internal/agent/task"
	"agent-platform/pkg/config"
	pkgerrors "agent-platform/pkg/errors"
	"agent-platform/pkg/log"
)

const (
	taskKeyPrefix = "task:"
	planKeyPrefix = "plan:"
	timelineKey   = "tasks:timeline"

	entryTTL = 7 * 24 * time.Hour
)

// redisStore Redis 前置存储：写穿透，读经进程内缓存避免重复反序列化。
// 写入缓存的是快照，与运行中的任务实体解耦。
type redisStore struct {
	client *redis.Client
	logger *log.Logger

	mu        sync.RWMutex
	taskCache map[string]*task.Task
	planCache map[string]*task.Plan
}

// NewRedisStore 连接 Redis 并创建存储；连接不可用时报错
func NewRedisStore(ctx context.Context, cfg config.StoreConfig, logger *log.Logger) (Store, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if opts.Addr == "" {
		opts.Addr = "localhost:6379"
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &redisStore{
		client:    client,
		logger:    logger,
		taskCache: make(map[string]*task.Task),
		planCache: make(map[string]*task.Plan),
	}, nil
}

func (s *redisStore) Create(ctx context.Context, t *task.Task) error {
	snap := t.Clone()
	s.mu.Lock()
	s.taskCache[snap.ID] = snap
	s.mu.Unlock()

	if err := s.writeTask(ctx, snap); err != nil {
		return err
	}
	score := float64(snap.CreatedAt.Unix())
	if err := s.client.ZAdd(ctx, timelineKey, redis.Z{Score: score, Member: snap.ID}).Err(); err != nil {
		return fmt.Errorf("redis zadd timeline: %w", err)
	}
	return nil
}

func (s *redisStore) Get(ctx context.Context, id string) (*task.Task, error) {
	s.mu.RLock()
	if t, ok := s.taskCache[id]; ok {
		s.mu.RUnlock()
		return t, nil
	}
	s.mu.RUnlock()

	raw, err := s.client.Get(ctx, taskKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("task %s: %w", id, pkgerrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get task: %w", err)
	}
	var t task.Task
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", id, err)
	}

	s.mu.Lock()
	s.taskCache[id] = &t
	s.mu.Unlock()
	return &t, nil
}

func (s *redisStore) Save(ctx context.Context, t *task.Task) error {
	snap := t.Clone()
	s.mu.Lock()
	s.taskCache[snap.ID] = snap
	s.mu.Unlock()
	return s.writeTask(ctx, snap)
}

func (s *redisStore) SetPlan(ctx context.Context, p *task.Plan) error {
	snap := p.Clone()
	s.mu.Lock()
	s.planCache[snap.TaskID] = snap
	s.mu.Unlock()

	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode plan %s: %w", snap.TaskID, err)
	}
	if err := s.client.Set(ctx, planKeyPrefix+snap.TaskID, raw, entryTTL).Err(); err != nil {
		return fmt.Errorf("redis set plan: %w", err)
	}
	return nil
}

func (s *redisStore) GetPlan(ctx context.Context, taskID string) (*task.Plan, error) {
	s.mu.RLock()
	if p, ok := s.planCache[taskID]; ok {
		s.mu.RUnlock()
		return p, nil
	}
	s.mu.RUnlock()

	raw, err := s.client.Get(ctx, planKeyPrefix+taskID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("plan %s: %w", taskID, pkgerrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get plan: %w", err)
	}
	var p task.Plan
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode plan %s: %w", taskID, err)
	}

	s.mu.Lock()
	s.planCache[taskID] = &p
	s.mu.Unlock()
	return &p, nil
}

func (s *redisStore) ListRecent(ctx context.Context, limit int) ([]*task.Task, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	ids, err := s.client.ZRevRange(ctx, timelineKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrevrange timeline: %w", err)
	}
	out := make([]*task.Task, 0, len(ids))
	for _, id := range ids {
		t, err := s.Get(ctx, id)
		if err != nil {
			// TTL 已过期的成员仍留在时间线里，跳过
			if errors.Is(err, pkgerrors.ErrNotFound) {
				continue
			}
			s.logger.Warn("读取时间线任务失败", "task_id", id, "error", err)
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *redisStore) Close() error {
	return s.client.Close()
}

func (s *redisStore) writeTask(ctx context.Context, t *task.Task) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode task %s: %w", t.ID, err)
	}
	if err := s.client.Set(ctx, taskKeyPrefix+t.ID, raw, entryTTL).Err(); err != nil {
		return fmt.Errorf("redis set task: %w", err)
	}
	return nil
}

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

// Package taskstore 提供任务与计划的权威存储：进程内 map 为主，
// 可选 Redis 前置持久化（7 天 TTL + 时间线索引）。
// 存储不做并发协调，同一任务的变更由 Pipeline 串行化；
// 每次写入落的是快照，读取方不会看到写入之后的继续变更。
package taskstore

import (
	"context"
	"fmt"

	"agent-platform/internal/agent/task"
	"agent-platform/pkg/config"
	"agent-platform/pkg/log"
)

// ListRecent 未指定 limit 时的默认条数
const defaultListLimit = 50

// Store 任务存储接口
type Store interface {
	// Create 写入新任务并登记时间线
	Create(ctx context.Context, t *task.Task) error
	// Get 按 ID 读取任务
	Get(ctx context.Context, id string) (*task.Task, error)
	// Save 变更后持久化
	Save(ctx context.Context, t *task.Task) error
	// SetPlan 安装（或替换）任务计划
	SetPlan(ctx context.Context, p *task.Plan) error
	// GetPlan 读取任务计划
	GetPlan(ctx context.Context, taskID string) (*task.Plan, error)
	// ListRecent 按创建时间倒序列出最近任务
	ListRecent(ctx context.Context, limit int) ([]*task.Task, error)
	// Close 释放底层连接
	Close() error
}

// New 根据配置创建存储（memory 内置；redis 需可达，否则报错）
func New(ctx context.Context, cfg config.StoreConfig, logger *log.Logger) (Store, error) {
	t := cfg.Type
	if t == "" {
		t = "memory"
	}
	switch t {
	case "memory":
		return NewMemoryStore(), nil
	case "redis":
		return NewRedisStore(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported store type: %s", t)
	}
}

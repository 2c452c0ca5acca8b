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

package app

import (
	"context"
	"fmt"

	"agent-platform/internal/runtime/taskstore"
	"agent-platform/pkg/config"
	"agent-platform/pkg/log"
)

// Bootstrap 统一初始化：供 api 与 cli 复用，避免在 cmd 内写装配逻辑
type Bootstrap struct {
	Config    *config.Config
	Logger    *log.Logger
	TaskStore taskstore.Store
}

// NewBootstrap 根据配置创建 Bootstrap（日志 + 任务存储）
func NewBootstrap(cfg *config.Config) (*Bootstrap, error) {
	logCfg := &log.Config{}
	if cfg != nil {
		logCfg.Level = cfg.Log.Level
		logCfg.Format = cfg.Log.Format
		logCfg.File = cfg.Log.File
	}
	logger, err := log.NewLogger(logCfg)
	if err != nil {
		return nil, fmt.Errorf("初始化日志failed: %w", err)
	}

	// type=memory 或空时内置存储；type=redis 连外部 KV，连不上直接报错
	var store taskstore.Store
	if cfg != nil {
		store, err = taskstore.New(context.Background(), cfg.Store, logger)
		if err != nil {
			return nil, fmt.Errorf("初始化任务存储failed: %w", err)
		}
	} else {
		store = taskstore.NewMemoryStore()
	}

	return &Bootstrap{
		Config:    cfg,
		Logger:    logger,
		TaskStore: store,
	}, nil
}

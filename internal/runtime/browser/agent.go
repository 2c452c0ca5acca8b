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

// Package browser 封装远端浏览器 Agent 的 HTTP 客户端与会话池。
// Agent 侧负责真实的页面驱动；本包只负责会话生命周期与指令转发。
// base_url 未配置时 Agent 为 nil，上层执行器走确定性 mock。
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"agent-platform/pkg/config"
)

const defaultActTimeout = 60 * time.Second

// ActResult 一次浏览器指令的结果。Parsed 为 Agent 侧 schema 校验后的结构化输出，
// 可能为空；Response 为原始文本，留给多级解析器兜底。
type ActResult struct {
	Success  bool   `json:"success"`
	Response string `json:"response"`
	Parsed   any    `json:"parsed_response"`
	Error    string `json:"error,omitempty"`
}

// Session 一个打开的浏览器会话
type Session interface {
	// ID 返回会话标识
	ID() string
	// Act 在会话中执行一条自然语言指令
	Act(ctx context.Context, prompt string) (*ActResult, error)
	// Close 关闭会话并释放 Agent 侧资源
	Close(ctx context.Context) error
}

// Agent 远端浏览器 Agent 客户端
type Agent struct {
	baseURL  string
	apiKey   string
	headless bool
	client   *resty.Client
}

// NewAgent 按配置创建浏览器 Agent 客户端；base_url 为空返回 nil（mock 模式）
func NewAgent(cfg config.BrowserConfig) *Agent {
	if cfg.BaseURL == "" {
		return nil
	}

	timeout := defaultActTimeout
	if cfg.Timeout != "" {
		if d, err := time.ParseDuration(cfg.Timeout); err == nil && d > 0 {
			timeout = d
		}
	}

	client := resty.New()
	client.SetTimeout(timeout)

	return &Agent{
		baseURL:  cfg.BaseURL,
		apiKey:   cfg.APIKey,
		headless: cfg.Headless,
		client:   client,
	}
}

// Configured 判断是否配置了真实 Agent
func (a *Agent) Configured() bool {
	return a != nil && a.baseURL != ""
}

// OpenSession 在 Agent 侧打开一个新会话，起始页为 startingPage
func (a *Agent) OpenSession(ctx context.Context, startingPage string) (Session, error) {
	request := map[string]interface{}{
		"starting_page": startingPage,
		"headless":      a.headless,
	}

	response, err := a.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Authorization", "Bearer "+a.apiKey).
		SetBody(request).
		Post(a.baseURL + "/v1/sessions")

	if err != nil {
		return nil, fmt.Errorf("打开浏览器会话failed: %w", err)
	}
	if response.StatusCode() != http.StatusOK && response.StatusCode() != http.StatusCreated {
		return nil, fmt.Errorf("浏览器 Agent 返回错误: %s", response.String())
	}

	var result struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(response.Body(), &result); err != nil {
		return nil, fmt.Errorf("解析会话响应failed: %w", err)
	}
	if result.SessionID == "" {
		return nil, fmt.Errorf("浏览器 Agent 没有返回会话 ID")
	}

	return &remoteSession{agent: a, id: result.SessionID}, nil
}

// remoteSession Agent 侧会话的句柄
type remoteSession struct {
	agent *Agent
	id    string
}

func (s *remoteSession) ID() string {
	return s.id
}

// Act 转发指令并解析结果信封
func (s *remoteSession) Act(ctx context.Context, prompt string) (*ActResult, error) {
	request := map[string]interface{}{
		"prompt": prompt,
	}

	response, err := s.agent.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Authorization", "Bearer "+s.agent.apiKey).
		SetBody(request).
		Post(s.agent.baseURL + "/v1/sessions/" + s.id + "/act")

	if err != nil {
		return nil, fmt.Errorf("浏览器指令failed: %w", err)
	}
	if response.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("浏览器 Agent 返回错误: %s", response.String())
	}

	var result ActResult
	if err := json.Unmarshal(response.Body(), &result); err != nil {
		return nil, fmt.Errorf("解析指令响应failed: %w", err)
	}
	return &result, nil
}

// Close 释放 Agent 侧会话；404 视为已关闭
func (s *remoteSession) Close(ctx context.Context) error {
	response, err := s.agent.client.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+s.agent.apiKey).
		Delete(s.agent.baseURL + "/v1/sessions/" + s.id)

	if err != nil {
		return fmt.Errorf("关闭浏览器会话failed: %w", err)
	}
	if response.StatusCode() != http.StatusOK && response.StatusCode() != http.StatusNotFound {
		return fmt.Errorf("浏览器 Agent 返回错误: %s", response.String())
	}
	return nil
}

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

package browser

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"agent-platform/pkg/log"
	"agent-platform/pkg/metrics"
)

const defaultMaxSessions = 3

// Pool 有界浏览器会话池，按域名复用会话。
// 信号量限制同时活跃的会话数；同域的创建由单独的锁串行化，
// 避免并发步骤为同一个站点开两个浏览器。
// Release 只归还信号量槽位，不关闭会话；会话留给同域的后续步骤复用，
// Shutdown 统一收尾。
type Pool struct {
	agent *Agent
	max   int

	semaphore chan struct{}

	mu       sync.Mutex
	sessions map[string]Session
	locks    map[string]*sync.Mutex

	logger *log.Logger
}

// NewPool 创建会话池；maxSessions <= 0 时用默认 3
func NewPool(agent *Agent, maxSessions int, logger *log.Logger) *Pool {
	if maxSessions <= 0 {
		maxSessions = defaultMaxSessions
	}
	return &Pool{
		agent:     agent,
		max:       maxSessions,
		semaphore: make(chan struct{}, maxSessions),
		sessions:  make(map[string]Session),
		locks:     make(map[string]*sync.Mutex),
		logger:    logger,
	}
}

// domainKey 从 URL 提取域名作为会话键；非 http 目标原样返回
func domainKey(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		return rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}

// Acquire 为目标 URL 获取一个会话槽位。池满时阻塞到有槽位或 ctx 取消。
// 同域已有会话则复用；否则新建。Agent 未配置时返回 (nil, nil)，
// 槽位仍被占用，调用方用完后必须 Release。
func (p *Pool) Acquire(ctx context.Context, rawURL string) (Session, error) {
	waitStart := time.Now()
	select {
	case p.semaphore <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	metrics.SessionWait.Observe(time.Since(waitStart).Seconds())

	domain := domainKey(rawURL)
	lock := p.domainLock(domain)

	lock.Lock()
	defer lock.Unlock()

	p.mu.Lock()
	if sess, ok := p.sessions[domain]; ok {
		p.mu.Unlock()
		p.logger.Debug("复用浏览器会话", "domain", domain)
		return sess, nil
	}
	p.mu.Unlock()

	if !p.agent.Configured() {
		return nil, nil
	}

	startingPage := rawURL
	if !strings.HasPrefix(startingPage, "http") {
		startingPage = "https://www.google.com"
	}

	sess, err := p.agent.OpenSession(ctx, startingPage)
	if err != nil {
		p.logger.Error("创建浏览器会话failed", "domain", domain, "error", err)
		return nil, err
	}

	p.mu.Lock()
	p.sessions[domain] = sess
	active := len(p.sessions)
	p.mu.Unlock()

	metrics.SessionsActive.Set(float64(active))
	p.logger.Info("创建浏览器会话", "domain", domain, "active", active, "max", p.max)
	return sess, nil
}

// Release 归还槽位；不关闭会话
func (p *Pool) Release(rawURL string) {
	select {
	case <-p.semaphore:
	default:
	}
}

// Peek 取同域已有会话，不占槽位；没有则返回 nil
func (p *Pool) Peek(rawURL string) Session {
	domain := domainKey(rawURL)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessions[domain]
}

// ActiveCount 当前打开的会话数
func (p *Pool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// Domains 有活跃会话的域名列表
func (p *Pool) Domains() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	domains := make([]string, 0, len(p.sessions))
	for d := range p.sessions {
		domains = append(domains, d)
	}
	return domains
}

// Shutdown 关闭全部会话并清空池；重复调用无害
func (p *Pool) Shutdown(ctx context.Context) {
	p.mu.Lock()
	sessions := p.sessions
	p.sessions = make(map[string]Session)
	p.mu.Unlock()

	for domain, sess := range sessions {
		if err := sess.Close(ctx); err != nil {
			p.logger.Warn("关闭浏览器会话failed", "domain", domain, "error", err)
			continue
		}
		p.logger.Info("关闭浏览器会话", "domain", domain)
	}
	metrics.SessionsActive.Set(0)
}

func (p *Pool) domainLock(domain string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	lock, ok := p.locks[domain]
	if !ok {
		lock = &sync.Mutex{}
		p.locks[domain] = lock
	}
	return lock
}

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

// Package ratelimit 提供按客户端的令牌桶准入控制。
// 桶容量为最大并发任务数，稳态按每分钟任务数补充；闲置桶定期回收。
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultRatePerMinute = 10
	defaultBurst         = 5

	staleAfter    = 10 * time.Minute
	sweepInterval = 5 * time.Minute
)

// Limiter 按 clientID 维护独立令牌桶
type Limiter struct {
	ratePerMinute int
	burst         int

	mu      sync.Mutex
	clients map[string]*client

	now    func() time.Time // 测试钩子
	stopCh chan struct{}
	done   sync.Once
}

type client struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewLimiter 创建限流器并启动闲置桶回收。ratePerMinute/burst <=0 使用默认 10/5。
func NewLimiter(ratePerMinute, burst int) *Limiter {
	if ratePerMinute <= 0 {
		ratePerMinute = defaultRatePerMinute
	}
	if burst <= 0 {
		burst = defaultBurst
	}
	l := &Limiter{
		ratePerMinute: ratePerMinute,
		burst:         burst,
		clients:       make(map[string]*client),
		now:           time.Now,
		stopCh:        make(chan struct{}),
	}
	go l.sweeper()
	return l
}

// Allow 尝试为 clientID 消费一个令牌。
// 不足时返回 false 与到下一个令牌的等待时长，且不消费。
func (l *Limiter) Allow(clientID string) (bool, time.Duration) {
	now := l.now()

	l.mu.Lock()
	c := l.lookup(clientID, now)
	l.mu.Unlock()

	r := c.lim.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Remaining 返回 clientID 当前可用令牌数（下取整，最小 0）
func (l *Limiter) Remaining(clientID string) int {
	now := l.now()

	l.mu.Lock()
	c := l.lookup(clientID, now)
	l.mu.Unlock()

	tokens := int(c.lim.TokensAt(now))
	if tokens < 0 {
		tokens = 0
	}
	return tokens
}

// Limit 返回每分钟稳态速率（供响应头使用）
func (l *Limiter) Limit() int {
	return l.ratePerMinute
}

// Close 停止闲置桶回收
func (l *Limiter) Close() {
	l.done.Do(func() { close(l.stopCh) })
}

// lookup 取出或新建客户端桶，调用方必须持锁。新桶满额起步。
func (l *Limiter) lookup(clientID string, now time.Time) *client {
	c, ok := l.clients[clientID]
	if !ok {
		c = &client{
			lim: rate.NewLimiter(rate.Limit(float64(l.ratePerMinute)/60.0), l.burst),
		}
		l.clients[clientID] = c
	}
	c.lastSeen = now
	return c
}

func (l *Limiter) sweeper() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.sweep(l.now())
		case <-l.stopCh:
			return
		}
	}
}

// sweep 回收闲置超过 staleAfter 的桶
func (l *Limiter) sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, c := range l.clients {
		if now.Sub(c.lastSeen) > staleAfter {
			delete(l.clients, id)
		}
	}
}

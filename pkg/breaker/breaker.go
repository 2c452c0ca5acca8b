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

// Package breaker 提供三态熔断器，保护 LLM 与浏览器后端调用。
// 打开后经过恢复窗口自动进入半开，由下一次探测调用决定闭合或重新打开。
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// State 熔断器状态
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

// ErrOpen 熔断器处于打开状态（快速失败，不可重试）
var ErrOpen = errors.New("circuit breaker open")

// OpenError 携带熔断器名称与建议重试间隔
type OpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker '%s' is open, retry after %.1fs", e.Name, e.RetryAfter.Seconds())
}

func (e *OpenError) Unwrap() error { return ErrOpen }

// Stats 熔断器观测快照
type Stats struct {
	Name             string  `json:"name"`
	State            State   `json:"state"`
	FailureCount     int     `json:"failure_count"`
	SuccessCount     int     `json:"success_count"`
	FailureThreshold int     `json:"failure_threshold"`
	RecoveryTimeout  float64 `json:"recovery_timeout"`
}

// 半开态探测名额用尽时的建议等待
const halfOpenRetryAfter = time.Second

// Breaker 三态熔断器。连续失败达到阈值后打开；
// 恢复窗口按最后一次失败时间计算，窗口过后转半开，限量放行探测。
type Breaker struct {
	name             string
	failureThreshold int
	recoveryTimeout  time.Duration
	halfOpenMax      int

	mu           sync.Mutex
	state        State
	failureCount int
	successCount int
	lastFailure  time.Time
	probes       int // 半开态在途探测数

	now func() time.Time // 测试钩子
}

// New 创建熔断器
func New(name string, failureThreshold int, recoveryTimeout time.Duration) *Breaker {
	return &Breaker{
		name:             name,
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		halfOpenMax:      1,
		state:            Closed,
		now:              time.Now,
	}
}

// NewLLMBreaker LLM 调用熔断：5 次失败打开，30s 恢复
func NewLLMBreaker() *Breaker {
	return New("llm", 5, 30*time.Second)
}

// NewBrowserBreaker 浏览器调用熔断：3 次失败打开，60s 恢复
func NewBrowserBreaker() *Breaker {
	return New("browser", 3, 60*time.Second)
}

// Do 在熔断保护下执行 fn。打开时立即返回 *OpenError，不执行 fn。
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	if err := fn(ctx); err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}

// Allow 检查是否放行。打开时返回 *OpenError 并附带剩余恢复时间；
// 半开时限量放行探测，超出名额快速失败。
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.currentState() {
	case Open:
		retryAfter := b.recoveryTimeout - b.now().Sub(b.lastFailure)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return &OpenError{Name: b.name, RetryAfter: retryAfter}
	case HalfOpen:
		if b.probes >= b.halfOpenMax {
			return &OpenError{Name: b.name, RetryAfter: halfOpenRetryAfter}
		}
		b.probes++
	}
	return nil
}

// RecordSuccess 记录一次成功。半开探测成功转闭合并清零失败计数；闭合态下同样清零。
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.successCount++
	switch b.state {
	case HalfOpen:
		b.releaseProbe()
		b.state = Closed
		b.failureCount = 0
	case Closed:
		b.failureCount = 0
	}
}

// RecordFailure 记录一次失败。半开探测失败立即重新打开；
// 闭合态达到阈值打开。恢复窗口从本次失败重新起算。
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.lastFailure = b.now()

	if b.state == HalfOpen {
		b.releaseProbe()
		b.state = Open
	} else if b.state == Closed && b.failureCount >= b.failureThreshold {
		b.state = Open
	}
}

// Reset 手动恢复闭合态并清零计数
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failureCount = 0
	b.probes = 0
}

// State 返回当前状态（打开且超过恢复窗口时惰性转半开）
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState()
}

// Name 返回熔断器名称
func (b *Breaker) Name() string {
	return b.name
}

// Stats 返回观测快照
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Name:             b.name,
		State:            b.currentState(),
		FailureCount:     b.failureCount,
		SuccessCount:     b.successCount,
		FailureThreshold: b.failureThreshold,
		RecoveryTimeout:  b.recoveryTimeout.Seconds(),
	}
}

// currentState 惰性状态迁移，调用方必须持锁
func (b *Breaker) currentState() State {
	if b.state == Open && b.now().Sub(b.lastFailure) >= b.recoveryTimeout {
		b.state = HalfOpen
		b.probes = 0
	}
	return b.state
}

// releaseProbe 归还半开态探测名额，调用方必须持锁
func (b *Breaker) releaseProbe() {
	if b.probes > 0 {
		b.probes--
	}
}

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

package breaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

// newTestBreaker 阈值 3、恢复窗口 200ms，时间可控
func newTestBreaker() (*Breaker, *time.Time) {
	b := New("test", 3, 200*time.Millisecond)
	now := time.Now()
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreaker_StartsClosed(t *testing.T) {
	b, _ := newTestBreaker()
	if got := b.State(); got != Closed {
		t.Errorf("State: got %s, want closed", got)
	}
	if err := b.Allow(); err != nil {
		t.Errorf("闭合态应放行: %v", err)
	}
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker()

	b.RecordFailure()
	b.RecordFailure()
	if got := b.State(); got != Closed {
		t.Fatalf("未达阈值不应打开: got %s", got)
	}

	b.RecordFailure()
	if got := b.State(); got != Open {
		t.Errorf("达到阈值应打开: got %s", got)
	}
}

func TestBreaker_RejectsWhenOpen(t *testing.T) {
	b, _ := newTestBreaker()
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}

	err := b.Allow()
	if err == nil {
		t.Fatal("打开态应拒绝")
	}
	if !errors.Is(err, ErrOpen) {
		t.Errorf("应匹配 ErrOpen: %v", err)
	}
	var oe *OpenError
	if !errors.As(err, &oe) {
		t.Fatalf("应为 *OpenError: %v", err)
	}
	if oe.Name != "test" {
		t.Errorf("Name: got %q", oe.Name)
	}
	if oe.RetryAfter <= 0 || oe.RetryAfter > 200*time.Millisecond {
		t.Errorf("RetryAfter 超出窗口: %v", oe.RetryAfter)
	}
}

func TestBreaker_HalfOpenAfterTimeout(t *testing.T) {
	b, now := newTestBreaker()
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}

	*now = now.Add(250 * time.Millisecond)
	if got := b.State(); got != HalfOpen {
		t.Errorf("恢复窗口后应半开: got %s", got)
	}
	if err := b.Allow(); err != nil {
		t.Errorf("半开态应放行探测: %v", err)
	}
}

func TestBreaker_HalfOpenSuccessCloses(t *testing.T) {
	b, now := newTestBreaker()
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	*now = now.Add(250 * time.Millisecond)
	_ = b.State() // 触发半开

	b.RecordSuccess()
	if got := b.State(); got != Closed {
		t.Errorf("探测成功应闭合: got %s", got)
	}
	if got := b.Stats().FailureCount; got != 0 {
		t.Errorf("闭合应清零失败计数: got %d", got)
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, now := newTestBreaker()
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	*now = now.Add(250 * time.Millisecond)
	_ = b.State() // 触发半开

	b.RecordFailure()
	if got := b.State(); got != Open {
		t.Errorf("探测失败应重新打开: got %s", got)
	}
	// 恢复窗口从本次失败重新起算
	err := b.Allow()
	var oe *OpenError
	if !errors.As(err, &oe) {
		t.Fatalf("应为 *OpenError: %v", err)
	}
	if oe.RetryAfter < 150*time.Millisecond {
		t.Errorf("窗口应重新起算: RetryAfter=%v", oe.RetryAfter)
	}
}

func TestBreaker_HalfOpenProbeLimit(t *testing.T) {
	b, now := newTestBreaker()
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	*now = now.Add(250 * time.Millisecond)

	if err := b.Allow(); err != nil {
		t.Fatalf("首个探测应放行: %v", err)
	}
	err := b.Allow()
	var oe *OpenError
	if !errors.As(err, &oe) {
		t.Fatalf("超出探测名额应快速失败: %v", err)
	}
	if oe.RetryAfter != time.Second {
		t.Errorf("RetryAfter: got %v, want 1s", oe.RetryAfter)
	}

	b.RecordSuccess()
	if err := b.Allow(); err != nil {
		t.Errorf("闭合后应放行: %v", err)
	}
}

func TestBreaker_Reset(t *testing.T) {
	b, _ := newTestBreaker()
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	b.Reset()
	if got := b.State(); got != Closed {
		t.Errorf("Reset 后应闭合: got %s", got)
	}
	if got := b.Stats().FailureCount; got != 0 {
		t.Errorf("Reset 后失败计数应清零: got %d", got)
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker()

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	if got := b.State(); got != Closed {
		t.Errorf("间歇失败不应打开: got %s", got)
	}
}

func TestBreaker_Do(t *testing.T) {
	b, _ := newTestBreaker()
	ctx := context.Background()

	callErr := errors.New("backend down")
	for i := 0; i < 3; i++ {
		if err := b.Do(ctx, func(context.Context) error { return callErr }); !errors.Is(err, callErr) {
			t.Fatalf("应透传调用错误: %v", err)
		}
	}

	called := false
	err := b.Do(ctx, func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Errorf("打开态应快速失败: %v", err)
	}
	if called {
		t.Error("打开态不应执行 fn")
	}
}

func TestBreaker_Stats(t *testing.T) {
	b, _ := newTestBreaker()
	b.RecordSuccess()
	b.RecordFailure()

	s := b.Stats()
	if s.Name != "test" || s.State != Closed {
		t.Errorf("快照不符: %+v", s)
	}
	if s.SuccessCount != 1 || s.FailureCount != 1 {
		t.Errorf("计数不符: %+v", s)
	}
	if s.FailureThreshold != 3 {
		t.Errorf("FailureThreshold: got %d", s.FailureThreshold)
	}
	if s.RecoveryTimeout != 0.2 {
		t.Errorf("RecoveryTimeout: got %v", s.RecoveryTimeout)
	}
}

func TestBreaker_Presets(t *testing.T) {
	llm := NewLLMBreaker()
	if s := llm.Stats(); s.Name != "llm" || s.FailureThreshold != 5 || s.RecoveryTimeout != 30 {
		t.Errorf("llm 预设不符: %+v", s)
	}
	br := NewBrowserBreaker()
	if s := br.Stats(); s.Name != "browser" || s.FailureThreshold != 3 || s.RecoveryTimeout != 60 {
		t.Errorf("browser 预设不符: %+v", s)
	}
}

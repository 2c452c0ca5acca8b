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

package parse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-platform/internal/model/llm"
	"agent-platform/pkg/log"
)

func testParser(t *testing.T, client llm.Client) *Parser {
	t.Helper()
	logger, err := log.NewLogger(&log.Config{Level: "error", Format: "text"})
	require.NoError(t, err)
	return New(client, logger)
}

// fakeRepairClient 记录修复调用并返回固定回复
type fakeRepairClient struct {
	llm.Client
	calls       int
	lastSystem  string
	lastUser    string
	lastOptions llm.GenerateOptions
	reply       string
	err         error
}

func (f *fakeRepairClient) ChatWithContext(_ context.Context, messages []llm.Message, options llm.GenerateOptions) (string, error) {
	f.calls++
	for _, m := range messages {
		switch m.Role {
		case "system":
			f.lastSystem = m.Content
		case "user":
			f.lastUser = m.Content
		}
	}
	f.lastOptions = options
	return f.reply, f.err
}

func (f *fakeRepairClient) Provider() string { return "fake" }

func TestParse_PreParsedWins(t *testing.T) {
	p := testParser(t, nil)
	parsed := []any{map[string]any{"name": "X"}}

	got := p.Parse(context.Background(), "garbage text", parsed)
	assert.Equal(t, parsed, got)
}

func TestParse_NativeValuePassthrough(t *testing.T) {
	p := testParser(t, nil)
	native := map[string]any{"ok": true}

	got := p.Parse(context.Background(), native, nil)
	assert.Equal(t, native, got)

	// 幂等：再喂一遍不变
	assert.Equal(t, got, p.Parse(context.Background(), got, nil))
}

func TestParse_StrictAfterTrim(t *testing.T) {
	p := testParser(t, nil)

	got := p.Parse(context.Background(), "  {\"a\": 1}  ", nil)
	assert.Equal(t, map[string]any{"a": float64(1)}, got)

	// 带成对引号外壳的 JSON
	got = p.Parse(context.Background(), `"[1, 2]"`, nil)
	assert.Equal(t, []any{float64(1), float64(2)}, got)
}

func TestParse_GreedyArrayExtraction(t *testing.T) {
	p := testParser(t, nil)

	raw := `Here are the results: [{"name": "X", "price": 100}] hope that helps!`
	got := p.Parse(context.Background(), raw, nil)

	items, ok := got.([]any)
	require.True(t, ok)
	require.Len(t, items, 1)
	assert.Equal(t, "X", items[0].(map[string]any)["name"])
}

func TestParse_ShortestWhenGreedyFails(t *testing.T) {
	p := testParser(t, nil)

	// 贪婪窗口横跨两个数组，解析失败；最短匹配取第一个
	raw := `[1, 2] and separately [3, 4]`
	got := p.Parse(context.Background(), raw, nil)
	assert.Equal(t, []any{float64(1), float64(2)}, got)
}

func TestParse_ObjectExtraction(t *testing.T) {
	p := testParser(t, nil)

	got := p.Parse(context.Background(), `The answer is {"ok": true}.`, nil)
	assert.Equal(t, map[string]any{"ok": true}, got)
}

func TestParse_RepairViaLLM(t *testing.T) {
	client := &fakeRepairClient{reply: `{"fixed": true}`}
	p := testParser(t, client)

	got := p.Parse(context.Background(), "completely broken output", nil)
	assert.Equal(t, map[string]any{"fixed": true}, got)

	assert.Equal(t, 1, client.calls)
	assert.Equal(t, repairSystemPrompt, client.lastSystem)
	assert.Contains(t, client.lastUser, "Malformed input:")
	assert.Contains(t, client.lastUser, "completely broken output")
	assert.Zero(t, client.lastOptions.Temperature)
	assert.Equal(t, 1024, client.lastOptions.MaxTokens)
}

func TestParse_RepairReplyGetsExtraction(t *testing.T) {
	client := &fakeRepairClient{reply: "Sure! Here you go: [7]"}
	p := testParser(t, client)

	got := p.Parse(context.Background(), "broken", nil)
	assert.Equal(t, []any{float64(7)}, got)
}

func TestParse_RepairSkippedForMockClient(t *testing.T) {
	p := testParser(t, llm.NewMockClient(""))

	got := p.Parse(context.Background(), "not parseable at all", nil)
	assert.Equal(t, "not parseable at all", got)
}

func TestParse_FallbackToRawText(t *testing.T) {
	client := &fakeRepairClient{reply: "still not json"}
	p := testParser(t, client)

	got := p.Parse(context.Background(), "  plain sentence  ", nil)
	assert.Equal(t, "plain sentence", got)
	assert.Equal(t, 1, client.calls)
}

func TestTruncate_LimitsRepairInput(t *testing.T) {
	long := make([]byte, 3000)
	for i := range long {
		long[i] = 'a'
	}
	assert.Len(t, truncate(string(long), repairInputLimit), repairInputLimit)
	assert.Equal(t, "short", truncate("short", repairInputLimit))
}

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

package output

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-platform/internal/agent/task"
)

func product(name string, price, rating float64, source string) map[string]any {
	return map[string]any{"name": name, "price": price, "rating": rating, "source": source}
}

func extractStep(items ...any) *task.Step {
	return &task.Step{
		Action: task.ActionExtract,
		Result: map[string]any{"success": true, "extracted": items},
	}
}

func dedupePlan() *task.Plan {
	return &task.Plan{
		Command: "find laptops",
		Steps: []*task.Step{
			extractStep(product("X", 100, 4.5, "a"), product("Y", 90, 4.5, "a")),
			extractStep(product("X", 100, 4.5, "a")),
		},
	}
}

func TestFormat_JSONDedupeAndSort(t *testing.T) {
	out := Format(dedupePlan(), task.FormatJSON)

	m, ok := out.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "find laptops", m["command"])
	assert.Equal(t, 2, m["total_results"])
	assert.Nil(t, m["summary"])

	results := m["results"].([]map[string]any)
	require.Len(t, results, 2)
	// 同评分按价格升序
	assert.Equal(t, "Y", results[0]["name"])
	assert.Equal(t, "X", results[1]["name"])
}

func TestFormat_CSV(t *testing.T) {
	out := Format(dedupePlan(), task.FormatCSV)

	text, ok := out.(string)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(text, "name,price,rating,source\n"))
	assert.Contains(t, text, "Y,90,4.5,a")
	assert.Contains(t, text, "X,100,4.5,a")
}

func TestFormat_Summary(t *testing.T) {
	out := Format(dedupePlan(), task.FormatSummary)

	text, ok := out.(string)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(text, "Results for: find laptops\n\n1. Y — $90 (4.5 stars) from a"), text)
	assert.Contains(t, text, "2. X — $100 (4.5 stars) from a")
}

func TestFormat_SortByRatingThenPrice(t *testing.T) {
	plan := &task.Plan{
		Command: "rank",
		Steps: []*task.Step{
			extractStep(
				product("low", 50, 3.0, "s"),
				product("high", 999, 4.9, "s"),
				product("mid", 10, 4.9, "s"),
			),
		},
	}

	out := Format(plan, task.FormatJSON).(map[string]any)
	results := out["results"].([]map[string]any)
	require.Len(t, results, 3)
	assert.Equal(t, "mid", results[0]["name"])
	assert.Equal(t, "high", results[1]["name"])
	assert.Equal(t, "low", results[2]["name"])
}

func TestCollectProducts_NestedResponseShapes(t *testing.T) {
	plan := &task.Plan{
		Command: "shapes",
		Steps: []*task.Step{
			// response 直接是商品列表
			{Action: task.ActionExtract, Result: map[string]any{
				"response": []any{product("A", 10, 4.0, "s1")},
			}},
			// response 是对象，商品在 ranked 里
			{Action: task.ActionCompare, Result: map[string]any{
				"response": map[string]any{"ranked": []any{product("B", 20, 4.2, "s2")}},
			}},
			// 非商品条目被忽略
			{Action: task.ActionExtract, Result: map[string]any{
				"extracted": []any{map[string]any{"note": "no name"}, "just a string"},
			}},
		},
	}

	products := collectProducts(plan)
	require.Len(t, products, 2)
}

func TestCollectProducts_NativeSliceShapes(t *testing.T) {
	// 离线执行不经过 JSON 往返，列表是 []map[string]any 而非 []any
	plan := &task.Plan{
		Command: "native",
		Steps: []*task.Step{
			{Action: task.ActionSearch, Result: map[string]any{
				"products": []map[string]any{product("A", 10, 4.0, "s1")},
			}},
			{Action: task.ActionCompare, Result: map[string]any{
				"response": map[string]any{
					"ranked": []map[string]any{
						product("A", 10, 4.0, "s1"),
						product("B", 20, 4.2, "s2"),
					},
				},
			}},
		},
	}

	products := collectProducts(plan)
	require.Len(t, products, 2)
}

func TestSummaryText_Fallbacks(t *testing.T) {
	tests := []struct {
		name   string
		result map[string]any
		want   string
	}{
		{
			name:   "top-level summary",
			result: map[string]any{"summary": "top summary"},
			want:   "top summary",
		},
		{
			name:   "nested summary",
			result: map[string]any{"response": map[string]any{"summary": "nested summary"}},
			want:   "nested summary",
		},
		{
			name:   "recommendation fallback",
			result: map[string]any{"response": map[string]any{"recommendation": "pick B"}},
			want:   "pick B",
		},
		{
			name:   "string response",
			result: map[string]any{"response": `"quoted text"`},
			want:   "quoted text",
		},
		{
			name:   "list response",
			result: map[string]any{"response": []any{"first.", "second."}},
			want:   "first. second.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := &task.Plan{Steps: []*task.Step{
				{Action: task.ActionSummarize, Result: tt.result},
			}}
			assert.Equal(t, tt.want, summaryText(plan))
		})
	}
}

func TestSummaryText_TakesLastSummarize(t *testing.T) {
	plan := &task.Plan{Steps: []*task.Step{
		{Action: task.ActionSummarize, Result: map[string]any{"summary": "old"}},
		{Action: task.ActionSummarize, Result: map[string]any{"summary": "new"}},
	}}
	assert.Equal(t, "new", summaryText(plan))
}

func TestFormat_EmptyResults(t *testing.T) {
	plan := &task.Plan{Command: "nothing found"}

	assert.Equal(t, "No results found.", Format(plan, task.FormatCSV))
	assert.Equal(t, "No results were found for your query.", Format(plan, task.FormatSummary))

	out := Format(plan, task.FormatJSON).(map[string]any)
	assert.Equal(t, 0, out["total_results"])
}

func TestFormat_SummaryOnlyOutput(t *testing.T) {
	plan := &task.Plan{
		Command: "advise me",
		Steps: []*task.Step{
			{Action: task.ActionSummarize, Result: map[string]any{"summary": "all options are fine"}},
		},
	}

	text := Format(plan, task.FormatSummary).(string)
	assert.Equal(t, "Results for: advise me\n\n\nall options are fine", text)
}

func TestSummaryLine_MissingPriceAndRating(t *testing.T) {
	plan := &task.Plan{
		Command: "sparse",
		Steps: []*task.Step{
			extractStep(map[string]any{"name": "Mystery", "source": "s"}),
		},
	}

	text := Format(plan, task.FormatSummary).(string)
	assert.Contains(t, text, "1. Mystery — N/A (unrated) from s")
}

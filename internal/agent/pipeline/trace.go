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

package pipeline

import (
	"math"
	"time"

	"agent-platform/internal/agent/task"
)

// serializeSteps 把计划步骤压成 plan_ready 事件的载荷
func serializeSteps(plan *task.Plan) []map[string]any {
	steps := make([]map[string]any, 0, len(plan.Steps))
	for _, s := range plan.Steps {
		steps = append(steps, map[string]any{
			"id":          s.ID,
			"action":      string(s.Action),
			"target":      s.Target,
			"description": s.Description,
			"executor":    string(s.Executor),
			"group":       s.Group,
			"depends_on":  s.DependsOn,
		})
	}
	return steps
}

// buildTrace 汇总当前计划的耗时与成本。重规划后只统计替换后的计划；
// 没跑完的步骤（无起止时间）不带时间字段。
func buildTrace(plan *task.Plan, planningMS, executionMS int64, replanned bool) map[string]any {
	var total float64
	entries := []map[string]any{}
	if plan != nil {
		for _, s := range plan.Steps {
			total += s.CostUSD
			entry := map[string]any{
				"id":       s.ID,
				"action":   string(s.Action),
				"group":    s.Group,
				"executor": string(s.Executor),
				"status":   string(s.Status),
				"cost_usd": s.CostUSD,
				"retries":  s.Retries,
			}
			if s.StartedAt != nil && s.FinishedAt != nil {
				entry["duration_ms"] = s.FinishedAt.Sub(*s.StartedAt).Milliseconds()
				entry["started_at"] = s.StartedAt.Format(time.RFC3339)
				entry["finished_at"] = s.FinishedAt.Format(time.RFC3339)
			}
			entries = append(entries, entry)
		}
	}
	return map[string]any{
		"planning_ms":    planningMS,
		"execution_ms":   executionMS,
		"replanned":      replanned,
		"total_cost_usd": round6(total),
		"steps":          entries,
	}
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

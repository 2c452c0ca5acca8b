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

// Package output 把计划里各步骤的结果聚合成最终输出（json / csv / summary）。
// 商品条目按 (name, source) 去重，按 (-rating, price) 排序。
package output

import (
	"encoding/csv"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"agent-platform/internal/agent/task"
)

// Format 返回任务的最终格式化输出
func Format(plan *task.Plan, format task.Format) any {
	products := collectProducts(plan)
	summary := summaryText(plan)

	sortProducts(products)

	switch format {
	case task.FormatCSV:
		return asCSV(products)
	case task.FormatSummary:
		return asSummary(plan, products, summary)
	default:
		return asJSON(plan, products, summary)
	}
}

// collectProducts 从所有步骤结果中收集商品条目。
// 兼容三种形态：顶层 extracted/products/ranked、response 为商品列表、
// response 为带嵌套键的对象。
func collectProducts(plan *task.Plan) []map[string]any {
	products := make([]map[string]any, 0)
	seen := make(map[string]struct{})

	if plan == nil {
		return products
	}

	for _, step := range plan.Steps {
		if step.Result == nil {
			continue
		}
		data := step.Result

		for _, key := range []string{"extracted", "products", "ranked"} {
			if items, ok := anySlice(data[key]); ok {
				addProducts(items, &products, seen)
			}
		}

		if items, ok := anySlice(data["response"]); ok {
			addProducts(items, &products, seen)
		} else if response, ok := data["response"].(map[string]any); ok {
			for _, key := range []string{"extracted", "products", "ranked"} {
				if items, ok := anySlice(response[key]); ok {
					addProducts(items, &products, seen)
				}
			}
		}
	}

	return products
}

// anySlice 归一列表形态：JSON 反序列化产出 []any，
// 进程内直传的结果则是 []map[string]any，两种都认
func anySlice(val any) ([]any, bool) {
	switch items := val.(type) {
	case []any:
		return items, true
	case []map[string]any:
		out := make([]any, len(items))
		for i := range items {
			out[i] = items[i]
		}
		return out, true
	}
	return nil, false
}

func addProducts(items []any, products *[]map[string]any, seen map[string]struct{}) {
	for _, item := range items {
		p, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name, _ := p["name"].(string)
		if name == "" {
			continue
		}
		source, _ := p["source"].(string)
		ident := name + "-" + source
		if _, dup := seen[ident]; dup {
			continue
		}
		seen[ident] = struct{}{}
		*products = append(*products, p)
	}
}

// summaryText 反向扫描取最后一个 summarize 步骤的摘要文本
func summaryText(plan *task.Plan) string {
	if plan == nil {
		return ""
	}
	for i := len(plan.Steps) - 1; i >= 0; i-- {
		s := plan.Steps[i]
		if s.Action != task.ActionSummarize || s.Result == nil {
			continue
		}

		if text := stringify(s.Result["summary"]); text != "" {
			return text
		}

		switch response := s.Result["response"].(type) {
		case map[string]any:
			if text := stringify(response["summary"]); text != "" {
				return text
			}
			if text := stringify(response["recommendation"]); text != "" {
				return text
			}
		case string:
			return strings.Trim(response, `"`)
		case []any:
			return joinAny(response)
		}
	}
	return ""
}

// stringify 把值转成展示文本；nil 与空列表视为无
func stringify(val any) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return strings.Trim(v, `"`)
	case []any:
		return joinAny(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func joinAny(items []any) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		parts = append(parts, fmt.Sprintf("%v", it))
	}
	return strings.Join(parts, " ")
}

func sortProducts(products []map[string]any) {
	sort.SliceStable(products, func(i, j int) bool {
		ri, rj := toFloat(products[i]["rating"]), toFloat(products[j]["rating"])
		if ri != rj {
			return ri > rj
		}
		return toFloat(products[i]["price"]) < toFloat(products[j]["price"])
	})
}

func toFloat(val any) float64 {
	switch v := val.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

func asJSON(plan *task.Plan, products []map[string]any, summary string) map[string]any {
	var summaryVal any
	if summary != "" {
		summaryVal = summary
	}
	command := ""
	if plan != nil {
		command = plan.Command
	}
	return map[string]any{
		"command":       command,
		"total_results": len(products),
		"results":       products,
		"summary":       summaryVal,
	}
}

func asCSV(products []map[string]any) string {
	if len(products) == 0 {
		return "No results found."
	}

	var buf strings.Builder
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"name", "price", "rating", "source"})
	for _, p := range products {
		_ = w.Write([]string{
			cellString(p["name"]),
			cellString(p["price"]),
			cellString(p["rating"]),
			cellString(p["source"]),
		})
	}
	w.Flush()
	return buf.String()
}

// cellString CSV 单元格字面量；数字不带多余小数位
func cellString(val any) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func asSummary(plan *task.Plan, products []map[string]any, summary string) string {
	command := ""
	if plan != nil {
		command = plan.Command
	}
	lines := []string{"Results for: " + command, ""}

	switch {
	case len(products) > 0:
		top := products
		if len(top) > 10 {
			top = top[:10]
		}
		for i, p := range top {
			priceStr := "N/A"
			if price := toFloat(p["price"]); price != 0 {
				priceStr = "$" + strconv.FormatFloat(price, 'g', -1, 64)
			}
			ratingStr := "unrated"
			if rating := toFloat(p["rating"]); rating != 0 {
				ratingStr = strconv.FormatFloat(rating, 'g', -1, 64) + " stars"
			}
			name, _ := p["name"].(string)
			if name == "" {
				name = "Unknown"
			}
			source, _ := p["source"].(string)
			if source == "" {
				source = "unknown"
			}
			lines = append(lines, fmt.Sprintf("%d. %s — %s (%s) from %s", i+1, name, priceStr, ratingStr, source))
		}
	case summary != "":
		// 只有摘要，没有商品行
	default:
		return "No results were found for your query."
	}

	if summary != "" {
		lines = append(lines, "", summary)
	}

	return strings.Join(lines, "\n")
}

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

package executor

import (
	"fmt"
	"sort"
	"strings"

	"agent-platform/internal/agent/task"
)

// mockProducts 离线模式的商品样本，覆盖三个站点，
// 足够演示按域过滤、跨站去重与排序
var mockProducts = []map[string]any{
	{"name": "ASUS TUF Gaming A15", "price": 749.99, "rating": 4.5, "source": "amazon.com"},
	{"name": "Lenovo IdeaPad Gaming 3", "price": 699.99, "rating": 4.3, "source": "amazon.com"},
	{"name": "Acer Nitro V 15", "price": 779.99, "rating": 4.4, "source": "amazon.com"},
	{"name": "HP Victus 15", "price": 599.99, "rating": 4.2, "source": "bestbuy.com"},
	{"name": "Dell G15 Gaming", "price": 749.99, "rating": 4.3, "source": "bestbuy.com"},
	{"name": "MSI Thin 15", "price": 699.99, "rating": 4.1, "source": "bestbuy.com"},
	{"name": "ASUS TUF Gaming A16", "price": 789.99, "rating": 4.6, "source": "newegg.com"},
	{"name": "Lenovo LOQ 15", "price": 729.99, "rating": 4.4, "source": "newegg.com"},
	{"name": "Acer Aspire 5 Gaming", "price": 649.99, "rating": 4.0, "source": "newegg.com"},
}

// mockBrowserResult 按动作返回可信的 mock 页面结果
func mockBrowserResult(step *task.Step) map[string]any {
	switch step.Action {
	case task.ActionNavigate:
		return map[string]any{
			"success":    true,
			"url":        step.Target,
			"page_title": "Homepage — " + step.Target,
			"cost_usd":   browserPerStep,
			"executor":   "browser",
		}
	case task.ActionSearch:
		products := mockProductsFor(step.Target)
		return map[string]any{
			"success":       true,
			"results_count": len(products),
			"products":      products,
			"cost_usd":      browserPerStep,
			"executor":      "browser",
		}
	case task.ActionExtract:
		return map[string]any{
			"success":   true,
			"extracted": mockProductsFor(step.Target),
			"cost_usd":  browserPerStep,
			"executor":  "browser",
		}
	case task.ActionCompare:
		return map[string]any{
			"success":  true,
			"ranked":   rankedMockProducts(),
			"cost_usd": browserPerStep,
			"executor": "browser",
		}
	case task.ActionSummarize:
		best := mockProducts[0]
		cheapest := mockProducts[0]
		for _, p := range mockProducts[1:] {
			if p["rating"].(float64) > best["rating"].(float64) {
				best = p
			}
			if p["price"].(float64) < cheapest["price"].(float64) {
				cheapest = p
			}
		}
		return map[string]any{
			"success": true,
			"summary": fmt.Sprintf(
				"Best rated: %s ($%v, %v stars). Best value: %s ($%v, %v stars).",
				best["name"], best["price"], best["rating"],
				cheapest["name"], cheapest["price"], cheapest["rating"],
			),
			"best_rated": best,
			"best_value": cheapest,
			"cost_usd":   browserPerStep,
			"executor":   "browser",
		}
	default:
		return map[string]any{
			"success":  true,
			"message":  fmt.Sprintf("Executed %s on %s", step.Action, step.Target),
			"cost_usd": browserPerStep,
			"executor": "browser",
		}
	}
}

// mockProductsFor 按目标域过滤样本；无匹配时取前三条兜底
func mockProductsFor(target string) []map[string]any {
	domain := strings.TrimSuffix(strings.TrimPrefix(target, "https://www."), "/")

	products := make([]map[string]any, 0, 3)
	for _, p := range mockProducts {
		source, _ := p["source"].(string)
		if strings.Contains(source, domain) {
			products = append(products, p)
		}
	}
	if len(products) == 0 {
		n := 3
		if n > len(mockProducts) {
			n = len(mockProducts)
		}
		products = append(products, mockProducts[:n]...)
	}
	return products
}

func rankedMockProducts() []map[string]any {
	ranked := make([]map[string]any, len(mockProducts))
	copy(ranked, mockProducts)
	sort.SliceStable(ranked, func(i, j int) bool {
		ri, rj := ranked[i]["rating"].(float64), ranked[j]["rating"].(float64)
		if ri != rj {
			return ri > rj
		}
		return ranked[i]["price"].(float64) < ranked[j]["price"].(float64)
	})
	return ranked
}

// mockLLMResult 按动作返回确定性的 mock 推理结论
func mockLLMResult(step *task.Step, stepContext []map[string]any) map[string]any {
	switch step.Action {
	case task.ActionCompare:
		return map[string]any{
			"success": true,
			"response": map[string]any{
				"ranked":   stepContext,
				"analysis": "Mock comparison: items ranked by available data.",
			},
			"cost_usd": mockLLMCost,
			"executor": "llm",
		}
	case task.ActionSummarize:
		return map[string]any{
			"success": true,
			"response": map[string]any{
				"summary":        "Mock summary of collected research data.",
				"highlights":     []any{"Finding 1", "Finding 2", "Finding 3"},
				"recommendation": "Based on mock data, the first result is recommended.",
			},
			"cost_usd": mockLLMCost,
			"executor": "llm",
		}
	default:
		return map[string]any{
			"success": true,
			"response": map[string]any{
				"result": fmt.Sprintf("Mock %s analysis of %d data points.", step.Action, len(stepContext)),
			},
			"cost_usd": mockLLMCost,
			"executor": "llm",
		}
	}
}

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
	"math"
	"strings"
)

// 成本口径：tokens ≈ 词数 × 1.3，按千 token 计价；浏览器步骤按次计价
const (
	llmInputPer1K  = 0.00006
	llmOutputPer1K = 0.00024
	browserPerStep = 0.002
	mockLLMCost    = 0.0001
)

// estimateLLMCost 估算一次 LLM 调用的成本（美元，保留 6 位小数）
func estimateLLMCost(input, output string) float64 {
	inputTokens := float64(len(strings.Fields(input))) * 1.3
	outputTokens := float64(len(strings.Fields(output))) * 1.3
	return round6(inputTokens/1000*llmInputPer1K + outputTokens/1000*llmOutputPer1K)
}

// estimateBrowserCost 浏览器步骤固定按次计价
func estimateBrowserCost() float64 {
	return browserPerStep
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

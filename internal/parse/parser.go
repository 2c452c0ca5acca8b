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

// Package parse 把浏览器 Agent / LLM 的半结构化输出恢复成结构化数据。
// 按序尝试多级策略，第一个成功的生效；全部失败时退回原始文本，
// 下游 LLM 步骤仍可消费。对已解析输入幂等。
package parse

import (
	"context"
	"encoding/json"
	"strings"

	"agent-platform/internal/model/llm"
	"agent-platform/pkg/log"
)

const repairInputLimit = 2000

const repairSystemPrompt = "You are a JSON repair tool. Output ONLY valid JSON."

// Parser 多级结果解析器。client 为 nil 或 mock 时跳过 LLM 修复级。
type Parser struct {
	client llm.Client
	logger *log.Logger
}

// New 创建解析器
func New(client llm.Client, logger *log.Logger) *Parser {
	return &Parser{client: client, logger: logger}
}

// Parse 依次尝试：预解析值 → 原生值透传 → 去壳严格解析 → 括号截取 →
// LLM 修复 → 原始文本兜底
func (p *Parser) Parse(ctx context.Context, raw any, parsed any) any {
	// 策略 1：Agent 侧已给出 schema 校验过的结果
	if parsed != nil {
		return parsed
	}

	// 策略 2：已是原生值，原样返回
	text, ok := raw.(string)
	if !ok {
		return raw
	}

	text = trimShell(text)

	// 策略 3：严格解析
	if v, err := parseJSON(text); err == nil {
		return v
	}

	// 策略 4：截取括号包裹的子串
	if v, ok := extractJSON(text); ok {
		return v
	}

	// 策略 5：LLM 修复
	if v, ok := p.repair(ctx, text); ok {
		return v
	}

	// 全部失败：退回原始文本
	p.logger.Warn("结果解析全部策略失败，退回原始文本", "length", len(text))
	return text
}

// trimShell 去掉首尾空白与成对的双引号
func trimShell(text string) string {
	text = strings.TrimSpace(text)
	for len(text) >= 2 && text[0] == '"' && text[len(text)-1] == '"' {
		text = text[1 : len(text)-1]
	}
	return text
}

func parseJSON(text string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, err
	}
	return v, nil
}

// extractJSON 先取最长的 [...] / {...} 子串解析；贪婪匹配失败再试同窗口内
// 的最短匹配
func extractJSON(text string) (any, bool) {
	if v, ok := extractDelimited(text, '[', ']'); ok {
		return v, true
	}
	return extractDelimited(text, '{', '}')
}

func extractDelimited(text string, opener, closer byte) (any, bool) {
	start := strings.IndexByte(text, opener)
	if start < 0 {
		return nil, false
	}

	// 贪婪：首个开括号到最后一个闭括号
	end := strings.LastIndexByte(text, closer)
	if end > start {
		if v, err := parseJSON(text[start : end+1]); err == nil {
			return v, true
		}
	}

	// 最短：首个开括号到其后第一个闭括号
	short := strings.IndexByte(text[start:], closer)
	if short > 0 {
		if v, err := parseJSON(text[start : start+short+1]); err == nil {
			return v, true
		}
	}
	return nil, false
}

// repair 把畸形文本交给 LLM 修复成合法 JSON，再走严格解析与括号截取
func (p *Parser) repair(ctx context.Context, malformed string) (any, bool) {
	if llm.IsMock(p.client) {
		return nil, false
	}

	prompt := "The following text was supposed to be valid JSON but is malformed. " +
		"Extract the data and return ONLY valid JSON. No explanation.\n\n" +
		"Malformed input:\n" + truncate(malformed, repairInputLimit)

	reply, err := p.client.ChatWithContext(ctx, []llm.Message{
		{Role: "system", Content: repairSystemPrompt},
		{Role: "user", Content: prompt},
	}, llm.GenerateOptions{Temperature: 0.0, MaxTokens: 1024})
	if err != nil {
		p.logger.Debug("LLM 修复失败", "error", err)
		return nil, false
	}

	text := trimShell(reply)
	if v, err := parseJSON(text); err == nil {
		return v, true
	}
	return extractJSON(text)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

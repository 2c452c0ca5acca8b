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
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"agent-platform/internal/agent/task"
)

const extractPrompt = "Extract the product results on the page as a JSON array of objects " +
	"with fields: name, price, rating, source. Reply ONLY with the JSON array."

// searchTemplates 已知站点的直达搜索 URL。
// 直接打开搜索结果页比驱动 Agent 操作站内搜索框省一大截步骤。
var searchTemplates = map[string]string{
	"amazon.com":  "https://www.amazon.com/s?k=%s",
	"bestbuy.com": "https://www.bestbuy.com/site/searchpage.jsp?st=%s",
	"newegg.com":  "https://www.newegg.com/p/pl?d=%s",
	"walmart.com": "https://www.walmart.com/search?q=%s",
	"ebay.com":    "https://www.ebay.com/sch/i.html?_nkw=%s",
}

// browserPrompt 为浏览器步骤生成下发给 Agent 的指令
func browserPrompt(step *task.Step) string {
	switch step.Action {
	case task.ActionNavigate:
		return "Go to " + step.Target
	case task.ActionSearch:
		if direct, ok := searchURL(step.Target, step.Description); ok {
			return "Go to " + direct
		}
		return "Use the site search to find: " + step.Description
	case task.ActionExtract:
		return extractPrompt
	default:
		return step.Description
	}
}

// searchURL 把搜索词代入已知站点的搜索 URL 模板。
// 规划器的 search 描述就是纯搜索词（description rules），可直接代入。
func searchURL(target, query string) (string, bool) {
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return "", false
	}
	host := strings.TrimPrefix(u.Host, "www.")
	tpl, ok := searchTemplates[host]
	if !ok {
		return "", false
	}
	return fmt.Sprintf(tpl, url.QueryEscape(query)), true
}

var llmSystemPrompts = map[task.Action]string{
	task.ActionCompare: "You are a data analyst. You will receive extracted data from multiple sources. " +
		"Compare the items and rank them. Consider price, ratings, features, and value. " +
		"Reply with a JSON object containing:\n" +
		"  - \"ranked\": array of items sorted best to worst\n" +
		"  - \"analysis\": brief text explaining the ranking\n" +
		"Reply ONLY with JSON.",
	task.ActionSummarize: "You are a research summarizer. You will receive data and analysis from prior steps. " +
		"Produce a clear, actionable summary with specific recommendations. " +
		"Reply with a JSON object containing:\n" +
		"  - \"summary\": a 2-4 sentence summary with the top recommendation\n" +
		"  - \"highlights\": array of key findings (3-5 items)\n" +
		"  - \"recommendation\": the single best option with reasoning\n" +
		"Reply ONLY with JSON.",
	task.ActionAnalyze: "You are a research analyst. Analyze the provided data and extract insights. " +
		"Reply with a JSON object containing:\n" +
		"  - \"findings\": array of key insights\n" +
		"  - \"patterns\": any patterns you noticed\n" +
		"  - \"gaps\": any missing information\n" +
		"Reply ONLY with JSON.",
	task.ActionRank: "You are a ranking engine. Rank the provided items by the criteria in the description. " +
		"Reply with a JSON object containing:\n" +
		"  - \"ranked\": array of items sorted best to worst with scores\n" +
		"  - \"criteria\": the criteria used for ranking\n" +
		"Reply ONLY with JSON.",
}

const llmDefaultSystemPrompt = "You are a helpful AI assistant. " +
	"Process the provided data according to the instructions. Reply ONLY with JSON."

func llmSystemPrompt(action task.Action) string {
	if p, ok := llmSystemPrompts[action]; ok {
		return p
	}
	return llmDefaultSystemPrompt
}

func llmUserPrompt(step *task.Step, stepContext []map[string]any) string {
	data, err := json.MarshalIndent(stepContext, "", "  ")
	if err != nil {
		data = []byte("[]")
	}
	return fmt.Sprintf("Task: %s\n\nData from prior steps:\n%s", step.Description, data)
}

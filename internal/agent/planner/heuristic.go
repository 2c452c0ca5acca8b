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

package planner

import "strings"

// siteKeyword 启发式规划识别的站点
type siteKeyword struct {
	keyword string
	url     string
}

var knownSites = []siteKeyword{
	{"amazon", "https://www.amazon.com"},
	{"best buy", "https://www.bestbuy.com"},
	{"newegg", "https://www.newegg.com"},
	{"walmart", "https://www.walmart.com"},
	{"ebay", "https://www.ebay.com"},
	{"linkedin", "https://www.linkedin.com"},
	{"indeed", "https://www.indeed.com"},
	{"zillow", "https://www.zillow.com"},
	{"yelp", "https://www.yelp.com"},
}

// fillerWords 从命令中剔除的站点名与填充词，剩下的就是搜索意图
var fillerWords = []string{
	"amazon", "best buy", "newegg", "walmart", "ebay",
	"linkedin", "indeed", "zillow", "yelp",
	"find me", "compare", "search for", "look for", "find",
	"from", " on ", " and ",
}

// heuristicSteps 不调用 LLM 的确定性规划：每个命中的站点展开
// navigate→search→extract 三步链，最后 compare 汇总全部 extract，
// summarize 收尾。没有命中任何站点时用默认搜索站兜底。
func heuristicSteps(command string) []rawStep {
	cmd := strings.ToLower(command)

	sites := make([]siteKeyword, 0, 2)
	for _, site := range knownSites {
		if strings.Contains(cmd, site.keyword) {
			group := strings.ReplaceAll(site.keyword, " ", "")
			sites = append(sites, siteKeyword{keyword: group, url: site.url})
		}
	}
	if len(sites) == 0 {
		sites = []siteKeyword{{keyword: "google", url: "https://www.google.com"}}
	}

	searchQuery := cmd
	for _, w := range fillerWords {
		searchQuery = strings.ReplaceAll(searchQuery, w, " ")
	}
	searchQuery = strings.Join(strings.Fields(searchQuery), " ")
	if searchQuery == "" {
		searchQuery = command
	}

	steps := make([]rawStep, 0, len(sites)*3+2)
	extractIndices := make([]any, 0, len(sites))

	for _, site := range sites {
		base := len(steps)
		siteName := titleCase(strings.ReplaceAll(site.keyword, "bestbuy", "Best Buy"))
		steps = append(steps, rawStep{
			Action: "navigate", Target: site.url,
			Description: "Open " + siteName,
			Executor:    "browser", Group: site.keyword, DependsOn: []any{},
		})
		steps = append(steps, rawStep{
			Action: "search", Target: site.url,
			Description: searchQuery,
			Executor:    "browser", Group: site.keyword, DependsOn: []any{base},
		})
		steps = append(steps, rawStep{
			Action: "extract", Target: site.url,
			Description: "Extract product results",
			Executor:    "browser", Group: site.keyword, DependsOn: []any{base + 1},
		})
		extractIndices = append(extractIndices, base+2)
	}

	steps = append(steps, rawStep{
		Action: "compare", Target: "aggregated",
		Description: "Compare and rank extracted results across all sources",
		Executor:    "llm", Group: "analysis", DependsOn: extractIndices,
	})
	steps = append(steps, rawStep{
		Action: "summarize", Target: "aggregated",
		Description: "Produce final summary with recommendations",
		Executor:    "llm", Group: "analysis", DependsOn: []any{len(steps) - 1},
	})
	return steps
}

// titleCase 每个空格分隔的词首字母大写
func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

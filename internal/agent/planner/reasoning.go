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

import (
	"fmt"
	"strings"
)

var reasoningSites = []string{
	"amazon", "best buy", "newegg", "walmart", "ebay", "yelp", "zillow",
}

var reasoningTopics = []string{
	"laptop", "headphone", "monitor", "phone", "tablet", "camera",
	"tv", "speaker", "keyboard", "mouse", "watch", "earbuds",
	"espresso", "coffee", "blender",
}

// Reasoning 根据命令本地生成规划思路文案（不调用外部服务），
// 让订阅方在真正的规划结果出来之前就有反馈
func Reasoning(command string) string {
	cmd := strings.ToLower(command)

	sites := make([]string, 0, 2)
	for _, name := range reasoningSites {
		if strings.Contains(cmd, name) {
			sites = append(sites, titleCase(name))
		}
	}

	topicStr := "what you're looking for"
	for _, kw := range reasoningTopics {
		if strings.Contains(cmd, kw) {
			if strings.HasSuffix(kw, "s") {
				topicStr = kw
			} else {
				topicStr = kw + "s"
			}
			break
		}
	}

	switch {
	case len(sites) >= 2:
		return fmt.Sprintf(
			"I'll search %s simultaneously for %s. "+
				"Each site gets its own browser agent running in parallel, "+
				"then I'll compare everything and rank by value.",
			strings.Join(sites, " and "), topicStr,
		)
	case len(sites) == 1:
		return fmt.Sprintf(
			"I'll dispatch a browser agent to %s to find %s. "+
				"I'll extract structured data, then analyze and rank the results.",
			sites[0], topicStr,
		)
	default:
		return fmt.Sprintf(
			"Let me figure out the best approach to research %s. "+
				"I'll identify the right sites to search, extract data in parallel, "+
				"and synthesize the results into a clear recommendation.",
			topicStr,
		)
	}
}

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

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

func apiBaseURL() string {
	if u := os.Getenv("AGENTCTL_API_URL"); u != "" {
		return u
	}
	return "http://localhost:8080"
}

func newClient() *resty.Client {
	return resty.New().
		SetBaseURL(apiBaseURL()).
		SetTimeout(30 * time.Second).
		SetHeader("Content-Type", "application/json")
}

func createTask(command, format string) (map[string]any, error) {
	body := map[string]string{"command": command}
	if format != "" {
		body["output_format"] = format
	}
	var out map[string]any
	resp, err := newClient().R().
		SetBody(body).
		SetResult(&out).
		Post("/api/tasks")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusAccepted {
		return nil, fmt.Errorf("POST /api/tasks: %s", resp.String())
	}
	return out, nil
}

func getTask(taskID string) (map[string]any, error) {
	var out map[string]any
	resp, err := newClient().R().
		SetResult(&out).
		Get("/api/tasks/" + taskID)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("GET /api/tasks/%s: %s", taskID, resp.String())
	}
	return out, nil
}

func listTasks(limit int) ([]map[string]any, error) {
	var out []map[string]any
	req := newClient().R().SetResult(&out)
	if limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(limit))
	}
	resp, err := req.Get("/api/tasks")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("GET /api/tasks: %s", resp.String())
	}
	return out, nil
}

func getResult(taskID string) (map[string]any, error) {
	var out map[string]any
	resp, err := newClient().R().
		SetResult(&out).
		Get("/api/tasks/" + taskID + "/result")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("GET result: %s", resp.String())
	}
	return out, nil
}

func cancelTask(taskID string) (map[string]any, error) {
	var out map[string]any
	resp, err := newClient().R().
		SetResult(&out).
		Post("/api/tasks/" + taskID + "/cancel")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("POST cancel: %s", resp.String())
	}
	return out, nil
}

func getHealth() (map[string]any, error) {
	var out map[string]any
	resp, err := newClient().R().
		SetResult(&out).
		Get("/api/health")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("GET /api/health: %s", resp.String())
	}
	return out, nil
}

// streamEvents 订阅任务事件流（NDJSON）。流在 task_done 后由服务端关闭，
// 不设读超时，由调用方 Close。
func streamEvents(taskID string) (io.ReadCloser, error) {
	client := resty.New().
		SetBaseURL(apiBaseURL()).
		SetDoNotParseResponse(true)
	resp, err := client.R().Get("/api/tasks/" + taskID + "/events")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		defer resp.RawBody().Close()
		b, _ := io.ReadAll(resp.RawBody())
		return nil, fmt.Errorf("GET events: %s", string(b))
	}
	return resp.RawBody(), nil
}

func prettyJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

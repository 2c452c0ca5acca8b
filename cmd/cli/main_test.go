package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestPrintEventStream(t *testing.T) {
	stream := strings.Join([]string{
		`{"event":"planning_started","task_id":"abc123def456","data":{}}`,
		`{"event":"plan_ready","task_id":"abc123def456","data":{"steps":[{"id":"s1"},{"id":"s2"}],"planning_ms":12}}`,
		`{"event":"step_started","task_id":"abc123def456","data":{"step_id":"s1","action":"navigate","description":"打开页面","group":0,"executor":"browser"}}`,
		`{"event":"step_completed","task_id":"abc123def456","data":{"step_id":"s1","result":"ok"}}`,
		`{"event":"task_done","task_id":"abc123def456","data":{"status":"completed","cost_usd":0.01,"duration_ms":80,"steps_completed":2,"steps_failed":0,"steps_skipped":0}}`,
	}, "\n")

	var out bytes.Buffer
	status, err := printEventStream(strings.NewReader(stream), &out)
	if err != nil {
		t.Fatalf("printEventStream: %v", err)
	}
	if status != "completed" {
		t.Errorf("status = %q, want completed", status)
	}
	got := out.String()
	for _, want := range []string{"规划中", "计划就绪: 2 步", "[s1] browser 开始", "[s1] 完成", "任务结束: completed"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestPrintEventStream_EmptyAndRawLines(t *testing.T) {
	var out bytes.Buffer
	status, err := printEventStream(strings.NewReader(""), &out)
	if err != nil {
		t.Fatalf("printEventStream: %v", err)
	}
	if status != "" {
		t.Errorf("status = %q, want empty for empty stream", status)
	}

	// 解析不了的行原样透传
	out.Reset()
	_, err = printEventStream(strings.NewReader("not-json\n"), &out)
	if err != nil {
		t.Fatalf("printEventStream: %v", err)
	}
	if !strings.Contains(out.String(), "not-json") {
		t.Errorf("raw line not passed through: %q", out.String())
	}
}

func TestRenderEvent(t *testing.T) {
	cases := []struct {
		name  string
		event map[string]any
		want  string
	}{
		{
			name: "replan ready",
			event: map[string]any{
				"event": "plan_ready",
				"data":  map[string]any{"steps": []any{map[string]any{}}, "is_replan": true},
			},
			want: "重规划完成: 1 步",
		},
		{
			name: "step failed",
			event: map[string]any{
				"event": "step_failed",
				"data":  map[string]any{"step_id": "s3", "error": "timeout"},
			},
			want: "[s3] 失败: timeout",
		},
		{
			name: "task done with error",
			event: map[string]any{
				"event": "task_done",
				"data":  map[string]any{"status": "failed", "error": "planning failed"},
			},
			want: "任务结束: failed (planning failed)",
		},
		{
			name:  "unknown kind falls back to name",
			event: map[string]any{"event": "mystery", "data": map[string]any{}},
			want:  "mystery",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := renderEvent(tc.event)
			if !strings.Contains(got, tc.want) {
				t.Errorf("renderEvent = %q, want contains %q", got, tc.want)
			}
		})
	}
}

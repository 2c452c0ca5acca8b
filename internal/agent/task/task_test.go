package task

import "testing"

func TestActionExecutor(t *testing.T) {
	browser := []Action{ActionNavigate, ActionSearch, ActionExtract, ActionClick, ActionFill}
	for _, a := range browser {
		if a.Executor() != ExecutorBrowser {
			t.Errorf("%s 应由 browser 执行", a)
		}
	}
	llm := []Action{ActionCompare, ActionAnalyze, ActionRank, ActionSummarize}
	for _, a := range llm {
		if a.Executor() != ExecutorLLM {
			t.Errorf("%s 应由 llm 执行", a)
		}
	}
	if ValidAction("teleport") {
		t.Error("未知动作不应通过校验")
	}
}

func TestStatusTerminal(t *testing.T) {
	terminal := []Status{StatusCompleted, StatusPartial, StatusFailed, StatusCancelled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s 应为终态", s)
		}
	}
	active := []Status{StatusQueued, StatusPlanning, StatusExecuting, StatusReplanning}
	for _, s := range active {
		if s.Terminal() {
			t.Errorf("%s 不应为终态", s)
		}
	}
}

func TestStepTransitions(t *testing.T) {
	s := &Step{ID: NewStepID(), Action: ActionExtract, Status: StepPending}

	s.MarkRunning()
	if s.Status != StepRunning || s.StartedAt == nil {
		t.Fatalf("MarkRunning: %+v", s)
	}

	s.MarkCompleted(map[string]any{"success": true})
	if s.Status != StepCompleted || s.FinishedAt == nil || s.Result == nil {
		t.Fatalf("MarkCompleted: %+v", s)
	}
	if s.FinishedAt.Before(*s.StartedAt) {
		t.Error("finished_at 不应早于 started_at")
	}

	f := &Step{ID: NewStepID(), Status: StepRunning}
	f.MarkFailed("boom")
	if f.Status != StepFailed || f.Error != "boom" {
		t.Fatalf("MarkFailed: %+v", f)
	}

	sk := &Step{ID: NewStepID(), Status: StepPending}
	sk.MarkSkipped("dependency failed")
	if sk.Status != StepSkipped || sk.Error != "dependency failed" {
		t.Fatalf("MarkSkipped: %+v", sk)
	}
}

func TestNewTask(t *testing.T) {
	tk := New("find laptops", "")
	if len(tk.ID) != 12 {
		t.Errorf("任务 ID 长度: got %d", len(tk.ID))
	}
	if tk.Format != FormatJSON {
		t.Errorf("默认格式应为 json: got %s", tk.Format)
	}
	if tk.Status != StatusQueued {
		t.Errorf("初始状态: got %s", tk.Status)
	}
	if len(NewStepID()) != 8 {
		t.Error("Step ID 应为 8 位 hex")
	}
}

func TestFinalize(t *testing.T) {
	tk := New("x", FormatSummary)
	tk.Finalize(StatusPartial, "")
	if !tk.Status.Terminal() {
		t.Error("Finalize 后应为终态")
	}
	if tk.FinishedAt == nil || tk.FinishedAt.Before(tk.CreatedAt) {
		t.Error("finished_at 应不早于 created_at")
	}
	if tk.DurationMS < 0 {
		t.Errorf("duration_ms: got %d", tk.DurationMS)
	}
}

func TestClone_Isolation(t *testing.T) {
	tk := New("x", FormatJSON)
	step := &Step{ID: NewStepID(), Action: ActionSearch, DependsOn: []string{"a"}}
	tk.Plan = NewPlan(tk.ID, "x", []*Step{step})

	snap := tk.Clone()

	step.MarkRunning()
	tk.Status = StatusExecuting
	tk.Plan.Steps[0].DependsOn[0] = "changed"

	if snap.Status != StatusQueued {
		t.Errorf("快照不应跟随后续变更: %s", snap.Status)
	}
	if snap.Plan.Steps[0].Status != StepPending || snap.Plan.Steps[0].StartedAt != nil {
		t.Errorf("快照步骤不应跟随后续变更: %+v", snap.Plan.Steps[0])
	}
	if snap.Plan.Steps[0].DependsOn[0] != "a" {
		t.Error("依赖列表应为独立副本")
	}
}

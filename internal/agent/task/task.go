package task

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status 任务状态
type Status string

const (
	StatusQueued     Status = "queued"
	StatusPlanning   Status = "planning"
	StatusExecuting  Status = "executing"
	StatusReplanning Status = "replanning"
	StatusCompleted  Status = "completed"
	StatusPartial    Status = "partial"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal 是否终态（终态后任务不再变更）
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusPartial, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// StepStatus Step 状态
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// Format 输出格式
type Format string

const (
	FormatJSON    Format = "json"
	FormatCSV     Format = "csv"
	FormatSummary Format = "summary"
)

// ValidFormat 是否为已知输出格式
func ValidFormat(f Format) bool {
	switch f {
	case FormatJSON, FormatCSV, FormatSummary:
		return true
	}
	return false
}

// ExecutorKind Step 执行后端
type ExecutorKind string

const (
	ExecutorBrowser ExecutorKind = "browser"
	ExecutorLLM     ExecutorKind = "llm"
)

// Action Step 动作。前五个固定走 browser，后四个固定走 llm。
type Action string

const (
	ActionNavigate  Action = "navigate"
	ActionSearch    Action = "search"
	ActionExtract   Action = "extract"
	ActionClick     Action = "click"
	ActionFill      Action = "fill"
	ActionCompare   Action = "compare"
	ActionAnalyze   Action = "analyze"
	ActionRank      Action = "rank"
	ActionSummarize Action = "summarize"
)

// Executor 返回动作绑定的执行后端
func (a Action) Executor() ExecutorKind {
	switch a {
	case ActionCompare, ActionAnalyze, ActionRank, ActionSummarize:
		return ExecutorLLM
	}
	return ExecutorBrowser
}

// ValidAction 是否为已知动作
func ValidAction(a Action) bool {
	switch a {
	case ActionNavigate, ActionSearch, ActionExtract, ActionClick, ActionFill,
		ActionCompare, ActionAnalyze, ActionRank, ActionSummarize:
		return true
	}
	return false
}

// Step 计划中的单个执行单元
type Step struct {
	ID          string         `json:"id"`
	Action      Action         `json:"action"`
	Target      string         `json:"target,omitempty"`
	Description string         `json:"description,omitempty"`
	Executor    ExecutorKind   `json:"executor"`
	Group       string         `json:"group,omitempty"`
	DependsOn   []string       `json:"depends_on"`
	Status      StepStatus     `json:"status"`
	Result      map[string]any `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	FinishedAt  *time.Time     `json:"finished_at,omitempty"`
	Retries     int            `json:"retries"`
	MaxRetries  int            `json:"max_retries"`
	CostUSD     float64        `json:"cost_usd"`
}

// MarkRunning 进入执行
func (s *Step) MarkRunning() {
	now := time.Now().UTC()
	s.Status = StepRunning
	s.StartedAt = &now
}

// MarkCompleted 执行成功，记录结果
func (s *Step) MarkCompleted(result map[string]any) {
	now := time.Now().UTC()
	s.Status = StepCompleted
	s.Result = result
	s.FinishedAt = &now
}

// MarkFailed 执行失败，记录错误
func (s *Step) MarkFailed(errMsg string) {
	now := time.Now().UTC()
	s.Status = StepFailed
	s.Error = errMsg
	s.FinishedAt = &now
}

// MarkSkipped 依赖失败，级联跳过
func (s *Step) MarkSkipped(reason string) {
	now := time.Now().UTC()
	s.Status = StepSkipped
	s.Error = reason
	s.FinishedAt = &now
}

// Clone 值拷贝步骤。Result 完成后只读，按引用共享。
func (s *Step) Clone() *Step {
	c := *s
	c.DependsOn = append([]string(nil), s.DependsOn...)
	if s.StartedAt != nil {
		ts := *s.StartedAt
		c.StartedAt = &ts
	}
	if s.FinishedAt != nil {
		ts := *s.FinishedAt
		c.FinishedAt = &ts
	}
	return &c
}

// Plan 规划器产出的执行计划；安装后不可变，重规划生成新 Plan 整体替换
type Plan struct {
	TaskID    string    `json:"task_id"`
	Command   string    `json:"original_command"`
	Steps     []*Step   `json:"steps"`
	CreatedAt time.Time `json:"created_at"`
}

// NewPlan 创建计划
func NewPlan(taskID, command string, steps []*Step) *Plan {
	return &Plan{
		TaskID:    taskID,
		Command:   command,
		Steps:     steps,
		CreatedAt: time.Now().UTC(),
	}
}

// Clone 逐步骤深拷贝计划
func (p *Plan) Clone() *Plan {
	c := *p
	c.Steps = make([]*Step, len(p.Steps))
	for i, s := range p.Steps {
		c.Steps[i] = s.Clone()
	}
	return &c
}

// Task 顶层任务实体，由 Pipeline 独占变更
type Task struct {
	ID         string     `json:"task_id"`
	Command    string     `json:"command"`
	Format     Format     `json:"output_format"`
	UserID     string     `json:"user_id,omitempty"`
	Status     Status     `json:"status"`
	Plan       *Plan      `json:"plan,omitempty"`
	Output     any        `json:"output,omitempty"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	DurationMS int64      `json:"duration_ms,omitempty"`
	CostUSD    float64    `json:"cost_usd"`
}

// New 创建排队中的任务；format 为空时默认 json
func New(command string, format Format) *Task {
	if format == "" {
		format = FormatJSON
	}
	return &Task{
		ID:        NewTaskID(),
		Command:   command,
		Format:    format,
		Status:    StatusQueued,
		CreatedAt: time.Now().UTC(),
	}
}

// Clone 任务快照。存储写入时打快照，读取方与运行中的实体解耦。
func (t *Task) Clone() *Task {
	c := *t
	if t.Plan != nil {
		c.Plan = t.Plan.Clone()
	}
	if t.FinishedAt != nil {
		ts := *t.FinishedAt
		c.FinishedAt = &ts
	}
	return &c
}

// Finalize 写入终态与汇总字段
func (t *Task) Finalize(status Status, errMsg string) {
	now := time.Now().UTC()
	t.Status = status
	t.Error = errMsg
	t.FinishedAt = &now
	t.DurationMS = now.Sub(t.CreatedAt).Milliseconds()
}

// NewTaskID 生成 12 位 hex 任务 ID
func NewTaskID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

// NewStepID 生成 8 位 hex Step ID
func NewStepID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
}

package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"

	"agent-platform/pkg/config"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}
	cmd := os.Args[1]
	args := os.Args[2:]
	switch cmd {
	case "version":
		fmt.Println("agent-platform cli 0.1.0")
	case "health":
		runHealth()
	case "config":
		runConfig()
	case "server":
		if len(args) > 0 && args[0] == "start" {
			runServerStart()
		} else {
			fmt.Fprintf(os.Stderr, "Usage: agentctl server start\n")
			os.Exit(1)
		}
	case "run":
		if len(args) < 1 {
			fmt.Fprintf(os.Stderr, "Usage: agentctl run \"<command>\" [json|csv|summary]\n")
			os.Exit(1)
		}
		format := ""
		if len(args) > 1 {
			format = args[1]
		}
		runTask(args[0], format)
	case "submit":
		if len(args) < 1 {
			fmt.Fprintf(os.Stderr, "Usage: agentctl submit \"<command>\" [json|csv|summary]\n")
			os.Exit(1)
		}
		format := ""
		if len(args) > 1 {
			format = args[1]
		}
		runSubmit(args[0], format)
	case "tasks":
		runTasks()
	case "get":
		if len(args) < 1 {
			fmt.Fprintf(os.Stderr, "Usage: agentctl get <task_id>\n")
			os.Exit(1)
		}
		runGet(args[0])
	case "result":
		if len(args) < 1 {
			fmt.Fprintf(os.Stderr, "Usage: agentctl result <task_id>\n")
			os.Exit(1)
		}
		runResult(args[0])
	case "watch":
		if len(args) < 1 {
			fmt.Fprintf(os.Stderr, "Usage: agentctl watch <task_id>\n")
			os.Exit(1)
		}
		runWatch(args[0])
	case "cancel":
		if len(args) < 1 {
			fmt.Fprintf(os.Stderr, "Usage: agentctl cancel <task_id>\n")
			os.Exit(1)
		}
		runCancel(args[0])
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: agentctl <command> [args]")
	fmt.Println("  version                  - 显示版本")
	fmt.Println("  health                   - 服务健康与运行模式")
	fmt.Println("  config                   - 显示配置概要")
	fmt.Println("  server start             - 启动 API 服务（go run ./cmd/api）")
	fmt.Println("  run \"<command>\" [format] - 提交任务并实时跟踪到结束，输出结果")
	fmt.Println("  submit \"<command>\" [format] - 提交任务，返回 task_id")
	fmt.Println("  tasks                    - 列出最近任务")
	fmt.Println("  get <task_id>            - 查看任务详情")
	fmt.Println("  result <task_id>         - 查看任务结果")
	fmt.Println("  watch <task_id>          - 跟踪执行中任务的事件流")
	fmt.Println("  cancel <task_id>         - 请求取消任务")
}

func runHealth() {
	h, err := getHealth()
	if err != nil {
		fmt.Fprintf(os.Stderr, "健康检查失败: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(prettyJSON(h))
}

func runConfig() {
	cfg, err := config.LoadAPIConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	if cfg != nil {
		fmt.Printf("api.port=%d\n", cfg.API.Port)
		fmt.Printf("api.host=%s\n", cfg.API.Host)
	}
}

func runServerStart() {
	c := exec.Command("go", "run", "./cmd/api")
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	c.Dir = "."
	if err := c.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "server start: %v\n", err)
		os.Exit(1)
	}
}

func runTask(command, format string) {
	created, err := createTask(command, format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "创建任务失败: %v\n", err)
		os.Exit(1)
	}
	taskID, _ := created["task_id"].(string)
	fmt.Printf("Task: %s\n", taskID)

	status := followEvents(taskID)
	switch status {
	case "completed", "partial":
		res, err := getResult(taskID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "获取结果失败: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(prettyJSON(res["output"]))
	default:
		if tk, err := getTask(taskID); err == nil {
			if msg, _ := tk["error"].(string); msg != "" {
				fmt.Fprintf(os.Stderr, "error: %s\n", msg)
			}
		}
		os.Exit(1)
	}
}

func runSubmit(command, format string) {
	created, err := createTask(command, format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "创建任务失败: %v\n", err)
		os.Exit(1)
	}
	taskID, _ := created["task_id"].(string)
	fmt.Println(taskID)
}

func runTasks() {
	tasks, err := listTasks(0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "列出任务失败: %v\n", err)
		os.Exit(1)
	}
	if len(tasks) == 0 {
		fmt.Println("[]")
		return
	}
	fmt.Println(prettyJSON(tasks))
}

func runGet(taskID string) {
	tk, err := getTask(taskID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "查询失败: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(prettyJSON(tk))
}

func runResult(taskID string) {
	res, err := getResult(taskID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "获取结果失败: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(prettyJSON(res))
}

func runWatch(taskID string) {
	if status := followEvents(taskID); status == "" {
		if tk, err := getTask(taskID); err == nil {
			fmt.Printf("status: %v\n", tk["status"])
		}
	}
}

func runCancel(taskID string) {
	out, err := cancelTask(taskID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "取消失败: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(prettyJSON(out))
}

// followEvents 订阅并渲染事件流，返回事件流报告的终态；
// 订阅前任务已结束时流为空，返回对应的存储终态。
func followEvents(taskID string) string {
	body, err := streamEvents(taskID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "订阅事件失败: %v\n", err)
		os.Exit(1)
	}
	status, serr := printEventStream(body, os.Stdout)
	_ = body.Close()
	if serr != nil {
		fmt.Fprintf(os.Stderr, "事件流中断: %v\n", serr)
	}
	if status == "" {
		if tk, err := getTask(taskID); err == nil {
			status, _ = tk["status"].(string)
			if status != "" {
				fmt.Printf("任务结束: %s\n", status)
			}
		}
	}
	return status
}

// printEventStream 渲染 NDJSON 事件流直到 task_done，返回其上报的终态
func printEventStream(r io.Reader, w io.Writer) (string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var e map[string]any
		if err := json.Unmarshal(line, &e); err != nil {
			fmt.Fprintln(w, string(line))
			continue
		}
		fmt.Fprintln(w, renderEvent(e))
		if name, _ := e["event"].(string); name == "task_done" {
			data, _ := e["data"].(map[string]any)
			status, _ := data["status"].(string)
			return status, nil
		}
	}
	return "", scanner.Err()
}

// renderEvent 把事件渲染成一行终端输出
func renderEvent(e map[string]any) string {
	name, _ := e["event"].(string)
	data, _ := e["data"].(map[string]any)
	switch name {
	case "planning_started":
		return "规划中..."
	case "planning_reasoning":
		text, _ := data["text"].(string)
		return "  " + text
	case "plan_ready":
		steps, _ := data["steps"].([]any)
		if isReplan, _ := data["is_replan"].(bool); isReplan {
			return fmt.Sprintf("重规划完成: %d 步", len(steps))
		}
		return fmt.Sprintf("计划就绪: %d 步", len(steps))
	case "step_started":
		return fmt.Sprintf("  [%v] %v 开始: %v", data["step_id"], data["executor"], data["description"])
	case "step_completed":
		return fmt.Sprintf("  [%v] 完成", data["step_id"])
	case "step_failed":
		return fmt.Sprintf("  [%v] 失败: %v", data["step_id"], data["error"])
	case "replanning":
		return "全部分支失败，重新规划..."
	case "task_done":
		status, _ := data["status"].(string)
		if errMsg, _ := data["error"].(string); errMsg != "" {
			return fmt.Sprintf("任务结束: %s (%s)", status, errMsg)
		}
		return fmt.Sprintf("任务结束: %s (耗时 %vms, 费用 $%v)", status, data["duration_ms"], data["cost_usd"])
	default:
		return name
	}
}

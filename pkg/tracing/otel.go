// Copyright 2026 fanjia1024
// OpenTelemetry integration for distributed tracing

package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Tracer provider 由服务入口统一初始化（hertz obs-opentelemetry provider），
// 这里只提供业务 span 的创建。

// StartTaskSpan 开始 task execution span
func StartTaskSpan(ctx context.Context, taskID string, command string) (context.Context, trace.Span) {
	tracer := otel.Tracer("agent-platform")
	ctx, span := tracer.Start(ctx, "task.run",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.String("task.command", command),
		),
	)
	return ctx, span
}

// StartPlanSpan 开始 planning span
func StartPlanSpan(ctx context.Context, taskID string, replan bool) (context.Context, trace.Span) {
	tracer := otel.Tracer("agent-platform")
	ctx, span := tracer.Start(ctx, "task.plan",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.Bool("plan.replan", replan),
		),
	)
	return ctx, span
}

// StartStepSpan 开始 step execution span
func StartStepSpan(ctx context.Context, stepID string, action string) (context.Context, trace.Span) {
	tracer := otel.Tracer("agent-platform")
	ctx, span := tracer.Start(ctx, "step.execute",
		trace.WithAttributes(
			attribute.String("step.id", stepID),
			attribute.String("step.action", action),
		),
	)
	return ctx, span
}

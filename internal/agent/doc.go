// Package agent 定义智能体（名称、模型、提示词、输出约束、工具）并负责执行：
// 纯文本输出、按 Go 类型约束的 JSON 输出，以及带工具调用的多轮推理。
// 每次运行都会记录 Prometheus 指标并生成一个追踪 span。
package agent

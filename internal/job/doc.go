// Package job 提供异步生成任务的提交、排队、重试与状态查询。
//
// 任务记录保存在 Store 中，任务 ID 通过 Queue 投递给 Processor，
// Processor 按 Kind 找到对应的 Executor 执行，并依据错误码决定是否重试。
package job

// Package api 基于 chi 暴露 ExoLab 智能体的 REST 接口，
// 包括课程、题目、向量、会话、媒体、图表与异步任务路由，
// 以及 /openapi.json、/docs 与 /redoc 文档页面。
package api

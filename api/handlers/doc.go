// Copyright (c) WebStarter Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 WebStarter HTTP API 的请求处理器实现。

# 概述

handlers 包实现了所有 HTTP 端点的请求处理逻辑,包括健康检查、
运行状态汇总以及统一的响应/错误处理。所有 Handler 均遵循标准
net/http 接口。

# 核心类型

  - HealthHandler    — 服务健康检查(/health, /healthz, /ready, /version)
  - StatsHandler     — 连接池、工作池与服务器状态快照(/api/v1/stats)
  - Response         — 统一 JSON 响应结构(success + data + error + timestamp)
  - ErrorInfo        — 结构化错误信息,含 code、message、retryable 标记
  - ResponseWriter   — 包装 http.ResponseWriter 以捕获状态码
  - HealthCheck      — 可插拔健康检查接口(PingHealthCheck 适配数据库与缓存)

# 主要能力

  - 统一响应格式:WriteSuccess / WriteError / WriteJSON 辅助函数
  - 请求验证:DecodeJSONBody(1 MB 限制 + 严格模式)、ValidateContentType
  - ErrorCode → HTTP 状态码自动映射(4xx/5xx)
  - 可扩展健康检查:RegisterCheck 注册自定义 HealthCheck 实现
*/
package handlers

// Copyright (c) WebStarter Authors.
// Licensed under the MIT License.

/*
Package main 提供 WebStarter 服务端程序入口。

# 概述

cmd/webstarter 是 WebStarter 脚手架的可执行入口,提供 HTTP API 服务、
数据库迁移、健康检查和版本查询等子命令。程序支持 YAML 配置文件加载、
结构化日志(zap)、Prometheus 指标采集与 OpenTelemetry 追踪。

# 核心类型

  - Server     — 主服务器,组装连接池、工作池、缓存、指标与 HTTP 管线
  - Middleware — HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令:serve(启动服务)、migrate(数据库迁移)、version、health
  - 中间件链(外层在前,顺序有含义):RequestID、SecurityHeaders、
    OTelTracing、RequestLogger、Metrics、ErrorNormalizer、Timeout、
    CORS、Buffer(有界准入)、RateLimit(全局限流);/api/v1 内层 JWTAuth
  - 错误归一化:所有内层失败只对客户端暴露两类响应,超时类(408)
    与通用失败(500),内部细节不外泄
  - Metrics 服务器:独立端口暴露 /metrics(Prometheus)
  - 优雅关闭:信号监听 → 停止监听 → 在途请求跑完 → 关闭后台组件
  - 构建注入:Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main

// 版权所有 2026 WebStarter Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 基于 Prometheus 提供服务指标收集。

# 概述

Collector 在给定的 registry 上注册 HTTP、数据库连接池、
工作池与缓存四类指标,由中间件与后台采样循环写入。

# 指标分类

  - HTTP:请求总数(按方法/路径/状态段)、耗时直方图、
    进入处理前的拒绝计数(buffer_full/rate_limited/cors)、
    超时计数。
  - 连接池:受管连接总数、空闲数、在用数与取出超时计数。
  - 工作池:队列深度与按结果分类的任务快照。
  - 缓存:命中与未命中计数。
*/
package metrics

// 版权所有 2026 WebStarter Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 提供 HTTP 服务器生命周期管理,支持非阻塞启动、
优雅关闭与系统信号监听。

# 概述

本包通过 Manager 封装 net/http.Server,统一管理监听、服务、
排空与错误传播流程。生命周期状态 Running → Draining → Stopped
只会单向推进:收到关闭指令后不再接收新连接,在途请求在配置的
超时内被允许跑完。

# 核心类型

  - Manager:HTTP 服务器管理器,持有 http.Server、net.Listener
    与异步错误通道,提供 Start/Shutdown/WaitForShutdown 等
    生命周期方法。
  - State:生命周期状态(Running/Draining/Stopped),单向推进。
  - Config:服务器配置,包含监听地址、读写超时、空闲超时、
    最大请求头大小与优雅关闭超时。

# 主要能力

  - 非阻塞启动:Start 在后台 goroutine 中运行服务,主线程不阻塞。
  - 优雅关闭:Shutdown 切换到 Draining,在配置的超时内完成请求
    排空与连接释放,超时后放弃等待。
  - 信号监听:WaitForShutdown 监听 SIGINT/SIGTERM,收到信号后
    自动触发优雅关闭流程。
  - 错误传播:Errors() 返回异步错误通道,供调用方监控服务异常。
  - 状态查询:State/IsRunning/Addr 提供运行状态与监听地址查询。
*/
package server

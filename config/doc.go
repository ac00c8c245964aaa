// Package config 提供启动配置:默认值、可选 YAML 文件与环境变量三级
// 覆盖,加载后统一校验,配置非法时进程直接拒绝启动。
package config

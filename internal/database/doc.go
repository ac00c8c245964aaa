// Package database 提供带上限的数据库连接池:固定容量、空闲回收、
// 生命周期淘汰与取出前探活。阻塞的数据库操作通过 internal/pool 的
// 工作池执行,避免占用请求协程。
package database

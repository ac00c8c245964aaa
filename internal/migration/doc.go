// 版权所有 2026 WebStarter Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 migration 提供数据库 Schema 迁移管理能力,支持 PostgreSQL
与 SQLite 两种数据库,基于 golang-migrate 实现。

# 概述

本包通过 embed.FS 内嵌各数据库方言的 SQL 迁移文件,结合
golang-migrate 引擎实现版本化的 Schema 变更管理。支持正向迁移、
回滚、跳转到指定版本以及强制设置版本号等操作。

# 核心类型

  - Migrator:迁移器,封装 golang-migrate 实例与数据库连接,
    提供 Up/Down/DownAll/Goto/Force/Version/Status/Close。
  - Config:迁移配置,包含数据库方言、连接 URL 与迁移表名。
  - DatabaseType:数据库方言枚举(postgres/sqlite)。
  - MigrationStatus:单个迁移的执行情况。
  - CLI:命令行交互层,封装 Migrator 提供格式化输出。

# 主要能力

  - 方言适配:DetectDatabaseType 根据 DATABASE_URL 自动选择
    PostgreSQL 或 SQLite,并加载对应的内嵌 SQL 文件。
  - 工厂函数:NewMigratorFromConfig / NewMigratorFromURL 支持从
    不同配置源快速创建迁移器。
  - CLI 集成:CLI 类型提供 Up/Down/Status/Version/Goto/Force 等
    面向终端的格式化操作。
*/
package migration

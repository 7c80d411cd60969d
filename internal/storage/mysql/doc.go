// Package mysql 提供基于 MySQL 的持久化实现：工具目录、智能体快照与任务执行记录。
// 表结构由 deploy/migrations 中的内嵌脚本维护，时间字段统一存储为 Unix 秒。
package mysql

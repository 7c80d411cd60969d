// Package redis 提供基于 Redis 的共享上下文存储。
//
// 条目与对话轮次以 JSON 形式写入带 TTL 的键，同时维护按智能体与
// 按会话划分的索引集合，多进程部署时可共享同一份记忆。
package redis

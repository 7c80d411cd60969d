// Package memory 为每个 (智能体, 会话) 提供有界的对话记忆。
//
// 进程内缓冲有两种策略：窗口缓冲只保留最近 k 轮；摘要缓冲在超过
// token 预算后调用大模型把旧消息压缩为滚动摘要。所有消息与对话轮次
// 同时写入共享 Store，按 TTL 过期，并以智能体与会话双重索引，新进程
// 可据此重建历史。
package memory

// Package engine 实现任务执行引擎。
//
// 每个任务都遵循 登记 → 执行 → 注销 的顺序，注销在任何情况下都会执行。
// 对话任务读取会话记忆与可选的检索上下文后调用大模型；工具任务先按任务
// 类型解析所需工具并校验访问权限，再交给登记的处理器。所有失败都转换为
// TaskResult 返回，不会以 error 或 panic 的形式抛给调用方。
package engine

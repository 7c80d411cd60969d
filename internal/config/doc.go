// Package config 加载 agentd 的 JSON 或 YAML 配置，补齐默认值，
// 并从环境变量解析 *_env 指定的密钥。
package config

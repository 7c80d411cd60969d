// Package llm defines the completion provider contract used by the task
// engine and the memory summarizer. Provider adapters live in the openai and
// anthropic subpackages; RateLimited wraps any adapter with a token bucket.
package llm

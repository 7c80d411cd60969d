package llm

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimitedProvider 在调用下游 Provider 前等待令牌。
type RateLimitedProvider struct {
	next    Provider
	limiter *rate.Limiter
}

// RateLimited 为 Provider 包装限流；rps<=0 时直接返回原始实现。
func RateLimited(next Provider, rps float64, burst int) Provider {
	if next == nil || rps <= 0 {
		return next
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimitedProvider{next: next, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// ChatCompletion 实现 Provider 接口。
func (p *RateLimitedProvider) ChatCompletion(ctx context.Context, messages []Message) (string, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return p.next.ChatCompletion(ctx, messages)
}

// Completion 实现 Provider 接口。
func (p *RateLimitedProvider) Completion(ctx context.Context, prompt string) (string, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return p.next.Completion(ctx, prompt)
}

// Embeddings 实现 Provider 接口。
func (p *RateLimitedProvider) Embeddings(ctx context.Context, texts []string) ([][]float64, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return p.next.Embeddings(ctx, texts)
}

// HealthCheck 不消耗令牌。
func (p *RateLimitedProvider) HealthCheck(ctx context.Context) Health {
	return p.next.HealthCheck(ctx)
}

var _ Provider = (*RateLimitedProvider)(nil)

// Package mock provides a test double for the llm.Provider interface.
//
//	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Hello!"}}
//	resp, err := p.Complete(ctx, req)
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/troupe/pkg/provider/llm"
)

// Provider is a mock implementation of llm.Provider. Zero response fields
// yield zero values and nil errors.
type Provider struct {
	mu sync.Mutex

	// CompleteFunc, if set, computes Complete's result and takes precedence
	// over CompleteResponse and CompleteErr.
	CompleteFunc func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)

	CompleteResponse *llm.CompletionResponse
	CompleteErr      error

	// TokensPerMessage, if non-zero, makes CountTokens return
	// len(messages)*TokensPerMessage instead of TokenCount.
	TokensPerMessage int
	TokenCount       int
	CountTokensErr   error

	ModelCapabilities llm.ModelCapabilities

	completeCalls []llm.CompletionRequest
}

var _ llm.Provider = (*Provider)(nil)

// Complete records the request and returns the configured result.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	req.Messages = slices.Clone(req.Messages)
	p.completeCalls = append(p.completeCalls, req)
	fn, resp, err := p.CompleteFunc, p.CompleteResponse, p.CompleteErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err == nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return resp, err
}

// CountTokens returns the configured token count.
func (p *Provider) CountTokens(messages []llm.Message) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.CountTokensErr != nil {
		return 0, p.CountTokensErr
	}
	if p.TokensPerMessage > 0 {
		return len(messages) * p.TokensPerMessage, nil
	}
	return p.TokenCount, nil
}

// Capabilities returns ModelCapabilities.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelCapabilities
}

// CompleteCalls returns a copy of every request passed to Complete.
func (p *Provider) CompleteCalls() []llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.completeCalls)
}

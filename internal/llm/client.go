package llm

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/docsynth/backend/internal/metrics"
	"github.com/docsynth/backend/pkg/circuitbreaker"
	"github.com/docsynth/backend/pkg/config"
	"github.com/docsynth/backend/pkg/logger"
)

// Client applies defaults, a per-call timeout and a circuit breaker around a
// Provider. It never retries; callers decide what a failed call means.
type Client struct {
	provider    Provider
	temperature float32
	maxTokens   int
	timeout     time.Duration
	cb          *circuitbreaker.CircuitBreaker
}

func NewClient(provider Provider, cfg config.LLMConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	cb := circuitbreaker.New("llm-"+provider.Name(), circuitbreaker.Config{
		MaxRequests:      2,
		Interval:         time.Minute,
		OpenTimeout:      30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 1,
		Logger:           logger.GetLogger(),
	})

	logger.Info("LLM client initialized",
		zap.String("provider", provider.Name()),
		zap.String("model", cfg.Model),
		zap.Duration("timeout", timeout),
	)

	return &Client{
		provider:    provider,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     timeout,
		cb:          cb,
	}
}

func (c *Client) Provider() string {
	return c.provider.Name()
}

func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if req.Temperature == 0 {
		req.Temperature = c.temperature
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = c.maxTokens
	}

	var result *CompletionResponse
	err := c.cb.Execute(func() error {
		resp, err := c.provider.Complete(ctx, req)
		if err != nil {
			return err
		}
		result = resp
		return nil
	})
	if err != nil {
		metrics.LLMRequests.WithLabelValues(c.provider.Name(), "error").Inc()
		return nil, fmt.Errorf("%s completion failed: %w", c.provider.Name(), err)
	}

	metrics.LLMRequests.WithLabelValues(c.provider.Name(), "ok").Inc()
	metrics.LLMTokensUsed.WithLabelValues(c.provider.Name(), "prompt").Add(float64(result.Usage.PromptTokens))
	metrics.LLMTokensUsed.WithLabelValues(c.provider.Name(), "completion").Add(float64(result.Usage.CompletionTokens))

	logger.Debug("LLM completion generated",
		zap.String("provider", c.provider.Name()),
		zap.Int("prompt_tokens", result.Usage.PromptTokens),
		zap.Int("completion_tokens", result.Usage.CompletionTokens),
	)

	return result, nil
}

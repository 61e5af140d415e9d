package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/uuid"

	"agentloop/pkg/config"
	"agentloop/pkg/logx"
	"agentloop/pkg/session"
)

const apiMaxTokens = 8192

// APIInvoker streams one Messages turn per invocation through the Anthropic
// API. It has no tool access, so it serves planning and review backlogs
// rather than hands-on coding. Continuation tokens key an in-memory
// transcript so later iterations keep the conversation.
type APIInvoker struct {
	client anthropic.Client
	model  anthropic.Model
	obs    []Observer
	logger *logx.Logger

	mu          sync.Mutex
	transcripts map[string][]anthropic.MessageParam
}

func NewAPIInvoker(cfg *config.Config, observers ...Observer) (*APIInvoker, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api backend requires an API key")
	}
	model := anthropic.Model(cfg.Model)
	if cfg.Model == "" {
		model = anthropic.ModelClaudeSonnet4_5
	}
	return &APIInvoker{
		client:      anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:       model,
		obs:         observers,
		logger:      logx.NewLogger("agent-api"),
		transcripts: make(map[string][]anthropic.MessageParam),
	}, nil
}

// Invoke runs one streamed completion turn. Never returns an error: failures
// and cancellation are classified in the result.
func (a *APIInvoker) Invoke(ctx context.Context, req InvokeRequest) *InvokeResult {
	a.mu.Lock()
	history := a.transcripts[req.ContinuationToken]
	a.mu.Unlock()

	messages := make([]anthropic.MessageParam, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)))

	em := newEmitter(a.obs)
	em.status("agent started")

	stream := a.client.Messages.NewStreaming(ctx, anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: apiMaxTokens,
		Messages:  messages,
	})

	var output string
	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			a.logger.Warn("accumulate stream event: %v", err)
		}
		switch eventVariant := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if delta, ok := eventVariant.Delta.AsAny().(anthropic.TextDelta); ok {
				output += delta.Text
				em.text(delta.Text)
			}
		case anthropic.ContentBlockStartEvent:
			em.status("agent responding")
		}
	}

	if err := stream.Err(); err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			em.status("agent cancelled")
			return cancelledResult(output)
		}
		return failedResult(output, fmt.Sprintf("anthropic stream: %v", err))
	}
	if ctx.Err() != nil {
		em.status("agent cancelled")
		return cancelledResult(output)
	}

	token := a.storeTranscript(req.ContinuationToken, messages, &message)

	em.status("agent finished")
	return &InvokeResult{
		Success:           true,
		Output:            output,
		BacklogComplete:   containsSentinel(output),
		Usage:             a.usageFor(&message),
		ContinuationToken: token,
		Status:            session.StatusCompleted,
	}
}

// storeTranscript appends the assistant reply to the conversation and
// returns the token naming it. Reuses the caller's token when present.
func (a *APIInvoker) storeTranscript(token string, messages []anthropic.MessageParam, reply *anthropic.Message) string {
	if token == "" {
		token = uuid.New().String()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.transcripts[token] = append(messages, reply.ToParam())
	return token
}

func (a *APIInvoker) usageFor(message *anthropic.Message) *session.Usage {
	u := &session.Usage{
		InputTokens:         message.Usage.InputTokens,
		OutputTokens:        message.Usage.OutputTokens,
		CacheReadTokens:     message.Usage.CacheReadInputTokens,
		CacheCreationTokens: message.Usage.CacheCreationInputTokens,
	}
	// The API reports tokens only; derive cost from the pricing registry.
	if pricing, ok := config.PricingFor(string(a.model)); ok {
		u.TotalCostUSD = float64(u.InputTokens)/1e6*pricing.InputCPM +
			float64(u.OutputTokens)/1e6*pricing.OutputCPM
	}
	return u
}

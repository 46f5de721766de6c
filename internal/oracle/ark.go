package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/tonari-ai/mna-hearing/internal/config"
)

// invocation states of one CompleteJSON call. The loop is bounded by
// maxAttempts so a model that keeps emitting prose can never spin
// forever.
type invocationState int

const (
	stateAwaiting invocationState = iota
	stateDone
	stateExhausted
)

// ArkOracle runs prompts through a compiled eino chain with a per-call
// timeout and a bounded re-ask loop for unparseable output.
type ArkOracle struct {
	chain       compose.Runnable[map[string]any, *schema.Message]
	timeout     time.Duration
	maxAttempts int
}

// NewArkOracle compiles the prompt chain against the configured Ark
// model. Returns ErrUnavailable when credentials are missing so the
// caller can start without analysis features.
func NewArkOracle(ctx context.Context, cfg config.AIConfig) (*ArkOracle, error) {
	if !cfg.Enabled() {
		return nil, ErrUnavailable
	}

	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile oracle chain: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	return &ArkOracle{chain: runnable, timeout: timeout, maxAttempts: maxAttempts}, nil
}

// CompleteJSON invokes the model and returns the JSON object embedded
// in its reply. Unparseable output is re-asked up to the attempt cap;
// every failure mode comes back as a *Fault.
func (o *ArkOracle) CompleteJSON(ctx context.Context, system, user string) (json.RawMessage, error) {
	state := stateAwaiting
	var lastErr error

	for attempt := 1; state == stateAwaiting; attempt++ {
		raw, err := o.invoke(ctx, system, user)
		if err != nil {
			return nil, &Fault{Stage: "invoke", Err: err}
		}

		obj, err := extractJSONObject(raw)
		if err == nil {
			state = stateDone
			return obj, nil
		}

		lastErr = err
		log.Printf("[oracle] attempt %d/%d returned no parseable json: %v", attempt, o.maxAttempts, err)
		if attempt >= o.maxAttempts {
			state = stateExhausted
		}
	}

	return nil, &Fault{Stage: "parse", Err: lastErr}
}

func (o *ArkOracle) invoke(ctx context.Context, system, user string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	msg, err := o.chain.Invoke(callCtx, map[string]any{
		"system": system,
		"query":  user,
	})
	if err != nil {
		return "", err
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return "", fmt.Errorf("empty oracle response")
	}
	return msg.Content, nil
}

// Package chat implements the Ember support agent: an LLM-backed
// conversation loop with documentation retrieval and email tools.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/ember0/ember/internal/log"
)

const (
	// Name is the unique identifier of the support agent.
	Name = "ember"

	// Description describes the agent's capabilities.
	Description = "A customer support agent that answers product questions from documentation and can send emails on request."

	// PromptName is the Dotprompt file the agent executes (prompts/ember.prompt).
	// The LLM model is configured in the prompt file and can be overridden
	// via Config.ModelName.
	PromptName = "ember"

	// ragTimeout limits documentation retrieval per request. Retrieval is
	// best-effort: on timeout the agent answers without context.
	ragTimeout = 5 * time.Second

	// FallbackResponseMessage is returned when the model produces an empty
	// response with no tool requests.
	FallbackResponseMessage = "I'm sorry, I couldn't come up with an answer. Could you rephrase your question?"
)

// Default values applied by New for zero-value configuration.
const (
	DefaultMaxTurns      = 5
	DefaultHistoryWindow = 20
	DefaultRAGTopK       = 5
)

// Response is the complete result of one agent execution.
type Response struct {
	FinalText    string
	ToolRequests []*ai.ToolRequest
}

// StreamCallback is invoked for each chunk of a streaming response.
// Returning an error aborts the stream.
type StreamCallback func(ctx context.Context, chunk *ai.ModelResponseChunk) error

// ConversationStore is the subset of session.Store the agent needs.
type ConversationStore interface {
	History(ctx context.Context, conversationID uuid.UUID, limit int32) ([]*ai.Message, error)
	AppendMessages(ctx context.Context, conversationID uuid.UUID, messages []*ai.Message) error
}

// Config contains the parameters for the support agent.
type Config struct {
	Genkit        *genkit.Genkit
	Conversations ConversationStore
	Retriever     ai.Retriever // Documentation retriever (nil disables RAG)
	Logger        log.Logger
	Tools         []ai.Tool // Pre-registered tools from tools.RegisterEmail

	ModelName     string // Provider-qualified model name overriding the prompt file
	MaxTurns      int    // Maximum agentic loop turns
	HistoryWindow int32  // Messages loaded per request
	RAGTopK       int    // Documents retrieved per request

	RetryConfig          RetryConfig          // Zero-value uses defaults
	CircuitBreakerConfig CircuitBreakerConfig // Zero-value uses defaults
	RateLimiter          *rate.Limiter        // nil = default limiter
	TokenBudget          TokenBudget          // Zero-value uses defaults
}

func (cfg Config) validate() error {
	if cfg.Genkit == nil {
		return errors.New("genkit instance is required")
	}
	if cfg.Conversations == nil {
		return errors.New("conversation store is required")
	}
	if len(cfg.Tools) == 0 {
		return errors.New("at least one tool is required")
	}
	return nil
}

// Agent is the Ember conversational support agent.
//
// All configuration is captured immutably at construction, so Agent is safe
// for concurrent use.
type Agent struct {
	modelName     string
	maxTurns      int
	historyWindow int32
	ragTopK       int

	retryConfig    RetryConfig
	circuitBreaker *CircuitBreaker
	rateLimiter    *rate.Limiter
	tokenBudget    TokenBudget

	g             *genkit.Genkit
	conversations ConversationStore
	retriever     ai.Retriever
	logger        log.Logger
	tools         []ai.Tool
	toolRefs      []ai.ToolRef
	toolNames     string
	prompt        ai.Prompt
}

// New creates the support agent. The Dotprompt named by PromptName must be
// loadable from the configured prompt directory.
func New(cfg Config) (*Agent, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	historyWindow := cfg.HistoryWindow
	if historyWindow <= 0 {
		historyWindow = DefaultHistoryWindow
	}
	ragTopK := cfg.RAGTopK
	if ragTopK <= 0 {
		ragTopK = DefaultRAGTopK
	}

	retryConfig := cfg.RetryConfig
	if retryConfig.MaxRetries == 0 {
		retryConfig = DefaultRetryConfig()
	}
	cbConfig := cfg.CircuitBreakerConfig
	if cbConfig.FailureThreshold == 0 {
		cbConfig = DefaultCircuitBreakerConfig()
	}
	tokenBudget := cfg.TokenBudget
	if tokenBudget.MaxHistoryTokens == 0 {
		tokenBudget = DefaultTokenBudget()
	}

	// Default: 10 requests/sec sustained, burst of 30.
	rl := cfg.RateLimiter
	if rl == nil {
		rl = rate.NewLimiter(10, 30)
	}

	toolRefs := make([]ai.ToolRef, len(cfg.Tools))
	names := make([]string, len(cfg.Tools))
	for i, t := range cfg.Tools {
		toolRefs[i] = t
		names[i] = t.Name()
	}

	a := &Agent{
		modelName:     cfg.ModelName,
		maxTurns:      maxTurns,
		historyWindow: historyWindow,
		ragTopK:       ragTopK,

		retryConfig:    retryConfig,
		circuitBreaker: NewCircuitBreaker(cbConfig),
		rateLimiter:    rl,
		tokenBudget:    tokenBudget,

		g:             cfg.Genkit,
		conversations: cfg.Conversations,
		retriever:     cfg.Retriever,
		logger:        logger,
		tools:         cfg.Tools,
		toolRefs:      toolRefs,
		toolNames:     strings.Join(names, ", "),
	}

	a.prompt = genkit.LookupPrompt(a.g, PromptName)
	if a.prompt == nil {
		return nil, fmt.Errorf("dotprompt %q not found: check the prompts directory", PromptName)
	}

	a.logger.Info("support agent initialized",
		"tools", len(a.tools),
		"max_turns", a.maxTurns,
		"rag_enabled", a.retriever != nil,
	)
	return a, nil
}

// Execute runs the agent without streaming.
func (a *Agent) Execute(ctx context.Context, conversationID uuid.UUID, input string) (*Response, error) {
	return a.ExecuteStream(ctx, conversationID, input, nil)
}

// ExecuteStream runs the agent with optional streaming output. When callback
// is non-nil it receives each response chunk as it is generated; the final
// response is always returned after generation completes.
func (a *Agent) ExecuteStream(ctx context.Context, conversationID uuid.UUID, input string, callback StreamCallback) (*Response, error) {
	a.logger.Debug("executing support agent",
		"conversation_id", conversationID,
		"streaming", callback != nil,
	)

	history, err := a.conversations.History(ctx, conversationID, a.historyWindow)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}

	docsContext := a.retrieveContext(ctx, input)

	resp, err := a.generateResponse(ctx, input, history, docsContext, callback)
	if err != nil {
		return nil, err
	}

	responseText := resp.Text()

	// Empty text with pending tool requests is valid agentic behavior; only
	// fall back when the model produced nothing at all.
	if strings.TrimSpace(responseText) == "" && len(resp.ToolRequests()) == 0 {
		a.logger.Warn("model returned an empty response", "conversation_id", conversationID)
		responseText = FallbackResponseMessage
	}

	newMessages := []*ai.Message{
		ai.NewUserMessage(ai.NewTextPart(input)),
		ai.NewModelMessage(ai.NewTextPart(responseText)),
	}
	if err := a.conversations.AppendMessages(ctx, conversationID, newMessages); err != nil {
		// Best-effort: the user already has the answer.
		a.logger.Warn("appending messages to conversation", "error", err)
	}

	return &Response{
		FinalText:    responseText,
		ToolRequests: resp.ToolRequests(),
	}, nil
}

// generateResponse runs the prompt with history, retrieved context, and
// tools, guarded by the circuit breaker and retry policy.
func (a *Agent) generateResponse(ctx context.Context, input string, history []*ai.Message, docsContext string, callback StreamCallback) (*ai.ModelResponse, error) {
	// Genkit's renderMessages mutates msg.Content in place, so concurrent
	// executions sharing message objects would race. Copy before use.
	messages := deepCopyMessages(history)
	messages = a.truncateHistory(messages, a.tokenBudget.MaxHistoryTokens)
	messages = append(messages, ai.NewUserMessage(ai.NewTextPart(input)))

	promptInput := map[string]any{
		"current_date": time.Now().Format("2006-01-02"),
	}
	if docsContext != "" {
		promptInput["context"] = docsContext
	}

	opts := []ai.PromptExecuteOption{
		ai.WithInput(promptInput),
		ai.WithMessagesFn(func(_ context.Context, _ any) ([]*ai.Message, error) {
			return messages, nil
		}),
		ai.WithTools(a.toolRefs...),
		ai.WithMaxTurns(a.maxTurns),
	}
	if a.modelName != "" {
		opts = append(opts, ai.WithModelName(a.modelName))
	}
	if callback != nil {
		opts = append(opts, ai.WithStreaming(ai.ModelStreamCallback(callback)))
	}

	a.logger.Debug("executing prompt",
		"tools", a.toolNames,
		"max_turns", a.maxTurns,
		"query_length", len(input),
		"context_length", len(docsContext),
	)

	if err := a.circuitBreaker.Allow(); err != nil {
		a.logger.Warn("circuit breaker rejecting request",
			"state", a.circuitBreaker.State().String())
		return nil, fmt.Errorf("service unavailable: %w", err)
	}

	resp, err := a.executeWithRetry(ctx, opts)
	if err != nil {
		a.circuitBreaker.Failure()
		return nil, err
	}
	a.circuitBreaker.Success()
	return resp, nil
}

// retrieveContext fetches relevant documentation for the query. Retrieval is
// best-effort: failures and timeouts are logged and the agent proceeds
// without context.
func (a *Agent) retrieveContext(ctx context.Context, query string) string {
	if a.retriever == nil {
		return ""
	}

	retrieveCtx, cancel := context.WithTimeout(ctx, ragTimeout)
	defer cancel()

	resp, err := a.retriever.Retrieve(retrieveCtx, &ai.RetrieverRequest{
		Query:   ai.DocumentFromText(query, nil),
		Options: map[string]any{"k": a.ragTopK},
	})
	if err != nil {
		a.logger.Debug("documentation retrieval failed", "error", err)
		return ""
	}

	return formatContext(resp.Documents)
}

// formatContext renders retrieved documents as a single text block for
// prompt injection.
func formatContext(docs []*ai.Document) string {
	var b strings.Builder
	for _, doc := range docs {
		var text strings.Builder
		for _, part := range doc.Content {
			text.WriteString(part.Text)
		}
		if strings.TrimSpace(text.String()) == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		if title, ok := doc.Metadata["title"].(string); ok && title != "" {
			b.WriteString("## ")
			b.WriteString(title)
			b.WriteString("\n")
		}
		b.WriteString(text.String())
	}
	return b.String()
}

// deepCopyMessages creates independent copies of Message and Part structs.
// Genkit's renderMessages() modifies msg.Content in place (observed in
// github.com/firebase/genkit/go v1.4.0), so shared messages race under
// concurrent execution.
func deepCopyMessages(msgs []*ai.Message) []*ai.Message {
	if msgs == nil {
		return nil
	}
	copied := make([]*ai.Message, len(msgs))
	for i, msg := range msgs {
		parts := make([]*ai.Part, len(msg.Content))
		for j, part := range msg.Content {
			parts[j] = deepCopyPart(part)
		}
		copied[i] = &ai.Message{
			Role:     msg.Role,
			Content:  parts,
			Metadata: shallowCopyMap(msg.Metadata),
		}
	}
	return copied
}

// deepCopyPart copies an ai.Part. ToolRequest.Input and ToolResponse.Output
// are `any` and copied by reference; Genkit only mutates the Content slice.
func deepCopyPart(p *ai.Part) *ai.Part {
	if p == nil {
		return nil
	}
	cp := &ai.Part{
		Kind:        p.Kind,
		ContentType: p.ContentType,
		Text:        p.Text,
		Custom:      shallowCopyMap(p.Custom),
		Metadata:    shallowCopyMap(p.Metadata),
	}
	if p.ToolRequest != nil {
		cp.ToolRequest = &ai.ToolRequest{
			Input: p.ToolRequest.Input,
			Name:  p.ToolRequest.Name,
			Ref:   p.ToolRequest.Ref,
		}
	}
	if p.ToolResponse != nil {
		cp.ToolResponse = &ai.ToolResponse{
			Name:   p.ToolResponse.Name,
			Output: p.ToolResponse.Output,
			Ref:    p.ToolResponse.Ref,
		}
	}
	if p.Resource != nil {
		cp.Resource = &ai.ResourcePart{Uri: p.Resource.Uri}
	}
	return cp
}

// shallowCopyMap copies map entries; nested structures remain shared.
func shallowCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

package chat

import (
	"context"
	"fmt"
	"sync"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core"
	"github.com/firebase/genkit/go/genkit"
	"github.com/google/uuid"

	"github.com/ember0/ember/internal/agent"
)

// Input is the request payload for the chat flow.
type Input struct {
	Query          string `json:"query"`
	ConversationID string `json:"conversationId"`
}

// Output is the response payload from the chat flow.
type Output struct {
	Response       string `json:"response"`
	ConversationID string `json:"conversationId"`
}

// StreamChunk is the streaming output type of the chat flow. Each chunk
// carries partial text that can be displayed immediately.
type StreamChunk struct {
	Text string `json:"text"`
}

// FlowName is the registered name of the chat flow in Genkit.
const FlowName = "ember/chat"

// Flow is the type alias for the agent's Genkit streaming flow. Exported for
// use with genkit.Handler() in the api package.
type Flow = core.Flow[Input, Output, StreamChunk]

// genkit.DefineStreamingFlow panics on re-registration, so the flow is a
// package-level singleton.
var (
	flowOnce sync.Once
	flow     *Flow
)

// NewFlow returns the chat flow singleton, initializing it on first call.
// Subsequent calls return the existing flow and ignore the parameters.
func NewFlow(g *genkit.Genkit, a *Agent) *Flow {
	flowOnce.Do(func() {
		flow = a.DefineFlow(g)
	})
	return flow
}

// ResetFlowForTesting resets the flow singleton so tests can initialize with
// different configurations. Not safe for concurrent use.
func ResetFlowForTesting() {
	flowOnce = sync.Once{}
	flow = nil
}

// DefineFlow registers the Genkit streaming flow for the agent. Use NewFlow
// instead of calling this directly; registering twice panics.
//
// The flow is a thin wrapper: it parses the conversation ID, adapts the
// stream callback, and delegates to Agent.ExecuteStream. Errors wrap the
// agent package sentinels so HTTP handlers can map them with errors.Is.
func (a *Agent) DefineFlow(g *genkit.Genkit) *Flow {
	return genkit.DefineStreamingFlow(g, FlowName,
		func(ctx context.Context, input Input, streamCb func(context.Context, StreamChunk) error) (Output, error) {
			conversationID, err := uuid.Parse(input.ConversationID)
			if err != nil {
				return Output{ConversationID: input.ConversationID},
					fmt.Errorf("%w: %w", agent.ErrInvalidConversation, err)
			}

			var callback StreamCallback
			if streamCb != nil {
				callback = func(ctx context.Context, chunk *ai.ModelResponseChunk) error {
					if chunk == nil {
						return nil
					}
					for _, part := range chunk.Content {
						if part.Text == "" {
							continue
						}
						if streamErr := streamCb(ctx, StreamChunk{Text: part.Text}); streamErr != nil {
							return streamErr
						}
					}
					return nil
				}
			}

			resp, err := a.ExecuteStream(ctx, conversationID, input.Query, callback)
			if err != nil {
				return Output{ConversationID: input.ConversationID},
					fmt.Errorf("%w: %w", agent.ErrExecutionFailed, err)
			}

			return Output{
				Response:       resp.FinalText,
				ConversationID: input.ConversationID,
			}, nil
		},
	)
}

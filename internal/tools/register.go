package tools

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// toolNames is the single source of truth for registered tool names.
var toolNames = []string{
	SendEmailName,
	GetEmailStatusName,
	ListEmailAttachmentsName,
}

// ToolNames returns all registered tool names.
func ToolNames() []string {
	return toolNames
}

// RegisterEmail registers the email tools with Genkit and returns them for
// use in prompt execution. Handler methods hold the business logic; the
// Genkit closures only adapt the tool context.
func RegisterEmail(g *genkit.Genkit, email *Email) ([]ai.Tool, error) {
	if g == nil {
		return nil, fmt.Errorf("genkit instance is required")
	}
	if email == nil {
		return nil, fmt.Errorf("email toolset is required")
	}

	return []ai.Tool{
		genkit.DefineTool(g, SendEmailName,
			"Send an email to a customer on their request. "+
				"Requires a recipient address, a subject line, and an HTML body. "+
				"Returns: the email ID and its initial status. "+
				"Use this when the user explicitly asks to be emailed something.",
			func(ctx *ai.ToolContext, input SendEmailInput) (SendEmailOutput, error) {
				return email.SendEmail(toolCtx(ctx), input)
			}),
		genkit.DefineTool(g, GetEmailStatusName,
			"Check the delivery status of a previously sent email by its ID. "+
				"Returns: the current status (queued, sent, delivered, bounced, complained) "+
				"with a plain-language explanation. "+
				"Use this when the user asks whether an email arrived.",
			func(ctx *ai.ToolContext, input GetEmailStatusInput) (GetEmailStatusOutput, error) {
				return email.GetEmailStatus(toolCtx(ctx), input)
			}),
		genkit.DefineTool(g, ListEmailAttachmentsName,
			"List the attachments of a previously sent email by its ID. "+
				"Returns: filenames, content types, sizes in MB, and download URLs. "+
				"Use this when the user asks what files were attached to an email.",
			func(ctx *ai.ToolContext, input ListEmailAttachmentsInput) (ListEmailAttachmentsOutput, error) {
				return email.ListEmailAttachments(toolCtx(ctx), input)
			}),
	}, nil
}

// toolCtx unwraps the request context from a tool invocation.
func toolCtx(ctx *ai.ToolContext) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx.Context
}

// Package agent defines shared agent-level errors.
package agent

import "errors"

// Sentinel errors for agent operations. HTTP handlers map these to status
// codes with errors.Is.
var (
	// ErrInvalidConversation indicates the conversation ID is missing or malformed.
	ErrInvalidConversation = errors.New("invalid conversation")

	// ErrExecutionFailed indicates agent execution failed.
	ErrExecutionFailed = errors.New("execution failed")
)

// Package tools defines the Genkit tools the support agent can call.
package tools

// ToolError is a structured error format for model consumption. It lets a
// tool report a specific error type and message the model can understand
// and correct.
type ToolError struct {
	ErrorType string `json:"error_type"` // e.g., "InvalidArguments", "EmailAPIError"
	Message   string `json:"message"`
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	if e == nil {
		return "<nil ToolError>"
	}
	switch {
	case e.ErrorType == "" && e.Message == "":
		return "<empty ToolError>"
	case e.ErrorType == "":
		return e.Message
	case e.Message == "":
		return e.ErrorType
	}
	return e.ErrorType + ": " + e.Message
}

func invalidArguments(message string) *ToolError {
	return &ToolError{ErrorType: "InvalidArguments", Message: message}
}

func emailAPIError(message string) *ToolError {
	return &ToolError{ErrorType: "EmailAPIError", Message: message}
}

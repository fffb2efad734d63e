package agent

import "fmt"

// ModelInvocationError reports that the model endpoint rejected or could not
// complete a request, including after retries. It is recoverable: the caller
// reports it and continues with unchanged conversation state.
type ModelInvocationError struct {
	Provider string
	Err      error
}

// Error implements the error interface
func (e *ModelInvocationError) Error() string {
	return fmt.Sprintf("model invocation failed (%s): %v", e.Provider, e.Err)
}

// Unwrap returns the underlying error
func (e *ModelInvocationError) Unwrap() error {
	return e.Err
}

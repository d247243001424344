package tools

import "fmt"

// UnknownToolError is returned by [Dispatcher.Call] for a name that is not
// one of the declared tools.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("tools: unknown tool %q", e.Name)
}

// ArgumentError reports arguments that could not be decoded or are missing a
// required field.
type ArgumentError struct {
	Tool   string
	Reason string
	Err    error
}

func (e *ArgumentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tools: %s: %s: %v", e.Tool, e.Reason, e.Err)
	}
	return fmt.Sprintf("tools: %s: %s", e.Tool, e.Reason)
}

func (e *ArgumentError) Unwrap() error { return e.Err }

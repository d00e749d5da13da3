package realtime

// Tool represents a function the model can invoke during conversation.
type Tool struct {
	// Name is the unique identifier for the tool (e.g., "lookup").
	Name string `json:"name"`

	// Description explains what the tool does, helping the model decide
	// when to use it.
	Description string `json:"description"`

	// Parameters defines the JSON schema for the tool's arguments.
	Parameters map[string]any `json:"parameters"`

	// Handler is called when the model invokes this tool. The returned
	// string is sent back as the tool output; an error is converted to
	// an error string so the conversation can continue.
	Handler func(args map[string]any) (string, error) `json:"-"`
}

// ToolCall represents an invocation of a tool by the model.
type ToolCall struct {
	// ID matches results back to the correct call.
	ID string

	// Name is the tool being invoked.
	Name string

	// Arguments contains the parsed arguments.
	Arguments map[string]any
}

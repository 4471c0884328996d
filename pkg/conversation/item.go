package conversation

import "github.com/google/uuid"

// Role identifies who produced a conversation item.
type Role string

const (
	RoleSystem         Role = "system"
	RoleUser           Role = "user"
	RoleAssistant      Role = "assistant"
	RoleFunctionCall   Role = "function_call"
	RoleFunctionResult Role = "function_result"
)

// ToolCall is the payload of a function-call item.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// Item is one exchange unit. Items are never mutated once appended; pruning
// builds new slices.
type Item struct {
	ID       string
	Role     Role
	Text     string
	ToolCall *ToolCall
	// CallID links a function result to the call it answers.
	CallID string
}

func (i Item) IsFunction() bool {
	return i.Role == RoleFunctionCall || i.Role == RoleFunctionResult
}

func NewID() string { return "item_" + uuid.NewString() }

func System(text string) Item {
	return Item{ID: NewID(), Role: RoleSystem, Text: text}
}

func User(text string) Item {
	return Item{ID: NewID(), Role: RoleUser, Text: text}
}

func Assistant(text string) Item {
	return Item{ID: NewID(), Role: RoleAssistant, Text: text}
}

func FunctionCall(call ToolCall) Item {
	c := call
	return Item{ID: NewID(), Role: RoleFunctionCall, ToolCall: &c, CallID: call.ID}
}

func FunctionResult(callID, output string) Item {
	return Item{ID: NewID(), Role: RoleFunctionResult, Text: output, CallID: callID}
}

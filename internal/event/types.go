package event

// EventType represents the type of event.
type EventType string

const (
	AgentCreated   EventType = "agent.created"
	AgentRestored  EventType = "agent.restored"
	AgentDestroyed EventType = "agent.destroyed"

	TurnStarted   EventType = "turn.started"
	TurnCompleted EventType = "turn.completed"
	TurnCancelled EventType = "turn.cancelled"
	TurnFailed    EventType = "turn.failed"

	ToolDenied   EventType = "tool.denied"
	ToolExecuted EventType = "tool.executed"

	ConfirmationRequested EventType = "confirmation.requested"
	ConfirmationResolved  EventType = "confirmation.resolved"

	MessageDelivered EventType = "message.delivered"
	VcsChanged       EventType = "vcs.changed"
)

// AgentData is the payload of agent lifecycle events.
type AgentData struct {
	Preset   string `json:"preset"`
	Cwd      string `json:"cwd"`
	ParentID string `json:"parentID,omitempty"`
}

// TurnData is the payload of turn events.
type TurnData struct {
	Steps   int    `json:"steps,omitempty"`
	Dropped int    `json:"dropped,omitempty"`
	Tokens  int    `json:"tokens,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ToolData is the payload of tool events.
type ToolData struct {
	CallID string `json:"callID"`
	Tool   string `json:"tool"`
	Check  string `json:"check,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// ConfirmationData is the payload of confirmation events.
type ConfirmationData struct {
	RequestID  string `json:"requestID"`
	Tool       string `json:"tool,omitempty"`
	TargetPath string `json:"targetPath,omitempty"`
	Approved   bool   `json:"approved"`
	Reason     string `json:"reason,omitempty"`
}

// MessageData is the payload of inter-agent message events.
type MessageData struct {
	From string `json:"from"`
	To   string `json:"to"`
}

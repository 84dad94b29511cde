package api

type Action string

const (
	ActionStart       Action = "start"
	ActionSend        Action = "send"
	ActionQuickAction Action = "quick_action"
)

// Profile is the structured data of a first turn.
type Profile struct {
	Name      string            `json:"name,omitempty"`
	Gender    string            `json:"gender,omitempty"`
	BirthDate string            `json:"birth_date,omitempty"`
	BirthTime string            `json:"birth_time,omitempty"`
	Calendar  string            `json:"calendar,omitempty"`
	Location  string            `json:"location,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// TurnRequest is the body of both the stream and the one-shot endpoint, so a
// fallback repeats exactly the same logical request.
type TurnRequest struct {
	ConversationID string   `json:"conversation_id,omitempty"`
	Action         Action   `json:"action"`
	Message        string   `json:"message,omitempty"`
	Label          string   `json:"label,omitempty"`
	Profile        *Profile `json:"profile,omitempty"`
}

type conversationRequest struct {
	ConversationID string `json:"conversation_id"`
}

type Reply struct {
	Text           string
	ConversationID string
}

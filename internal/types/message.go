package types

// Role of a message in a participant's conversational context.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a participant's history.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Exchange builds the (prompt, reply) pair appended after one turn.
func Exchange(prompt, reply string) []Message {
	return []Message{
		{Role: RoleUser, Content: prompt},
		{Role: RoleAssistant, Content: reply},
	}
}

package domain

// Chat roles accepted by the chat completion service.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is the provider-agnostic chat message shape used by the usecases
// and LLM integrations.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RetrievedChunk is one passage returned by the context retriever. It is never
// persisted.
type RetrievedChunk struct {
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
}

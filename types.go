package dossier

// --- LLM protocol types ---

// Role values used in ChatMessage.Role.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type ChatMessage struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// GenerationParams overrides sampling settings for a single request.
// Nil fields keep the provider defaults.
type GenerationParams struct {
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
}

type ChatRequest struct {
	Messages []ChatMessage `json:"messages"`
	// Model overrides the provider's configured model when non-empty.
	Model            string            `json:"model,omitempty"`
	GenerationParams *GenerationParams `json:"generation_params,omitempty"`
}

type ChatResponse struct {
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// --- ChatMessage constructors ---

func UserMessage(text string) ChatMessage {
	return ChatMessage{Role: RoleUser, Content: text}
}

func SystemMessage(text string) ChatMessage {
	return ChatMessage{Role: RoleSystem, Content: text}
}

func AssistantMessage(text string) ChatMessage {
	return ChatMessage{Role: RoleAssistant, Content: text}
}

// Temperature returns GenerationParams with only the temperature set.
func Temperature(t float64) *GenerationParams {
	return &GenerationParams{Temperature: &t}
}

// WithMaxTokens returns a copy of p with MaxTokens set. A nil p is treated as empty.
func (p *GenerationParams) WithMaxTokens(n int) *GenerationParams {
	out := GenerationParams{}
	if p != nil {
		out = *p
	}
	out.MaxTokens = &n
	return &out
}

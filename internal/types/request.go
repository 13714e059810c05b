package types

// PromptRequest is the wire shape of POST /. Its json tags define the set of
// accepted keys and its validate tags the structural rules.
type PromptRequest struct {
	Prompt string `json:"prompt" validate:"required,maxrunes"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

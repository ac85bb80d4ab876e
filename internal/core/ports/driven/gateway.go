package driven

import "context"

// ChatMessage is one turn of a completion request.
type ChatMessage struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// CompleteOptions configures a completion call.
type CompleteOptions struct {
	MaxTokens   int
	Temperature float64
	StopWords   []string
}

// CredentialStatus is the result of validating a model's credentials.
type CredentialStatus struct {
	OK        bool
	EnvVarName string // populated when !OK, names the missing/rejected variable
}

// Gateway is the narrow, provider-agnostic capability every core service
// depends on for completion, embedding, transcription and tokenisation.
// Model strings are always "provider/model"; the gateway dispatches on the
// provider prefix and never leaks provider identity to callers.
type Gateway interface {
	Complete(ctx context.Context, model string, messages []ChatMessage, opts CompleteOptions) (string, error)
	Embed(ctx context.Context, model string, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error)
	Transcribe(ctx context.Context, model string, audio []byte, filename string) (string, error)

	// CountTokens returns the token count of text for model. The
	// shipped gateway uses ceil(len(text)/4) for every model; it has no
	// provider-specific tokeniser.
	CountTokens(model string, text string) int

	// ContextWindow returns a best-effort token ceiling for model;
	// unknown models yield a conservative static default.
	ContextWindow(model string) int

	// ValidateCredentials checks that the environment carries the
	// credential the named model's provider requires, without making a
	// network call.
	ValidateCredentials(model string) CredentialStatus
}

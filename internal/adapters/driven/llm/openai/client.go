// Package openai implements the completion, embedding and transcription
// side of the LLM Gateway against OpenAI, using the typed openai-go SDK.
package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/custodia-labs/foundry-rag/internal/core/ports/driven"
)

// Client wraps the OpenAI SDK client for one API key.
type Client struct {
	sdk *openai.Client
}

// New constructs a Client. apiKey must be non-empty; callers resolve it
// from the process environment before calling New.
func New(apiKey string) *Client {
	sdk := openai.NewClient(option.WithAPIKey(apiKey))
	return &Client{sdk: &sdk}
}

// Complete runs a chat completion for the given model (without the
// "openai/" prefix, already stripped by the gateway dispatcher).
func (c *Client) Complete(ctx context.Context, model string, messages []driven.ChatMessage, opts driven.CompleteOptions) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: toOpenAIMessages(messages),
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(opts.MaxTokens))
	}
	if opts.Temperature > 0 {
		params.Temperature = openai.Float(opts.Temperature)
	}
	if len(opts.StopWords) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: opts.StopWords}
	}

	resp, err := c.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

func toOpenAIMessages(messages []driven.ChatMessage) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

// Embed generates one embedding vector.
func (c *Client) Embed(ctx context.Context, model, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, model, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("openai: no embedding returned")
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts in one request.
func (c *Client) EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error) {
	resp, err := c.sdk.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openai.EmbeddingModel(model),
	})
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		out[i] = toFloat32(d.Embedding)
	}
	return out, nil
}

func toFloat32(f64 []float64) []float32 {
	out := make([]float32, len(f64))
	for i, v := range f64 {
		out[i] = float32(v)
	}
	return out
}

// Transcribe sends audio to the Whisper transcription endpoint.
func (c *Client) Transcribe(ctx context.Context, model string, audio []byte, filename string) (string, error) {
	resp, err := c.sdk.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		Model: openai.AudioModel(model),
		File:  newAudioFile(audio, filename),
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

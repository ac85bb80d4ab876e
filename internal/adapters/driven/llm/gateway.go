// Package llm implements the provider-agnostic LLM Gateway: dispatch on
// the "provider/model" prefix, retry with exponential backoff, and a
// shared ceil(len/4) token approximation used for every model.
package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	openaisdk "github.com/openai/openai-go"

	"github.com/custodia-labs/foundry-rag/internal/adapters/driven/llm/anthropic"
	"github.com/custodia-labs/foundry-rag/internal/adapters/driven/llm/ollama"
	"github.com/custodia-labs/foundry-rag/internal/adapters/driven/llm/openai"
	"github.com/custodia-labs/foundry-rag/internal/core/domain"
	"github.com/custodia-labs/foundry-rag/internal/core/ports/driven"
	"github.com/custodia-labs/foundry-rag/internal/logger"
)

// providerEnvVar names the credential environment variable per provider,
// grounded on original_source's _PROVIDER_ENV table.
var providerEnvVar = map[string]string{
	"openai":    "OPENAI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
	"ollama":    "", // no credential required
}

// contextWindowFallback is the static table ContextWindow consults for
// every model; entries are conservative, and a model not listed here gets
// defaultContextWindow.
var contextWindowFallback = map[string]int{
	"openai/gpt-4o":                 128_000,
	"openai/gpt-4o-mini":            128_000,
	"openai/text-embedding-3-small": 8_191,
	"openai/text-embedding-3-large": 8_191,
	"anthropic/claude-3-5-sonnet-latest": 200_000,
	"anthropic/claude-3-5-haiku-latest":  200_000,
}

const defaultContextWindow = 8_192

type completer interface {
	Complete(ctx context.Context, model string, messages []driven.ChatMessage, opts driven.CompleteOptions) (string, error)
}

type embedder interface {
	Embed(ctx context.Context, model, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error)
}

type transcriber interface {
	Transcribe(ctx context.Context, model string, audio []byte, filename string) (string, error)
}

// Gateway implements driven.Gateway by dispatching to per-provider clients
// constructed by New from process environment credentials.
type Gateway struct {
	openai    *openai.Client
	anthropic *anthropic.Client
	ollama    *ollama.Client
}

var _ driven.Gateway = (*Gateway)(nil)

// New constructs a Gateway. Provider clients are created eagerly if their
// credential is present in the environment; a provider whose credential is
// absent will surface KindCredential the first time it is used.
func New() *Gateway {
	g := &Gateway{}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		g.openai = openai.New(key)
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		g.anthropic = anthropic.New(key)
	}
	g.ollama = ollama.New(os.Getenv("OLLAMA_HOST"))
	return g
}

func splitModel(model string) (provider, name string, err error) {
	parts := strings.SplitN(model, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", domain.NewError(domain.KindConfiguration,
			fmt.Sprintf("model %q is not in provider/model form", model),
			"use a model string like openai/gpt-4o-mini", nil)
	}
	return parts[0], parts[1], nil
}

func (g *Gateway) providerCompleter(provider string) (completer, error) {
	switch provider {
	case "openai":
		if g.openai == nil {
			return nil, missingCredential(provider)
		}
		return g.openai, nil
	case "anthropic":
		if g.anthropic == nil {
			return nil, missingCredential(provider)
		}
		return g.anthropic, nil
	case "ollama":
		return g.ollama, nil
	default:
		return nil, domain.NewError(domain.KindConfiguration, fmt.Sprintf("unknown provider %q", provider), "use openai, anthropic or ollama", nil)
	}
}

func (g *Gateway) providerEmbedder(provider string) (embedder, error) {
	switch provider {
	case "openai":
		if g.openai == nil {
			return nil, missingCredential(provider)
		}
		return g.openai, nil
	case "ollama":
		return g.ollama, nil
	case "anthropic":
		return nil, domain.NewError(domain.KindConfiguration, "anthropic does not support embeddings", "use openai or ollama for embedding.model", nil)
	default:
		return nil, domain.NewError(domain.KindConfiguration, fmt.Sprintf("unknown provider %q", provider), "", nil)
	}
}

func missingCredential(provider string) error {
	env := providerEnvVar[provider]
	return domain.NewError(domain.KindCredential,
		fmt.Sprintf("no credentials configured for provider %q", provider),
		fmt.Sprintf("set the %s environment variable", env), nil)
}

// retryPolicy is shared by every gateway call: at most 3 attempts,
// exponential backoff, capped at 60 seconds total elapsed time.
func retryPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 60 * time.Second
	return backoff.WithContext(backoff.WithMaxRetries(b, 2), ctx)
}

func isRetryable(err error) bool {
	var apiErr *openaisdk.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	var statusErr *anthropic.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code == http.StatusTooManyRequests || statusErr.Code >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}

func (g *Gateway) Complete(ctx context.Context, model string, messages []driven.ChatMessage, opts driven.CompleteOptions) (string, error) {
	provider, name, err := splitModel(model)
	if err != nil {
		return "", err
	}
	client, err := g.providerCompleter(provider)
	if err != nil {
		return "", err
	}

	var result string
	op := func() error {
		out, err := client.Complete(ctx, name, messages, opts)
		if err != nil {
			if isRetryable(err) {
				logger.Warn("transient completion failure for %s, retrying: %v", model, err)
				return err
			}
			return backoff.Permanent(domain.NewError(domain.KindFatalProviderFailure,
				fmt.Sprintf("completion failed for %s", model), "", err))
		}
		result = out
		return nil
	}
	if err := backoff.Retry(op, retryPolicy(ctx)); err != nil {
		var de *domain.Error
		if errors.As(err, &de) {
			return "", de
		}
		return "", domain.NewError(domain.KindTransientProviderFailure,
			fmt.Sprintf("completion failed for %s after retries", model), "check network connectivity and provider status", err)
	}
	return result, nil
}

func (g *Gateway) Embed(ctx context.Context, model, text string) ([]float32, error) {
	vecs, err := g.EmbedBatch(ctx, model, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (g *Gateway) EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error) {
	provider, name, err := splitModel(model)
	if err != nil {
		return nil, err
	}
	client, err := g.providerEmbedder(provider)
	if err != nil {
		return nil, err
	}

	var result [][]float32
	op := func() error {
		out, err := client.EmbedBatch(ctx, name, texts)
		if err != nil {
			if isRetryable(err) {
				logger.Warn("transient embedding failure for %s, retrying: %v", model, err)
				return err
			}
			return backoff.Permanent(domain.NewError(domain.KindFatalProviderFailure,
				fmt.Sprintf("embedding failed for %s", model), "", err))
		}
		result = out
		return nil
	}
	if err := backoff.Retry(op, retryPolicy(ctx)); err != nil {
		var de *domain.Error
		if errors.As(err, &de) {
			return nil, de
		}
		return nil, domain.NewError(domain.KindTransientProviderFailure,
			fmt.Sprintf("embedding failed for %s after retries", model), "check network connectivity and provider status", err)
	}
	return result, nil
}

func (g *Gateway) Transcribe(ctx context.Context, model string, audio []byte, filename string) (string, error) {
	provider, name, err := splitModel(model)
	if err != nil {
		return "", err
	}
	if provider != "openai" {
		return "", domain.NewError(domain.KindConfiguration, "only the openai provider supports transcription", "use an openai/* model for ingest.audio_model", nil)
	}
	if g.openai == nil {
		return "", missingCredential(provider)
	}

	var result string
	op := func() error {
		out, err := g.openai.Transcribe(ctx, name, audio, filename)
		if err != nil {
			if isRetryable(err) {
				return err
			}
			return backoff.Permanent(domain.NewError(domain.KindFatalProviderFailure, "transcription failed", "", err))
		}
		result = out
		return nil
	}
	if err := backoff.Retry(op, retryPolicy(ctx)); err != nil {
		var de *domain.Error
		if errors.As(err, &de) {
			return "", de
		}
		return "", domain.NewError(domain.KindTransientProviderFailure, "transcription failed after retries", "check network connectivity", err)
	}
	return result, nil
}

// CountTokens is provider-aware only in that it is a single shared
// approximation; providers in this stack do not expose a local tokeniser,
// so every model uses ceil(len/4) as specified for the fallback case.
func (g *Gateway) CountTokens(model string, text string) int {
	return int(math.Ceil(float64(len(text)) / 4.0))
}

func (g *Gateway) ContextWindow(model string) int {
	if window, ok := contextWindowFallback[model]; ok {
		return window
	}
	return defaultContextWindow
}

func (g *Gateway) ValidateCredentials(model string) driven.CredentialStatus {
	provider, _, err := splitModel(model)
	if err != nil {
		return driven.CredentialStatus{OK: false}
	}
	envVar, known := providerEnvVar[provider]
	if !known {
		return driven.CredentialStatus{OK: false}
	}
	if envVar == "" {
		return driven.CredentialStatus{OK: true} // ollama: no credential required
	}
	if os.Getenv(envVar) == "" {
		return driven.CredentialStatus{OK: false, EnvVarName: envVar}
	}
	return driven.CredentialStatus{OK: true}
}

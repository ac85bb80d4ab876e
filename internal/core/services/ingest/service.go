// Package ingest implements the orchestrator that drives a single source
// through validation, deduplication, chunking, context-prefixing,
// embedding, summarisation and commit.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/custodia-labs/foundry-rag/internal/chunkers"
	"github.com/custodia-labs/foundry-rag/internal/core/domain"
	"github.com/custodia-labs/foundry-rag/internal/core/ports/driven"
	"github.com/custodia-labs/foundry-rag/internal/core/ports/driving"
	"github.com/custodia-labs/foundry-rag/internal/logger"
)

// cheapTierSuffixes names model-name patterns treated as cheap-tier for
// the cost-preview "expensive model" warning.
var cheapTierSuffixes = []string{"-mini", "-haiku", "-flash"}

// CostEstimate is the result of the pre-flight cost preview.
type CostEstimate struct {
	ChunkCount   int
	LLMCallCount int
	Expensive    bool
	ExpensiveWhy string
}

// Confirmer asks the caller whether to proceed given a cost estimate. It
// is only invoked when the request did not opt into AutoConfirm.
type Confirmer func(estimate CostEstimate) bool

// Config carries the resolved settings a single ingest run needs.
type Config struct {
	ProjectRoot        string
	EmbeddingModel     string
	ContextPrefixModel string
	SummaryModel       string
	SummaryMaxTokens   int
	ChunkerConfigs     map[string]driven.ChunkerConfig // keyed by chunkers.Family*
	MaxWorkers         int
}

// Service is the concrete Ingest Orchestrator.
type Service struct {
	repo     driven.Repository
	gateway  driven.Gateway
	registry *chunkers.Registry
	cfg      Config
	confirm  Confirmer
}

var _ driving.Ingester = (*Service)(nil)

// New builds an Ingester. confirm may be nil, in which case any request
// without AutoConfirm is refused.
func New(repo driven.Repository, gateway driven.Gateway, registry *chunkers.Registry, cfg Config, confirm Confirmer) *Service {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	return &Service{repo: repo, gateway: gateway, registry: registry, cfg: cfg, confirm: confirm}
}

func (s *Service) Ingest(ctx context.Context, req driving.IngestRequest) (driving.IngestReport, error) {
	family := chunkers.DetectFamily(req.Path, req.SourceKind)

	rawPath, digest, err := s.identify(family, req.Path)
	if err != nil {
		return driving.IngestReport{}, err
	}

	upsert, err := s.repo.SourceUpsert(ctx, req.Path, digest, s.cfg.EmbeddingModel)
	if err != nil {
		return driving.IngestReport{}, err
	}

	sourceID := upsert.Source.ID
	if upsert.AlreadyHad {
		n, err := s.repo.CountChunksBySource(ctx, sourceID)
		if err != nil {
			return driving.IngestReport{}, err
		}
		if n > 0 {
			logger.Info("skipping %s: unchanged, %d chunks already stored", req.Path, n)
			return driving.IngestReport{Source: upsert.Source, Skipped: true, ChunkCount: n}, nil
		}
		logger.Warn("recovering interrupted ingest of %s (0 chunks stored)", req.Path)
	}

	chunkerCfg := s.chunkerConfigFor(family)
	chunker, ok := s.registry.Lookup(family)
	if !ok {
		s.abort(ctx, sourceID)
		return driving.IngestReport{}, domain.NewError(domain.KindUnsupportedSourceType,
			fmt.Sprintf("no chunker registered for family %q", family), "check the source extension or pass an explicit source kind", nil)
	}

	drafts, err := chunker.Chunk(sourceID, rawPath, req.MetadataHint, chunkerCfg)
	if err != nil {
		s.abort(ctx, sourceID)
		return driving.IngestReport{}, err
	}
	if len(drafts) == 0 {
		s.abort(ctx, sourceID)
		return driving.IngestReport{}, domain.NewError(domain.KindConfiguration, "source produced no chunks", "the source may be empty or unreadable", nil)
	}

	estimate := s.previewCost(drafts)
	if !req.AutoConfirm {
		if s.confirm == nil || !s.confirm(estimate) {
			s.abort(ctx, sourceID)
			return driving.IngestReport{}, domain.NewError(domain.KindInterrupted, "ingest not confirmed", "re-run with auto-confirm to skip this prompt", nil)
		}
	}

	llmCalls, err := s.commit(ctx, sourceID, drafts)
	if err != nil {
		s.abort(ctx, sourceID)
		return driving.IngestReport{}, err
	}

	return driving.IngestReport{
		Source:     upsert.Source,
		ChunkCount: len(drafts),
		LLMCalls:   llmCalls,
	}, nil
}

// abort removes every row committed for sourceID so a failed ingest never
// leaves degraded content behind.
func (s *Service) abort(ctx context.Context, sourceID string) {
	if err := s.repo.PurgeSource(ctx, sourceID); err != nil {
		logger.Warn("failed to purge aborted source %s: %v", sourceID, err)
	}
}

// identify resolves rawPath (validated against traversal for local files)
// and returns the digest used for deduplication.
func (s *Service) identify(family, path string) (rawPath []byte, digest string, err error) {
	if isRemote(path) {
		return []byte(path), hashString(path), nil
	}

	clean, err := validateLocalPath(s.cfg.ProjectRoot, path)
	if err != nil {
		return nil, "", err
	}

	info, statErr := os.Stat(clean)
	if statErr != nil {
		return nil, "", domain.NewError(domain.KindConfiguration, "stat source path "+path, "", statErr)
	}
	if info.IsDir() {
		if family == chunkers.FamilyGit {
			// The git chunker reads the working copy itself; it is handed
			// the path, as for a remote URL.
			return []byte(clean), hashString(clean), nil
		}
		return nil, "", domain.NewError(domain.KindConfiguration, "source path is a directory", "expand directories before calling Ingest", nil)
	}

	content, readErr := os.ReadFile(clean)
	if readErr != nil {
		return nil, "", domain.NewError(domain.KindConfiguration, "read source "+path, "", readErr)
	}
	return content, hashBytes(content), nil
}

func isRemote(path string) bool {
	return strings.HasPrefix(path, "https://") || strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "git@")
}

// validateLocalPath confines path to projectRoot, rejecting any traversal
// outside of it.
func validateLocalPath(projectRoot, path string) (string, error) {
	if projectRoot == "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return "", domain.NewError(domain.KindPathTraversal, "resolve source path "+path, "", err)
		}
		return abs, nil
	}
	root, err := filepath.Abs(projectRoot)
	if err != nil {
		return "", domain.NewError(domain.KindPathTraversal, "resolve project root", "", err)
	}
	candidate, err := filepath.Abs(filepath.Join(root, path))
	if err != nil {
		return "", domain.NewError(domain.KindPathTraversal, "resolve source path "+path, "", err)
	}
	rel, err := filepath.Rel(root, candidate)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", domain.NewError(domain.KindPathTraversal,
			fmt.Sprintf("source path %q escapes the project root", path),
			"use a path inside the project root", nil)
	}
	return candidate, nil
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func hashString(s string) string {
	return hashBytes([]byte(s))
}

func (s *Service) chunkerConfigFor(family string) driven.ChunkerConfig {
	cfg, ok := s.cfg.ChunkerConfigs[family]
	if !ok {
		cfg = driven.ChunkerConfig{ChunkSizeTokens: 512, OverlapFraction: 0.10}
	}
	if cfg.CountTokens == nil {
		model := s.cfg.EmbeddingModel
		gw := s.gateway
		cfg.CountTokens = func(text string) int { return gw.CountTokens(model, text) }
	}
	return cfg
}

// previewCost estimates chunk/LLM-call counts and flags an expensive
// context-prefix model. LLM calls: one context-prefix call and one
// embedding call per chunk, plus one summary call.
func (s *Service) previewCost(drafts []domain.ChunkDraft) CostEstimate {
	chunkCount := len(drafts)
	llmCalls := chunkCount*2 + 1

	expensive := true
	for _, suffix := range cheapTierSuffixes {
		if strings.Contains(s.cfg.ContextPrefixModel, suffix) {
			expensive = false
			break
		}
	}
	if strings.HasPrefix(s.cfg.ContextPrefixModel, "ollama/") {
		expensive = false
	}

	why := ""
	if expensive {
		why = fmt.Sprintf("context-prefix model %q is not a designated cheap-tier model", s.cfg.ContextPrefixModel)
	}

	return CostEstimate{ChunkCount: chunkCount, LLMCallCount: llmCalls, Expensive: expensive, ExpensiveWhy: why}
}

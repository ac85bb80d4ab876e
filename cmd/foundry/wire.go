package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/custodia-labs/foundry-rag/internal/adapters/driven/config"
	"github.com/custodia-labs/foundry-rag/internal/adapters/driven/llm"
	"github.com/custodia-labs/foundry-rag/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/foundry-rag/internal/chunkers"
	"github.com/custodia-labs/foundry-rag/internal/core/domain"
	"github.com/custodia-labs/foundry-rag/internal/core/ports/driven"
	"github.com/custodia-labs/foundry-rag/internal/core/services/assembler"
	"github.com/custodia-labs/foundry-rag/internal/core/services/generation"
	"github.com/custodia-labs/foundry-rag/internal/core/services/ingest"
	"github.com/custodia-labs/foundry-rag/internal/core/services/retriever"
)

// app bundles the wired core services and the config they were built from.
type app struct {
	cfg        config.Config
	repo       driven.Repository
	gateway    driven.Gateway
	ingester   *ingest.Service
	retriever  *retriever.Service
	assembler  *assembler.Service
	generation *generation.Service
	closeStore func() error
}

// resolveProjectRoot defaults an empty flag value to the working directory.
func resolveProjectRoot(projectRoot string) (string, error) {
	if projectRoot != "" {
		return projectRoot, nil
	}
	return os.Getwd()
}

func buildApp(dbPath, projectRoot string, autoConfirm bool) (*app, error) {
	root, err := resolveProjectRoot(projectRoot)
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(root, config.Config{})
	if err != nil {
		return nil, err
	}

	store, err := sqlite.Open(dbPath)
	if err != nil {
		return nil, err
	}
	repo := sqlite.NewRepository(store)

	gateway := llm.New()

	audio := chunkers.Audio{Gateway: gateway, Model: cfg.Ingest.AudioModel}
	registry := chunkers.NewRegistry(audio)

	chunkerCfgs := map[string]driven.ChunkerConfig{}
	for family, fc := range cfg.Chunkers {
		chunkerCfgs[family] = driven.ChunkerConfig{
			ChunkSizeTokens: fc.ChunkSize,
			OverlapFraction: fc.Overlap,
			Strategy:        fc.Strategy,
		}
	}

	confirmCost := func(estimate ingest.CostEstimate) bool {
		msg := fmt.Sprintf("this will produce %d chunks and issue %d LLM calls", estimate.ChunkCount, estimate.LLMCallCount)
		if estimate.Expensive {
			msg += "; " + estimate.ExpensiveWhy
		}
		return promptYesNo(msg)
	}
	var ingestConfirm ingest.Confirmer
	if !autoConfirm {
		ingestConfirm = confirmCost
	}

	ing := ingest.New(repo, gateway, registry, ingest.Config{
		ProjectRoot:        root,
		EmbeddingModel:     cfg.Embedding.Model,
		ContextPrefixModel: cfg.Embedding.ContextModel,
		SummaryModel:       cfg.Ingest.SummaryModel,
		SummaryMaxTokens:   cfg.Ingest.SummaryMaxTokens,
		ChunkerConfigs:     chunkerCfgs,
	}, ingestConfirm)

	retr := retriever.New(repo, gateway)
	asm := assembler.New(repo, gateway)

	var genConfirm generation.Confirmer
	if !autoConfirm {
		genConfirm = func(path string) bool {
			return promptYesNo(fmt.Sprintf("%s already exists; overwrite it", path))
		}
	}
	gen := generation.New(gateway, root, genConfirm)

	return &app{
		cfg:        cfg,
		repo:       repo,
		gateway:    gateway,
		ingester:   ing,
		retriever:  retr,
		assembler:  asm,
		generation: gen,
		closeStore: repo.Close,
	}, nil
}

func (a *app) Close() {
	if a.closeStore != nil {
		_ = a.closeStore()
	}
}

// retrieverConfig builds domain.RetrieverConfig from the loaded configuration.
func (a *app) retrieverConfig() domain.RetrieverConfig {
	return domain.RetrieverConfig{
		Mode:           domain.RetrievalMode(a.cfg.Retrieval.Mode),
		TopK:           a.cfg.Retrieval.TopK,
		RRFK:           a.cfg.Retrieval.RRFK,
		HydeEnabled:    a.cfg.Retrieval.Hyde,
		HydeModel:      a.cfg.Retrieval.HydeModel,
		EmbeddingModel: a.cfg.Embedding.Model,
	}
}

// assemblerConfig builds domain.AssemblerConfig from the loaded configuration.
func (a *app) assemblerConfig(featureSpec string) domain.AssemblerConfig {
	return domain.AssemblerConfig{
		ScorerModel:          a.cfg.Retrieval.ScorerModel,
		RelevanceThreshold:   a.cfg.Retrieval.RelevanceThreshold,
		TokenBudget:          a.cfg.Retrieval.TokenBudget,
		GenerationModel:      a.cfg.Generation.Model,
		MaxSourceSummaries:   a.cfg.Generation.MaxSourceSummaries,
		ProjectBriefPath:     a.cfg.Project.Brief,
		ProjectBriefMaxToken: a.cfg.Project.BriefMaxTokens,
		FeatureSpec:          featureSpec,
	}
}

// promptYesNo asks a yes/no question on stdin, defaulting to no.
func promptYesNo(question string) bool {
	fmt.Fprintf(os.Stderr, "%s [y/N] ", question)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

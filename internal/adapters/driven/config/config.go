// Package config loads layered YAML configuration: a caller-supplied
// overrides struct, the per-project config file, the global config file,
// and built-in defaults, merged high-to-low precedence. The package reads
// no command-line flags or environment variables itself; any such values
// reach it only through the overrides struct.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/custodia-labs/foundry-rag/internal/core/domain"
)

// ChunkerFamilyConfig is the per-family override under chunkers.<family>.
type ChunkerFamilyConfig struct {
	ChunkSize int     `yaml:"chunk_size"`
	Overlap   float64 `yaml:"overlap"`
	Strategy  string  `yaml:"strategy,omitempty"`
}

// Config is the merged, strictly-typed configuration tree. Sections not
// listed here (unrecognised top-level keys) are preserved in Opaque.
type Config struct {
	Project struct {
		Brief          string `yaml:"brief"`
		BriefMaxTokens int    `yaml:"brief_max_tokens"`
	} `yaml:"project"`

	Embedding struct {
		Model        string `yaml:"model"`
		ContextModel string `yaml:"context_model"`
	} `yaml:"embedding"`

	Generation struct {
		Model              string `yaml:"model"`
		MaxSourceSummaries int    `yaml:"max_source_summaries"`
	} `yaml:"generation"`

	Retrieval struct {
		Mode               string  `yaml:"mode"`
		TopK               int     `yaml:"top_k"`
		RRFK               int     `yaml:"rrf_k"`
		Hyde               bool    `yaml:"hyde"`
		HydeModel          string  `yaml:"hyde_model"`
		ScorerModel        string  `yaml:"scorer_model"`
		RelevanceThreshold int     `yaml:"relevance_threshold"`
		TokenBudget        int     `yaml:"token_budget"`
	} `yaml:"retrieval"`

	Chunkers map[string]ChunkerFamilyConfig `yaml:"chunkers"`

	Ingest struct {
		SummaryModel     string `yaml:"summary_model"`
		SummaryMaxTokens int    `yaml:"summary_max_tokens"`
		AudioModel       string `yaml:"audio_model"`
	} `yaml:"ingest"`

	Opaque map[string]any `yaml:",inline"`
}

// Defaults returns the built-in configuration values, the lowest layer of
// precedence.
func Defaults() Config {
	var c Config
	c.Project.BriefMaxTokens = 2000
	c.Embedding.Model = "openai/text-embedding-3-small"
	c.Embedding.ContextModel = "openai/gpt-4o-mini"
	c.Generation.Model = "openai/gpt-4o"
	c.Generation.MaxSourceSummaries = 5
	c.Retrieval.Mode = "hybrid"
	c.Retrieval.TopK = 10
	c.Retrieval.RRFK = 60
	c.Retrieval.Hyde = false
	c.Retrieval.HydeModel = "openai/gpt-4o-mini"
	c.Retrieval.ScorerModel = "openai/gpt-4o-mini"
	c.Retrieval.RelevanceThreshold = 4
	c.Retrieval.TokenBudget = 8192
	c.Ingest.SummaryModel = "openai/gpt-4o-mini"
	c.Ingest.SummaryMaxTokens = 400
	c.Ingest.AudioModel = "openai/whisper-1"
	c.Chunkers = map[string]ChunkerFamilyConfig{
		"markdown":  {ChunkSize: 512, Overlap: 0.10, Strategy: "heading_aware"},
		"pdf":       {ChunkSize: 400, Overlap: 0.20},
		"epub":      {ChunkSize: 800, Overlap: 0.10},
		"plaintext": {ChunkSize: 512, Overlap: 0.10},
		"json":      {ChunkSize: 300, Overlap: 0},
		"git":       {ChunkSize: 600, Overlap: 0},
		"web":       {ChunkSize: 512, Overlap: 0.10},
		"audio":     {ChunkSize: 512, Overlap: 0.10},
	}
	return c
}

// credentialPattern flags config-file values that look like a secret;
// spec.md requires credentials to come only from the environment.
var credentialPattern = regexp.MustCompile(`(?i)(api[_-]?key|token|secret|password)\s*[:=]`)

// LoadFile reads and safe-parses a YAML config file. It refuses files that
// contain a value shaped like a credential.
func LoadFile(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, nil
		}
		return Config{}, domain.NewError(domain.KindConfiguration, fmt.Sprintf("read config file %s", path), "", err)
	}
	if credentialPattern.Match(raw) {
		return Config{}, domain.NewError(domain.KindConfiguration,
			fmt.Sprintf("config file %s appears to contain a credential", path),
			"remove the credential and set it as an environment variable instead", nil)
	}

	var c Config
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return Config{}, domain.NewError(domain.KindConfiguration, fmt.Sprintf("parse config file %s", path), "check the file is valid YAML", err)
	}
	return c, nil
}

// GlobalPath returns the default global config file location.
func GlobalPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "foundry", "config.yaml")
}

// ProjectPath returns the default per-project config file location,
// relative to projectRoot.
func ProjectPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".foundry", "config.yaml")
}

// Load merges defaults, the global file, the project file, and overrides
// (already resolved from flags+env by the caller) in ascending precedence.
func Load(projectRoot string, overrides Config) (Config, error) {
	cfg := Defaults()

	global, err := LoadFile(GlobalPath())
	if err != nil {
		return Config{}, err
	}
	mergeInto(&cfg, global)

	project, err := LoadFile(ProjectPath(projectRoot))
	if err != nil {
		return Config{}, err
	}
	mergeInto(&cfg, project)

	mergeInto(&cfg, overrides)

	if err := validateBriefPath(cfg.Project.Brief); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// validateBriefPath rejects a URL where a local path is required.
func validateBriefPath(path string) error {
	if path == "" {
		return nil
	}
	for _, scheme := range []string{"http://", "https://", "ftp://"} {
		if len(path) >= len(scheme) && path[:len(scheme)] == scheme {
			return domain.NewError(domain.KindConfiguration,
				"project.brief must be a local file path", "remove the URL scheme; project briefs are never fetched", nil)
		}
	}
	return nil
}

// mergeInto overlays every non-zero field of override onto base.
func mergeInto(base *Config, override Config) {
	if override.Project.Brief != "" {
		base.Project.Brief = override.Project.Brief
	}
	if override.Project.BriefMaxTokens != 0 {
		base.Project.BriefMaxTokens = override.Project.BriefMaxTokens
	}
	if override.Embedding.Model != "" {
		base.Embedding.Model = override.Embedding.Model
	}
	if override.Embedding.ContextModel != "" {
		base.Embedding.ContextModel = override.Embedding.ContextModel
	}
	if override.Generation.Model != "" {
		base.Generation.Model = override.Generation.Model
	}
	if override.Generation.MaxSourceSummaries != 0 {
		base.Generation.MaxSourceSummaries = override.Generation.MaxSourceSummaries
	}
	if override.Retrieval.Mode != "" {
		base.Retrieval.Mode = override.Retrieval.Mode
	}
	if override.Retrieval.TopK != 0 {
		base.Retrieval.TopK = override.Retrieval.TopK
	}
	if override.Retrieval.RRFK != 0 {
		base.Retrieval.RRFK = override.Retrieval.RRFK
	}
	if override.Retrieval.Hyde {
		base.Retrieval.Hyde = true
	}
	if override.Retrieval.HydeModel != "" {
		base.Retrieval.HydeModel = override.Retrieval.HydeModel
	}
	if override.Retrieval.ScorerModel != "" {
		base.Retrieval.ScorerModel = override.Retrieval.ScorerModel
	}
	if override.Retrieval.RelevanceThreshold != 0 {
		base.Retrieval.RelevanceThreshold = override.Retrieval.RelevanceThreshold
	}
	if override.Retrieval.TokenBudget != 0 {
		base.Retrieval.TokenBudget = override.Retrieval.TokenBudget
	}
	if override.Ingest.SummaryModel != "" {
		base.Ingest.SummaryModel = override.Ingest.SummaryModel
	}
	if override.Ingest.SummaryMaxTokens != 0 {
		base.Ingest.SummaryMaxTokens = override.Ingest.SummaryMaxTokens
	}
	if override.Ingest.AudioModel != "" {
		base.Ingest.AudioModel = override.Ingest.AudioModel
	}
	for family, cfg := range override.Chunkers {
		if base.Chunkers == nil {
			base.Chunkers = map[string]ChunkerFamilyConfig{}
		}
		merged := base.Chunkers[family]
		if cfg.ChunkSize != 0 {
			merged.ChunkSize = cfg.ChunkSize
		}
		if cfg.Overlap != 0 {
			merged.Overlap = cfg.Overlap
		}
		if cfg.Strategy != "" {
			merged.Strategy = cfg.Strategy
		}
		base.Chunkers[family] = merged
	}
}

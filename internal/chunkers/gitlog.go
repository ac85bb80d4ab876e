package chunkers

import (
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/custodia-labs/foundry-rag/internal/core/domain"
	"github.com/custodia-labs/foundry-rag/internal/core/ports/driven"
)

// Git chunks a repository by commit: one chunk per non-merge commit,
// containing the commit message and diff --stat output, truncated to
// chunkSize*4 characters. Accepts a local repo path or a remote URL
// (https, http, or git@ SSH), the latter cloned to a 0700 temp dir that
// is always removed before returning.
type Git struct{}

var _ driven.Chunker = Git{}

var gitCredRe = regexp.MustCompile(`(?i)(https?://)([^@/]+@)`)

// sanitiseGitURL strips embedded credentials before the URL can reach a
// log line or error message.
func sanitiseGitURL(u string) string {
	return gitCredRe.ReplaceAllString(u, "$1***@")
}

func (Git) Chunk(sourceID string, raw []byte, hint map[string]any, cfg driven.ChunkerConfig) ([]domain.ChunkDraft, error) {
	location := string(raw)
	if p, ok := hint["path"].(string); ok && p != "" {
		location = p
	}

	repoPath := location
	if isRemoteGitURL(location) {
		cloned, cleanup, err := cloneGitRemote(location)
		if err != nil {
			return nil, err
		}
		defer cleanup()
		repoPath = cloned
	} else {
		info, err := os.Stat(location)
		if err != nil || !info.IsDir() {
			return nil, domain.NewError(domain.KindConfiguration, "locate git repository", "the path must be an existing directory", err)
		}
		if _, err := os.Stat(filepath.Join(location, ".git")); err != nil {
			return nil, domain.NewError(domain.KindConfiguration, "locate git repository", "the directory is not a git repository", nil)
		}
	}

	hashes, err := gitCommitHashes(repoPath)
	if err != nil {
		return nil, err
	}

	ceiling := cfg.ChunkSizeTokens
	if ceiling <= 0 {
		ceiling = 600
	}
	charLimit := ceiling * 4

	var units []string
	var commitMeta []map[string]any
	for _, hash := range hashes {
		text, err := gitCommitText(repoPath, hash)
		if err != nil {
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if len(text) > charLimit {
			text = text[:charLimit]
		}
		units = append(units, text)
		commitMeta = append(commitMeta, map[string]any{"commit": hash})
	}
	if len(units) == 0 {
		return nil, nil
	}

	drafts := make([]domain.ChunkDraft, 0, len(units))
	for i, text := range units {
		drafts = append(drafts, domain.ChunkDraft{Ordinal: i, Text: text, Metadata: commitMeta[i]})
	}
	return drafts, nil
}

func isRemoteGitURL(location string) bool {
	return strings.Contains(location, "://") || strings.HasPrefix(location, "git@")
}

func validateGitURL(rawURL string) error {
	if strings.HasPrefix(rawURL, "git@") {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return domain.NewError(domain.KindConfiguration, "parse git URL", "", err)
	}
	switch parsed.Scheme {
	case "https", "http":
		return nil
	default:
		return domain.NewError(domain.KindConfiguration,
			"unsupported git URL scheme '"+parsed.Scheme+"'", "allowed schemes: https, http, git@", nil)
	}
}

// injectGitToken splices FOUNDRY_GIT_TOKEN into an https/http clone URL,
// in-memory only; the resulting URL is never logged or included in an
// error message.
func injectGitToken(rawURL string) string {
	token := os.Getenv("FOUNDRY_GIT_TOKEN")
	if token == "" || !(strings.HasPrefix(rawURL, "https://") || strings.HasPrefix(rawURL, "http://")) {
		return rawURL
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	parsed.User = url.User(token)
	return parsed.String()
}

func cloneGitRemote(rawURL string) (dir string, cleanup func(), err error) {
	if err := validateGitURL(rawURL); err != nil {
		return "", nil, err
	}
	cloneURL := injectGitToken(rawURL)

	tmpdir, err := os.MkdirTemp("", "foundry-git-*")
	if err != nil {
		return "", nil, domain.NewError(domain.KindConfiguration, "create temp directory for git clone", "", err)
	}
	if err := os.Chmod(tmpdir, 0o700); err != nil {
		os.RemoveAll(tmpdir)
		return "", nil, domain.NewError(domain.KindConfiguration, "set permissions on temp clone directory", "", err)
	}
	cleanup = func() { os.RemoveAll(tmpdir) }

	cmd := exec.Command("git", "clone", "--", cloneURL, tmpdir)
	out, err := cmd.CombinedOutput()
	if err != nil {
		cleanup()
		return "", nil, domain.NewError(domain.KindConfiguration,
			"git clone failed for "+sanitiseGitURL(rawURL),
			sanitiseGitURL(string(out)), nil)
	}
	return tmpdir, cleanup, nil
}

func gitCommitHashes(repoPath string) ([]string, error) {
	cmd := exec.Command("git", "log", "--format=%H", "--no-merges")
	cmd.Dir = repoPath
	out, err := cmd.Output()
	if err != nil {
		return nil, domain.NewError(domain.KindConfiguration, "list git commits", "", err)
	}
	var hashes []string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			hashes = append(hashes, line)
		}
	}
	return hashes, nil
}

func gitCommitText(repoPath, hash string) (string, error) {
	format := "commit %H%n%nAuthor: %an <%ae>%nDate: %ad%n%nSubject: %s%n%n%b"
	cmd := exec.Command("git", "show", "--stat", "--format="+format, hash)
	cmd.Dir = repoPath
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}

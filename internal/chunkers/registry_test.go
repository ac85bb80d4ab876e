package chunkers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectFamily_ByExtension(t *testing.T) {
	cases := map[string]string{
		"notes.md":       FamilyMarkdown,
		"notes.markdown": FamilyMarkdown,
		"report.pdf":     FamilyPDF,
		"book.epub":      FamilyEPUB,
		"data.json":      FamilyJSON,
		"readme.txt":     FamilyPlainText,
		"clip.mp3":       FamilyAudio,
		"clip.wav":       FamilyAudio,
		"unknown.xyz":    FamilyPlainText,
	}
	for path, want := range cases {
		assert.Equal(t, want, DetectFamily(path, ""), path)
	}
}

func TestDetectFamily_ByURL(t *testing.T) {
	assert.Equal(t, FamilyWeb, DetectFamily("https://example.com/page", ""))
	assert.Equal(t, FamilyWeb, DetectFamily("http://example.com/page", ""))
	assert.Equal(t, FamilyGit, DetectFamily("git@github.com:owner/repo.git", ""))
	assert.Equal(t, FamilyGit, DetectFamily("ssh://git@example.com/repo.git", ""))
}

func TestDetectFamily_ExplicitOverride(t *testing.T) {
	assert.Equal(t, "git", DetectFamily("./some/local/checkout", "git"))
}

func TestNewRegistry_Lookup(t *testing.T) {
	audio := Audio{}
	reg := NewRegistry(audio)

	for _, family := range []string{FamilyMarkdown, FamilyPDF, FamilyEPUB, FamilyPlainText, FamilyJSON, FamilyGit, FamilyWeb, FamilyAudio} {
		c, ok := reg.Lookup(family)
		require.True(t, ok, family)
		assert.NotNil(t, c)
	}

	_, ok := reg.Lookup("nonexistent")
	assert.False(t, ok)
}

func TestNewRegistry_AudioIsInjected(t *testing.T) {
	audio := Audio{Model: "openai/whisper-1"}
	reg := NewRegistry(audio)

	c, ok := reg.Lookup(FamilyAudio)
	require.True(t, ok)
	got, ok := c.(Audio)
	require.True(t, ok)
	assert.Equal(t, "openai/whisper-1", got.Model)
}

package chunkers

import (
	"context"
	"fmt"

	"github.com/custodia-labs/foundry-rag/internal/core/domain"
	"github.com/custodia-labs/foundry-rag/internal/core/ports/driven"
)

// audioMaxBytes caps the audio payload sent for transcription; larger
// files are refused before any network call.
const audioMaxBytes = 25 << 20

// Audio hands raw audio bytes to a transcription-capable Gateway and
// chunks the resulting transcript like plain text.
type Audio struct {
	Gateway driven.Gateway
	Model   string
	Ctx     context.Context
}

var _ driven.Chunker = Audio{}

func (a Audio) Chunk(sourceID string, raw []byte, hint map[string]any, cfg driven.ChunkerConfig) ([]domain.ChunkDraft, error) {
	filename := sourceID
	if name, ok := hint["filename"].(string); ok && name != "" {
		filename = name
	}
	if len(raw) > audioMaxBytes {
		return nil, domain.NewError(domain.KindConfiguration,
			fmt.Sprintf("audio file %s is %d bytes, over the %d-byte limit", filename, len(raw), audioMaxBytes),
			"split or compress the recording before ingesting it", nil)
	}

	ctx := a.Ctx
	if ctx == nil {
		ctx = context.Background()
	}

	transcript, err := a.Gateway.Transcribe(ctx, a.Model, raw, filename)
	if err != nil {
		return nil, err
	}
	return PlainTextChunks(transcript, cfg, 0)
}

package openai

import (
	"bytes"
	"io"

	"github.com/openai/openai-go"
)

// newAudioFile adapts an in-memory audio blob to the multipart file
// parameter the transcription endpoint expects.
func newAudioFile(audio []byte, filename string) io.Reader {
	return openai.File(bytes.NewReader(audio), filename, "application/octet-stream")
}

// Package tts converts summary text to MP3 speech.
package tts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	htgotts "github.com/hegedustibor/htgo-tts"
)

// chunkLimit is the longest text the speech endpoint accepts per request.
const chunkLimit = 200

// Synthesizer renders text to MP3 via the Google speech endpoint.
// Chunk files are written under workDir and removed after each call.
type Synthesizer struct {
	workDir string
}

func NewSynthesizer(workDir string) *Synthesizer {
	return &Synthesizer{workDir: workDir}
}

// Synthesize renders text in the given language ("en", "es", ...) and
// returns the concatenated MP3 bytes. Longer texts are split into
// chunks at word boundaries; the resulting MP3 frames concatenate into
// a single playable stream.
func (s *Synthesizer) Synthesize(ctx context.Context, text, lang string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("tts: empty text")
	}
	if lang == "" {
		lang = "en"
	}
	if err := os.MkdirAll(s.workDir, 0755); err != nil {
		return nil, fmt.Errorf("create tts work dir: %w", err)
	}

	speech := htgotts.Speech{Folder: s.workDir, Language: lang}

	var out []byte
	for i, chunk := range splitChunks(text, chunkLimit) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := fmt.Sprintf("chunk_%d_%d", os.Getpid(), i)
		path, err := speech.CreateSpeechFile(chunk, name)
		if err != nil {
			return nil, fmt.Errorf("synthesize chunk %d: %w", i, err)
		}
		data, err := os.ReadFile(path)
		os.Remove(path)
		if err != nil {
			return nil, fmt.Errorf("read chunk %d: %w", i, err)
		}
		out = append(out, data...)
	}
	return out, nil
}

// splitChunks breaks text into pieces no longer than limit, splitting
// at word boundaries. A single word longer than limit is cut hard.
func splitChunks(text string, limit int) []string {
	var chunks []string
	var cur strings.Builder

	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
	}

	for _, word := range strings.Fields(text) {
		for len(word) > limit {
			flush()
			chunks = append(chunks, word[:limit])
			word = word[limit:]
		}
		if cur.Len() > 0 && cur.Len()+1+len(word) > limit {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(word)
	}
	flush()
	return chunks
}

// Package assistant orchestrates documents, summaries, chat and audio
// on top of the database, the blob store and the external AI services.
package assistant

import (
	"context"
	"database/sql"
	"io"
	"log"

	"docbrief/internal/drive"
)

// summarizerProvider keys per-user API credentials in the apiKeys table.
const summarizerProvider = "gemini"

// Summarizer is a prompt-in, text-out generative model.
type Summarizer interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// SummarizerFactory builds a Summarizer bound to one API key, so each
// request can run under the caller's own credentials.
type SummarizerFactory func(ctx context.Context, apiKey string) (Summarizer, error)

// BlobStore is the remote file store documents migrate to.
type BlobStore interface {
	Ready() bool
	UploadPath(ctx context.Context, path string) (*drive.StoredFile, error)
	UploadBytes(ctx context.Context, name string, r io.Reader) (*drive.StoredFile, error)
	Download(ctx context.Context, fileID string) ([]byte, error)
}

// SpeechSynthesizer renders text to MP3 bytes.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text, lang string) ([]byte, error)
}

// Service handles user lifecycle, document storage and the summary flows.
type Service struct {
	db            *sql.DB
	blobs         BlobStore
	speech        SpeechSynthesizer
	newSummarizer SummarizerFactory
	defaultAPIKey string
	cipher        *tokenCipher
}

// NewService builds a new assistant service. defaultAPIKey is used for
// users that have not stored a key of their own; it may be empty, in
// which case every user must store one.
func NewService(db *sql.DB, blobs BlobStore, speech SpeechSynthesizer, factory SummarizerFactory, defaultAPIKey string) *Service {
	cipher, err := newTokenCipherFromEnv()
	if err != nil {
		log.Printf("api key cipher unavailable: %v", err)
	}
	return &Service{
		db:            db,
		blobs:         blobs,
		speech:        speech,
		newSummarizer: factory,
		defaultAPIKey: defaultAPIKey,
		cipher:        cipher,
	}
}

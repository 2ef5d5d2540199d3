package assistant

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"docbrief/internal/extract"
	"docbrief/internal/models"
)

var (
	// ErrNoDocuments means the id set resolved to nothing the user owns.
	ErrNoDocuments = errors.New("no documents found")
	// ErrNoReadableText means extraction produced only whitespace, so no
	// summarizer call was made.
	ErrNoReadableText = errors.New("no readable text could be extracted")
	// ErrEmptySummary means the session's summary has no speakable text.
	ErrEmptySummary = errors.New("summary text is empty")
)

// summaryCharBudget caps the document text embedded in the prompt,
// counted in runes.
const summaryCharBudget = 12000

// chatNoReply stands in for an empty model response on a chat turn.
const chatNoReply = "No response."

const summaryPromptTemplate = `You are a professional document analyst.
Summarize the following document(s) into a **highly detailed, well-structured Markdown report**.

IMPORTANT:
- Use clear markdown headers: ` + "`### 1. Overview`, `### 2. Important Details`" + `, etc.
- Always use bullet points (` + "`- ...`" + `) for lists, never long paragraphs.
- Highlight key terms/dates/names in **bold**.
- Add line breaks between sections for readability.

Your output MUST strictly follow this structure:

### 1. Overview
(2-4 sentences max, in plain text.)

### 2. Important Details
- **Clause/Instruction** -> explanation
- **Date/Name/Number** -> explanation
- (Continue listing EVERYTHING important)

### 3. Context & Purpose
- Why the document exists
- Who it is for
- How it is used

### 4. Implications
- **Rule broken** -> consequence
- **Missed requirement** -> penalty

### 5. Extra Observations
- Errors, missing parts, inconsistencies
- Anything unusual or noteworthy

### 6. Verbatim Quotes
- "Copy key phrases here"
- "Use exact wording from the text"

---
Document Content:
%s`

const chatPromptTemplate = `Context:
%s

User Question:
%s`

// Summarize runs the full pipeline over the given document ids and
// creates one summary session on success.
func (s *Service) Summarize(ctx context.Context, userID int64, docIDs []int64) (*models.SummarySession, error) {
	docs, err := s.GetDocumentsByIDs(ctx, userID, docIDs)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrNoDocuments
	}

	// A document that cannot be fetched or decoded contributes a
	// diagnostic line instead of aborting the batch.
	var combined strings.Builder
	for _, doc := range docs {
		var text string
		data, err := s.documentBytes(ctx, doc)
		if err != nil {
			text = fmt.Sprintf("ERROR extracting text from %s: %v", doc.FileName, err)
		} else {
			text = extract.Extract(data, doc.FileName).String()
		}
		combined.WriteString(text)
		combined.WriteString("\n\n")
	}

	body := strings.TrimSpace(combined.String())
	if body == "" {
		return nil, ErrNoReadableText
	}
	body = truncateRunes(body, summaryCharBudget)

	summarizer, err := s.summarizerFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	summary, err := summarizer.Generate(ctx, fmt.Sprintf(summaryPromptTemplate, body))
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(summary) == "" {
		return nil, errors.New("summarizer returned no summary")
	}

	first := docs[0]
	title := fmt.Sprintf("Summary of \"%s\"", filepath.Base(first.FileName))
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO summary_sessions (user_id, document_id, title, summary_text, created_at) VALUES (?, ?, ?, ?, ?)`,
		userID, first.ID, title, summary, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("session id: %w", err)
	}
	return &models.SummarySession{
		ID:          id,
		UserID:      userID,
		DocumentID:  first.ID,
		Title:       title,
		SummaryText: summary,
		CreatedAt:   now,
	}, nil
}

// Chat appends a question/reply pair to an existing session.
func (s *Service) Chat(ctx context.Context, userID, sessionID int64, query string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", errors.New("query cannot be empty")
	}
	session, err := s.getSession(ctx, userID, sessionID)
	if err != nil {
		return "", err
	}

	summarizer, err := s.summarizerFor(ctx, userID)
	if err != nil {
		return "", err
	}
	reply, err := summarizer.Generate(ctx, fmt.Sprintf(chatPromptTemplate, session.SummaryText, query))
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(reply) == "" {
		reply = chatNoReply
	}

	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO summary_messages (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, models.RoleUser, query, now,
	); err != nil {
		return "", fmt.Errorf("store query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO summary_messages (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, models.RoleAssistant, reply, now,
	); err != nil {
		return "", fmt.Errorf("store reply: %w", err)
	}
	return reply, nil
}

// NarrationResult is the outcome of a narration request.
type NarrationResult struct {
	AudioURL  string `json:"audio_url"`
	Narration string `json:"narration"`
}

// Narrate renders a session's summary to speech and uploads the MP3 to
// the blob store.
func (s *Service) Narrate(ctx context.Context, userID, sessionID int64, lang string) (*NarrationResult, error) {
	if lang == "" {
		lang = "en"
	}
	session, err := s.getSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	narration := strings.ReplaceAll(session.SummaryText, "**", "")
	narration = strings.TrimSpace(strings.ReplaceAll(narration, "#", ""))
	if narration == "" {
		return nil, ErrEmptySummary
	}

	audio, err := s.speech.Synthesize(ctx, narration, lang)
	if err != nil {
		return nil, fmt.Errorf("failed to generate audio summary: %w", err)
	}
	if s.blobs == nil || !s.blobs.Ready() {
		return nil, fmt.Errorf("failed to generate audio summary: blob store not available")
	}
	name := fmt.Sprintf("audio_summary_user_%d_session_%d_%s.mp3", userID, sessionID, lang)
	stored, err := s.blobs.UploadBytes(ctx, name, bytes.NewReader(audio))
	if err != nil {
		return nil, fmt.Errorf("failed to generate audio summary: %w", err)
	}
	return &NarrationResult{AudioURL: stored.ViewLink, Narration: narration}, nil
}

// ListSessions returns the user's sessions newest first, each with its
// ordered message history.
func (s *Service) ListSessions(ctx context.Context, userID int64) ([]*models.SummarySession, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, document_id, title, summary_text, created_at
		 FROM summary_sessions WHERE user_id = ? ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.SummarySession
	for rows.Next() {
		sess := new(models.SummarySession)
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.DocumentID, &sess.Title, &sess.SummaryText, &sess.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, sess := range sessions {
		msgs, err := s.sessionMessages(ctx, sess.ID)
		if err != nil {
			return nil, err
		}
		sess.Messages = msgs
	}
	return sessions, nil
}

func (s *Service) getSession(ctx context.Context, userID, sessionID int64) (*models.SummarySession, error) {
	session := new(models.SummarySession)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, document_id, title, summary_text, created_at
		 FROM summary_sessions WHERE id = ? AND user_id = ?`,
		sessionID, userID,
	).Scan(&session.ID, &session.UserID, &session.DocumentID, &session.Title, &session.SummaryText, &session.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

func (s *Service) sessionMessages(ctx context.Context, sessionID int64) ([]*models.SummaryMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, created_at
		 FROM summary_messages WHERE session_id = ? ORDER BY id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var msgs []*models.SummaryMessage
	for rows.Next() {
		m := new(models.SummaryMessage)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *Service) summarizerFor(ctx context.Context, userID int64) (Summarizer, error) {
	key, err := s.resolveAPIKey(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.newSummarizer(ctx, key)
}

func truncateRunes(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}

package models

import "time"

// SummarySession is one summarization result plus its follow-up chat thread.
// SummaryText is immutable after creation; chat only appends messages.
type SummarySession struct {
	ID          int64             `json:"id"`
	UserID      int64             `json:"user_id"`
	DocumentID  int64             `json:"document_id"`
	Title       string            `json:"title"`
	SummaryText string            `json:"summary_text"`
	CreatedAt   time.Time         `json:"created_at"`
	Messages    []*SummaryMessage `json:"messages,omitempty"`
}

package models

import "time"

// Document is a user-uploaded file. It starts as a local copy under the
// upload directory; a successful migration to the blob store sets
// DriveFileID and the share links and clears StoredPath. The transition is
// one-way and never retried automatically.
type Document struct {
	ID             int64     `json:"id"`
	UserID         int64     `json:"user_id"`
	FileName       string    `json:"file_name"`
	StoredPath     string    `json:"-"`
	DriveFileID    string    `json:"drive_file_id,omitempty"`
	FileURL        string    `json:"file_url,omitempty"`
	WebContentLink string    `json:"web_content_link,omitempty"`
	UploadedAt     time.Time `json:"uploaded_at"`
}

// Remote reports whether the document content lives in the blob store.
// Reads must prefer the remote copy once this is true.
func (d *Document) Remote() bool {
	return d.DriveFileID != ""
}

package assistant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"docbrief/internal/models"
)

// RecordDocument persists a freshly uploaded, locally stored document.
func (s *Service) RecordDocument(ctx context.Context, userID int64, fileName, storedPath string) (*models.Document, error) {
	if userID <= 0 {
		return nil, errors.New("user_id is required")
	}
	fileName = strings.TrimSpace(fileName)
	if fileName == "" {
		return nil, errors.New("file name is required")
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (user_id, file_name, stored_path, uploaded_at) VALUES (?, ?, ?, ?)`,
		userID, fileName, storedPath, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("document id: %w", err)
	}
	return &models.Document{
		ID:         id,
		UserID:     userID,
		FileName:   fileName,
		StoredPath: storedPath,
		UploadedAt: now,
	}, nil
}

// ListDocuments returns all documents owned by the user, newest first.
func (s *Service) ListDocuments(ctx context.Context, userID int64) ([]*models.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, file_name, stored_path, drive_file_id, file_url, web_content_link, uploaded_at
		 FROM documents WHERE user_id = ? ORDER BY uploaded_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// GetDocumentsByIDs resolves the id set to documents owned by the user,
// in ascending id order. IDs that do not exist or belong to someone
// else are silently skipped.
func (s *Service) GetDocumentsByIDs(ctx context.Context, userID int64, ids []int64) ([]*models.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, userID)
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, file_name, stored_path, drive_file_id, file_url, web_content_link, uploaded_at
		 FROM documents WHERE user_id = ? AND id IN (`+placeholders+`) ORDER BY id ASC`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("resolve documents: %w", err)
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// MigrateToDrive moves a locally stored document to the blob store.
// On success the local copy is removed and the record keeps only the
// remote reference. The transition is one-way and never retried by the
// caller; a document left local stays local until the next explicit
// migration attempt.
func (s *Service) MigrateToDrive(ctx context.Context, doc *models.Document) error {
	if doc.Remote() {
		return nil
	}
	if doc.StoredPath == "" {
		return errors.New("document has no local copy")
	}
	if s.blobs == nil || !s.blobs.Ready() {
		return errors.New("blob store not available")
	}

	stored, err := s.blobs.UploadPath(ctx, doc.StoredPath)
	if err != nil {
		return fmt.Errorf("upload document %d: %w", doc.ID, err)
	}

	localPath := doc.StoredPath
	_, err = s.db.ExecContext(ctx,
		`UPDATE documents SET drive_file_id = ?, file_url = ?, web_content_link = ?, stored_path = '' WHERE id = ?`,
		stored.ID, stored.ViewLink, stored.ContentLink, doc.ID,
	)
	if err != nil {
		return fmt.Errorf("record migration %d: %w", doc.ID, err)
	}

	doc.DriveFileID = stored.ID
	doc.FileURL = stored.ViewLink
	doc.WebContentLink = stored.ContentLink
	doc.StoredPath = ""

	if err := os.Remove(localPath); err != nil && !os.IsNotExist(err) {
		log.Printf("remove migrated file %s: %v", localPath, err)
	}
	return nil
}

// documentBytes fetches the raw content of one document, preferring
// the remote copy.
func (s *Service) documentBytes(ctx context.Context, doc *models.Document) ([]byte, error) {
	if doc.Remote() && s.blobs != nil && s.blobs.Ready() {
		return s.blobs.Download(ctx, doc.DriveFileID)
	}
	if doc.StoredPath == "" {
		return nil, fmt.Errorf("document %d has no readable copy", doc.ID)
	}
	data, err := os.ReadFile(doc.StoredPath)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", doc.StoredPath, err)
	}
	return data, nil
}

func scanDocument(rows *sql.Rows) (*models.Document, error) {
	doc := new(models.Document)
	if err := rows.Scan(&doc.ID, &doc.UserID, &doc.FileName, &doc.StoredPath,
		&doc.DriveFileID, &doc.FileURL, &doc.WebContentLink, &doc.UploadedAt); err != nil {
		return nil, fmt.Errorf("scan document: %w", err)
	}
	return doc, nil
}

package assistant

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"docbrief/internal/models"
)

// RegisterUser creates a user with the supplied credentials.
func (s *Service) RegisterUser(ctx context.Context, username, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	password = strings.TrimSpace(password)
	if username == "" || password == "" {
		return nil, errors.New("username and password are required")
	}

	hash := hashPassword(password)
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, password_hash, created_at) VALUES (?, ?, ?)`,
		username, hash, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("user id: %w", err)
	}
	return &models.User{ID: id, Username: username, PasswordHash: hash, CreatedAt: now}, nil
}

// Login validates credentials and returns the user profile.
func (s *Service) Login(ctx context.Context, username, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	password = strings.TrimSpace(password)
	if username == "" || password == "" {
		return nil, errors.New("username and password are required")
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, created_at FROM users WHERE username = ?`, username,
	)
	var user models.User
	if err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.New("invalid credentials")
		}
		return nil, fmt.Errorf("query user: %w", err)
	}

	if user.PasswordHash != hashPassword(password) {
		return nil, errors.New("invalid credentials")
	}
	return &user, nil
}

// DeleteUser removes a user and cascaded data.
func (s *Service) DeleteUser(ctx context.Context, id int64) error {
	if id <= 0 {
		return errors.New("invalid user id")
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func hashPassword(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// SetUserToken encrypts and stores a summarizer API key for the user.
func (s *Service) SetUserToken(ctx context.Context, userID int64, token string) error {
	if userID <= 0 {
		return errors.New("invalid user id")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("token is required")
	}
	if s.cipher == nil {
		return fmt.Errorf("%s not set", apiTokenKeyEnv)
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = ?)`, userID).Scan(&exists); err != nil {
		return fmt.Errorf("verify user: %w", err)
	}
	if !exists {
		return errors.New("user not found")
	}

	sealed, err := s.cipher.Encrypt(token)
	if err != nil {
		return fmt.Errorf("encrypt token: %w", err)
	}
	// delete-then-insert instead of ON CONFLICT: the upsert syntax
	// differs between the sqlite and mysql drivers
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store token: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM apiKeys WHERE user_id = ? AND provider = ?`,
		userID, summarizerProvider,
	); err != nil {
		return fmt.Errorf("store token: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO apiKeys (user_id, provider, api_key, created_at) VALUES (?, ?, ?, ?)`,
		userID, summarizerProvider, sealed, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("store token: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store token: %w", err)
	}
	return nil
}

// HasUserToken returns the decrypted API key stored for the user, or
// empty when none is stored.
func (s *Service) HasUserToken(ctx context.Context, userID int64) (string, error) {
	if userID <= 0 {
		return "", errors.New("invalid user id")
	}
	var sealed string
	err := s.db.QueryRowContext(ctx,
		`SELECT api_key FROM apiKeys WHERE user_id = ? AND provider = ? LIMIT 1`,
		userID, summarizerProvider,
	).Scan(&sealed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("lookup api token: %w", err)
	}
	if s.cipher == nil {
		return "", fmt.Errorf("%s not set", apiTokenKeyEnv)
	}
	return s.cipher.Decrypt(sealed)
}

// DeleteUserToken removes the stored API key for the user.
func (s *Service) DeleteUserToken(ctx context.Context, userID int64) error {
	if userID <= 0 {
		return errors.New("invalid user id")
	}
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM apiKeys WHERE user_id = ? AND provider = ?`, userID, summarizerProvider)
	if err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return errors.New("token not found")
	}
	return nil
}

// resolveAPIKey returns the user's own key when stored, otherwise the
// process-wide default.
func (s *Service) resolveAPIKey(ctx context.Context, userID int64) (string, error) {
	key, err := s.HasUserToken(ctx, userID)
	if err != nil {
		return "", err
	}
	if key == "" {
		key = s.defaultAPIKey
	}
	if key == "" {
		return "", errors.New("summarizer api key not configured")
	}
	return key, nil
}

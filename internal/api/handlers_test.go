package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"docbrief/internal/auth"
	"docbrief/internal/config"
	"docbrief/internal/drive"
	"docbrief/internal/service/assistant"
	"docbrief/internal/storage"
	"docbrief/internal/worker"
)

type stubSummarizer struct {
	reply string
}

func (s *stubSummarizer) Generate(_ context.Context, prompt string) (string, error) {
	if s.reply != "" {
		return s.reply, nil
	}
	return "### 1. Overview\nStub summary.", nil
}

type stubBlobStore struct {
	files  map[string][]byte
	nextID int
	ready  bool
}

func (s *stubBlobStore) Ready() bool { return s.ready }

func (s *stubBlobStore) put(data []byte) *drive.StoredFile {
	s.nextID++
	id := fmt.Sprintf("stub-%d", s.nextID)
	s.files[id] = data
	return &drive.StoredFile{
		ID:          id,
		ViewLink:    "https://blobs.test/view/" + id,
		ContentLink: "https://blobs.test/dl/" + id,
	}
}

func (s *stubBlobStore) UploadPath(_ context.Context, path string) (*drive.StoredFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return s.put(data), nil
}

func (s *stubBlobStore) UploadBytes(_ context.Context, _ string, r io.Reader) (*drive.StoredFile, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return s.put(data), nil
}

func (s *stubBlobStore) Download(_ context.Context, id string) ([]byte, error) {
	data, ok := s.files[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return data, nil
}

type stubSpeech struct{}

func (s *stubSpeech) Synthesize(_ context.Context, _, _ string) ([]byte, error) {
	return []byte("mp3"), nil
}

func TestHandlersEndToEndFlow(t *testing.T) {
	router, db := newTestServer(t)
	defer db.Close()

	userID, authHeader := registerAndLogin(t, router)

	// Upload a text document; the stub blob store is ready, so it
	// migrates immediately.
	upResp := doUpload(t, router, userID, "report.txt", []byte("annual revenue details"), authHeader)
	assertStatus(t, upResp, http.StatusCreated)
	var upBody struct {
		Document struct {
			ID       int64  `json:"id"`
			FileName string `json:"file_name"`
		} `json:"document"`
		Remote      bool `json:"remote"`
		Extractable bool `json:"extractable"`
	}
	decodeJSON(t, upResp.Body.Bytes(), &upBody)
	if upBody.Document.ID <= 0 {
		t.Fatal("expected document id")
	}
	if !upBody.Remote {
		t.Error("expected document to migrate to the blob store")
	}
	if !upBody.Extractable {
		t.Error("txt should be extractable")
	}

	// Disallowed extension is rejected.
	badResp := doUpload(t, router, userID, "tool.exe", []byte{0x4d, 0x5a}, authHeader)
	assertStatus(t, badResp, http.StatusBadRequest)
	if !strings.Contains(badResp.Body.String(), ".exe") {
		t.Errorf("error should name the extension: %s", badResp.Body.String())
	}

	// Images are accepted but flagged non-extractable (OCR placeholder only).
	imgResp := doUpload(t, router, userID, "scan.png", []byte{0x89, 0x50, 0x4e, 0x47}, authHeader)
	assertStatus(t, imgResp, http.StatusCreated)
	var imgBody struct {
		Extractable bool `json:"extractable"`
	}
	decodeJSON(t, imgResp.Body.Bytes(), &imgBody)
	if imgBody.Extractable {
		t.Error("png upload should not be extractable")
	}

	// List documents.
	listResp := doJSONRequest(t, router, http.MethodGet,
		fmt.Sprintf("/api/users/%d/documents", userID), nil, authHeader)
	assertStatus(t, listResp, http.StatusOK)
	var listBody struct {
		Documents []struct {
			ID int64 `json:"id"`
		} `json:"documents"`
	}
	decodeJSON(t, listResp.Body.Bytes(), &listBody)
	if len(listBody.Documents) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(listBody.Documents))
	}

	// Summarize the uploaded document.
	sumResp := doJSONRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/users/%d/summaries", userID),
		map[string]any{"files": []int64{upBody.Document.ID}},
		authHeader)
	assertStatus(t, sumResp, http.StatusOK)
	var sumBody struct {
		SessionID int64  `json:"session_id"`
		Title     string `json:"title"`
		Summary   string `json:"summary"`
	}
	decodeJSON(t, sumResp.Body.Bytes(), &sumBody)
	if sumBody.SessionID <= 0 {
		t.Fatal("expected session id")
	}
	if sumBody.Title != `Summary of "report.txt"` {
		t.Errorf("unexpected title %q", sumBody.Title)
	}
	if sumBody.Summary == "" {
		t.Error("expected summary text")
	}

	// Chat over the summary.
	chatResp := doJSONRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/users/%d/summaries/%d/chat", userID, sumBody.SessionID),
		map[string]string{"query": "what is the revenue?"},
		authHeader)
	assertStatus(t, chatResp, http.StatusOK)
	var chatBody struct {
		Reply string `json:"reply"`
	}
	decodeJSON(t, chatResp.Body.Bytes(), &chatBody)
	if chatBody.Reply == "" {
		t.Error("expected chat reply")
	}
	if n := countMessages(t, db, sumBody.SessionID); n != 2 {
		t.Errorf("expected 2 messages, got %d", n)
	}

	// Empty query is rejected before any messages are stored.
	emptyResp := doJSONRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/users/%d/summaries/%d/chat", userID, sumBody.SessionID),
		map[string]string{"query": "  "},
		authHeader)
	assertStatus(t, emptyResp, http.StatusBadRequest)

	// Chat on a nonexistent session.
	missingResp := doJSONRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/users/%d/summaries/99999/chat", userID),
		map[string]string{"query": "anyone there?"},
		authHeader)
	assertStatus(t, missingResp, http.StatusNotFound)

	// Narrate the summary.
	audioResp := doJSONRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/users/%d/summaries/%d/audio", userID, sumBody.SessionID),
		map[string]string{"language": "en"},
		authHeader)
	assertStatus(t, audioResp, http.StatusOK)
	var audioBody struct {
		AudioURL  string `json:"audio_url"`
		Narration string `json:"narration"`
	}
	decodeJSON(t, audioResp.Body.Bytes(), &audioBody)
	if !strings.HasPrefix(audioBody.AudioURL, "https://blobs.test/view/") {
		t.Errorf("unexpected audio url %q", audioBody.AudioURL)
	}
	if strings.Contains(audioBody.Narration, "###") || strings.Contains(audioBody.Narration, "**") {
		t.Errorf("narration kept markdown: %q", audioBody.Narration)
	}

	// List summaries with nested messages.
	sessResp := doJSONRequest(t, router, http.MethodGet,
		fmt.Sprintf("/api/users/%d/summaries", userID), nil, authHeader)
	assertStatus(t, sessResp, http.StatusOK)
	var sessBody struct {
		Sessions []struct {
			ID       int64 `json:"id"`
			Messages []struct {
				Role string `json:"role"`
			} `json:"messages"`
		} `json:"sessions"`
	}
	decodeJSON(t, sessResp.Body.Bytes(), &sessBody)
	if len(sessBody.Sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessBody.Sessions))
	}
	if len(sessBody.Sessions[0].Messages) != 2 {
		t.Errorf("expected nested messages, got %d", len(sessBody.Sessions[0].Messages))
	}

	// Logout revokes the token.
	logoutResp := doJSONRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/users/%d/logout", userID), nil, authHeader)
	assertStatus(t, logoutResp, http.StatusNoContent)
	staleResp := doJSONRequest(t, router, http.MethodGet,
		fmt.Sprintf("/api/users/%d/documents", userID), nil, authHeader)
	assertStatus(t, staleResp, http.StatusUnauthorized)
}

func TestSummarizeUnknownDocuments(t *testing.T) {
	router, db := newTestServer(t)
	defer db.Close()

	userID, authHeader := registerAndLogin(t, router)
	resp := doJSONRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/users/%d/summaries", userID),
		map[string]any{"files": []int64{12345}},
		authHeader)
	assertStatus(t, resp, http.StatusNotFound)
}

func TestUserMismatchForbidden(t *testing.T) {
	router, db := newTestServer(t)
	defer db.Close()

	userID, authHeader := registerAndLogin(t, router)
	resp := doJSONRequest(t, router, http.MethodGet,
		fmt.Sprintf("/api/users/%d/documents", userID+1), nil, authHeader)
	assertStatus(t, resp, http.StatusForbidden)
}

func newTestServer(t *testing.T) (*gin.Engine, *sql.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
	}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}

	blobs := &stubBlobStore{files: map[string][]byte{}, ready: true}
	factory := func(context.Context, string) (assistant.Summarizer, error) {
		return &stubSummarizer{}, nil
	}
	asst := assistant.NewService(db, blobs, &stubSpeech{}, factory, "test-key")
	authSvc := auth.NewService(db, nil, time.Hour)
	jobs := worker.NewDispatcher(1, 2, 16, time.Minute)
	handler := NewHandler(asst, authSvc, jobs, t.TempDir(), 10<<20)

	router := gin.New()
	handler.RegisterRoutes(router)
	return router, db
}

func registerAndLogin(t *testing.T, router *gin.Engine) (int64, map[string]string) {
	t.Helper()
	username := fmt.Sprintf("tester_%d", time.Now().UnixNano())

	regResp := doJSONRequest(t, router, http.MethodPost, "/api/users/register", map[string]string{
		"username": username,
		"password": "pass123",
	}, nil)
	assertStatus(t, regResp, http.StatusCreated)
	var regBody struct {
		ID int64 `json:"id"`
	}
	decodeJSON(t, regResp.Body.Bytes(), &regBody)

	loginResp := doJSONRequest(t, router, http.MethodPost, "/api/users/login", map[string]string{
		"username": username,
		"password": "pass123",
	}, nil)
	assertStatus(t, loginResp, http.StatusOK)
	var loginBody struct {
		AuthToken string `json:"auth_token"`
	}
	decodeJSON(t, loginResp.Body.Bytes(), &loginBody)
	if loginBody.AuthToken == "" {
		t.Fatal("expected auth token from login")
	}
	return regBody.ID, map[string]string{"Authorization": "Bearer " + loginBody.AuthToken}
}

func doJSONRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func doUpload(t *testing.T, router *gin.Engine, userID int64, filename string, content []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close form: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/users/%d/documents", userID), &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode json: %v", err)
	}
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("unexpected status %d, body: %s", rec.Code, rec.Body.String())
	}
}

func countMessages(t *testing.T, db *sql.DB, sessionID int64) int {
	t.Helper()
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM summary_messages WHERE session_id = ?`, sessionID).Scan(&count); err != nil {
		t.Fatalf("count messages: %v", err)
	}
	return count
}

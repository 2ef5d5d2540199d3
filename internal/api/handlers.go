package api

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"docbrief/internal/auth"
	"docbrief/internal/extract"
	"docbrief/internal/models"
	"docbrief/internal/service/assistant"
	"docbrief/internal/worker"
)

// Handler wires HTTP routes to the assistant service and runs the
// AI-bound flows through the job dispatcher.
type Handler struct {
	assistant *assistant.Service
	auth      *auth.Service
	jobs      *worker.Dispatcher
	fileBase  string
	maxUpload int64
}

// NewHandler constructs a Handler instance.
func NewHandler(service *assistant.Service, authService *auth.Service, jobs *worker.Dispatcher, fileBase string, maxUploadBytes int64) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 << 20
	}
	return &Handler{
		assistant: service,
		auth:      authService,
		jobs:      jobs,
		fileBase:  fileBase,
		maxUpload: maxUploadBytes,
	}
}

// check token userID is match with param userID
func (h *Handler) requirePathUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := auth.UserIDFromContext(c)
		if !ok || userID <= 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}
		paramID, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil || paramID <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
			return
		}
		if paramID != userID {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "user mismatch"})
			return
		}
		c.Next()
	}
}

func (h *Handler) authorizedUserID(c *gin.Context) (int64, bool) {
	userID, ok := auth.UserIDFromContext(c)
	if !ok || userID <= 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return 0, false
	}
	return userID, true
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.POST("/users/register", h.registerUser)
	api.POST("/users/login", h.loginUser)
	authMW := h.auth.Middleware()
	userRoutes := api.Group("/users/:id")
	userRoutes.Use(authMW, h.requirePathUser(), h.auth.CSRFMiddleware())
	userRoutes.POST("/token", h.setToken)
	userRoutes.GET("/token", h.hasToken)
	userRoutes.DELETE("/token", h.deleteToken)
	userRoutes.POST("/documents", h.uploadDocument)
	userRoutes.GET("/documents", h.listDocuments)
	userRoutes.POST("/summaries", h.summarize)
	userRoutes.GET("/summaries", h.listSummaries)
	userRoutes.POST("/summaries/:session_id/chat", h.chat)
	userRoutes.POST("/summaries/:session_id/audio", h.narrate)
	userRoutes.POST("/logout", h.logoutUser)
	userRoutes.DELETE("", h.deleteUser)
}

// User create&login interface
type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) registerUser(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, err := h.assistant.RegisterUser(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":         user.ID,
		"username":   user.Username,
		"created_at": user.CreatedAt,
	})
}

func (h *Handler) loginUser(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, err := h.assistant.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	authToken, err := h.auth.IssueToken(c.Request.Context(), user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	csrfToken, err := h.auth.NewCSRFToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	h.setAuthCookies(c, authToken, csrfToken)
	c.JSON(http.StatusOK, gin.H{
		"id":         user.ID,
		"username":   user.Username,
		"created_at": user.CreatedAt,
		"auth_token": authToken,
	})
}

func (h *Handler) logoutUser(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	h.jobs.CancelUser(userID)
	if authToken, ok := auth.AuthTokenFromContext(c); ok {
		_ = h.auth.RevokeToken(c.Request.Context(), authToken)
	}
	h.clearAuthCookies(c)
	c.Status(http.StatusNoContent)
}

func (h *Handler) deleteUser(c *gin.Context) {
	id, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	if err := h.auth.RevokeUserTokens(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.jobs.CancelUser(id)
	if err := h.assistant.DeleteUser(c.Request.Context(), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.clearAuthCookies(c)
	c.Status(http.StatusNoContent)
}

// handle summarizer api key
func (h *Handler) setToken(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req struct {
		Token string `json:"token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.assistant.SetUserToken(c.Request.Context(), userID, req.Token); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) hasToken(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	key, err := h.assistant.HasUserToken(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"configured": key != ""})
}

func (h *Handler) deleteToken(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	if err := h.assistant.DeleteUserToken(c.Request.Context(), userID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// uploadExtensions is the accepted filename extension allow-list. It is
// wider than what extraction can decode today: image files upload fine
// but only yield the OCR placeholder.
var uploadExtensions = map[string]bool{
	".txt": true, ".pdf": true, ".docx": true, ".csv": true,
	".json": true, ".html": true, ".htm": true, ".xml": true,
	".jpg": true, ".jpeg": true, ".png": true, ".bmp": true,
	".tiff": true, ".webp": true,
}

func (h *Handler) uploadDocument(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	if err := c.Request.ParseMultipartForm(h.maxUpload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})
		return
	}
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	if file.Size > h.maxUpload {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}
	filename := filepath.Base(file.Filename)
	ext := strings.ToLower(filepath.Ext(filename))
	if !uploadExtensions[ext] {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unsupported file type: %s", ext)})
		return
	}

	destDir, destPath, finalName := h.getUniqueFilePath(userID, filename)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create directory failed"})
		return
	}
	if err := c.SaveUploadedFile(file, destPath); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save file failed"})
		return
	}
	doc, err := h.assistant.RecordDocument(c.Request.Context(), userID, finalName, destPath)
	if err != nil {
		os.Remove(destPath)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "record file failed"})
		return
	}

	// Best-effort migration to the blob store. A failure keeps the
	// document local and never fails the upload.
	if err := h.assistant.MigrateToDrive(c.Request.Context(), doc); err != nil {
		log.Printf("migrate document %d: %v", doc.ID, err)
	}

	c.JSON(http.StatusCreated, gin.H{
		"document":    doc,
		"remote":      doc.Remote(),
		"extractable": extract.Supported(ext),
	})
}

func (h *Handler) listDocuments(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	docs, err := h.assistant.ListDocuments(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if docs == nil {
		docs = make([]*models.Document, 0)
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs})
}

// errRequestCanceled signals that a queued job was dropped because the
// user's session ended before the job could be dispatched.
var errRequestCanceled = errors.New("request canceled")

type summarizeResult struct {
	session *models.SummarySession
	err     error
}

func (h *Handler) summarize(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req struct {
		Files []int64 `json:"files"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	ctx := c.Request.Context()
	done := make(chan summarizeResult, 1)
	err := h.jobs.Submit(worker.Job{
		UserID: userID,
		Kind:   "summarize",
		Run: func() {
			session, err := h.assistant.Summarize(ctx, userID, req.Files)
			done <- summarizeResult{session: session, err: err}
		},
		Cancel: func() { done <- summarizeResult{err: errRequestCanceled} },
	})
	if err != nil {
		h.rejectJob(c, err)
		return
	}
	res := <-done
	if res.err != nil {
		switch {
		case errors.Is(res.err, errRequestCanceled):
			c.JSON(http.StatusConflict, gin.H{"error": "request canceled"})
		case errors.Is(res.err, assistant.ErrNoDocuments):
			c.JSON(http.StatusNotFound, gin.H{"error": "no documents found for this user"})
		case errors.Is(res.err, assistant.ErrNoReadableText):
			c.JSON(http.StatusBadRequest, gin.H{"error": "no readable text could be extracted from the document(s)"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": res.err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": res.session.ID,
		"title":      res.session.Title,
		"summary":    res.session.SummaryText,
		"created_at": res.session.CreatedAt,
	})
}

func (h *Handler) listSummaries(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	sessions, err := h.assistant.ListSessions(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if sessions == nil {
		sessions = make([]*models.SummarySession, 0)
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

type chatResult struct {
	reply string
	err   error
}

func (h *Handler) chat(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	sessionID, err := strconv.ParseInt(c.Param("session_id"), 10, 64)
	if err != nil || sessionID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}
	var req struct {
		Query string `json:"query"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty query"})
		return
	}

	ctx := c.Request.Context()
	done := make(chan chatResult, 1)
	if err := h.jobs.Submit(worker.Job{
		UserID: userID,
		Kind:   "chat",
		Run: func() {
			reply, err := h.assistant.Chat(ctx, userID, sessionID, req.Query)
			done <- chatResult{reply: reply, err: err}
		},
		Cancel: func() { done <- chatResult{err: errRequestCanceled} },
	}); err != nil {
		h.rejectJob(c, err)
		return
	}
	res := <-done
	if res.err != nil {
		switch {
		case errors.Is(res.err, errRequestCanceled):
			c.JSON(http.StatusConflict, gin.H{"error": "request canceled"})
		case errors.Is(res.err, sql.ErrNoRows):
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": res.err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"reply": res.reply})
}

type narrateResult struct {
	res *assistant.NarrationResult
	err error
}

func (h *Handler) narrate(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	sessionID, err := strconv.ParseInt(c.Param("session_id"), 10, 64)
	if err != nil || sessionID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}
	var req struct {
		Language string `json:"language"`
	}
	// body is optional; default language applies
	_ = c.ShouldBindJSON(&req)

	ctx := c.Request.Context()
	done := make(chan narrateResult, 1)
	if err := h.jobs.Submit(worker.Job{
		UserID: userID,
		Kind:   "narrate",
		Run: func() {
			res, err := h.assistant.Narrate(ctx, userID, sessionID, req.Language)
			done <- narrateResult{res: res, err: err}
		},
		Cancel: func() { done <- narrateResult{err: errRequestCanceled} },
	}); err != nil {
		h.rejectJob(c, err)
		return
	}
	res := <-done
	if res.err != nil {
		switch {
		case errors.Is(res.err, errRequestCanceled):
			c.JSON(http.StatusConflict, gin.H{"error": "request canceled"})
		case errors.Is(res.err, sql.ErrNoRows):
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		case errors.Is(res.err, assistant.ErrEmptySummary):
			c.JSON(http.StatusBadRequest, gin.H{"error": "summary text is empty, cannot generate audio"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": res.err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, res.res)
}

func (h *Handler) rejectJob(c *gin.Context, err error) {
	if errors.Is(err, worker.ErrDispatcherBusy) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "server is busy, please retry"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func (h *Handler) setAuthCookies(c *gin.Context, authToken, csrfToken string) {
	ttl := int(h.auth.TokenTTL().Seconds())
	if ttl <= 0 {
		ttl = 3600
	}
	secure := gin.Mode() == gin.ReleaseMode
	setCookie(c, &http.Cookie{
		Name:     h.auth.AuthCookieName(),
		Value:    authToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	setCookie(c, &http.Cookie{
		Name:     h.auth.CSRFCookieName(),
		Value:    csrfToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		HttpOnly: false,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) clearAuthCookies(c *gin.Context) {
	for _, name := range []string{h.auth.AuthCookieName(), h.auth.CSRFCookieName()} {
		setCookie(c, &http.Cookie{
			Name:     name,
			Value:    "",
			MaxAge:   -1,
			Path:     "/",
			Secure:   gin.Mode() == gin.ReleaseMode,
			HttpOnly: name == h.auth.AuthCookieName(),
			SameSite: http.SameSiteStrictMode,
		})
	}
}

func setCookie(c *gin.Context, ck *http.Cookie) {
	if ck == nil {
		return
	}
	http.SetCookie(c.Writer, ck)
}

func (h *Handler) getFilePath(userID int64, filename string) (string, string) {
	destDir := filepath.Join(h.fileBase, strconv.FormatInt(userID, 10))
	destPath := filepath.Join(destDir, filename)
	return destDir, destPath
}

func (h *Handler) getUniqueFilePath(userID int64, filename string) (string, string, string) {
	destDir, destPath := h.getFilePath(userID, filename)
	if _, err := os.Stat(destPath); os.IsNotExist(err) {
		return destDir, destPath, filename
	}
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)
	for idx := 1; idx <= 1000; idx++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, idx, ext)
		dir, path := h.getFilePath(userID, candidate)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return dir, path, candidate
		}
	}
	fallback := fmt.Sprintf("%s-%d%s", base, time.Now().UnixNano(), ext)
	return destDir, filepath.Join(destDir, fallback), fallback
}

// Package drive uploads documents to Google Drive and fetches them back.
package drive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	driveapi "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// StoredFile identifies a file after a successful upload.
type StoredFile struct {
	ID          string
	ViewLink    string
	ContentLink string
}

// Gateway wraps the Drive v3 API behind upload/download calls.
// Credentials live in two JSON files: the OAuth client secret and the
// user token. A refreshed token is written back to the token file.
type Gateway struct {
	conf      *oauth2.Config
	tokenFile string
	folderID  string

	mu  sync.Mutex
	svc *driveapi.Service
	tok *oauth2.Token
}

// NewGateway reads the client secret and a previously stored token.
// If the token file is missing, the gateway is unusable until
// Authorize completes the auth-code grant.
func NewGateway(clientSecretFile, tokenFile, folderID string) (*Gateway, error) {
	secret, err := os.ReadFile(clientSecretFile)
	if err != nil {
		return nil, fmt.Errorf("read client secret: %w", err)
	}
	conf, err := google.ConfigFromJSON(secret, driveapi.DriveFileScope)
	if err != nil {
		return nil, fmt.Errorf("parse client secret: %w", err)
	}

	g := &Gateway{conf: conf, tokenFile: tokenFile, folderID: folderID}
	if tok, err := loadToken(tokenFile); err == nil {
		g.tok = tok
	}
	return g, nil
}

// AuthURL returns the URL the user must visit to grant access.
func (g *Gateway) AuthURL() string {
	return g.conf.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
}

// Authorize exchanges an auth code for a token and persists it.
func (g *Gateway) Authorize(ctx context.Context, code string) error {
	tok, err := g.conf.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchange auth code: %w", err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tok = tok
	g.svc = nil
	return saveToken(g.tokenFile, tok)
}

// Ready reports whether stored credentials are available.
func (g *Gateway) Ready() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tok != nil
}

// service returns a Drive client, refreshing and re-persisting the
// token when it has expired since the last call.
func (g *Gateway) service(ctx context.Context) (*driveapi.Service, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.tok == nil {
		return nil, errors.New("drive: not authorized")
	}

	src := g.conf.TokenSource(ctx, g.tok)
	fresh, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	if fresh.AccessToken != g.tok.AccessToken {
		g.tok = fresh
		g.svc = nil
		if err := saveToken(g.tokenFile, fresh); err != nil {
			return nil, err
		}
	}
	if g.svc == nil {
		svc, err := driveapi.NewService(ctx, option.WithTokenSource(oauth2.StaticTokenSource(g.tok)))
		if err != nil {
			return nil, fmt.Errorf("create drive client: %w", err)
		}
		g.svc = svc
	}
	return g.svc, nil
}

// UploadPath uploads a local file under its base name.
func (g *Gateway) UploadPath(ctx context.Context, path string) (*StoredFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	svc, err := g.service(ctx)
	if err != nil {
		return nil, err
	}
	meta := g.fileMeta(filepath.Base(path))
	created, err := svc.Files.Create(meta).
		ResumableMedia(ctx, f, mustSize(f), "").
		Fields("id, webViewLink, webContentLink").
		Do()
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", path, err)
	}
	return storedFrom(created), nil
}

// UploadBytes uploads an in-memory buffer under the given name.
func (g *Gateway) UploadBytes(ctx context.Context, name string, r io.Reader) (*StoredFile, error) {
	svc, err := g.service(ctx)
	if err != nil {
		return nil, err
	}
	created, err := svc.Files.Create(g.fileMeta(name)).
		Media(r).
		Fields("id, webViewLink, webContentLink").
		Do()
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", name, err)
	}
	return storedFrom(created), nil
}

// Download fetches the full content of a stored file.
func (g *Gateway) Download(ctx context.Context, fileID string) ([]byte, error) {
	svc, err := g.service(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := svc.Files.Get(fileID).Context(ctx).Download()
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", fileID, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", fileID, err)
	}
	return data, nil
}

func (g *Gateway) fileMeta(name string) *driveapi.File {
	meta := &driveapi.File{Name: name}
	if g.folderID != "" {
		meta.Parents = []string{g.folderID}
	}
	return meta
}

func storedFrom(f *driveapi.File) *StoredFile {
	return &StoredFile{ID: f.Id, ViewLink: f.WebViewLink, ContentLink: f.WebContentLink}
}

func mustSize(f *os.File) int64 {
	info, err := f.Stat()
	if err != nil {
		return 0
	}
	return info.Size()
}

func loadToken(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("parse token file: %w", err)
	}
	return tok, nil
}

func saveToken(path string, tok *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(tok)
}

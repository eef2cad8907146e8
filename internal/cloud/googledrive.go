package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

const (
	// Multipart uploads carry metadata and content in one request; the API
	// caps them, larger files go through a resumable session.
	driveSmallUploadLimit = 5 << 20

	// Resumable chunks must be a multiple of 256 KiB.
	driveChunkSize = 8 << 20

	// The session endpoint answers each intermediate chunk with 308 and no
	// Location header ("resume incomplete").
	driveStatusResumeIncomplete = 308
)

// GoogleDrive uploads through the Drive v3 API. Large files use a resumable
// session: sequential PUTs each declaring their byte range against the total
// size, with the offset advancing only on acknowledged chunks.
type GoogleDrive struct {
	clientID     string
	clientSecret string
	redirectURL  string

	authURL    string
	tokenURL   string
	apiBase    string
	client     *http.Client
	smallLimit int64
	chunkSize  int64
}

func NewGoogleDrive(clientID, clientSecret, redirectURL string) *GoogleDrive {
	return &GoogleDrive{
		clientID:     clientID,
		clientSecret: clientSecret,
		redirectURL:  redirectURL,
		authURL:      "https://accounts.google.com/o/oauth2/v2/auth",
		tokenURL:     "https://oauth2.googleapis.com/token",
		apiBase:      "https://www.googleapis.com",
		client:       &http.Client{},
		smallLimit:   driveSmallUploadLimit,
		chunkSize:    driveChunkSize,
	}
}

func (g *GoogleDrive) Provider() Provider { return ProviderGoogleDrive }

func (g *GoogleDrive) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     g.clientID,
		ClientSecret: g.clientSecret,
		RedirectURL:  g.redirectURL,
		Scopes:       []string{"https://www.googleapis.com/auth/drive.file"},
		Endpoint: oauth2.Endpoint{
			AuthURL:   g.authURL,
			TokenURL:  g.tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// AuthCodeURL asks for offline access and forces the consent screen; Google
// only issues a refresh token on consent.
func (g *GoogleDrive) AuthCodeURL(state string) string {
	return g.oauthConfig().AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
}

func (g *GoogleDrive) Exchange(ctx context.Context, code string) (Credential, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, g.client)
	tok, err := g.oauthConfig().Exchange(ctx, code)
	if err != nil {
		return Credential{}, fmt.Errorf("%w: exchanging code: %v", ErrToken, err)
	}
	return credentialFromToken(ProviderGoogleDrive, tok, ""), nil
}

func (g *GoogleDrive) Refresh(ctx context.Context, cred Credential) (Credential, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, g.client)
	tok, err := g.oauthConfig().TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken}).Token()
	if err != nil {
		return Credential{}, fmt.Errorf("%w: %v", ErrToken, err)
	}
	return credentialFromToken(ProviderGoogleDrive, tok, cred.RefreshToken), nil
}

func (g *GoogleDrive) ListFolders(ctx context.Context, accessToken, parentID string) ([]Folder, error) {
	parent := parentID
	if parent == "" {
		parent = "root"
	}
	params := url.Values{
		"q":        {fmt.Sprintf("'%s' in parents and mimeType='application/vnd.google-apps.folder' and trashed=false", parent)},
		"fields":   {"files(id,name)"},
		"orderBy":  {"name"},
		"pageSize": {"100"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.apiBase+"/drive/v3/files?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	authorize(req, accessToken)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("listing folders: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, responseError(ErrUpload, resp)
	}
	var out struct {
		Files []Folder `json:"files"`
	}
	if err := decodeJSON(resp, &out); err != nil {
		return nil, err
	}
	return out.Files, nil
}

func (g *GoogleDrive) Upload(ctx context.Context, accessToken, localPath, folderID, filename string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", localPath, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("sizing %s: %w", localPath, err)
	}
	if filename == "" {
		filename = filepath.Base(localPath)
	}

	if info.Size() <= g.smallLimit {
		return g.uploadMultipart(ctx, accessToken, f, folderID, filename)
	}
	return g.uploadResumable(ctx, accessToken, f, info.Size(), folderID, filename)
}

func driveMetadata(folderID, filename string) map[string]any {
	parent := folderID
	if parent == "" {
		parent = "root"
	}
	return map[string]any{"name": filename, "parents": []string{parent}}
}

// uploadMultipart sends metadata and content in a single multipart/related
// request; only used below the small-file limit, so buffering is bounded.
func (g *GoogleDrive) uploadMultipart(ctx context.Context, accessToken string, f *os.File, folderID, filename string) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	metaPart, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"application/json; charset=UTF-8"}})
	if err != nil {
		return "", err
	}
	if err := json.NewEncoder(metaPart).Encode(driveMetadata(folderID, filename)); err != nil {
		return "", err
	}
	contentPart, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"application/octet-stream"}})
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(contentPart, f); err != nil {
		return "", fmt.Errorf("reading %s: %w", f.Name(), err)
	}
	mw.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.apiBase+"/upload/drive/v3/files?uploadType=multipart", &body)
	if err != nil {
		return "", err
	}
	authorize(req, accessToken)
	req.Header.Set("Content-Type", "multipart/related; boundary="+mw.Boundary())

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpload, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", responseError(ErrUpload, resp)
	}
	return g.uploadedID(resp, filename)
}

// uploadResumable opens an upload session and streams the file in fixed
// chunks, each PUT declaring "bytes start-end/total". The server answers 308
// to request the next chunk and 200/201 once the object is assembled.
func (g *GoogleDrive) uploadResumable(ctx context.Context, accessToken string, f *os.File, size int64, folderID, filename string) (string, error) {
	meta, err := json.Marshal(driveMetadata(folderID, filename))
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.apiBase+"/upload/drive/v3/files?uploadType=resumable", bytes.NewReader(meta))
	if err != nil {
		return "", err
	}
	authorize(req, accessToken)
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	req.Header.Set("X-Upload-Content-Length", strconv.FormatInt(size, 10))

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: opening upload session: %v", ErrUpload, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", responseError(ErrUpload, resp)
	}
	sessionURL := resp.Header.Get("Location")
	drainBody(resp)
	if sessionURL == "" {
		return "", fmt.Errorf("%w: upload session reply carried no session URL", ErrUpload)
	}

	buf := make([]byte, g.chunkSize)
	var offset int64
	for offset < size {
		n := g.chunkSize
		if remaining := size - offset; remaining < n {
			n = remaining
		}
		chunk := buf[:n]
		if _, err := io.ReadFull(f, chunk); err != nil {
			return "", fmt.Errorf("reading %s: %w", f.Name(), err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPut, sessionURL, bytes.NewReader(chunk))
		if err != nil {
			return "", err
		}
		req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, offset+n-1, size))

		resp, err := g.client.Do(req)
		if err != nil {
			return "", fmt.Errorf("%w: chunk at offset %d: %v", ErrUpload, offset, err)
		}
		switch resp.StatusCode {
		case driveStatusResumeIncomplete:
			drainBody(resp)
			offset += n
		case http.StatusOK, http.StatusCreated:
			return g.uploadedID(resp, filename)
		default:
			return "", responseError(ErrUpload, resp)
		}
	}
	return "", fmt.Errorf("%w: session ended without a completion reply", ErrUpload)
}

func (g *GoogleDrive) uploadedID(resp *http.Response, filename string) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := decodeJSON(resp, &out); err != nil {
		return "", err
	}
	log.Info().Str("file", filename).Str("id", out.ID).Msg("Google Drive upload complete")
	return out.ID, nil
}

package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

const (
	// Single-request uploads are capped by the API; larger files go through
	// an upload session.
	dropboxDirectUploadLimit = 150 << 20

	dropboxChunkSize = 50 << 20
)

// Dropbox uploads through the Dropbox v2 API. Large files use a cursor
// session: start carries the first chunk and returns a session id, append
// calls reference {session_id, offset} for the middle chunks, and a distinct
// finish call carries the final chunk together with the commit that names
// and places the object.
type Dropbox struct {
	clientID     string
	clientSecret string
	redirectURL  string

	authURL     string
	tokenURL    string
	apiBase     string
	contentBase string
	client      *http.Client
	directLimit int64
	chunkSize   int64
}

func NewDropbox(clientID, clientSecret, redirectURL string) *Dropbox {
	return &Dropbox{
		clientID:     clientID,
		clientSecret: clientSecret,
		redirectURL:  redirectURL,
		authURL:      "https://www.dropbox.com/oauth2/authorize",
		tokenURL:     "https://api.dropboxapi.com/oauth2/token",
		apiBase:      "https://api.dropboxapi.com/2",
		contentBase:  "https://content.dropboxapi.com/2",
		client:       &http.Client{},
		directLimit:  dropboxDirectUploadLimit,
		chunkSize:    dropboxChunkSize,
	}
}

func (d *Dropbox) Provider() Provider { return ProviderDropbox }

func (d *Dropbox) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     d.clientID,
		ClientSecret: d.clientSecret,
		RedirectURL:  d.redirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:  d.authURL,
			TokenURL: d.tokenURL,
			// Dropbox expects client credentials via HTTP basic auth.
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
}

// AuthCodeURL asks for a refresh token via token_access_type; without it
// Dropbox issues short-lived access tokens only.
func (d *Dropbox) AuthCodeURL(state string) string {
	return d.oauthConfig().AuthCodeURL(state, oauth2.SetAuthURLParam("token_access_type", "offline"))
}

func (d *Dropbox) Exchange(ctx context.Context, code string) (Credential, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, d.client)
	tok, err := d.oauthConfig().Exchange(ctx, code)
	if err != nil {
		return Credential{}, fmt.Errorf("%w: exchanging code: %v", ErrToken, err)
	}
	return credentialFromToken(ProviderDropbox, tok, ""), nil
}

func (d *Dropbox) Refresh(ctx context.Context, cred Credential) (Credential, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, d.client)
	tok, err := d.oauthConfig().TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken}).Token()
	if err != nil {
		return Credential{}, fmt.Errorf("%w: %v", ErrToken, err)
	}
	return credentialFromToken(ProviderDropbox, tok, cred.RefreshToken), nil
}

func (d *Dropbox) ListFolders(ctx context.Context, accessToken, parentID string) ([]Folder, error) {
	payload, err := json.Marshal(map[string]any{
		"path":                           parentID, // "" means the root
		"include_non_downloadable_files": false,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.apiBase+"/files/list_folder", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	authorize(req, accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("listing folders: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, responseError(ErrUpload, resp)
	}
	var out struct {
		Entries []struct {
			Tag       string `json:".tag"`
			Name      string `json:"name"`
			PathLower string `json:"path_lower"`
		} `json:"entries"`
	}
	if err := decodeJSON(resp, &out); err != nil {
		return nil, err
	}
	folders := make([]Folder, 0, len(out.Entries))
	for _, e := range out.Entries {
		if e.Tag != "folder" {
			continue
		}
		folders = append(folders, Folder{ID: e.PathLower, Name: e.Name})
	}
	return folders, nil
}

// commitArgs is the naming/placement half of an upload: overwrite an
// existing object of the same name, autorename on conflict.
func commitArgs(destPath string) map[string]any {
	return map[string]any{"path": destPath, "mode": "overwrite", "autorename": true}
}

// contentCall posts body to a content endpoint with the call arguments
// riding in the Dropbox-API-Arg header.
func (d *Dropbox) contentCall(ctx context.Context, accessToken, endpoint string, args map[string]any, body io.Reader) (*http.Response, error) {
	arg, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.contentBase+endpoint, body)
	if err != nil {
		return nil, err
	}
	authorize(req, accessToken)
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Dropbox-API-Arg", string(arg))

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUpload, endpoint, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, responseError(ErrUpload, resp)
	}
	return resp, nil
}

func (d *Dropbox) Upload(ctx context.Context, accessToken, localPath, folderID, filename string) (string, error) {
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
	// folderID is a Dropbox path such as "/backups"; "" targets the root.
	destPath := path.Join("/", folderID, filename)

	if info.Size() <= d.directLimit {
		return d.uploadDirect(ctx, accessToken, f, destPath)
	}
	return d.uploadSession(ctx, accessToken, f, info.Size(), destPath)
}

func (d *Dropbox) uploadDirect(ctx context.Context, accessToken string, f *os.File, destPath string) (string, error) {
	resp, err := d.contentCall(ctx, accessToken, "/files/upload", commitArgs(destPath), f)
	if err != nil {
		return "", err
	}
	return d.uploadedPath(resp)
}

// uploadSession streams the file in fixed chunks: the start call consumes
// the first chunk, appends consume the middle ones, and the finish call
// carries the last chunk plus the commit. The cursor offset always equals
// the number of bytes the server has already received, so the committed
// ranges tile [0, size) exactly.
func (d *Dropbox) uploadSession(ctx context.Context, accessToken string, f *os.File, size int64, destPath string) (string, error) {
	buf := make([]byte, d.chunkSize)

	n, err := io.ReadFull(f, buf)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", f.Name(), err)
	}
	resp, err := d.contentCall(ctx, accessToken, "/files/upload_session/start", map[string]any{"close": false}, bytes.NewReader(buf[:n]))
	if err != nil {
		return "", err
	}
	var session struct {
		SessionID string `json:"session_id"`
	}
	if err := decodeJSON(resp, &session); err != nil {
		return "", err
	}
	if session.SessionID == "" {
		return "", fmt.Errorf("%w: upload session reply carried no session id", ErrUpload)
	}

	offset := int64(n)
	for offset < size {
		n := d.chunkSize
		if remaining := size - offset; remaining < n {
			n = remaining
		}
		chunk := buf[:n]
		if _, err := io.ReadFull(f, chunk); err != nil {
			return "", fmt.Errorf("reading %s: %w", f.Name(), err)
		}
		cursor := map[string]any{"session_id": session.SessionID, "offset": offset}

		if offset+n >= size {
			resp, err := d.contentCall(ctx, accessToken, "/files/upload_session/finish", map[string]any{
				"cursor": cursor,
				"commit": commitArgs(destPath),
			}, bytes.NewReader(chunk))
			if err != nil {
				return "", err
			}
			return d.uploadedPath(resp)
		}

		resp, err := d.contentCall(ctx, accessToken, "/files/upload_session/append_v2", map[string]any{"cursor": cursor}, bytes.NewReader(chunk))
		if err != nil {
			return "", err
		}
		drainBody(resp)
		offset += n
	}
	return "", fmt.Errorf("%w: session ended without a finish call", ErrUpload)
}

func (d *Dropbox) uploadedPath(resp *http.Response) (string, error) {
	var out struct {
		PathDisplay string `json:"path_display"`
	}
	if err := decodeJSON(resp, &out); err != nil {
		return "", err
	}
	log.Info().Str("path", out.PathDisplay).Msg("Dropbox upload complete")
	return out.PathDisplay, nil
}

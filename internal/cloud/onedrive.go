package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

const (
	// Graph accepts a single PUT up to this size; anything bigger goes
	// through an upload session.
	graphSimpleUploadLimit = 4 << 20

	// Session fragments must be a multiple of 320 KiB.
	graphChunkSize = 10 << 20
)

// OneDrive uploads through the Microsoft Graph drive API. Small files are a
// single direct PUT addressed by parent folder and filename; large files use
// an upload session whose fragment PUTs are answered with 202 until the last
// one completes the item.
type OneDrive struct {
	clientID     string
	clientSecret string
	redirectURL  string

	authURL     string
	tokenURL    string
	apiBase     string
	client      *http.Client
	simpleLimit int64
	chunkSize   int64
}

func NewOneDrive(clientID, clientSecret, redirectURL string) *OneDrive {
	return &OneDrive{
		clientID:     clientID,
		clientSecret: clientSecret,
		redirectURL:  redirectURL,
		authURL:      "https://login.microsoftonline.com/common/oauth2/v2.0/authorize",
		tokenURL:     "https://login.microsoftonline.com/common/oauth2/v2.0/token",
		apiBase:      "https://graph.microsoft.com/v1.0",
		client:       &http.Client{},
		simpleLimit:  graphSimpleUploadLimit,
		chunkSize:    graphChunkSize,
	}
}

func (o *OneDrive) Provider() Provider { return ProviderOneDrive }

func (o *OneDrive) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     o.clientID,
		ClientSecret: o.clientSecret,
		RedirectURL:  o.redirectURL,
		Scopes:       []string{"Files.ReadWrite.All", "offline_access"},
		Endpoint: oauth2.Endpoint{
			AuthURL:   o.authURL,
			TokenURL:  o.tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

func (o *OneDrive) AuthCodeURL(state string) string {
	return o.oauthConfig().AuthCodeURL(state)
}

func (o *OneDrive) Exchange(ctx context.Context, code string) (Credential, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, o.client)
	tok, err := o.oauthConfig().Exchange(ctx, code)
	if err != nil {
		return Credential{}, fmt.Errorf("%w: exchanging code: %v", ErrToken, err)
	}
	return credentialFromToken(ProviderOneDrive, tok, ""), nil
}

// Refresh rotates the refresh token; Microsoft issues a new one per refresh.
func (o *OneDrive) Refresh(ctx context.Context, cred Credential) (Credential, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, o.client)
	tok, err := o.oauthConfig().TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken}).Token()
	if err != nil {
		return Credential{}, fmt.Errorf("%w: %v", ErrToken, err)
	}
	return credentialFromToken(ProviderOneDrive, tok, cred.RefreshToken), nil
}

func (o *OneDrive) ListFolders(ctx context.Context, accessToken, parentID string) ([]Folder, error) {
	endpoint := o.apiBase + "/me/drive/root/children"
	if parentID != "" {
		endpoint = o.apiBase + "/me/drive/items/" + url.PathEscape(parentID) + "/children"
	}
	params := url.Values{
		"$filter":  {"folder ne null"},
		"$select":  {"id,name,folder"},
		"$orderby": {"name"},
		"$top":     {"100"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	authorize(req, accessToken)

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("listing folders: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, responseError(ErrUpload, resp)
	}
	var out struct {
		Value []struct {
			ID     string         `json:"id"`
			Name   string         `json:"name"`
			Folder map[string]any `json:"folder"`
		} `json:"value"`
	}
	if err := decodeJSON(resp, &out); err != nil {
		return nil, err
	}
	folders := make([]Folder, 0, len(out.Value))
	for _, item := range out.Value {
		if item.Folder == nil {
			continue
		}
		folders = append(folders, Folder{ID: item.ID, Name: item.Name})
	}
	return folders, nil
}

// itemURL addresses a drive item by parent folder and filename using the
// colon path syntax, e.g. /me/drive/root:/name.zip:/content.
func (o *OneDrive) itemURL(folderID, filename, action string) string {
	if folderID != "" {
		return fmt.Sprintf("%s/me/drive/items/%s:/%s:/%s", o.apiBase, url.PathEscape(folderID), url.PathEscape(filename), action)
	}
	return fmt.Sprintf("%s/me/drive/root:/%s:/%s", o.apiBase, url.PathEscape(filename), action)
}

func (o *OneDrive) Upload(ctx context.Context, accessToken, localPath, folderID, filename string) (string, error) {
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

	if info.Size() <= o.simpleLimit {
		return o.uploadDirect(ctx, accessToken, f, info.Size(), folderID, filename)
	}
	return o.uploadSession(ctx, accessToken, f, info.Size(), folderID, filename)
}

func (o *OneDrive) uploadDirect(ctx context.Context, accessToken string, f *os.File, size int64, folderID, filename string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, o.itemURL(folderID, filename, "content"), f)
	if err != nil {
		return "", err
	}
	authorize(req, accessToken)
	req.Header.Set("Content-Type", "application/octet-stream")
	req.ContentLength = size

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpload, err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", responseError(ErrUpload, resp)
	}
	return o.uploadedID(resp, filename)
}

// uploadSession creates an upload session and PUTs fixed-size fragments
// against the returned URL. The session URL is pre-authorized, so fragment
// requests carry no Authorization header. 202 acknowledges a fragment;
// 200/201 arrives with the final one.
func (o *OneDrive) uploadSession(ctx context.Context, accessToken string, f *os.File, size int64, folderID, filename string) (string, error) {
	payload, err := json.Marshal(map[string]any{"item": map[string]string{"name": filename}})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.itemURL(folderID, filename, "createUploadSession"), bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	authorize(req, accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: creating upload session: %v", ErrUpload, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", responseError(ErrUpload, resp)
	}
	var session struct {
		UploadURL string `json:"uploadUrl"`
	}
	if err := decodeJSON(resp, &session); err != nil {
		return "", err
	}
	if session.UploadURL == "" {
		return "", fmt.Errorf("%w: upload session reply carried no URL", ErrUpload)
	}

	buf := make([]byte, o.chunkSize)
	var offset int64
	for offset < size {
		n := o.chunkSize
		if remaining := size - offset; remaining < n {
			n = remaining
		}
		chunk := buf[:n]
		if _, err := io.ReadFull(f, chunk); err != nil {
			return "", fmt.Errorf("reading %s: %w", f.Name(), err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPut, session.UploadURL, bytes.NewReader(chunk))
		if err != nil {
			return "", err
		}
		req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, offset+n-1, size))
		req.ContentLength = n

		resp, err := o.client.Do(req)
		if err != nil {
			return "", fmt.Errorf("%w: fragment at offset %d: %v", ErrUpload, offset, err)
		}
		switch resp.StatusCode {
		case http.StatusAccepted:
			drainBody(resp)
			offset += n
		case http.StatusOK, http.StatusCreated:
			return o.uploadedID(resp, filename)
		default:
			return "", responseError(ErrUpload, resp)
		}
	}
	return "", fmt.Errorf("%w: session ended without a completion reply", ErrUpload)
}

func (o *OneDrive) uploadedID(resp *http.Response, filename string) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := decodeJSON(resp, &out); err != nil {
		return "", err
	}
	log.Info().Str("file", filename).Str("id", out.ID).Msg("OneDrive upload complete")
	return out.ID, nil
}

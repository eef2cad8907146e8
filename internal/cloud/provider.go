package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// Failure classes for the push layer. The concrete provider reply rides
// along in the wrapped message.
var (
	// ErrUnknownProvider rejects provider tags outside the closed set.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrToken covers missing, expired or unrefreshable credentials.
	ErrToken = errors.New("token error")

	// ErrUpload covers provider-side rejections during an upload.
	ErrUpload = errors.New("upload failed")
)

// Provider identifies a cloud storage backend. The set is closed:
// construction goes through ParseProvider.
type Provider string

const (
	ProviderGoogleDrive Provider = "google_drive"
	ProviderOneDrive    Provider = "onedrive"
	ProviderDropbox     Provider = "dropbox"
)

// Providers lists every supported provider tag in a stable order.
func Providers() []Provider {
	return []Provider{ProviderGoogleDrive, ProviderOneDrive, ProviderDropbox}
}

// ParseProvider maps a stored provider tag to its Provider, rejecting tags
// outside the closed set with a typed error.
func ParseProvider(s string) (Provider, error) {
	switch Provider(strings.ToLower(strings.TrimSpace(s))) {
	case ProviderGoogleDrive:
		return ProviderGoogleDrive, nil
	case ProviderOneDrive:
		return ProviderOneDrive, nil
	case ProviderDropbox:
		return ProviderDropbox, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, s)
	}
}

// Credential is one provider's OAuth2 state. The provider tag is the unique
// key; there is at most one credential set per provider.
type Credential struct {
	Provider     Provider
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// Folder is one remote directory offered as an upload destination.
type Folder struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Uploader is the capability set every provider variant implements.
// Authenticated calls take the access token as a parameter; callers obtain a
// live one from the TokenStore immediately before each call.
type Uploader interface {
	Provider() Provider

	// AuthCodeURL returns the user-facing consent URL carrying state.
	AuthCodeURL(state string) string

	// Exchange trades an authorization code for a credential.
	Exchange(ctx context.Context, code string) (Credential, error)

	// Refresh obtains a fresh access token using cred's refresh token.
	// Providers that rotate refresh tokens return the new one; others
	// return the one passed in.
	Refresh(ctx context.Context, cred Credential) (Credential, error)

	// ListFolders returns the folders under parentID ("" means the root).
	ListFolders(ctx context.Context, accessToken, parentID string) ([]Folder, error)

	// Upload stores the file at localPath under folderID as filename and
	// returns the provider's identifier for the created object. Large
	// files go through the provider's session protocol.
	Upload(ctx context.Context, accessToken, localPath, folderID, filename string) (string, error)
}

// NewUploader builds the uploader variant for provider.
func NewUploader(provider Provider, clientID, clientSecret, redirectURL string) (Uploader, error) {
	switch provider {
	case ProviderGoogleDrive:
		return NewGoogleDrive(clientID, clientSecret, redirectURL), nil
	case ProviderOneDrive:
		return NewOneDrive(clientID, clientSecret, redirectURL), nil
	case ProviderDropbox:
		return NewDropbox(clientID, clientSecret, redirectURL), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
}

// credentialFromToken maps an oauth2 token to a Credential, falling back to
// the previous refresh token for providers that do not rotate them.
func credentialFromToken(p Provider, tok *oauth2.Token, previousRefresh string) Credential {
	refresh := tok.RefreshToken
	if refresh == "" {
		refresh = previousRefresh
	}
	return Credential{
		Provider:     p,
		AccessToken:  tok.AccessToken,
		RefreshToken: refresh,
		Expiry:       tok.Expiry,
	}
}

// decodeJSON drains and closes the body after decoding into v.
func decodeJSON(resp *http.Response, v any) error {
	defer drainBody(resp)
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding %s response: %w", resp.Request.URL.Host, err)
	}
	return nil
}

// responseError folds a non-2xx provider reply into kind, keeping a bounded
// slice of the body for the log line.
func responseError(kind error, resp *http.Response) error {
	defer drainBody(resp)
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("%w: %s: %s", kind, resp.Status, strings.TrimSpace(string(body)))
}

// drainBody finishes the body so the transport can reuse the connection.
func drainBody(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

func authorize(req *http.Request, accessToken string) {
	req.Header.Set("Authorization", "Bearer "+accessToken)
}

package cloud

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type fakeUploader struct {
	provider    Provider
	uploadErr   error
	token       string
	folderID    string
	filename    string
	sawArchive  bool
	archiveSize int64
}

func (u *fakeUploader) Provider() Provider { return u.provider }

func (u *fakeUploader) AuthCodeURL(state string) string {
	return "https://consent.example/" + state
}

func (u *fakeUploader) Exchange(ctx context.Context, code string) (Credential, error) {
	return Credential{}, errors.New("not implemented")
}

func (u *fakeUploader) Refresh(ctx context.Context, cred Credential) (Credential, error) {
	return Credential{}, errors.New("not implemented")
}

func (u *fakeUploader) ListFolders(ctx context.Context, accessToken, parentID string) ([]Folder, error) {
	return nil, nil
}

func (u *fakeUploader) Upload(ctx context.Context, accessToken, localPath, folderID, filename string) (string, error) {
	u.token = accessToken
	u.folderID = folderID
	u.filename = filename
	if info, err := os.Stat(localPath); err == nil {
		u.sawArchive = true
		u.archiveSize = info.Size()
	}
	if u.uploadErr != nil {
		return "", u.uploadErr
	}
	return "remote-1", nil
}

func newTestPusher(provider Provider) *Pusher {
	seed := Credential{
		Provider:     provider,
		AccessToken:  "live-token",
		RefreshToken: "rt",
		Expiry:       time.Now().Add(time.Hour),
	}
	tokens := NewTokenStore(newMemCredentials(seed), func(ctx context.Context, cred Credential) (Credential, error) {
		return cred, nil
	})
	return NewPusher(tokens)
}

func TestPushArchivesAndUploads(t *testing.T) {
	dir := seedSnapshot(t)
	uploader := &fakeUploader{provider: ProviderDropbox}
	pusher := newTestPusher(ProviderDropbox)

	result, err := pusher.Push(context.Background(), uploader, dir, "folder-1", "site.zip")
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if result.RemoteID != "remote-1" {
		t.Fatalf("RemoteID = %q, want remote-1", result.RemoteID)
	}
	if result.Provider != ProviderDropbox {
		t.Fatalf("Provider = %q, want dropbox", result.Provider)
	}
	if !uploader.sawArchive || uploader.archiveSize == 0 {
		t.Fatal("uploader never saw a readable archive")
	}
	if result.ArchiveBytes != uploader.archiveSize {
		t.Fatalf("ArchiveBytes = %d, want %d", result.ArchiveBytes, uploader.archiveSize)
	}
	if uploader.token != "live-token" {
		t.Fatalf("upload token = %q, want live-token", uploader.token)
	}
	if uploader.folderID != "folder-1" || uploader.filename != "site.zip" {
		t.Fatalf("upload destination = (%q, %q)", uploader.folderID, uploader.filename)
	}
}

func TestPushCleansUpArchiveButKeepsSnapshot(t *testing.T) {
	dir := seedSnapshot(t)
	uploader := &fakeUploader{provider: ProviderGoogleDrive}
	pusher := newTestPusher(ProviderGoogleDrive)

	if _, err := pusher.Push(context.Background(), uploader, dir, "", "site.zip"); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if _, err := os.Stat(dir + ".zip"); !os.IsNotExist(err) {
		t.Fatalf("archive still on disk: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "index.html")); err != nil {
		t.Fatalf("snapshot content gone after push: %v", err)
	}
}

func TestPushKeepsSnapshotWhenUploadFails(t *testing.T) {
	dir := seedSnapshot(t)
	uploader := &fakeUploader{provider: ProviderOneDrive, uploadErr: ErrUpload}
	pusher := newTestPusher(ProviderOneDrive)

	if _, err := pusher.Push(context.Background(), uploader, dir, "", "site.zip"); !errors.Is(err, ErrUpload) {
		t.Fatalf("Push error = %v, want ErrUpload", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "logs", "app.log")); err != nil {
		t.Fatalf("snapshot content gone after failed push: %v", err)
	}
	if _, err := os.Stat(dir + ".zip"); !os.IsNotExist(err) {
		t.Fatalf("archive still on disk after failed push: %v", err)
	}
}

func TestPushDefaultsFilenameToArchiveName(t *testing.T) {
	dir := seedSnapshot(t)
	uploader := &fakeUploader{provider: ProviderDropbox}
	pusher := newTestPusher(ProviderDropbox)

	if _, err := pusher.Push(context.Background(), uploader, dir, "", ""); err != nil {
		t.Fatalf("Push: %v", err)
	}
	want := filepath.Base(dir) + ".zip"
	if uploader.filename != want {
		t.Fatalf("filename = %q, want %q", uploader.filename, want)
	}
}

func TestPushRejectsMissingSnapshot(t *testing.T) {
	uploader := &fakeUploader{provider: ProviderDropbox}
	pusher := newTestPusher(ProviderDropbox)

	if _, err := pusher.Push(context.Background(), uploader, filepath.Join(t.TempDir(), "absent"), "", ""); err == nil {
		t.Fatal("Push succeeded on a missing snapshot directory")
	}
	if uploader.sawArchive {
		t.Fatal("uploader was called despite missing snapshot")
	}
}

func TestPushFailsWhenNoCredentialStored(t *testing.T) {
	dir := seedSnapshot(t)
	uploader := &fakeUploader{provider: ProviderDropbox}
	tokens := NewTokenStore(newMemCredentials(), func(ctx context.Context, cred Credential) (Credential, error) {
		return cred, nil
	})
	pusher := NewPusher(tokens)

	if _, err := pusher.Push(context.Background(), uploader, dir, "", ""); !errors.Is(err, ErrToken) {
		t.Fatalf("Push error = %v, want ErrToken", err)
	}
	if uploader.sawArchive {
		t.Fatal("uploader was called despite missing credential")
	}
}

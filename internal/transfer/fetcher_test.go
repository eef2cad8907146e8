package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// fakeClient serves a fixed in-memory tree. Shared by the fetcher and
// snapshot tests.
type fakeClient struct {
	tree     map[string][]Entry
	files    map[string][]byte
	listErr  map[string]error
	fetchErr map[string]error

	connectErr  error
	probeErr    error
	connects    int
	disconnects int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		tree: map[string][]Entry{
			"/site": {
				{Name: "index.html", Path: "/site/index.html", Size: 5},
				{Name: "logs", Path: "/site/logs", IsDir: true},
				{Name: "media", Path: "/site/media", IsDir: true},
			},
			"/site/logs": {
				{Name: "app.log", Path: "/site/logs/app.log", Size: 9},
			},
			"/site/media": {
				{Name: "a.png", Path: "/site/media/a.png", Size: 3},
				{Name: "b.png", Path: "/site/media/b.png", Size: 4},
			},
		},
		files: map[string][]byte{
			"/site/index.html":   []byte("hello"),
			"/site/logs/app.log": []byte("log lines"),
			"/site/media/a.png":  []byte("png"),
			"/site/media/b.png":  []byte("png2"),
		},
		listErr:  map[string]error{},
		fetchErr: map[string]error{},
	}
}

func (f *fakeClient) Connect(ctx context.Context) error {
	f.connects++
	return f.connectErr
}

func (f *fakeClient) Disconnect() { f.disconnects++ }

func (f *fakeClient) TestConnection(ctx context.Context) (bool, string) {
	if err := f.Connect(ctx); err != nil {
		return false, err.Error()
	}
	f.Disconnect()
	return true, "connection established"
}

func (f *fakeClient) ProbeDir(path string) error { return f.probeErr }

func (f *fakeClient) ListDir(path string) ([]Entry, error) {
	if err := f.listErr[path]; err != nil {
		return nil, err
	}
	children, ok := f.tree[path]
	if !ok {
		return nil, fmt.Errorf("no such directory %q", path)
	}
	return children, nil
}

func (f *fakeClient) FetchFile(remotePath, localPath string) (int64, error) {
	if err := f.fetchErr[remotePath]; err != nil {
		return 0, err
	}
	content, ok := f.files[remotePath]
	if !ok {
		return 0, fmt.Errorf("no such file %q", remotePath)
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return 0, err
	}
	if err := os.WriteFile(localPath, content, 0o644); err != nil {
		return 0, err
	}
	return int64(len(content)), nil
}

func TestFetchMirrorsRemoteTree(t *testing.T) {
	client := newFakeClient()
	dir := t.TempDir()

	var seen []string
	fetcher := NewFetcher(client, func(name string, size int64) { seen = append(seen, name) })
	stats, err := fetcher.Fetch(context.Background(), "/site", dir)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if stats.FileCount != 4 {
		t.Fatalf("FileCount = %d, want 4", stats.FileCount)
	}
	if stats.TotalBytes != 21 {
		t.Fatalf("TotalBytes = %d, want 21", stats.TotalBytes)
	}
	if len(stats.Skipped) != 0 {
		t.Fatalf("Skipped = %v, want none", stats.Skipped)
	}
	if len(seen) != 4 {
		t.Fatalf("progress callbacks = %d, want 4", len(seen))
	}

	got, err := os.ReadFile(filepath.Join(dir, "logs", "app.log"))
	if err != nil {
		t.Fatalf("reading mirrored file: %v", err)
	}
	if string(got) != "log lines" {
		t.Fatalf("mirrored content = %q, want %q", got, "log lines")
	}
}

func TestFetchSkipsUnreadableFile(t *testing.T) {
	client := newFakeClient()
	client.fetchErr["/site/media/a.png"] = errors.New("550 permission denied")
	dir := t.TempDir()

	stats, err := NewFetcher(client, nil).Fetch(context.Background(), "/site", dir)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if stats.FileCount != 3 {
		t.Fatalf("FileCount = %d, want 3", stats.FileCount)
	}
	if stats.TotalBytes != 18 {
		t.Fatalf("TotalBytes = %d, want 18", stats.TotalBytes)
	}
	if len(stats.Skipped) != 1 || stats.Skipped[0].Path != "/site/media/a.png" {
		t.Fatalf("Skipped = %v, want one entry for a.png", stats.Skipped)
	}

	// The failing file must not sink its sibling.
	if _, err := os.Stat(filepath.Join(dir, "media", "b.png")); err != nil {
		t.Fatalf("sibling was not fetched: %v", err)
	}
}

func TestFetchSkipsUnlistableDirectory(t *testing.T) {
	client := newFakeClient()
	client.listErr["/site/logs"] = errors.New("550 permission denied")
	dir := t.TempDir()

	stats, err := NewFetcher(client, nil).Fetch(context.Background(), "/site", dir)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if stats.FileCount != 3 {
		t.Fatalf("FileCount = %d, want 3", stats.FileCount)
	}
	if len(stats.Skipped) != 1 || stats.Skipped[0].Path != "/site/logs" {
		t.Fatalf("Skipped = %v, want one entry for /site/logs", stats.Skipped)
	}
	if _, err := os.Stat(filepath.Join(dir, "media", "a.png")); err != nil {
		t.Fatalf("sibling subtree was not fetched: %v", err)
	}
}

func TestFetchAbortsOnCancel(t *testing.T) {
	client := newFakeClient()
	ctx, cancel := context.WithCancel(context.Background())

	fetcher := NewFetcher(client, func(string, int64) { cancel() })
	stats, err := fetcher.Fetch(ctx, "/site", t.TempDir())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Fetch error = %v, want context.Canceled", err)
	}
	// The file whose progress callback cancelled was already complete.
	if stats.FileCount != 1 {
		t.Fatalf("FileCount = %d, want 1", stats.FileCount)
	}
}

func TestFetchChecksCancelBeforeFirstItem(t *testing.T) {
	client := newFakeClient()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stats, err := NewFetcher(client, nil).Fetch(ctx, "/site", t.TempDir())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Fetch error = %v, want context.Canceled", err)
	}
	if stats.FileCount != 0 {
		t.Fatalf("FileCount = %d, want 0", stats.FileCount)
	}
}

package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestSnapshotter(client Client, at time.Time) *Snapshotter {
	return &Snapshotter{
		newClient: func(Target) (Client, error) { return client, nil },
		now:       func() time.Time { return at },
	}
}

func TestRunProducesTimestampedSnapshot(t *testing.T) {
	client := newFakeClient()
	root := t.TempDir()
	started := time.Date(2024, 5, 17, 9, 30, 0, 0, time.UTC)

	s := newTestSnapshotter(client, started)
	res := s.Run(context.Background(), Target{Host: "example.com", Protocol: ProtocolSFTP, RemoteRoot: "/site", LocalRoot: root}, nil)
	if !res.Success {
		t.Fatalf("run failed: %s", res.Message)
	}

	want := filepath.Join(root, "backup_20240517_093000")
	if res.SnapshotPath != want {
		t.Fatalf("SnapshotPath = %q, want %q", res.SnapshotPath, want)
	}
	if res.FileCount != 4 || res.TotalBytes != 21 || res.SkippedItems != 0 {
		t.Fatalf("unexpected counters: %+v", res)
	}
	if client.disconnects != 1 {
		t.Fatalf("disconnects = %d, want 1", client.disconnects)
	}

	got, err := os.ReadFile(filepath.Join(want, "index.html"))
	if err != nil {
		t.Fatalf("reading snapshot file: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("snapshot content = %q, want %q", got, "hello")
	}
}

func TestRunFailsCleanlyWhenConnectFails(t *testing.T) {
	client := newFakeClient()
	client.connectErr = fmt.Errorf("%w: connection refused", ErrConnection)
	root := t.TempDir()

	res := newTestSnapshotter(client, time.Now()).Run(context.Background(), Target{Host: "example.com", Protocol: ProtocolSFTP, RemoteRoot: "/site", LocalRoot: root}, nil)
	if res.Success {
		t.Fatal("run succeeded, want failure")
	}
	if !strings.Contains(res.Message, "connection refused") {
		t.Fatalf("Message = %q, want the connect error", res.Message)
	}
	if res.SnapshotPath != "" || res.FileCount != 0 || res.TotalBytes != 0 {
		t.Fatalf("failed run leaked state: %+v", res)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("reading local root: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("failed run created %d entries under local root, want 0", len(entries))
	}
}

func TestRunDisconnectsWhenProbeFails(t *testing.T) {
	client := newFakeClient()
	client.probeErr = fmt.Errorf("%w: remote path not accessible", ErrValidation)
	root := t.TempDir()

	res := newTestSnapshotter(client, time.Now()).Run(context.Background(), Target{Host: "example.com", Protocol: ProtocolSFTP, RemoteRoot: "/missing", LocalRoot: root}, nil)
	if res.Success {
		t.Fatal("run succeeded, want failure")
	}
	if client.disconnects != 1 {
		t.Fatalf("disconnects = %d, want 1", client.disconnects)
	}
	entries, _ := os.ReadDir(root)
	if len(entries) != 0 {
		t.Fatalf("failed run created %d entries under local root, want 0", len(entries))
	}
}

func TestRunRejectsNonDirectoryLocalRoot(t *testing.T) {
	client := newFakeClient()
	occupied := filepath.Join(t.TempDir(), "occupied")
	if err := os.WriteFile(occupied, []byte("x"), 0o644); err != nil {
		t.Fatalf("seeding file: %v", err)
	}

	res := newTestSnapshotter(client, time.Now()).Run(context.Background(), Target{Host: "example.com", Protocol: ProtocolSFTP, RemoteRoot: "/site", LocalRoot: occupied}, nil)
	if res.Success {
		t.Fatal("run succeeded, want failure")
	}
	if !strings.Contains(res.Message, "not a directory") {
		t.Fatalf("Message = %q, want local-root rejection", res.Message)
	}
	if client.disconnects != 1 {
		t.Fatalf("disconnects = %d, want 1", client.disconnects)
	}
}

func TestRunCountsSkippedItems(t *testing.T) {
	client := newFakeClient()
	client.fetchErr["/site/logs/app.log"] = errors.New("550 permission denied")
	root := t.TempDir()

	res := newTestSnapshotter(client, time.Now()).Run(context.Background(), Target{Host: "example.com", Protocol: ProtocolSFTP, RemoteRoot: "/site", LocalRoot: root}, nil)
	if !res.Success {
		t.Fatalf("run failed: %s", res.Message)
	}
	if res.FileCount != 3 || res.SkippedItems != 1 {
		t.Fatalf("counters = files %d skipped %d, want 3 and 1", res.FileCount, res.SkippedItems)
	}
}

func TestRunReportsAbortedWalk(t *testing.T) {
	client := newFakeClient()
	root := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())

	res := newTestSnapshotter(client, time.Now()).Run(ctx, Target{Host: "example.com", Protocol: ProtocolSFTP, RemoteRoot: "/site", LocalRoot: root}, func(string, int64) { cancel() })
	if res.Success {
		t.Fatal("aborted run reported success")
	}
	if !strings.Contains(res.Message, "aborted") {
		t.Fatalf("Message = %q, want abort notice", res.Message)
	}
	// The partial snapshot stays on disk for inspection.
	if res.SnapshotPath == "" {
		t.Fatal("aborted run lost its snapshot path")
	}
	if res.FileCount != 1 {
		t.Fatalf("FileCount = %d, want 1", res.FileCount)
	}
	if client.disconnects != 1 {
		t.Fatalf("disconnects = %d, want 1", client.disconnects)
	}
}

package cloud

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
)

// The resumable protocol: one session POST, then range-declaring PUTs
// answered 308 until the last one completes the object.
func TestDriveResumableUploadAdvancesOnAcknowledgedChunks(t *testing.T) {
	const total = 25

	var ranges []string
	var rebuilt []byte
	sessions := 0

	mux := http.NewServeMux()
	mux.HandleFunc("/upload/drive/v3/files", func(w http.ResponseWriter, r *http.Request) {
		sessions++
		if got := r.URL.Query().Get("uploadType"); got != "resumable" {
			t.Errorf("uploadType = %q, want resumable", got)
		}
		if got := r.Header.Get("X-Upload-Content-Length"); got != fmt.Sprint(total) {
			t.Errorf("X-Upload-Content-Length = %q, want %d", got, total)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if !bytes.Contains(body, []byte(`"name":"site.zip"`)) {
			t.Errorf("session metadata = %s, want the filename", body)
		}
		w.Header().Set("Location", "http://"+r.Host+"/upload-session")
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/upload-session", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rebuilt = append(rebuilt, body...)
		cr := r.Header.Get("Content-Range")
		ranges = append(ranges, cr)
		if len(rebuilt) < total {
			w.WriteHeader(driveStatusResumeIncomplete)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"drive-object-1"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	g := NewGoogleDrive("id", "secret", "http://localhost/cb")
	g.apiBase = srv.URL
	g.client = srv.Client()
	g.smallLimit = 8
	g.chunkSize = 10

	local := writeTempFile(t, "site.zip", total)
	remoteID, err := g.Upload(context.Background(), "tok", local, "folder-7", "site.zip")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if remoteID != "drive-object-1" {
		t.Fatalf("remoteID = %q, want drive-object-1", remoteID)
	}
	if sessions != 1 {
		t.Fatalf("session creations = %d, want 1", sessions)
	}

	want := []string{"bytes 0-9/25", "bytes 10-19/25", "bytes 20-24/25"}
	if len(ranges) != len(want) {
		t.Fatalf("chunk PUTs = %d (%v), want %d", len(ranges), ranges, len(want))
	}
	for i := range want {
		if ranges[i] != want[i] {
			t.Fatalf("range %d = %q, want %q", i, ranges[i], want[i])
		}
	}

	original, _ := os.ReadFile(local)
	if !bytes.Equal(rebuilt, original) {
		t.Fatal("chunks do not reassemble into the original file")
	}
}

func TestDriveMultipartUploadBelowLimit(t *testing.T) {
	var contentType string
	var body []byte

	mux := http.NewServeMux()
	mux.HandleFunc("/upload/drive/v3/files", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("uploadType"); got != "multipart" {
			t.Errorf("uploadType = %q, want multipart", got)
		}
		contentType = r.Header.Get("Content-Type")
		body, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"small-1"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	g := NewGoogleDrive("id", "secret", "http://localhost/cb")
	g.apiBase = srv.URL
	g.client = srv.Client()

	local := writeTempFile(t, "tiny.zip", 64)
	remoteID, err := g.Upload(context.Background(), "tok", local, "", "tiny.zip")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if remoteID != "small-1" {
		t.Fatalf("remoteID = %q, want small-1", remoteID)
	}
	if !strings.HasPrefix(contentType, "multipart/related; boundary=") {
		t.Fatalf("Content-Type = %q, want multipart/related", contentType)
	}
	if !bytes.Contains(body, []byte(`"parents":["root"]`)) {
		t.Fatalf("metadata missing root parent: %s", body)
	}
	original, _ := os.ReadFile(local)
	if !bytes.Contains(body, original) {
		t.Fatal("multipart body does not carry the file content")
	}
}

func TestDriveListFoldersQueriesParent(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/drive/v3/files", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		if !strings.Contains(q, "'parent-3' in parents") {
			t.Errorf("q = %q, want parent filter", q)
		}
		if !strings.Contains(q, "mimeType='application/vnd.google-apps.folder'") {
			t.Errorf("q = %q, want folder mime filter", q)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"files":[{"id":"f1","name":"Backups"},{"id":"f2","name":"Sites"}]}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	g := NewGoogleDrive("id", "secret", "http://localhost/cb")
	g.apiBase = srv.URL
	g.client = srv.Client()

	folders, err := g.ListFolders(context.Background(), "tok", "parent-3")
	if err != nil {
		t.Fatalf("ListFolders: %v", err)
	}
	if len(folders) != 2 || folders[0].Name != "Backups" {
		t.Fatalf("folders = %+v", folders)
	}
}

func TestDriveAuthCodeURLForcesConsent(t *testing.T) {
	g := NewGoogleDrive("client-9", "secret", "http://localhost/cb")
	u, err := url.Parse(g.AuthCodeURL("state-7"))
	if err != nil {
		t.Fatalf("parsing auth URL: %v", err)
	}
	q := u.Query()
	if q.Get("access_type") != "offline" || q.Get("prompt") != "consent" {
		t.Fatalf("query = %v, want offline access with forced consent", q)
	}
	if q.Get("state") != "state-7" {
		t.Fatalf("state = %q", q.Get("state"))
	}
	if !strings.Contains(q.Get("scope"), "drive.file") {
		t.Fatalf("scope = %q, want drive.file", q.Get("scope"))
	}
}

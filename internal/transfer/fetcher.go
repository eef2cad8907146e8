package transfer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// ProgressFunc receives the name and size of each file that lands in the
// snapshot. It runs on the walk goroutine and must not block for long.
type ProgressFunc func(name string, size int64)

// SkippedItem records one path the walk gave up on and why.
type SkippedItem struct {
	Path   string
	Reason string
}

// Stats aggregates one walk. FileCount and TotalBytes only count files that
// were fully written locally; everything else lands in Skipped.
type Stats struct {
	FileCount  int
	TotalBytes int64
	Skipped    []SkippedItem
}

// Fetcher mirrors a remote directory tree beneath a local root through a
// connected Client. Per-item failures are soft: an unreadable file or an
// unlistable directory is recorded and the walk moves on to the next
// sibling. Only context cancellation aborts a walk, and it is checked
// between items, never mid-transfer.
type Fetcher struct {
	client     Client
	onProgress ProgressFunc
}

// NewFetcher wires a fetcher to an already connected client. onProgress may
// be nil.
func NewFetcher(client Client, onProgress ProgressFunc) *Fetcher {
	return &Fetcher{client: client, onProgress: onProgress}
}

// Fetch walks remotePath depth-first into localPath and reports what it
// moved. The returned error is non-nil only when ctx was cancelled; the
// stats still describe everything fetched up to that point.
func (f *Fetcher) Fetch(ctx context.Context, remotePath, localPath string) (Stats, error) {
	var stats Stats
	err := f.walk(ctx, remotePath, localPath, &stats)
	return stats, err
}

func (f *Fetcher) walk(ctx context.Context, remotePath, localPath string, stats *Stats) error {
	if err := os.MkdirAll(localPath, 0o755); err != nil {
		f.skip(stats, remotePath, fmt.Sprintf("creating local directory: %v", err))
		return nil
	}
	entries, err := f.client.ListDir(remotePath)
	if err != nil {
		// An unlistable directory contributes nothing to the snapshot and
		// must not sink its siblings.
		f.skip(stats, remotePath, fmt.Sprintf("listing directory: %v", err))
		return nil
	}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		local := filepath.Join(localPath, entry.Name)
		if entry.IsDir {
			if err := f.walk(ctx, entry.Path, local, stats); err != nil {
				return err
			}
			continue
		}
		written, err := f.client.FetchFile(entry.Path, local)
		if err != nil {
			f.skip(stats, entry.Path, fmt.Sprintf("fetching file: %v", err))
			continue
		}
		stats.FileCount++
		stats.TotalBytes += written
		if f.onProgress != nil {
			f.onProgress(entry.Name, written)
		}
	}
	return nil
}

func (f *Fetcher) skip(stats *Stats, itemPath, reason string) {
	stats.Skipped = append(stats.Skipped, SkippedItem{Path: itemPath, Reason: reason})
	log.Warn().Str("path", itemPath).Str("reason", reason).Msg("Skipping unreadable item")
}

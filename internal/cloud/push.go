package cloud

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
)

// PushResult describes one relay of a snapshot to a provider.
type PushResult struct {
	Provider     Provider
	RemoteID     string
	Filename     string
	ArchiveBytes int64
	Duration     time.Duration
}

// Pusher packages finished snapshots and hands them to provider uploaders.
// The local snapshot directory is never deleted, whatever the cloud outcome;
// only the intermediate archive is cleaned up.
type Pusher struct {
	tokens *TokenStore
	now    func() time.Time
}

func NewPusher(tokens *TokenStore) *Pusher {
	return &Pusher{tokens: tokens, now: time.Now}
}

// Push archives snapshotDir and uploads the archive through uploader into
// folderID under filename (defaults to the archive's own name). A live
// access token is obtained immediately before the upload call.
func (p *Pusher) Push(ctx context.Context, uploader Uploader, snapshotDir, folderID, filename string) (PushResult, error) {
	started := p.now()

	info, err := os.Stat(snapshotDir)
	if err != nil {
		return PushResult{}, fmt.Errorf("snapshot directory not found: %w", err)
	}
	if !info.IsDir() {
		return PushResult{}, fmt.Errorf("snapshot path %q is not a directory", snapshotDir)
	}

	archivePath, err := ArchiveSnapshot(snapshotDir, "")
	if err != nil {
		return PushResult{}, err
	}
	defer os.Remove(archivePath)

	if filename == "" {
		filename = filepath.Base(archivePath)
	}

	archiveInfo, err := os.Stat(archivePath)
	if err != nil {
		return PushResult{}, fmt.Errorf("could not stat archive: %w", err)
	}

	cred, err := p.tokens.EnsureValid(ctx, uploader.Provider())
	if err != nil {
		return PushResult{}, err
	}

	remoteID, err := uploader.Upload(ctx, cred.AccessToken, archivePath, folderID, filename)
	if err != nil {
		// The snapshot stays on disk; only the relay failed.
		return PushResult{}, err
	}

	result := PushResult{
		Provider:     uploader.Provider(),
		RemoteID:     remoteID,
		Filename:     filename,
		ArchiveBytes: archiveInfo.Size(),
		Duration:     p.now().Sub(started),
	}
	log.Info().
		Str("provider", string(result.Provider)).
		Str("remote_id", remoteID).
		Str("size", humanize.Bytes(uint64(result.ArchiveBytes))).
		Dur("duration", result.Duration).
		Msg("Snapshot pushed to cloud storage")
	return result, nil
}

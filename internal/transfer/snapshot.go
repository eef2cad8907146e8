package transfer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/disk"
)

// Snapshot directories are named by wall-clock start time. Two runs against
// the same local root inside one second would collide; the per-site run
// guard upstream makes that sequence unreachable in practice.
const (
	snapshotPrefix     = "backup_"
	snapshotTimeLayout = "20060102_150405"
)

// Result is the record a snapshot run always produces, success or not. A
// failed pre-flight carries a message and zero counters. A run with skipped
// items is still a success; the skips are counted, not fatal.
type Result struct {
	Success      bool
	Message      string
	SnapshotPath string
	FileCount    int
	TotalBytes   int64
	SkippedItems int
	Duration     time.Duration
}

// Snapshotter drives one backup run end to end: connect, pre-flight checks,
// snapshot directory creation, recursive fetch, result assembly. It holds no
// state between runs.
type Snapshotter struct {
	newClient func(Target) (Client, error)
	now       func() time.Time
}

func NewSnapshotter() *Snapshotter {
	return &Snapshotter{newClient: NewClient, now: time.Now}
}

// Run executes a backup of target, reporting per-file progress through
// onProgress (which may be nil). It never panics or returns an error: every
// failure mode collapses into a Result with Success=false and the cause in
// Message. The client is disconnected on every exit path.
func (s *Snapshotter) Run(ctx context.Context, target Target, onProgress ProgressFunc) Result {
	started := s.now()
	fail := func(err error) Result {
		log.Error().Err(err).Str("host", target.Host).Msg("Backup run failed")
		return Result{Message: err.Error(), Duration: s.now().Sub(started)}
	}

	client, err := s.newClient(target)
	if err != nil {
		return fail(err)
	}
	if err := client.Connect(ctx); err != nil {
		return fail(err)
	}
	defer client.Disconnect()

	if err := client.ProbeDir(target.RemoteRoot); err != nil {
		return fail(err)
	}
	if err := validateLocalRoot(target.LocalRoot); err != nil {
		return fail(err)
	}

	snapshotPath := filepath.Join(target.LocalRoot, snapshotPrefix+started.Format(snapshotTimeLayout))
	if err := os.MkdirAll(snapshotPath, 0o755); err != nil {
		return fail(fmt.Errorf("%w: creating snapshot directory: %v", ErrValidation, err))
	}
	logVolumeState(snapshotPath)

	stats, err := NewFetcher(client, onProgress).Fetch(ctx, target.RemoteRoot, snapshotPath)
	duration := s.now().Sub(started)
	if err != nil {
		// Cancellation is the one condition that aborts a walk. The partial
		// snapshot stays on disk; the result reports what made it across.
		return Result{
			Message:      fmt.Sprintf("backup aborted: %v", err),
			SnapshotPath: snapshotPath,
			FileCount:    stats.FileCount,
			TotalBytes:   stats.TotalBytes,
			SkippedItems: len(stats.Skipped),
			Duration:     duration,
		}
	}

	log.Info().
		Str("snapshot", snapshotPath).
		Int("files", stats.FileCount).
		Str("size", humanize.Bytes(uint64(stats.TotalBytes))).
		Int("skipped", len(stats.Skipped)).
		Dur("duration", duration).
		Msg("Backup completed")

	return Result{
		Success:      true,
		Message:      fmt.Sprintf("backed up %d files (%s)", stats.FileCount, humanize.Bytes(uint64(stats.TotalBytes))),
		SnapshotPath: snapshotPath,
		FileCount:    stats.FileCount,
		TotalBytes:   stats.TotalBytes,
		SkippedItems: len(stats.Skipped),
		Duration:     duration,
	}
}

// validateLocalRoot rejects a local root that exists but is not a writable
// directory. A missing root is fine; it is created with the snapshot.
func validateLocalRoot(localRoot string) error {
	info, err := os.Stat(localRoot)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: local root %q: %v", ErrValidation, localRoot, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: local root %q is not a directory", ErrValidation, localRoot)
	}
	probe, err := os.CreateTemp(localRoot, ".write-probe-*")
	if err != nil {
		return fmt.Errorf("%w: local root %q is not writable: %v", ErrValidation, localRoot, err)
	}
	probe.Close()
	os.Remove(probe.Name())
	return nil
}

// logVolumeState records how much room the snapshot volume has left. Purely
// observational; a full disk will surface as fetch failures soon enough.
func logVolumeState(snapshotPath string) {
	usage, err := disk.Usage(snapshotPath)
	if err != nil {
		log.Debug().Err(err).Msg("Could not read snapshot volume usage")
		return
	}
	log.Info().
		Str("path", snapshotPath).
		Str("free", humanize.IBytes(usage.Free)).
		Float64("used_percent", usage.UsedPercent).
		Msg("Snapshot volume state")
}

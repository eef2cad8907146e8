package services

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/siteback/siteback-be/internal/models"
)

// SystemServiceProvider defines the interface for local filesystem services
// backing the backup destination picker.
type SystemServiceProvider interface {
	BrowseDirectory(path string) (models.DirListing, error)
	CreateDirectory(path string) (string, error)
	DiskUsage(path string) (models.DiskUsage, error)
}

// SystemService provides directory listing and creation on the host the
// service runs on. Hidden entries are skipped; the picker has no use for them.
type SystemService struct{}

// NewSystemService creates a new SystemService.
func NewSystemService() *SystemService {
	return &SystemService{}
}

// BrowseDirectory lists the entries of a local directory, directories first.
func (s *SystemService) BrowseDirectory(path string) (models.DirListing, error) {
	resolved, err := expandPath(path)
	if err != nil {
		return models.DirListing{}, err
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return models.DirListing{}, classifyPathError(resolved, err)
	}
	if !info.IsDir() {
		return models.DirListing{}, fmt.Errorf("%w: %q is not a directory", ErrInvalid, resolved)
	}

	entries, err := os.ReadDir(resolved)
	if err != nil {
		return models.DirListing{}, classifyPathError(resolved, err)
	}

	listing := models.DirListing{Path: resolved, Entries: []models.DirEntry{}}
	if parent := filepath.Dir(resolved); parent != resolved {
		listing.Parent = parent
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		item := models.DirEntry{
			Name:  entry.Name(),
			Path:  filepath.Join(resolved, entry.Name()),
			IsDir: entry.IsDir(),
		}
		if !entry.IsDir() {
			if fi, err := entry.Info(); err == nil {
				item.Size = fi.Size()
			}
		}
		listing.Entries = append(listing.Entries, item)
	}
	sort.Slice(listing.Entries, func(i, j int) bool {
		a, b := listing.Entries[i], listing.Entries[j]
		if a.IsDir != b.IsDir {
			return a.IsDir
		}
		return strings.ToLower(a.Name) < strings.ToLower(b.Name)
	})
	return listing, nil
}

// CreateDirectory creates a new local directory, parents included, and
// returns the resolved path.
func (s *SystemService) CreateDirectory(path string) (string, error) {
	resolved, err := expandPath(path)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(resolved); err == nil {
		return "", fmt.Errorf("%w: %q already exists", ErrInvalid, resolved)
	}
	if err := os.MkdirAll(resolved, 0o755); err != nil {
		return "", classifyPathError(resolved, err)
	}
	return resolved, nil
}

// DiskUsage reports the volume state behind a local path.
func (s *SystemService) DiskUsage(path string) (models.DiskUsage, error) {
	resolved, err := expandPath(path)
	if err != nil {
		return models.DiskUsage{}, err
	}
	usage, err := disk.Usage(resolved)
	if err != nil {
		return models.DiskUsage{}, classifyPathError(resolved, err)
	}
	return models.DiskUsage{
		Path:        resolved,
		TotalBytes:  usage.Total,
		UsedBytes:   usage.Used,
		FreeBytes:   usage.Free,
		UsedPercent: usage.UsedPercent,
		TotalHuman:  humanize.IBytes(usage.Total),
		FreeHuman:   humanize.IBytes(usage.Free),
	}, nil
}

// expandPath resolves ~ and relative segments to an absolute path.
func expandPath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: path is required", ErrInvalid)
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return filepath.Abs(path)
}

// classifyPathError maps OS errors onto the service sentinels so the API
// layer can pick a status without inspecting errno.
func classifyPathError(path string, err error) error {
	switch {
	case os.IsNotExist(err):
		return fmt.Errorf("%w: %q", ErrNotFound, path)
	case os.IsPermission(err):
		return fmt.Errorf("%w: %q", ErrForbidden, path)
	default:
		return err
	}
}

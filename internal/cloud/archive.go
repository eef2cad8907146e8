package cloud

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ArchiveSnapshot packs a snapshot directory into a single zip so providers
// receive one object per run. Entry names are paths relative to the snapshot
// root; empty directories are preserved. Returns the archive path, which is
// snapshotDir + ".zip" unless outputPath is given.
func ArchiveSnapshot(snapshotDir, outputPath string) (string, error) {
	if outputPath == "" {
		outputPath = snapshotDir + ".zip"
	}

	archive, err := os.Create(outputPath)
	if err != nil {
		return "", fmt.Errorf("could not create archive file: %w", err)
	}
	defer archive.Close()

	zipWriter := zip.NewWriter(archive)
	defer zipWriter.Close()

	err = filepath.Walk(snapshotDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		relPath, err := filepath.Rel(snapshotDir, path)
		if err != nil {
			return err
		}
		if relPath == "." {
			return nil
		}
		relPath = filepath.ToSlash(relPath)
		if info.IsDir() {
			_, err = zipWriter.Create(relPath + "/")
			return err
		}
		writer, err := zipWriter.Create(relPath)
		if err != nil {
			return err
		}
		fileToZip, err := os.Open(path)
		if err != nil {
			return err
		}
		defer fileToZip.Close()
		_, err = io.Copy(writer, fileToZip)
		return err
	})

	if err != nil {
		os.Remove(outputPath) // Clean up partial file
		return "", fmt.Errorf("failed to pack snapshot: %w", err)
	}

	if err := zipWriter.Close(); err != nil {
		os.Remove(outputPath)
		return "", fmt.Errorf("failed to finalize archive: %w", err)
	}
	if err := archive.Close(); err != nil {
		os.Remove(outputPath)
		return "", fmt.Errorf("failed to finalize archive: %w", err)
	}
	return outputPath, nil
}

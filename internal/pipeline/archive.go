package pipeline

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	// maxArchiveFiles bounds the number of entries extracted from an archive
	maxArchiveFiles = 10 * 1000

	// maxExtractedSize bounds the total bytes extracted from an archive (200MB)
	maxExtractedSize = 200 * 1024 * 1024
)

// gitDirName is the version-control metadata directory that survives the
// clear-before-extract step and is never written from an archive
const gitDirName = ".git"

// clearWorktree removes everything in dir except the version-control
// metadata directory. Clearing before extraction is what makes deletions
// detectable: files present in the previous tree but absent from the
// archive end up staged as deleted.
func clearWorktree(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read working tree: %w", err)
	}
	for _, entry := range entries {
		if entry.Name() == gitDirName {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return fmt.Errorf("failed to clear %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// extractArchive extracts a zip archive over dir, guarding against path
// traversal and refusing to touch the version-control metadata directory.
func extractArchive(archive []byte, dir string) error {
	reader, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}

	if len(reader.File) > maxArchiveFiles {
		return fmt.Errorf("archive contains %d entries, exceeding the limit of %d", len(reader.File), maxArchiveFiles)
	}

	root := filepath.Clean(dir)
	var extracted int64

	for _, f := range reader.File {
		name := filepath.Clean(filepath.FromSlash(f.Name))
		if name == "." || name == gitDirName || strings.HasPrefix(name, gitDirName+string(os.PathSeparator)) {
			continue
		}

		target := filepath.Join(root, name)
		if !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry %q escapes the working tree", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0750); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", name, err)
			}
			continue
		}

		extracted += int64(f.UncompressedSize64) // #nosec G115 -- bounded below
		if extracted > maxExtractedSize {
			return fmt.Errorf("archive exceeds the extracted size limit of %d bytes", int64(maxExtractedSize))
		}

		if err := extractFile(f, target); err != nil {
			return fmt.Errorf("failed to extract %s: %w", name, err)
		}
	}
	return nil
}

// extractFile writes a single archive entry to target
func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0750); err != nil {
		return err
	}

	src, err := f.Open()
	if err != nil {
		return err
	}
	defer func() {
		_ = src.Close()
	}()

	mode := f.Mode().Perm()
	if mode == 0 {
		mode = 0644
	}
	// #nosec G304 -- target is validated against the working tree root
	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}

	// Bound the copy so a lying zip header cannot blow past the size limit.
	_, copyErr := io.Copy(dst, io.LimitReader(src, maxExtractedSize))
	closeErr := dst.Close()
	if copyErr != nil {
		return copyErr
	}
	return closeErr
}

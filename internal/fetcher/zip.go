package fetcher

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// ExtractZIP unpacks every entry of the archive into destDir and returns
// the paths of the extracted files. Directory entries are created but not
// included in the returned list. The NPPES dissemination archive holds the
// data file alongside header and readme files, so callers glob the result.
func ExtractZIP(zipPath, destDir string) ([]string, error) {
	archive, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, eris.Wrapf(err, "zip: open %s", zipPath)
	}
	defer archive.Close() //nolint:errcheck

	var extracted []string
	for _, entry := range archive.File {
		path, err := writeZIPEntry(entry, destDir)
		if err != nil {
			return extracted, err
		}
		if path != "" {
			extracted = append(extracted, path)
		}
	}
	return extracted, nil
}

// ExtractZIPFile unpacks the named entry only and returns its path on disk.
func ExtractZIPFile(zipPath, name, destDir string) (string, error) {
	archive, err := zip.OpenReader(zipPath)
	if err != nil {
		return "", eris.Wrapf(err, "zip: open %s", zipPath)
	}
	defer archive.Close() //nolint:errcheck

	for _, entry := range archive.File {
		if entry.Name == name {
			return writeZIPEntry(entry, destDir)
		}
	}
	return "", eris.Errorf("zip: no entry %q in %s", name, zipPath)
}

// writeZIPEntry materializes one archive entry under destDir. Returns the
// written path, or "" for directory entries. Entry names are untrusted;
// anything escaping destDir is rejected.
func writeZIPEntry(entry *zip.File, destDir string) (string, error) {
	cleanDest := filepath.Clean(destDir)
	target := filepath.Join(cleanDest, entry.Name)
	if target != cleanDest && !strings.HasPrefix(target, cleanDest+string(os.PathSeparator)) {
		return "", eris.Errorf("zip: entry %q escapes extraction dir", entry.Name)
	}

	if entry.FileInfo().IsDir() {
		if err := os.MkdirAll(target, 0o755); err != nil {
			return "", eris.Wrap(err, "zip: make dir")
		}
		return "", nil
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", eris.Wrap(err, "zip: make parent dir")
	}

	src, err := entry.Open()
	if err != nil {
		return "", eris.Wrapf(err, "zip: open entry %q", entry.Name)
	}
	defer src.Close() //nolint:errcheck

	dst, err := os.Create(target)
	if err != nil {
		return "", eris.Wrap(err, "zip: create file")
	}
	defer dst.Close() //nolint:errcheck

	if _, err := io.Copy(dst, src); err != nil {
		return "", eris.Wrapf(err, "zip: extract %q", entry.Name)
	}
	return target, nil
}

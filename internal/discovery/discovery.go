package discovery

import (
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"audio-analyser/internal/models"
)

// ErrDirectoryNotFound is returned when the input directory does not exist.
var ErrDirectoryNotFound = errors.New("directory not found")

// List returns the regular files in dir whose extension matches one of exts
// (case-insensitive), sorted by filename. An empty exts matches every file.
func List(dir string, exts []string) ([]models.InputFile, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrDirectoryNotFound, dir)
		}
		return nil, fmt.Errorf("stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrDirectoryNotFound, dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}

	files := make([]models.InputFile, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !e.Type().IsRegular() {
			continue
		}
		if !Matches(e.Name(), exts) {
			continue
		}
		files = append(files, models.InputFile{
			Path: filepath.Join(abs, e.Name()),
			Name: e.Name(),
			Type: TypeOf(e.Name()),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// Matches reports whether name ends with one of exts, ignoring case.
func Matches(name string, exts []string) bool {
	if len(exts) == 0 {
		return true
	}
	lower := strings.ToLower(name)
	for _, ext := range exts {
		if ext != "" && strings.HasSuffix(lower, strings.ToLower(ext)) {
			return true
		}
	}
	return false
}

// TypeOf guesses the media type from the file extension.
func TypeOf(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".wav":
		return "audio/wav"
	case ".txt":
		return "text/plain"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

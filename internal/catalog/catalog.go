package catalog

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"audio-analyser/internal/discovery"
	"audio-analyser/internal/models"
)

// Listing is the content of one result directory. Warning is set when the directory
// does not exist yet.
type Listing struct {
	Artifacts []models.Artifact
	Warning   string
}

// List reads every regular file in dir, optionally filtered by extension, sorted by name.
func List(dir string, exts ...string) (Listing, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return Listing{Artifacts: []models.Artifact{}, Warning: fmt.Sprintf("directory %s does not exist", dir)}, nil
	}
	if err != nil {
		return Listing{}, fmt.Errorf("read dir %s: %w", dir, err)
	}

	out := make([]models.Artifact, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".tmp-") {
			continue
		}
		if !discovery.Matches(e.Name(), exts) {
			continue
		}
		content, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return Listing{}, fmt.Errorf("read %s: %w", e.Name(), err)
		}
		out = append(out, models.Artifact{
			Filename: e.Name(),
			Content:  string(content),
			Format:   formatOf(e.Name()),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return Listing{Artifacts: out}, nil
}

func formatOf(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		return "json"
	case ".txt":
		return "text"
	default:
		return strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	}
}

// Package source loads profile datasets from the fetch collaborator.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"mirrorsync/internal/config"
	"mirrorsync/internal/model"
)

// ErrNoDataset is returned when no dataset exists for a profile.
var ErrNoDataset = errors.New("no dataset")

// Source defines how a dataset for a profile is obtained.
type Source interface {
	Fetch(ctx context.Context, username string) (model.SyncDataset, error)
}

// New builds the source selected by configuration.
func New(cfg config.SourceConfig) (Source, error) {
	switch strings.ToLower(cfg.Kind) {
	case "", "file":
		return NewFileSource(cfg.Dir), nil
	case "http":
		if cfg.BaseURL == "" {
			return nil, errors.New("source.baseURL is required for http source")
		}
		return NewHTTPSource(cfg.BaseURL, cfg.Token), nil
	default:
		return nil, fmt.Errorf("unknown source kind %q", cfg.Kind)
	}
}

// FileSource reads <dir>/<username>.json.
type FileSource struct {
	dir string
}

func NewFileSource(dir string) *FileSource { return &FileSource{dir: dir} }

func (s *FileSource) Fetch(_ context.Context, username string) (model.SyncDataset, error) {
	name := strings.TrimPrefix(strings.TrimSpace(username), "@")
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return model.SyncDataset{}, fmt.Errorf("invalid username %q", username)
	}
	return ReadFile(filepath.Join(s.dir, name+".json"))
}

// ReadFile decodes one dataset file.
func ReadFile(path string) (model.SyncDataset, error) {
	var ds model.SyncDataset
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return ds, fmt.Errorf("%s: %w", path, ErrNoDataset)
	}
	if err != nil {
		return ds, err
	}
	if err := json.Unmarshal(b, &ds); err != nil {
		return ds, fmt.Errorf("decode %s: %w", path, err)
	}
	return ds, nil
}

package fetch

import (
	"context"
	"errors"
	"path"
	"strings"
)

// ErrNotFound is returned by Fetch when the file does not exist.
var ErrNotFound = errors.New("file not found")

// Provider fetches flat files (CSV, JSON) by path and answers existence probes.
// Paths are slash-separated and relative to the provider root.
type Provider interface {
	Fetch(ctx context.Context, path string) ([]byte, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// cleanPath normalizes a provider path and rejects attempts to escape the root.
func cleanPath(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", errors.New("empty path")
	}
	cleaned := path.Clean("/" + strings.ReplaceAll(p, "\\", "/"))
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" || cleaned == "." {
		return "", errors.New("empty path")
	}
	return cleaned, nil
}

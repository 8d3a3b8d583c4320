package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// AttachmentSink persists attachment bytes and returns where they went.
type AttachmentSink interface {
	Put(ctx context.Context, runID, filename, contentType string, data []byte) (location string, err error)
}

// AttachmentRemover is implemented by sinks that can delete bytes they
// stored. Ingestion uses it to clean up when the metadata row fails.
type AttachmentRemover interface {
	Remove(ctx context.Context, location string) error
}

// DirSink writes attachments under a local directory as <root>/<runID>/<filename>.
type DirSink struct {
	root string
}

// NewDirSink creates root if needed.
func NewDirSink(root string) (*DirSink, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("ingest: create attachment dir: %w", err)
	}
	return &DirSink{root: root}, nil
}

var errUnsafeName = errors.New("ingest: unsafe attachment path")

// Put writes data, replacing any previous file of the same name.
func (d *DirSink) Put(_ context.Context, runID, filename, _ string, data []byte) (string, error) {
	if !safeSegment(runID) || !safeSegment(filename) {
		return "", fmt.Errorf("%w: %s/%s", errUnsafeName, runID, filename)
	}
	dir := filepath.Join(d.root, runID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("ingest: create run dir: %w", err)
	}
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return "", fmt.Errorf("ingest: write attachment: %w", err)
	}
	return path, nil
}

// Remove deletes a file previously returned by Put. Locations outside the
// root are refused.
func (d *DirSink) Remove(_ context.Context, location string) error {
	rel, err := filepath.Rel(d.root, location)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") || filepath.IsAbs(rel) {
		return fmt.Errorf("%w: %s", errUnsafeName, location)
	}
	if err := os.Remove(location); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("ingest: remove attachment: %w", err)
	}
	return nil
}

func safeSegment(s string) bool {
	return s != "" && s != "." && s != ".." &&
		!strings.ContainsAny(s, `/\`) && !strings.ContainsRune(s, 0)
}

// Package mirror persists fetched Site Paths under a destination root.
package mirror

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/Sriram-PR/site-mirror/pkg/utils"
)

// ErrOutsideRoot is returned when a Site Path would be written outside the destination root.
var ErrOutsideRoot = errors.New("path escapes mirror root")

// Writer saves documents and binaries beneath Root, creating parent directories as needed.
// It is safe for concurrent use.
type Writer struct {
	fs   afero.Fs
	root string
	log  *logrus.Entry

	bytesSaved atomic.Int64
	filesSaved atomic.Int64
}

// NewWriter returns a Writer rooted at root on fs
func NewWriter(fs afero.Fs, root string, log *logrus.Entry) *Writer {
	return &Writer{
		fs:   fs,
		root: filepath.Clean(root),
		log:  log,
	}
}

// Root returns the destination root directory
func (w *Writer) Root() string { return w.root }

// Fs returns the underlying filesystem
func (w *Writer) Fs() afero.Fs { return w.fs }

// Prepare ensures the root exists. With clean set, any previous mirror is removed first.
func (w *Writer) Prepare(clean bool) error {
	if clean {
		w.log.Infof("Cleaning mirror directory: %s", w.root)
		if err := w.fs.RemoveAll(w.root); err != nil {
			return fmt.Errorf("%w: removing mirror root '%s': %w", utils.ErrFilesystem, w.root, err)
		}
	}
	if err := w.fs.MkdirAll(w.root, 0755); err != nil {
		return fmt.Errorf("%w: creating mirror root '%s': %w", utils.ErrFilesystem, w.root, err)
	}
	return nil
}

// LocalPath maps a Site Path to its file location beneath the root.
func (w *Writer) LocalPath(sitePath string) (string, error) {
	rel := filepath.FromSlash(strings.TrimLeft(sitePath, "/"))
	if rel == "" {
		return "", fmt.Errorf("%w: empty site path", utils.ErrFilesystem)
	}
	full := filepath.Join(w.root, rel)
	if full != w.root && !strings.HasPrefix(full, w.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %w: '%s'", utils.ErrFilesystem, ErrOutsideRoot, sitePath)
	}
	return full, nil
}

// SaveText writes a text document at sitePath, replacing any existing file.
func (w *Writer) SaveText(sitePath, text string) error {
	return w.write(sitePath, []byte(text))
}

// SaveBinary writes raw bytes at sitePath, replacing any existing file.
func (w *Writer) SaveBinary(sitePath string, data []byte) error {
	return w.write(sitePath, data)
}

func (w *Writer) write(sitePath string, data []byte) error {
	localPath, err := w.LocalPath(sitePath)
	if err != nil {
		return err
	}

	dir := filepath.Dir(localPath)
	if mkdirErr := w.fs.MkdirAll(dir, 0755); mkdirErr != nil {
		return fmt.Errorf("%w: creating directory '%s': %w", utils.ErrFilesystem, dir, mkdirErr)
	}
	if writeErr := afero.WriteFile(w.fs, localPath, data, 0644); writeErr != nil {
		return fmt.Errorf("%w: writing '%s': %w", utils.ErrFilesystem, localPath, writeErr)
	}

	w.bytesSaved.Add(int64(len(data)))
	w.filesSaved.Add(1)
	w.log.WithField("path", sitePath).Debugf("Saved %d bytes to %s", len(data), localPath)
	return nil
}

// Exists reports whether a regular file is already stored for sitePath.
func (w *Writer) Exists(sitePath string) bool {
	localPath, err := w.LocalPath(sitePath)
	if err != nil {
		return false
	}
	info, err := w.fs.Stat(localPath)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}

// ReadFile returns the stored content for sitePath.
func (w *Writer) ReadFile(sitePath string) ([]byte, error) {
	localPath, err := w.LocalPath(sitePath)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(w.fs, localPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: '%s' not in mirror: %w", utils.ErrFilesystem, sitePath, err)
		}
		return nil, fmt.Errorf("%w: reading '%s': %w", utils.ErrFilesystem, localPath, err)
	}
	return data, nil
}

// BytesSaved returns the total number of bytes written so far
func (w *Writer) BytesSaved() int64 { return w.bytesSaved.Load() }

// FilesSaved returns the number of files written so far
func (w *Writer) FilesSaved() int64 { return w.filesSaved.Load() }

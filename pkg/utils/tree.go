package utils

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

const (
	indentPrefix    = "    "
	entryPrefix     = "├── "
	lastEntryPrefix = "└── "
	verticalLine    = "│   "
)

// SaveMirrorTree renders the directory tree rooted at root (on fs) into outputFilePath on the same fs.
func SaveMirrorTree(fs afero.Fs, root, outputFilePath string, log *logrus.Entry) error {
	file, err := fs.Create(outputFilePath)
	if err != nil {
		return fmt.Errorf("%w: create tree report '%s': %w", ErrFilesystem, outputFilePath, err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	if err := WriteMirrorTree(fs, root, writer, log); err != nil {
		return err
	}
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("%w: flush tree report '%s': %w", ErrFilesystem, outputFilePath, err)
	}
	return nil
}

// WriteMirrorTree writes a text tree of root to w. Directories sort before files, names case-insensitively.
func WriteMirrorTree(fs afero.Fs, root string, w io.Writer, log *logrus.Entry) error {
	info, err := fs.Stat(root)
	if err != nil {
		return fmt.Errorf("%w: stat mirror root '%s': %w", ErrFilesystem, root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: mirror root '%s' is not a directory", ErrFilesystem, root)
	}

	header := "Directory Structure for: " + root
	if _, err := fmt.Fprintf(w, "%s\n%s\n\n%s/\n", header, strings.Repeat("=", len(header)), filepath.Base(root)); err != nil {
		return err
	}

	log.Debugf("Rendering mirror tree from: %s", root)
	return walkTree(fs, w, root, "", log)
}

func walkTree(fs afero.Fs, w io.Writer, dirPath, indent string, log *logrus.Entry) error {
	entries, err := afero.ReadDir(fs, dirPath)
	if err != nil {
		log.Warnf("Failed to read directory '%s': %v", dirPath, err)
		return fmt.Errorf("%w: read directory '%s': %w", ErrFilesystem, dirPath, err)
	}

	slices.SortFunc(entries, func(a, b os.FileInfo) int {
		if a.IsDir() != b.IsDir() {
			if a.IsDir() {
				return -1
			}
			return 1
		}
		return strings.Compare(strings.ToLower(a.Name()), strings.ToLower(b.Name()))
	})

	for i, entry := range entries {
		isLast := i == len(entries)-1

		connector, nextIndent := entryPrefix, indent+verticalLine
		if isLast {
			connector, nextIndent = lastEntryPrefix, indent+indentPrefix
		}

		if _, err := fmt.Fprintf(w, "%s%s%s\n", indent, connector, entry.Name()); err != nil {
			return err
		}
		if entry.IsDir() {
			if err := walkTree(fs, w, filepath.Join(dirPath, entry.Name()), nextIndent, log); err != nil {
				return err
			}
		}
	}
	return nil
}

package utils

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEntry() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func writeFiles(t *testing.T, fs afero.Fs, paths ...string) {
	t.Helper()
	for _, p := range paths {
		require.NoError(t, afero.WriteFile(fs, p, []byte("x"), 0o644))
	}
}

func TestWriteMirrorTree_Prefixes(t *testing.T) {
	fs := afero.NewMemMapFs()
	// mirror/
	// ├── css/
	// │   └── style.css
	// └── index.html
	writeFiles(t, fs, "mirror/css/style.css", "mirror/index.html")

	var buf bytes.Buffer
	require.NoError(t, WriteMirrorTree(fs, "mirror", &buf, testEntry()))

	out := buf.String()
	assert.Contains(t, out, "Directory Structure for: mirror")
	assert.Contains(t, out, "mirror/\n")
	assert.Contains(t, out, "├── css\n")
	assert.Contains(t, out, "│   └── style.css\n")
	assert.Contains(t, out, "└── index.html\n")
}

func TestWriteMirrorTree_SortOrder(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, "m/beta.txt", "m/Alpha.txt", "m/zebra/a.txt", "m/apple/b.txt")

	var buf bytes.Buffer
	require.NoError(t, WriteMirrorTree(fs, "m", &buf, testEntry()))
	out := buf.String()

	apple := strings.Index(out, "apple")
	zebra := strings.Index(out, "zebra")
	alpha := strings.Index(out, "Alpha.txt")
	beta := strings.Index(out, "beta.txt")

	assert.Less(t, apple, zebra, "directories sorted by name")
	assert.Less(t, zebra, alpha, "directories before files")
	assert.Less(t, alpha, beta, "files sorted case-insensitively")
}

func TestWriteMirrorTree_EmptyDir(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("empty", 0o755))

	var buf bytes.Buffer
	require.NoError(t, WriteMirrorTree(fs, "empty", &buf, testEntry()))
	assert.True(t, strings.HasSuffix(buf.String(), "empty/\n"))
}

func TestWriteMirrorTree_Errors(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, "file.txt")

	t.Run("missing root", func(t *testing.T) {
		err := WriteMirrorTree(fs, "nope", io.Discard, testEntry())
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrFilesystem)
	})

	t.Run("root is a file", func(t *testing.T) {
		err := WriteMirrorTree(fs, "file.txt", io.Discard, testEntry())
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrFilesystem)
	})
}

func TestSaveMirrorTree(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, "site/index.html", "site/static/oscar.jpg")

	require.NoError(t, SaveMirrorTree(fs, "site", "site_structure.txt", testEntry()))

	data, err := afero.ReadFile(fs, "site_structure.txt")
	require.NoError(t, err)
	assert.Contains(t, string(data), "oscar.jpg")
	assert.Contains(t, string(data), "index.html")
}

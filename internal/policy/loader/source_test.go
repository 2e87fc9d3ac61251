package loader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arbiter/pkg/platform/sentinel"
)

func TestCodeFromFilename(t *testing.T) {
	tests := map[string]struct {
		code string
		ok   bool
	}{
		"AE.yaml":     {"AE", true},
		"us.yml":      {"US", true},
		"GB-SCT.yaml": {"GB-SCT", true},
		".AE.yaml":    {"", false},
		"AE.yaml~":    {"", false},
		"README.md":   {"", false},
		".yaml":       {"", false},
	}
	for name, tt := range tests {
		code, ok := CodeFromFilename(name)
		assert.Equal(t, tt.ok, ok, name)
		assert.Equal(t, tt.code, code, name)
	}
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "AE.yaml"), []byte("code: AE"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "us.yml"), []byte("code: US"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))

	src := NewFileSource(dir)
	ctx := context.Background()

	codes, err := src.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"AE", "US"}, codes)

	doc, err := src.Fetch(ctx, "US")
	require.NoError(t, err)
	assert.Equal(t, "code: US", string(doc.Bytes))
	assert.False(t, doc.ModTime.IsZero())

	_, err = src.Fetch(ctx, "ZZ")
	assert.True(t, errors.Is(err, sentinel.ErrNotFound))
}

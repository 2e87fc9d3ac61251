package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func loadFixture(t *testing.T, code string) *JurisdictionPolicy {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", code+".yaml"))
	require.NoError(t, err)
	p, err := Decode(code, data)
	require.NoError(t, err)
	return p
}

func ptr[T any](v T) *T { return &v }

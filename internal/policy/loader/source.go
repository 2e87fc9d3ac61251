package loader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"arbiter/pkg/platform/sentinel"
)

// Document is a raw policy document as served by a Source.
type Document struct {
	Code    string
	Bytes   []byte
	ModTime time.Time
}

// Source serves raw policy documents keyed by jurisdiction code.
type Source interface {
	List(ctx context.Context) ([]string, error)
	Fetch(ctx context.Context, code string) (Document, error)
}

var policyExtensions = []string{".yaml", ".yml"}

// FileSource serves <dir>/<CODE>.yaml documents.
type FileSource struct {
	dir string
}

func NewFileSource(dir string) *FileSource {
	return &FileSource{dir: dir}
}

func (s *FileSource) Dir() string { return s.dir }

// List returns the codes of every policy document in the directory.
func (s *FileSource) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list policy dir %s: %w", s.dir, err)
	}
	seen := make(map[string]struct{})
	var codes []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		code, ok := CodeFromFilename(e.Name())
		if !ok {
			continue
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes, nil
}

// Fetch reads the document for code. A missing file wraps sentinel.ErrNotFound.
func (s *FileSource) Fetch(ctx context.Context, code string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	for _, name := range candidateNames(code) {
		path := filepath.Join(s.dir, name)
		// #nosec G304 -- path is built from the operator-configured policy dir.
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return Document{}, fmt.Errorf("read policy %s: %w", path, err)
		}
		var mod time.Time
		if info, statErr := os.Stat(path); statErr == nil {
			mod = info.ModTime()
		}
		return Document{Code: code, Bytes: data, ModTime: mod}, nil
	}
	return Document{}, fmt.Errorf("policy %s: %w", code, sentinel.ErrNotFound)
}

func candidateNames(code string) []string {
	names := make([]string, 0, 2*len(policyExtensions))
	for _, base := range []string{code, strings.ToLower(code)} {
		for _, ext := range policyExtensions {
			names = append(names, base+ext)
		}
	}
	return names
}

// CodeFromFilename maps "ae.yaml" to "AE". Hidden and editor temp files
// are ignored.
func CodeFromFilename(name string) (string, bool) {
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, "~") {
		return "", false
	}
	for _, ext := range policyExtensions {
		if base, ok := strings.CutSuffix(name, ext); ok && base != "" {
			return strings.ToUpper(base), true
		}
	}
	return "", false
}

package policy

import (
	"bytes"
	"cmp"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"

	"gopkg.in/yaml.v3"
)

const documentPath = "document"

var typeErrorLine = regexp.MustCompile(`^line (\d+): (.*)$`)

// Digest returns the content hash used for policies and snapshots.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// Decode parses a YAML policy document and validates it. expectedCode is
// the code the source served the document under; a mismatching code field
// is a validation error.
//
// Mistyped and unknown fields do not stop validation: yaml keeps decoding
// the rest of the document, so the returned error lists them alongside
// every other field problem. Only a document that cannot be parsed at all
// is reported as a single error.
func Decode(expectedCode string, data []byte) (*JurisdictionPolicy, error) {
	var p JurisdictionPolicy
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var decodeErrs []FieldError
	if err := dec.Decode(&p); err != nil {
		var terr *yaml.TypeError
		switch {
		case errors.Is(err, io.EOF):
			return nil, &ValidationError{Code: expectedCode, Errors: []FieldError{{Path: documentPath, Message: "empty document"}}}
		case errors.As(err, &terr):
			decodeErrs = typeFieldErrors(data, terr)
		default:
			return nil, &ValidationError{Code: expectedCode, Errors: []FieldError{{Path: documentPath, Message: err.Error()}}}
		}
	}

	err := Validate(expectedCode, &p)
	if len(decodeErrs) > 0 {
		return nil, withDecodeErrors(cmp.Or(expectedCode, p.Code), decodeErrs, err)
	}
	if err != nil {
		return nil, err
	}
	p.ContentHash = Digest(data)
	return &p, nil
}

// withDecodeErrors puts decode failures ahead of the validation findings.
// A field that failed to decode is left zero, so validation findings on
// the same path are dropped.
func withDecodeErrors(code string, decoded []FieldError, err error) error {
	var verr *ValidationError
	if err != nil && !errors.As(err, &verr) {
		return err
	}
	if verr == nil {
		verr = &ValidationError{Code: code}
	}
	failed := make(map[string]struct{}, len(decoded))
	for _, fe := range decoded {
		failed[fe.Path] = struct{}{}
	}
	merged := append([]FieldError(nil), decoded...)
	for _, fe := range verr.Errors {
		if _, ok := failed[fe.Path]; !ok {
			merged = append(merged, fe)
		}
	}
	verr.Errors = merged
	return verr
}

// typeFieldErrors maps each yaml type error to the dotted path declared on
// its line.
func typeFieldErrors(data []byte, terr *yaml.TypeError) []FieldError {
	paths := linePaths(data)
	out := make([]FieldError, 0, len(terr.Errors))
	for _, msg := range terr.Errors {
		fe := FieldError{Path: documentPath, Message: msg}
		if m := typeErrorLine.FindStringSubmatch(msg); m != nil {
			fe.Message = m[2]
			if line, err := strconv.Atoi(m[1]); err == nil {
				if path, ok := paths[line]; ok {
					fe.Path = path
				}
			}
		}
		out = append(out, fe)
	}
	return out
}

// linePaths indexes the document by line. The first key or sequence item
// on a line names it.
func linePaths(data []byte) map[int]string {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil
	}
	paths := make(map[int]string)
	claim := func(line int, path string) {
		if _, ok := paths[line]; !ok && path != "" {
			paths[line] = path
		}
	}
	var walk func(n *yaml.Node, path string)
	walk = func(n *yaml.Node, path string) {
		switch n.Kind {
		case yaml.DocumentNode:
			for _, c := range n.Content {
				walk(c, path)
			}
		case yaml.MappingNode:
			for i := 0; i+1 < len(n.Content); i += 2 {
				key := n.Content[i]
				child := key.Value
				if path != "" {
					child = path + "." + key.Value
				}
				claim(key.Line, child)
				walk(n.Content[i+1], child)
			}
		case yaml.SequenceNode:
			for i, c := range n.Content {
				walk(c, fmt.Sprintf("%s[%d]", path, i))
			}
		default:
			claim(n.Line, path)
		}
	}
	walk(&root, "")
	return paths
}

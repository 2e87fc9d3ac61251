package policy

import (
	"fmt"
	"sort"
	"strings"
)

// NotFoundError reports a jurisdiction with no policy source.
type NotFoundError struct {
	Code string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("policy not found for jurisdiction %q", e.Code)
}

// FieldError is a single invalid parameter, addressed by dotted path.
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (e FieldError) String() string {
	return e.Path + ": " + e.Message
}

// ValidationError lists every field error found in one document.
// LastGoodVersion is set when an older valid policy remains in service.
type ValidationError struct {
	Code            string
	Errors          []FieldError
	LastGoodVersion string
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.String()
	}
	return fmt.Sprintf("policy %s invalid: %s", e.Code, strings.Join(parts, "; "))
}

// ConflictError reports parameters that cannot be reconciled across the
// requested jurisdictions. The caller must route the event to manual review.
type ConflictError struct {
	Path   string
	Values map[string]any
	Reason string
}

func (e *ConflictError) Error() string {
	codes := make([]string, 0, len(e.Values))
	for code := range e.Values {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	parts := make([]string, len(codes))
	for i, code := range codes {
		parts[i] = fmt.Sprintf("%s=%v", code, e.Values[code])
	}
	return fmt.Sprintf("policy conflict at %s (%s): %s", e.Path, e.Reason, strings.Join(parts, ", "))
}

// Jurisdictions lists the codes involved in the conflict, sorted.
func (e *ConflictError) Jurisdictions() []string {
	codes := make([]string, 0, len(e.Values))
	for code := range e.Values {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

type fieldErrors []FieldError

func (f *fieldErrors) add(path, format string, args ...any) {
	*f = append(*f, FieldError{Path: path, Message: fmt.Sprintf(format, args...)})
}

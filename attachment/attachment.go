// Package attachment decides which MIME parts are attachments and writes
// them into the download directory.
package attachment

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dhcgn/mailfetch/message"
	"github.com/dhcgn/mailfetch/model"
	"github.com/dhcgn/mailfetch/sanitize"
)

var (
	ErrNoFilename  = errors.New("attachment has no filename")
	ErrInvalidName = errors.New("attachment name is not a valid file name")
)

// Policy selects how strictly parts are recognized as attachments.
type Policy string

const (
	// PolicyGeneral accepts any part with a non-empty Content-Disposition.
	PolicyGeneral Policy = "general"
	// PolicyStrictApplication additionally requires an application/* type.
	PolicyStrictApplication Policy = "strict-application"
)

// ParsePolicy maps a configuration value to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyGeneral:
		return PolicyGeneral, nil
	case PolicyStrictApplication, "strict":
		return PolicyStrictApplication, nil
	default:
		return "", fmt.Errorf("unknown attachment match policy %q", s)
	}
}

// OfficeExtensions are the suffixes that satisfy a default extension.
var OfficeExtensions = []string{".xlsx", ".xls"}

type Options struct {
	Dir    string
	Policy Policy
	// DefaultExtension is appended to names that lack an office extension.
	// Empty disables the coercion.
	DefaultExtension string
	Sanitizer        *sanitize.Sanitizer
	// SkipCoercion reports names that must keep their extension, typically
	// archives that are expanded after saving.
	SkipCoercion func(name string) bool
}

type Extractor struct {
	dir              string
	policy           Policy
	defaultExtension string
	sanitizer        *sanitize.Sanitizer
	skipCoercion     func(string) bool
}

// New validates opts and creates the download directory if it is missing.
func New(opts Options) (*Extractor, error) {
	dir := strings.TrimSpace(opts.Dir)
	if dir == "" {
		return nil, fmt.Errorf("download directory is empty")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve download directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create download directory: %w", err)
	}

	policy := opts.Policy
	if policy == "" {
		policy = PolicyGeneral
	}
	if policy != PolicyGeneral && policy != PolicyStrictApplication {
		return nil, fmt.Errorf("unknown attachment match policy %q", policy)
	}

	ext := strings.TrimSpace(opts.DefaultExtension)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	s := opts.Sanitizer
	if s == nil {
		s = sanitize.New()
	}

	return &Extractor{
		dir:              abs,
		policy:           policy,
		defaultExtension: ext,
		sanitizer:        s,
		skipCoercion:     opts.SkipCoercion,
	}, nil
}

// Dir returns the absolute download directory.
func (e *Extractor) Dir() string {
	return e.dir
}

// IsAttachment reports whether part should be saved under the configured
// policy.
func (e *Extractor) IsAttachment(part *message.Part) bool {
	if part == nil || part.IsMultipart() {
		return false
	}
	hasDisposition := strings.TrimSpace(part.Disposition) != ""
	switch e.policy {
	case PolicyStrictApplication:
		return hasDisposition && part.MainType() == "application"
	default:
		return hasDisposition
	}
}

// Name returns the file name part would be stored under.
func (e *Extractor) Name(part *message.Part) (string, error) {
	raw := strings.TrimSpace(part.Filename)
	if raw == "" {
		return "", ErrNoFilename
	}
	name := e.Coerce(e.sanitizer.Filename(raw))
	if name == "" || name == "." || name == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, raw)
	}
	return name, nil
}

// Coerce appends the default extension when name has no office extension.
// Applying it twice yields the same name.
func (e *Extractor) Coerce(name string) string {
	if e.defaultExtension == "" {
		return name
	}
	if e.skipCoercion != nil && e.skipCoercion(name) {
		return name
	}
	lower := strings.ToLower(name)
	for _, ext := range OfficeExtensions {
		if strings.HasSuffix(lower, ext) {
			return name
		}
	}
	if strings.HasSuffix(lower, strings.ToLower(e.defaultExtension)) {
		return name
	}
	return name + e.defaultExtension
}

// Save writes the decoded payload of part into the download directory,
// replacing any file with the same name. A payload that cannot be read to
// the end leaves no file behind.
func (e *Extractor) Save(part *message.Part) (model.StoredFile, error) {
	name, err := e.Name(part)
	if err != nil {
		return model.StoredFile{}, err
	}
	if part.DecodeErr != nil {
		return model.StoredFile{}, fmt.Errorf("attachment %s: %w", name, part.DecodeErr)
	}

	path := filepath.Join(e.dir, name)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return model.StoredFile{}, fmt.Errorf("create %s: %w", name, err)
	}

	size, err := io.Copy(file, part.Body)
	if err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return model.StoredFile{}, fmt.Errorf("write %s: %w", name, err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(path)
		return model.StoredFile{}, fmt.Errorf("close %s: %w", name, err)
	}

	return model.StoredFile{Name: name, Path: path, Size: size}, nil
}

// Package archive expands zip attachments into the download directory.
package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dhcgn/mailfetch/model"
	"github.com/dhcgn/mailfetch/sanitize"
)

var ErrArchive = errors.New("archive cannot be expanded")

var extensions = []string{".zip"}

// IsArchive reports whether name carries a recognized archive extension.
func IsArchive(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range extensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

type Expander struct {
	dir       string
	sanitizer *sanitize.Sanitizer
	logger    *slog.Logger
}

// NewExpander returns an Expander that writes entries below dir. Every path
// segment of an entry is cleaned with s; a nil s uses the default set.
func NewExpander(dir string, s *sanitize.Sanitizer, logger *slog.Logger) (*Expander, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("archive directory is empty")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve archive directory: %w", err)
	}
	if s == nil {
		s = sanitize.New()
	}
	return &Expander{dir: abs, sanitizer: s, logger: logger}, nil
}

// MaybeExpand extracts file when it is an archive and deletes it afterwards.
// Non-archives return nil, nil. On failure the archive stays on disk and
// entries already written are kept.
func (x *Expander) MaybeExpand(file model.StoredFile) ([]model.StoredFile, error) {
	if !IsArchive(file.Name) {
		return nil, nil
	}

	r, err := zip.OpenReader(file.Path)
	if err != nil {
		// zip.ErrInsecurePath comes with an open reader.
		if r != nil {
			_ = r.Close()
		}
		return nil, fmt.Errorf("%w: open %s: %v", ErrArchive, file.Name, err)
	}
	defer r.Close()

	targets := make([]string, len(r.File))
	for i, entry := range r.File {
		target, err := x.entryPath(entry.Name)
		if err == nil && target == x.dir && !entry.FileInfo().IsDir() {
			err = fmt.Errorf("entry %q has no file name", entry.Name)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrArchive, file.Name, err)
		}
		targets[i] = target
	}

	var extracted []model.StoredFile
	for i, entry := range r.File {
		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(targets[i], 0o755); err != nil {
				return extracted, fmt.Errorf("%w: %s: %v", ErrArchive, file.Name, err)
			}
			continue
		}
		stored, err := x.extract(entry, targets[i])
		if err != nil {
			return extracted, fmt.Errorf("%w: %s: %v", ErrArchive, file.Name, err)
		}
		extracted = append(extracted, stored)
		if x.logger != nil {
			x.logger.Debug("archive entry extracted", "archive", file.Name, "entry", entry.Name, "path", stored.Path)
		}
	}

	// The reader must be closed before the file can be removed on Windows.
	if err := r.Close(); err != nil {
		return extracted, fmt.Errorf("close %s: %w", file.Name, err)
	}
	if err := os.Remove(file.Path); err != nil {
		return extracted, fmt.Errorf("remove %s: %w", file.Name, err)
	}

	return extracted, nil
}

// entryPath resolves an entry name below the directory. Both slash styles
// separate segments. Names that are absolute or climb out of the directory
// are rejected; every other segment is sanitized.
func (x *Expander) entryPath(name string) (string, error) {
	clean := strings.ReplaceAll(name, "\\", "/")
	if strings.TrimSpace(clean) == "" {
		return "", fmt.Errorf("empty entry name")
	}
	if strings.HasPrefix(clean, "/") || filepath.IsAbs(name) || filepath.VolumeName(name) != "" || hasDrive(clean) {
		return "", fmt.Errorf("entry %q has an absolute path", name)
	}

	var segments []string
	for _, segment := range strings.Split(clean, "/") {
		switch segment {
		case "..":
			return "", fmt.Errorf("entry %q escapes the target directory", name)
		case "", ".":
			continue
		}
		segments = append(segments, x.sanitizer.Filename(segment))
	}
	if len(segments) == 0 {
		return x.dir, nil
	}

	target := filepath.Join(append([]string{x.dir}, segments...)...)
	rel, err := filepath.Rel(x.dir, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("entry %q escapes the target directory", name)
	}
	return target, nil
}

// hasDrive reports a leading Windows drive such as "C:" or "c:/".
func hasDrive(name string) bool {
	if len(name) < 2 || name[1] != ':' {
		return false
	}
	c := name[0]
	if !('a' <= c && c <= 'z' || 'A' <= c && c <= 'Z') {
		return false
	}
	return len(name) == 2 || name[2] == '/'
}

func (x *Expander) extract(entry *zip.File, target string) (model.StoredFile, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return model.StoredFile{}, err
	}

	src, err := entry.Open()
	if err != nil {
		return model.StoredFile{}, fmt.Errorf("open entry %s: %w", entry.Name, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return model.StoredFile{}, err
	}

	size, err := io.Copy(dst, src)
	if err != nil {
		_ = dst.Close()
		return model.StoredFile{}, fmt.Errorf("write entry %s: %w", entry.Name, err)
	}
	if err := dst.Close(); err != nil {
		return model.StoredFile{}, err
	}

	return model.StoredFile{Name: filepath.Base(target), Path: target, Size: size}, nil
}

// Package uploads holds the file values attached to files/assets fields and
// the per-field constraints they are checked against before submission.
package uploads

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gabrielmiguelok/easyforms/pkg/blueprint"
)

var (
	ErrFileTooLarge    = errors.New("file exceeds maximum size")
	ErrInvalidFileType = errors.New("invalid file type")
	ErrMaxFilesReached = errors.New("maximum number of files reached")
	ErrNotUploadField  = errors.New("field does not accept files")
)

// File is one file attached to a form field.
type File struct {
	Name        string `json:"name" msgpack:"name"`
	ContentType string `json:"content_type" msgpack:"content_type"`
	Size        int64  `json:"size" msgpack:"size"`
	Data        []byte `json:"-" msgpack:"data"`
}

// NewFile builds a File from raw bytes. An empty content type is sniffed.
func NewFile(name, contentType string, data []byte) File {
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return File{
		Name:        sanitizeFilename(name),
		ContentType: contentType,
		Size:        int64(len(data)),
		Data:        data,
	}
}

// FromHeader reads an uploaded multipart file.
func FromHeader(header *multipart.FileHeader) (File, error) {
	src, err := header.Open()
	if err != nil {
		return File{}, fmt.Errorf("open %s: %w", header.Filename, err)
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return File{}, fmt.Errorf("read %s: %w", header.Filename, err)
	}
	return NewFile(header.Filename, header.Header.Get("Content-Type"), data), nil
}

// Ext returns the lowercased extension without the dot.
func (f File) Ext() string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(f.Name), "."))
}

// Constraints restrict the files a field accepts. Zero values mean unlimited.
type Constraints struct {
	MaxFiles int
	// MaxFileSize is in bytes.
	MaxFileSize int64
	// AllowedExtensions are lowercase, without the dot.
	AllowedExtensions []string
	// Accept lists MIME types; "image/*" style wildcards are allowed.
	Accept []string
}

// ConstraintsFor reads a field's upload settings: max_files, max_file_size
// (kilobytes) and allowed_extensions from its config, plus the max:<kb>,
// mimes:<ext,...> and mimetypes:<type,...> validation rules.
func ConstraintsFor(field blueprint.Field) Constraints {
	var c Constraints
	if n, ok := field.IntConfig("max_files"); ok {
		c.MaxFiles = n
	}
	if kb, ok := field.IntConfig("max_file_size"); ok {
		c.MaxFileSize = int64(kb) * 1024
	}
	for _, ext := range field.StringsConfig("allowed_extensions") {
		c.AllowedExtensions = append(c.AllowedExtensions, normalizeExt(ext))
	}

	for _, rule := range field.Validate {
		name, arg, _ := strings.Cut(rule, ":")
		switch name {
		case "max":
			if kb, err := strconv.Atoi(arg); err == nil && c.MaxFileSize == 0 {
				c.MaxFileSize = int64(kb) * 1024
			}
		case "mimes":
			for _, ext := range strings.Split(arg, ",") {
				c.AllowedExtensions = append(c.AllowedExtensions, normalizeExt(ext))
			}
		case "mimetypes":
			for _, t := range strings.Split(arg, ",") {
				c.Accept = append(c.Accept, strings.TrimSpace(t))
			}
		}
	}
	return c
}

// Accepts reports whether a field takes files.
func Accepts(field blueprint.Field) bool {
	return field.Type == blueprint.TypeFiles || field.Type == blueprint.TypeAssets
}

// Check validates files against c. The first violation is returned.
func (c Constraints) Check(files []File) error {
	if c.MaxFiles > 0 && len(files) > c.MaxFiles {
		return fmt.Errorf("%w: %d of %d", ErrMaxFilesReached, len(files), c.MaxFiles)
	}
	for _, f := range files {
		if c.MaxFileSize > 0 && f.Size > c.MaxFileSize {
			return fmt.Errorf("%s: %w", f.Name, ErrFileTooLarge)
		}
		if len(c.AllowedExtensions) > 0 && !contains(c.AllowedExtensions, f.Ext()) {
			return fmt.Errorf("%s: %w", f.Name, ErrInvalidFileType)
		}
		if len(c.Accept) > 0 && !c.isAllowedType(f.ContentType) {
			return fmt.Errorf("%s: %w", f.Name, ErrInvalidFileType)
		}
	}
	return nil
}

func (c Constraints) isAllowedType(contentType string) bool {
	contentType, _, _ = strings.Cut(contentType, ";")
	for _, allowed := range c.Accept {
		if allowed == "*/*" || allowed == contentType {
			return true
		}
		if prefix, ok := strings.CutSuffix(allowed, "/*"); ok && strings.HasPrefix(contentType, prefix+"/") {
			return true
		}
	}
	return false
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func sanitizeFilename(filename string) string {
	filename = filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	filename = strings.Map(func(r rune) rune {
		if r == '/' || r == '\x00' {
			return '_'
		}
		return r
	}, filename)

	if len(filename) > 255 {
		ext := filepath.Ext(filename)
		filename = filename[:255-len(ext)] + ext
	}
	return filename
}

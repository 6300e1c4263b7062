// Package media validates user-chosen files before they become eligible for
// submission to the processing service.
package media

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/oukeidos/restora/internal/apperrors"
)

// Category is the media class of a selection and of the job created from it.
type Category string

const (
	Image Category = "image"
	Video Category = "video"
)

// ParseCategory accepts "image" or "video" in any case.
func ParseCategory(s string) (Category, error) {
	switch Category(strings.ToLower(strings.TrimSpace(s))) {
	case Image:
		return Image, nil
	case Video:
		return Video, nil
	default:
		return "", fmt.Errorf("unknown media type %q (want image or video)", s)
	}
}

func (c Category) Valid() bool { return c == Image || c == Video }

// Other returns the opposite slot.
func (c Category) Other() Category {
	if c == Image {
		return Video
	}
	return Image
}

// Accepts reports whether a declared content type belongs to the category.
func (c Category) Accepts(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	return c.Valid() && strings.HasPrefix(ct, string(c)+"/")
}

// Formats is the human-readable list of formats the service accepts.
func (c Category) Formats() string {
	if c == Video {
		return "MP4, AVI, MOV, MKV"
	}
	return "PNG, JPG, JPEG"
}

// File is a candidate picked by the user, before validation.
type File struct {
	Name        string
	Size        int64
	ContentType string
	Open        func() (io.ReadCloser, error)
}

// Selection is a validated file waiting for submission.
type Selection struct {
	Category    Category
	DisplayName string
	SizeBytes   int64
	ContentType string
	open        func() (io.ReadCloser, error)
}

// Open returns a fresh reader over the selected bytes.
func (s Selection) Open() (io.ReadCloser, error) {
	if s.open == nil {
		return nil, fmt.Errorf("selection %q has no content", s.DisplayName)
	}
	return s.open()
}

// IsZero reports an empty slot.
func (s Selection) IsZero() bool { return s.Category == "" }

// SizeMB is the size as shown next to a selected file.
func (s Selection) SizeMB() float64 { return float64(s.SizeBytes) / 1024 / 1024 }

// videoTypes covers containers the service accepts that are missing from
// the platform MIME tables on minimal systems.
var videoTypes = map[string]string{
	".mp4": "video/mp4",
	".avi": "video/x-msvideo",
	".mov": "video/quicktime",
	".mkv": "video/x-matroska",
	".flv": "video/x-flv",
	".wmv": "video/x-ms-wmv",
}

// FromPath describes a local file. contentType overrides detection when set;
// otherwise the type comes from the extension, then from the first 512 bytes.
func FromPath(path, contentType string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return File{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if info.IsDir() {
		return File{}, fmt.Errorf("%s is a directory", path)
	}
	f := File{
		Name:        filepath.Base(path),
		Size:        info.Size(),
		ContentType: strings.TrimSpace(contentType),
		Open:        func() (io.ReadCloser, error) { return os.Open(path) },
	}
	if f.ContentType == "" {
		f.ContentType, err = detectContentType(path)
		if err != nil {
			return File{}, err
		}
	}
	return f, nil
}

func detectContentType(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ct, ok := videoTypes[ext]; ok {
		return ct, nil
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	defer f.Close()
	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return http.DetectContentType(head[:n]), nil
}

// InvalidMediaType builds the rejection surfaced for a file of the wrong kind.
func InvalidMediaType(expected Category, f File) error {
	return apperrors.New(
		apperrors.KindInvalidMediaType,
		fmt.Sprintf("Please select a valid %s file (%s)", expected, expected.Formats()),
		fmt.Errorf("file %q has content type %q", f.Name, f.ContentType),
	)
}

// Package upload persists multipart file parts to short-lived temporary
// files and removes them once the request that created them is done.
package upload

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/gabriel-vasile/mimetype"
)

// Kind identifies which endpoint a file was uploaded to. Its string value
// is also the multipart field name the file is expected under.
type Kind string

const (
	KindImage    Kind = "image"
	KindDocument Kind = "document"
	KindAudio    Kind = "audio"
)

// Kinds lists every supported upload kind.
var Kinds = []Kind{KindImage, KindDocument, KindAudio}

// Field returns the multipart field name carrying the file.
func (k Kind) Field() string {
	return string(k)
}

// DefaultPrompt is sent to the model when the client supplies no prompt.
func (k Kind) DefaultPrompt() string {
	switch k {
	case KindImage:
		return "Describe this image in detail."
	case KindDocument:
		return "Summarize this document."
	case KindAudio:
		return "Transcribe this audio and summarize its content."
	default:
		return "Describe this file."
	}
}

const genericMIMEType = "application/octet-stream"

// File is a stored upload. The file at Path lives until Store.Remove.
type File struct {
	Path     string
	Filename string
	MIMEType string
	Size     int64
	// Digest is the xxhash64 of the content, used to correlate log lines
	Digest uint64
}

// DigestHex renders Digest for logs.
func (f *File) DigestHex() string {
	return fmt.Sprintf("%016x", f.Digest)
}

// ReadAll returns the file content.
func (f *File) ReadAll() ([]byte, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	return data, nil
}

// Store writes uploads into a single directory.
type Store struct {
	dir string
}

// NewStore creates dir if needed and returns a store writing into it.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("upload directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the directory uploads are written to.
func (s *Store) Dir() string {
	return s.dir
}

// Save copies the multipart part to a new temporary file and resolves its
// MIME type. On error nothing is left on disk.
func (s *Store) Save(fh *multipart.FileHeader) (*File, error) {
	src, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload: %w", err)
	}
	defer func() {
		_ = src.Close()
	}()

	return s.SaveReader(src, fh.Filename, fh.Header.Get("Content-Type"))
}

// SaveReader is Save for callers that already hold the content stream.
func (s *Store) SaveReader(r io.Reader, filename, contentType string) (*File, error) {
	dst, err := os.CreateTemp(s.dir, "upload-*"+safeExt(filename))
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}

	f := &File{Path: dst.Name(), Filename: filename}
	digest := xxhash.New()

	size, copyErr := io.Copy(io.MultiWriter(dst, digest), r)
	closeErr := dst.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = s.Remove(f)
		return nil, fmt.Errorf("failed to write temp file: %w", err)
	}

	f.Size = size
	f.Digest = digest.Sum64()

	mimeType, err := resolveMIMEType(f.Path, contentType)
	if err != nil {
		_ = s.Remove(f)
		return nil, err
	}
	f.MIMEType = mimeType

	return f, nil
}

// Remove deletes the file. A file that is already gone is not an error.
func (s *Store) Remove(f *File) error {
	if f == nil || f.Path == "" {
		return nil
	}
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove temp file: %w", err)
	}
	return nil
}

// resolveMIMEType trusts the declared part type unless it is missing or
// generic, in which case the content is sniffed. Parameters are dropped.
func resolveMIMEType(path, declared string) (string, error) {
	if mediaType := baseMediaType(declared); mediaType != "" && mediaType != genericMIMEType {
		return mediaType, nil
	}

	detected, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to detect MIME type: %w", err)
	}
	if mediaType := baseMediaType(detected.String()); mediaType != "" {
		return mediaType, nil
	}
	return genericMIMEType, nil
}

func baseMediaType(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(value)
	if err != nil {
		return ""
	}
	return mediaType
}

// safeExt keeps a short, plain extension from the client filename so the
// temp file is recognizable on disk.
func safeExt(filename string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	if len(ext) < 2 || len(ext) > 10 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}

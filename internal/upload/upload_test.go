package upload

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cespare/xxhash/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pngHeader is enough of a PNG for content sniffing.
var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

func fileHeader(t *testing.T, field, filename, contentType string, content []byte) *multipart.FileHeader {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	part, err := writer.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	require.NoError(t, req.ParseMultipartForm(1<<20))
	t.Cleanup(func() { _ = req.MultipartForm.RemoveAll() })

	return req.MultipartForm.File[field][0]
}

func entries(t *testing.T, dir string) []os.DirEntry {
	t.Helper()
	list, err := os.ReadDir(dir)
	require.NoError(t, err)
	return list
}

func TestNewStore(t *testing.T) {
	t.Run("creates missing directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "uploads")

		store, err := NewStore(dir)
		require.NoError(t, err)
		assert.Equal(t, dir, store.Dir())

		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("rejects empty directory", func(t *testing.T) {
		_, err := NewStore("")
		assert.Error(t, err)
	})
}

func TestStore_SaveAndRemove(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	content := []byte("%PDF-1.4 test document")
	f, err := store.Save(fileHeader(t, "document", "report.pdf", "application/pdf", content))
	require.NoError(t, err)

	assert.Equal(t, "report.pdf", f.Filename)
	assert.Equal(t, "application/pdf", f.MIMEType)
	assert.Equal(t, int64(len(content)), f.Size)
	assert.Equal(t, xxhash.Sum64(content), f.Digest)
	assert.Len(t, f.DigestHex(), 16)
	assert.Equal(t, dir, filepath.Dir(f.Path))
	assert.True(t, strings.HasSuffix(f.Path, ".pdf"))

	data, err := f.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, content, data)

	require.NoError(t, store.Remove(f))
	assert.Empty(t, entries(t, dir))

	// removing twice is fine
	assert.NoError(t, store.Remove(f))
	assert.NoError(t, store.Remove(nil))
}

func TestStore_MIMEResolution(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		content     []byte
		want        string
	}{
		{
			name:        "declared type wins",
			contentType: "audio/mpeg",
			content:     []byte("not really mp3"),
			want:        "audio/mpeg",
		},
		{
			name:        "parameters are stripped",
			contentType: "text/plain; charset=utf-8",
			content:     []byte("hello"),
			want:        "text/plain",
		},
		{
			name:        "octet-stream is sniffed",
			contentType: "application/octet-stream",
			content:     pngHeader,
			want:        "image/png",
		},
		{
			name:    "missing type is sniffed",
			content: pngHeader,
			want:    "image/png",
		},
		{
			name:    "sniffed text drops charset",
			content: []byte("plain words only"),
			want:    "text/plain",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := NewStore(t.TempDir())
			require.NoError(t, err)

			f, err := store.Save(fileHeader(t, "image", "file.bin", tt.contentType, tt.content))
			require.NoError(t, err)
			defer func() { _ = store.Remove(f) }()

			assert.Equal(t, tt.want, f.MIMEType)
		})
	}
}

func TestSafeExt(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"photo.JPG", ".jpg"},
		{"archive.tar.gz", ".gz"},
		{"noext", ""},
		{"../../etc/passwd", ""},
		{"weird.p$p", ""},
		{"long.abcdefghijkl", ""},
		{".", ""},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			assert.Equal(t, tt.want, safeExt(tt.filename))
		})
	}
}

func TestKind(t *testing.T) {
	for _, kind := range Kinds {
		assert.Equal(t, string(kind), kind.Field())
		assert.NotEmpty(t, kind.DefaultPrompt())
	}
	assert.Equal(t, "Describe this image in detail.", KindImage.DefaultPrompt())
}

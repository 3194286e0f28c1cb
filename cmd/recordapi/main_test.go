package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRequest(t *testing.T) {
	t.Run("text uses default prompt", func(t *testing.T) {
		req, err := buildRequest("text", "", "")
		require.NoError(t, err)
		require.Len(t, req.Contents[0].Parts, 1)
		assert.Equal(t, "Say 'Hello, World!' and nothing else.", req.Contents[0].Parts[0].Text)
	})

	t.Run("media sniffs type", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "doc")
		require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n"), 0o600))

		req, err := buildRequest("document", path, "")
		require.NoError(t, err)
		parts := req.Contents[0].Parts
		require.Len(t, parts, 2)
		assert.Equal(t, "Summarize this document.", parts[0].Text)
		assert.Equal(t, "application/pdf", parts[1].InlineData.MIMEType)
	})

	t.Run("media requires file", func(t *testing.T) {
		_, err := buildRequest("audio", "", "")
		assert.Error(t, err)
	})

	t.Run("unknown kind", func(t *testing.T) {
		_, err := buildRequest("video", "x", "")
		assert.Error(t, err)
	})
}

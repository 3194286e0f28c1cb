package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfo(t *testing.T) {
	assert.Equal(t, "geminigate dev (commit none, built unknown)", Info())
}

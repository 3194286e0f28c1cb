package main

import (
	"bytes"
	"errors"
	"os"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMain lets the test binary double as the server binary.
func TestMain(m *testing.M) {
	if os.Getenv("GEMINIGATE_RUN_MAIN") == "1" {
		os.Args = os.Args[:1]
		main()
		return
	}
	os.Exit(m.Run())
}

func runMain(t *testing.T, env ...string) (int, string) {
	t.Helper()

	cmd := exec.Command(os.Args[0])
	// run from an empty directory so no .env file is picked up
	cmd.Dir = t.TempDir()
	cmd.Env = append([]string{
		"GEMINIGATE_RUN_MAIN=1",
		"PATH=" + os.Getenv("PATH"),
		"LOG_FORMAT=json",
	}, env...)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if err == nil {
		return 0, out.String()
	}
	var exitErr *exec.ExitError
	require.True(t, errors.As(err, &exitErr), "unexpected error: %v", err)
	return exitErr.ExitCode(), out.String()
}

func TestExitsWithoutAPIKey(t *testing.T) {
	code, out := runMain(t)

	assert.Equal(t, 1, code)
	assert.Contains(t, out, "GEMINI_API_KEY")
}

func TestExitsOnInvalidPort(t *testing.T) {
	code, out := runMain(t, "GEMINI_API_KEY=k", "PORT=http")

	assert.Equal(t, 1, code)
	assert.Contains(t, out, "PORT")
}

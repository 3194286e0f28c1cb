// Package main provides a CLI tool to record real Gemini generateContent
// responses as golden files for provider tests.
// Usage:
//
//	GEMINI_API_KEY=xxx go run ./cmd/recordapi \
//	  -kind=text \
//	  -output=internal/providers/gemini/testdata/generate_text.json
//
//	GEMINI_API_KEY=xxx go run ./cmd/recordapi \
//	  -kind=image -file=cat.png \
//	  -output=internal/providers/gemini/testdata/generate_image.json
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/tidwall/gjson"

	"geminigate/config"
	"geminigate/internal/core"
	"geminigate/internal/upload"
)

func main() {
	kind := flag.String("kind", "text", "Request kind (text, image, document, audio)")
	file := flag.String("file", "", "File to send inline (required for image, document, audio)")
	prompt := flag.String("prompt", "", "Prompt override")
	output := flag.String("output", "", "Output file path (required)")
	model := flag.String("model", config.DefaultModel, "Model to call")
	baseURL := flag.String("base-url", config.DefaultBaseURL, "Gemini API base URL")
	flag.Parse()

	if *output == "" {
		fmt.Fprintln(os.Stderr, "Error: -output flag is required")
		flag.Usage()
		os.Exit(1)
	}

	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: GEMINI_API_KEY environment variable is required")
		os.Exit(1)
	}

	reqBody, err := buildRequest(*kind, *file, *prompt)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling request body: %v\n", err)
		os.Exit(1)
	}

	endpoint := *baseURL + "/models/" + url.PathEscape(*model) + ":generateContent"
	req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating request: %v\n", err)
		os.Exit(1)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", apiKey)

	client := &http.Client{Timeout: 120 * time.Second}
	fmt.Printf("Sending request to POST %s...\n", endpoint)

	resp, err := client.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error sending request: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	fmt.Printf("Response status: %s\n", resp.Status)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading response: %v\n", err)
		os.Exit(1)
	}

	var prettyJSON bytes.Buffer
	if err := json.Indent(&prettyJSON, body, "", "  "); err != nil {
		// If it's not valid JSON, write raw
		if err := writeOutput(*output, body); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing output: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Raw response saved to %s\n", *output)
		return
	}

	if err := writeOutput(*output, prettyJSON.Bytes()); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing output: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Response saved to %s\n", *output)
	if v := gjson.GetBytes(body, "modelVersion"); v.Exists() {
		fmt.Printf("Model: %s\n", v.String())
	}
	if v := gjson.GetBytes(body, "candidates.0.finishReason"); v.Exists() {
		fmt.Printf("Finish reason: %s\n", v.String())
	}
}

// buildRequest assembles the same request body the gateway sends for kind.
func buildRequest(kind, file, prompt string) (*core.GenerateRequest, error) {
	if kind == "text" {
		if prompt == "" {
			prompt = "Say 'Hello, World!' and nothing else."
		}
		return core.NewTextRequest(prompt), nil
	}

	k := upload.Kind(kind)
	switch k {
	case upload.KindImage, upload.KindDocument, upload.KindAudio:
	default:
		return nil, fmt.Errorf("unknown kind %q", kind)
	}
	if file == "" {
		return nil, fmt.Errorf("-file is required for kind %q", kind)
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", file, err)
	}
	if prompt == "" {
		prompt = k.DefaultPrompt()
	}
	return core.NewMediaRequest(prompt, mimetype.Detect(data).String(), data), nil
}

// writeOutput writes data to the output file, creating directories as needed.
func writeOutput(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

package core

import "encoding/base64"

// GenerateRequest is the body of a generateContent call.
type GenerateRequest struct {
	Contents         []Content         `json:"contents"`
	GenerationConfig *GenerationConfig `json:"generationConfig,omitempty"`
}

// Content is one conversational turn made of ordered parts.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Part holds either text or an inline data payload.
type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
}

// InlineData is a base64-encoded file payload plus its MIME type.
type InlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

// GenerationConfig carries optional sampling parameters.
type GenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
}

// GenerateResponse is the normalized result of a generation call.
type GenerateResponse struct {
	Text         string
	Model        string
	FinishReason string
	Usage        Usage
}

// Usage reports token counts returned by the provider.
type Usage struct {
	PromptTokens     int
	CandidatesTokens int
	TotalTokens      int
}

// NewInlineData encodes raw file bytes for transport to the model.
func NewInlineData(mimeType string, data []byte) *InlineData {
	return &InlineData{
		MIMEType: mimeType,
		Data:     base64.StdEncoding.EncodeToString(data),
	}
}

// NewTextRequest builds a single-turn request containing only a prompt.
func NewTextRequest(prompt string) *GenerateRequest {
	return &GenerateRequest{
		Contents: []Content{{
			Role:  "user",
			Parts: []Part{{Text: prompt}},
		}},
	}
}

// NewMediaRequest builds a single-turn request with the prompt followed by
// the file as an inline data part.
func NewMediaRequest(prompt, mimeType string, data []byte) *GenerateRequest {
	return &GenerateRequest{
		Contents: []Content{{
			Role: "user",
			Parts: []Part{
				{Text: prompt},
				{InlineData: NewInlineData(mimeType, data)},
			},
		}},
	}
}

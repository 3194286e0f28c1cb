// Package server provides HTTP handlers and server setup for the generation gateway.
package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"geminigate/internal/core"
	"geminigate/internal/observability"
	"geminigate/internal/upload"
)

// Handler holds the HTTP handlers
type Handler struct {
	generator core.Generator
	uploads   *upload.Store
	prompts   map[upload.Kind]string
	logger    *slog.Logger
}

// NewHandler creates a new handler. prompts overrides the built-in default
// prompt per upload kind; missing or empty entries keep the built-in one.
func NewHandler(generator core.Generator, uploads *upload.Store, prompts map[upload.Kind]string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		generator: generator,
		uploads:   uploads,
		prompts:   prompts,
		logger:    logger,
	}
}

// textKind labels /generate-text in metrics and logs
const textKind = "text"

type generateTextRequest struct {
	Prompt string `json:"prompt"`
}

type generateResponse struct {
	Output string `json:"output"`
}

// Root handles GET /
func (h *Handler) Root(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

// Health handles GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// GenerateText handles POST /generate-text
func (h *Handler) GenerateText(c echo.Context) error {
	var req generateTextRequest
	if err := c.Bind(&req); err != nil {
		if isBodyTooLarge(err) {
			return handleError(c, errBodyTooLarge(err))
		}
		return handleError(c, core.NewInvalidRequestError("invalid request body: "+bindErrorMessage(err), err))
	}
	if req.Prompt == "" {
		return handleError(c, core.NewInvalidRequestError("prompt is required", nil))
	}

	resp, err := h.generator.GenerateContent(c.Request().Context(), core.NewTextRequest(req.Prompt))
	if err != nil {
		h.logFailure(c, "generate text failed", err)
		return handleError(c, err)
	}
	h.recordGeneration(c, textKind, resp)

	return c.JSON(http.StatusOK, generateResponse{Output: resp.Text})
}

// GenerateFromImage handles POST /generate-from-image
func (h *Handler) GenerateFromImage(c echo.Context) error {
	return h.generateFromUpload(c, upload.KindImage)
}

// GenerateFromDocument handles POST /generate-from-document
func (h *Handler) GenerateFromDocument(c echo.Context) error {
	return h.generateFromUpload(c, upload.KindDocument)
}

// GenerateFromAudio handles POST /generate-from-audio
func (h *Handler) GenerateFromAudio(c echo.Context) error {
	return h.generateFromUpload(c, upload.KindAudio)
}

// generateFromUpload stores the multipart file for kind, sends it inline with
// the prompt, and removes the stored file before returning on every path.
func (h *Handler) generateFromUpload(c echo.Context, kind upload.Kind) error {
	fh, err := c.FormFile(kind.Field())
	if err != nil {
		if isBodyTooLarge(err) {
			return handleError(c, errBodyTooLarge(err))
		}
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return handleError(c, core.NewInvalidRequestError(
				fmt.Sprintf("no file uploaded: expected a file in the %q field", kind.Field()), err))
		}
		return handleError(c, core.NewInvalidRequestError("invalid multipart body: "+err.Error(), err))
	}

	file, err := h.uploads.Save(fh)
	if err != nil {
		h.logFailure(c, "storing upload failed", err)
		return handleError(c, core.NewInternalError(err.Error(), err))
	}
	defer func() {
		if err := h.uploads.Remove(file); err != nil {
			h.logger.Warn("failed to remove temp file", "path", file.Path, "error", err)
		}
	}()

	observability.ObserveUpload(string(kind), file.Size)
	h.logger.Debug("upload stored",
		"kind", kind,
		"filename", file.Filename,
		"mime_type", file.MIMEType,
		"size", file.Size,
		"digest", file.DigestHex(),
		"request_id", requestID(c),
	)

	data, err := file.ReadAll()
	if err != nil {
		h.logFailure(c, "reading upload failed", err, "digest", file.DigestHex())
		return handleError(c, core.NewInternalError(err.Error(), err))
	}

	prompt := c.FormValue("prompt")
	if prompt == "" {
		prompt = h.promptFor(kind)
	}

	resp, err := h.generator.GenerateContent(c.Request().Context(), core.NewMediaRequest(prompt, file.MIMEType, data))
	if err != nil {
		h.logFailure(c, "generate from "+string(kind)+" failed", err,
			"mime_type", file.MIMEType,
			"size", file.Size,
			"digest", file.DigestHex(),
		)
		return handleError(c, err)
	}
	h.recordGeneration(c, string(kind), resp, "digest", file.DigestHex())

	return c.JSON(http.StatusOK, generateResponse{Output: resp.Text})
}

func (h *Handler) promptFor(kind upload.Kind) string {
	if p := h.prompts[kind]; p != "" {
		return p
	}
	return kind.DefaultPrompt()
}

// logFailure logs a failed request. attrs carry upload details such as the
// content digest, so a failing file can be matched across requests.
func (h *Handler) logFailure(c echo.Context, msg string, err error, attrs ...any) {
	h.logger.Error(msg, append([]any{"error", err, "path", c.Path(), "request_id", requestID(c)}, attrs...)...)
}

// recordGeneration counts tokens and logs the model's report for one call
func (h *Handler) recordGeneration(c echo.Context, kind string, resp *core.GenerateResponse, attrs ...any) {
	observability.ObserveTokens(kind, resp.Usage)
	h.logger.Debug("generation complete", append([]any{
		"kind", kind,
		"model", resp.Model,
		"finish_reason", resp.FinishReason,
		"prompt_tokens", resp.Usage.PromptTokens,
		"candidates_tokens", resp.Usage.CandidatesTokens,
		"total_tokens", resp.Usage.TotalTokens,
		"request_id", requestID(c),
	}, attrs...)...)
}

func requestID(c echo.Context) string {
	return c.Response().Header().Get(echo.HeaderXRequestID)
}

// isBodyTooLarge reports the BodyLimit middleware rejecting a body, either
// up front or while a chunked body is being read
func isBodyTooLarge(err error) bool {
	var he *echo.HTTPError
	return errors.As(err, &he) && he.Code == http.StatusRequestEntityTooLarge
}

func errBodyTooLarge(err error) *core.GatewayError {
	return core.NewInvalidRequestError("request body exceeds the size limit", err)
}

// bindErrorMessage strips echo's "code=400, message=" framing
func bindErrorMessage(err error) string {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return fmt.Sprint(he.Message)
	}
	return err.Error()
}

// handleError converts errors to {"error": message} responses. Gateway errors
// carry their own status; anything else is a 500 with the error text.
func handleError(c echo.Context, err error) error {
	var gatewayErr *core.GatewayError
	if errors.As(err, &gatewayErr) {
		return c.JSON(gatewayErr.HTTPStatusCode(), gatewayErr.ToJSON())
	}

	return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/pastebin/internal/pastes"
)

const (
	messageNotFound           = "not found"
	messageContentRequired    = "content is required"
	messageContentTooLarge    = "content too large"
	messageInvalidTTL         = "invalid ttl_seconds"
	messageInvalidMaxViews    = "invalid max_views"
	messageInvalidJSON        = "invalid JSON body"
	messageStorageUnavailable = "storage unavailable"
	messageInternal           = "internal error"
)

type createRequestPayload struct {
	Content    *string `json:"content"`
	TTLSeconds *int64  `json:"ttl_seconds"`
	MaxViews   *int64  `json:"max_views"`
}

type createResponsePayload struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type readResponsePayload struct {
	Content        string  `json:"content"`
	RemainingViews *int64  `json:"remaining_views"`
	ExpiresAt      *string `json:"expires_at"`
}

func (h *httpHandler) handleCreate(c *gin.Context) {
	limit := int64(h.pastes.MaxContentBytes()) + bodyEnvelopeBytes
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)

	var request createRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		status, message := bindErrorResponse(err)
		c.JSON(status, gin.H{"error": message})
		return
	}
	if request.Content == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": messageContentRequired})
		return
	}

	created, err := h.pastes.Create(c.Request.Context(), pastes.CreateRequest{
		Content:    *request.Content,
		TTLSeconds: request.TTLSeconds,
		MaxViews:   request.MaxViews,
	}, h.requestNow(c))
	if err != nil {
		status, payload := errorResponse(err)
		c.JSON(status, payload)
		return
	}
	h.metrics.PasteCreated()
	h.logger.Debug("paste created", zap.String("paste_id", created.ID.String()))

	c.JSON(http.StatusCreated, createResponsePayload{
		ID:  created.ID.String(),
		URL: h.baseURL(c) + "/p/" + created.ID.String(),
	})
}

// bindErrorResponse maps JSON decoding failures onto the field-specific validation messages.
func bindErrorResponse(err error) (int, string) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge, messageContentTooLarge
	}
	if errors.Is(err, io.EOF) {
		return http.StatusBadRequest, messageContentRequired
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		switch {
		case strings.HasSuffix(typeErr.Field, "ttl_seconds"):
			return http.StatusBadRequest, messageInvalidTTL
		case strings.HasSuffix(typeErr.Field, "max_views"):
			return http.StatusBadRequest, messageInvalidMaxViews
		case strings.HasSuffix(typeErr.Field, "content"):
			return http.StatusBadRequest, messageContentRequired
		}
	}
	return http.StatusBadRequest, messageInvalidJSON
}

func errorResponse(err error) (int, gin.H) {
	code := ""
	var serviceErr *pastes.ServiceError
	if errors.As(err, &serviceErr) {
		code = serviceErr.Code()
	}

	switch {
	case errors.Is(err, pastes.ErrNotFound):
		return http.StatusNotFound, gin.H{"error": messageNotFound}
	case errors.Is(err, pastes.ErrInvalidInput):
		return http.StatusBadRequest, gin.H{"error": invalidInputMessage(code), "code": code}
	case errors.Is(err, pastes.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, gin.H{"error": messageStorageUnavailable, "code": code}
	default:
		return http.StatusInternalServerError, gin.H{"error": messageInternal, "code": code}
	}
}

func invalidInputMessage(code string) string {
	switch {
	case strings.HasSuffix(code, ".invalid_ttl_seconds"):
		return messageInvalidTTL
	case strings.HasSuffix(code, ".invalid_max_views"):
		return messageInvalidMaxViews
	case strings.HasSuffix(code, ".content_too_large"):
		return messageContentTooLarge
	default:
		return messageContentRequired
	}
}

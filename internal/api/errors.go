package api

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/NikhilSetiya/recovery-orchestrator/internal/archive"
	"github.com/NikhilSetiya/recovery-orchestrator/internal/recovery"
	"github.com/NikhilSetiya/recovery-orchestrator/pkg/errors"
	"github.com/NikhilSetiya/recovery-orchestrator/pkg/logging"
)

// ArchiveReader queries persisted error records
type ArchiveReader interface {
	List(ctx context.Context, filter archive.ListFilter) ([]recovery.ErrorRecord, error)
	CategoryCounts(ctx context.Context, since time.Time) ([]archive.CategoryCount, error)
}

// ReportErrorRequest is the body of POST /api/v1/errors
type ReportErrorRequest struct {
	Error   *recovery.ErrorInfo `json:"error" binding:"required"`
	Context recovery.Context    `json:"context"`
}

// ErrorsHandler exposes the recovery pipeline over HTTP
type ErrorsHandler struct {
	handler *recovery.Handler
	archive ArchiveReader
	logger  *logging.Logger
}

// NewErrorsHandler creates the handler. archive may be nil.
func NewErrorsHandler(handler *recovery.Handler, archive ArchiveReader) *ErrorsHandler {
	return &ErrorsHandler{
		handler: handler,
		archive: archive,
		logger:  logging.GetLogger(),
	}
}

// Report runs a reported failure through the pipeline. Failed recoveries are
// still a successful call; the outcome is in the result.
func (h *ErrorsHandler) Report(c *gin.Context) {
	var req ReportErrorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestResponse(c, "Invalid request body: "+err.Error())
		return
	}
	if req.Error.Message == "" && req.Error.Name == "" {
		BadRequestResponse(c, "error.message or error.name is required")
		return
	}

	ctx := c.Request.Context()
	if service := req.Context.Service(); service != "unknown" {
		ctx = logging.WithService(ctx, service)
	}

	result := h.handler.HandleError(ctx, *req.Error, req.Context)
	SuccessResponse(c, result)
}

// Stats returns the ledger summary
func (h *ErrorsHandler) Stats(c *gin.Context) {
	SuccessResponse(c, h.handler.ErrorStats())
}

// CircuitBreakers returns every breaker's state
func (h *ErrorsHandler) CircuitBreakers(c *gin.Context) {
	SuccessResponse(c, h.handler.CircuitBreakerStatus())
}

// Clear empties the ledger. Breakers are untouched.
func (h *ErrorsHandler) Clear(c *gin.Context) {
	h.handler.ClearErrorHistory()
	h.logger.Info("Error history cleared", "subject", c.GetString("subject"))
	SuccessResponse(c, gin.H{"cleared": true})
}

// ListArchive queries archived records
func (h *ErrorsHandler) ListArchive(c *gin.Context) {
	filter := archive.ListFilter{
		Category: c.Query("category"),
		Service:  c.Query("service"),
	}

	since, err := parseSince(c.Query("since"))
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	filter.Since = since

	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			BadRequestResponse(c, "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}

	records, err := h.archive.List(c.Request.Context(), filter)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	SuccessResponse(c, records)
}

// ArchiveCategories breaks archived records down by category
func (h *ErrorsHandler) ArchiveCategories(c *gin.Context) {
	since, err := parseSince(c.Query("since"))
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	if since.IsZero() {
		since = time.Now().Add(-24 * time.Hour)
	}

	counts, err := h.archive.CategoryCounts(c.Request.Context(), since)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	SuccessResponse(c, counts)
}

func parseSince(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	since, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errors.NewValidationError("since must be an RFC 3339 timestamp").WithCause(err)
	}
	return since, nil
}

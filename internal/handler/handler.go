// Package handler serves the engagement API over gin.
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	infralogger "github.com/jonesrussell/north-cloud/likechat/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/likechat/internal/domain"
	"github.com/jonesrussell/north-cloud/likechat/internal/engagement"
)

var errInvalidUserID = errors.New("user id must be a positive integer")

// Handler exposes engagement.Service operations as HTTP endpoints.
type Handler struct {
	svc *engagement.Service
	log infralogger.Logger
}

// New creates a Handler.
func New(svc *engagement.Service, log infralogger.Logger) *Handler {
	if log == nil {
		log = infralogger.NewNop()
	}
	return &Handler{svc: svc, log: log}
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, engagement.ErrHistoryDisabled):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTaskType),
		errors.Is(err, domain.ErrInvalidSlot),
		errors.Is(err, domain.ErrInvalidTarget),
		errors.Is(err, domain.ErrInvalidConfig),
		errors.Is(err, domain.ErrResolution):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotEligible):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrAlreadySubmitted),
		errors.Is(err, domain.ErrQueueFull),
		errors.Is(err, domain.ErrSuperseded):
		return http.StatusConflict
	case errors.Is(err, domain.ErrStorageUnavailable), errors.Is(err, domain.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as JSON. Server-side failures are logged and their
// detail withheld.
func (h *Handler) respondError(c *gin.Context, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("Request failed",
			infralogger.String("operation", op),
			infralogger.String("path", c.FullPath()),
			infralogger.Error(err),
		)
	}
	if status == http.StatusInternalServerError {
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// pathUserID parses a positive user id from the named path parameter.
func pathUserID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, errInvalidUserID)
		return 0, false
	}
	return id, true
}

// parseTaskType accepts an empty value as "unset".
func parseTaskType(s string) (domain.TaskType, error) {
	if s == "" {
		return "", nil
	}
	return domain.ParseTaskType(s)
}

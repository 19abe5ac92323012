package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rcabanilla/labreserve/internal/domain"
)

// respondError maps the domain error taxonomy onto distinct HTTP statuses so
// every rejection stays distinguishable for the caller.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidDuration):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrForbidden), errors.Is(err, domain.ErrRequesterSuspended):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrResourceUnavailable),
		errors.Is(err, domain.ErrRequesterHasActiveBooking),
		errors.Is(err, domain.ErrInsufficientResources),
		errors.Is(err, domain.ErrStaleDecision):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "operation not applied"})
	}
}

package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Yonatanhaile/tigray-marketplace/internal/api/middleware"
	"github.com/Yonatanhaile/tigray-marketplace/internal/services"
	"github.com/Yonatanhaile/tigray-marketplace/internal/utils"
)

// respondError maps service errors onto HTTP statuses. Anything not
// covered by a sentinel is a 500 with a generic message so internals
// never leak to clients.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	message := "internal error"

	switch {
	case errors.Is(err, services.ErrValidation), errors.Is(err, services.ErrInvalidOperation):
		status, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, services.ErrUnauthorized):
		status, message = http.StatusUnauthorized, err.Error()
	case errors.Is(err, services.ErrForbidden):
		status, message = http.StatusForbidden, err.Error()
	case errors.Is(err, services.ErrNotFound):
		status, message = http.StatusNotFound, err.Error()
	case errors.Is(err, services.ErrInvalidTransition), errors.Is(err, services.ErrConflict):
		status, message = http.StatusConflict, err.Error()
	}

	body := gin.H{"error": true, "message": message}

	// Dispute exclusivity reports the identifier of the blocking dispute
	// so clients can link straight to it.
	var existsErr *services.DisputeExistsError
	if errors.As(err, &existsErr) {
		body["dispute_id"] = existsErr.DisputeID.String()
	}

	c.JSON(status, body)
}

// mustActor returns the authenticated actor or aborts with 401. The
// auth middleware makes the missing case unreachable in practice.
func mustActor(c *gin.Context) (services.Actor, bool) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": true, "message": "authentication required"})
		return services.Actor{}, false
	}
	return actor, true
}

// idParam parses a SixID path parameter, answering 400 on junk input.
func idParam(c *gin.Context, name string) (utils.SixID, bool) {
	id, err := utils.ParseSixID(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": true, "message": "invalid " + name})
		return utils.SixID{}, false
	}
	return id, true
}

// pagination reads page/limit query parameters with sane bounds.
func pagination(c *gin.Context) (page, limit int) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}
	limit, err = strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 || limit > 200 {
		limit = 50
	}
	return page, limit
}

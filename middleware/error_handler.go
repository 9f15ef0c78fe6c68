package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/michaelayoade/dotmac-jobs/common"
)

// ErrorHandler turns errors attached to the gin context into JSON responses.
// APIError values carry their own status and optional field map; bare engine
// sentinels that leak past the service layer still map to sensible statuses.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err

		var apiErr common.APIError
		if errors.As(err, &apiErr) {
			body := gin.H{"error": apiErr.Message}
			if apiErr.Fields != nil {
				body["fields"] = apiErr.Fields
			}
			c.JSON(apiErr.Status, body)
			return
		}

		switch {
		case errors.Is(err, common.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		case errors.Is(err, common.ErrInvalidState), errors.Is(err, common.ErrInvalidTransition):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
	}
}

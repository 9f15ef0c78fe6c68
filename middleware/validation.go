package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/michaelayoade/dotmac-jobs/common"
)

var validate = validator.New()

// Bind decodes the request body into dest and validates it. On failure it
// records a 400 APIError on the context and returns false; the caller just
// returns.
func Bind[T any](c *gin.Context, dest *T) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		c.Error(common.Errf(http.StatusBadRequest, "invalid json: %v", err.Error()))
		return false
	}

	if err := validate.Struct(dest); err != nil {
		c.Error(common.APIError{
			Status:  http.StatusBadRequest,
			Message: "validation failed",
			Fields:  FormatValidationErrors(err),
		})
		return false
	}
	return true
}

// FormatValidationErrors flattens validator errors into a field -> reason map
// suitable for an APIError's Fields.
func FormatValidationErrors(err error) map[string]any {
	fields := map[string]any{}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		fields["_"] = err.Error()
		return fields
	}
	for _, e := range verrs {
		fields[e.Field()] = "failed " + e.Tag()
	}
	return fields
}

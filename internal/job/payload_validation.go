package job

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/michaelayoade/dotmac-jobs/common"
	"github.com/michaelayoade/dotmac-jobs/middleware"
)

var validate = validator.New()

// validatePayload checks a job's raw parameters against the typed schema for
// its job type before the record is created. The registry validates again at
// execution time, but rejecting bad payloads here gives the caller a 400
// instead of a job that is born to fail.
func validatePayload[T any](raw json.RawMessage) error {
	var payload T
	if err := json.Unmarshal(raw, &payload); err != nil {
		return common.Errf(http.StatusBadRequest, "invalid payload format")
	}

	if err := validate.Struct(payload); err != nil {
		return common.APIError{
			Status:  http.StatusBadRequest,
			Message: "payload validation failed",
			Fields:  middleware.FormatValidationErrors(err),
		}
	}
	return nil
}

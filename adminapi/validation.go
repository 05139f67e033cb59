package adminapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidationError is the field-level error response.
type ValidationError struct {
	Error   string            `json:"error"`
	Code    string            `json:"code"`
	Details map[string]string `json:"details,omitempty"`
}

// validateStruct runs struct-tag validation and turns any failures into a
// human-readable per-field message.
func validateStruct(s any) *ValidationError {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	details := make(map[string]string)
	if verrs, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range verrs {
			details[fe.Field()] = messageForTag(fe)
		}
	}
	return &ValidationError{Error: "validation failed", Code: "VALIDATION_ERROR", Details: details}
}

func messageForTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "min":
		return "value is too short"
	case "max":
		return "value is too long"
	case "gt":
		return "value must be greater than " + fe.Param()
	case "gte":
		return "value must be greater than or equal to " + fe.Param()
	case "lte":
		return "value must be less than or equal to " + fe.Param()
	case "oneof":
		return "value must be one of: " + fe.Param()
	case "alpha":
		return "value must contain only letters"
	case "uppercase":
		return "value must be uppercase"
	default:
		return "validation failed for tag: " + fe.Tag()
	}
}

func writeValidationError(w http.ResponseWriter, verr *ValidationError) {
	writeJSON(w, http.StatusBadRequest, verr)
}

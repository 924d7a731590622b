package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
)

const maxBodyBytes = 1 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

func validateRequest(obj any) []ValidationError {
	err := validate.Struct(obj)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []ValidationError{{Message: err.Error(), Type: "invalid"}}
	}

	out := make([]ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, ValidationError{
			Field:   fe.Field(),
			Message: validationMessage(fe),
			Type:    fe.Tag(),
		})
	}
	return out
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required"
	case "uuid":
		return "Must be a UUID"
	case "max":
		return "Value is too long"
	case "oneof":
		return "Must be one of: " + fe.Param()
	case "nefield":
		return "Must differ from " + fe.Param()
	default:
		return "Invalid value"
	}
}

// decodeAndValidate reads a JSON body into dst and runs its validate tags.
// It writes the problem response itself and reports whether to continue.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", fmt.Sprintf("Invalid request body: %v", err))
		return false
	}
	if errs := validateRequest(dst); len(errs) > 0 {
		respondErrorWithData(w, r, http.StatusBadRequest, "request/validation-failed", "Invalid request data", errs)
		return false
	}
	return true
}

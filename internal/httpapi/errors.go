package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"payline.org/internal/audit"
	"payline.org/internal/auth"
	"payline.org/internal/obs"
	"payline.org/internal/org"
	"payline.org/internal/payroll"
	"payline.org/internal/wallet"
)

const maxBodyBytes = 1 << 20

var (
	errInvalidRequest = errors.New("invalid request")
	errBodyTooLarge   = errors.New("request body too large")
)

// ValidationError carries per-field messages keyed by JSON field name.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for k, v := range e.Fields {
		parts = append(parts, k+": "+v)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return errInvalidRequest }

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("wallet", func(fl validator.FieldLevel) bool {
		_, err := wallet.NormalizeAddress(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("amount", func(fl validator.FieldLevel) bool {
		_, err := payroll.ParseAmount(fl.Field().String())
		return err == nil
	})
	return v
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "required_without":
		return "is required when " + strings.ToLower(fe.Param()) + " is absent"
	case "wallet":
		return "must be a 0x-prefixed 20-byte hex address"
	case "amount":
		return fmt.Sprintf("must be a decimal with at most %d fractional digits", payroll.AmountScale)
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "min":
		return "must contain at least " + fe.Param() + " entries"
	case "oneof":
		return "must be one of " + fe.Param()
	case "hexadecimal":
		return "must be hex encoded"
	default:
		return "is invalid"
	}
}

// decodeJSON reads one JSON object into dst and validates it.
func (a *API) decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is required", errInvalidRequest)
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("%w: limit is %d bytes", errBodyTooLarge, tooLarge.Limit)
		}
		return fmt.Errorf("%w: %v", errInvalidRequest, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: unexpected data after JSON body", errInvalidRequest)
	}
	return a.validate(dst)
}

func (a *API) validate(dst any) error {
	err := a.validator.Struct(dst)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return fmt.Errorf("%w: %v", errInvalidRequest, err)
	}
	fields := make(map[string]string, len(ve))
	for _, fe := range ve {
		_, key, _ := strings.Cut(fe.Namespace(), ".")
		fields[key] = validationMessage(fe)
	}
	return &ValidationError{Fields: fields}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeErrorBody(w, r, code, msg, nil)
}

func writeErrorBody(w http.ResponseWriter, r *http.Request, code int, msg string, fields map[string]string) {
	payload := map[string]any{
		"error": msg,
	}
	if len(fields) > 0 {
		payload["fields"] = fields
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBodyTooLarge):
		return http.StatusRequestEntityTooLarge
	case auth.IsUnauthenticated(err):
		return http.StatusUnauthorized
	case org.IsForbidden(err):
		return http.StatusForbidden
	case errors.Is(err, org.ErrOrganizationNotFound),
		errors.Is(err, org.ErrMemberNotFound),
		errors.Is(err, org.ErrUserNotFound),
		errors.Is(err, auth.ErrNotFound),
		errors.Is(err, payroll.ErrRecipientNotFound),
		errors.Is(err, payroll.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, org.ErrAlreadyMember),
		errors.Is(err, org.ErrLastOwner),
		errors.Is(err, payroll.ErrDuplicateWallet),
		errors.Is(err, payroll.ErrDuplicateReference),
		errors.Is(err, payroll.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, errInvalidRequest),
		errors.Is(err, auth.ErrInvalidInput),
		errors.Is(err, org.ErrInvalidInput),
		errors.Is(err, payroll.ErrInvalidInput),
		errors.Is(err, payroll.ErrInvalidReference):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// handleError writes err as a JSON error. Internal failures are logged and
// reported without detail.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		obs.Logger().ErrorContext(r.Context(), "request failed",
			"request_id", audit.RequestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"error", err)
		writeError(w, r, code, "internal error")
		return
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		writeErrorBody(w, r, code, "validation failed", ve.Fields)
		return
	}
	writeError(w, r, code, err.Error())
}

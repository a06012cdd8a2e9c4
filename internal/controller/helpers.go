package controller

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	domainErrors "github.com/hopngo/payments/internal/domain/errors"
	"github.com/rs/zerolog/log"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report JSON field names, not Go field names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type errorMapping struct {
	err    error
	status int
	code   string
}

// Order matters: the first match wins.
var errorMappings = []errorMapping{
	{domainErrors.ErrInvalidSignature, http.StatusUnauthorized, "invalid_signature"},
	{domainErrors.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{domainErrors.ErrForbidden, http.StatusForbidden, "forbidden"},

	{domainErrors.ErrMalformedWebhook, http.StatusBadRequest, "malformed_webhook"},
	{domainErrors.ErrProviderNotFound, http.StatusBadRequest, "unsupported_provider"},
	{domainErrors.ErrAmountMismatch, http.StatusBadRequest, "amount_mismatch"},
	{domainErrors.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{domainErrors.ErrRefundExceedsPayment, http.StatusBadRequest, "refund_exceeds_payment"},
	{domainErrors.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},

	{domainErrors.ErrOrderNotFound, http.StatusNotFound, "not_found"},
	{domainErrors.ErrPaymentNotFound, http.StatusNotFound, "not_found"},
	{domainErrors.ErrRefundNotFound, http.StatusNotFound, "not_found"},
	{domainErrors.ErrWebhookEventNotFound, http.StatusNotFound, "not_found"},

	{domainErrors.ErrOrderAlreadyPaid, http.StatusConflict, "order_already_paid"},
	{domainErrors.ErrPaymentInProgress, http.StatusConflict, "payment_in_progress"},
	{domainErrors.ErrPaymentNotRefundable, http.StatusConflict, "payment_not_refundable"},
	{domainErrors.ErrRefundAlreadyPending, http.StatusConflict, "refund_already_pending"},
	{domainErrors.ErrRefundNotRetryable, http.StatusConflict, "refund_not_retryable"},
	{domainErrors.ErrInvalidStateTransition, http.StatusConflict, "invalid_state_transition"},
	{domainErrors.ErrDuplicateIdempotencyKey, http.StatusConflict, "duplicate_request"},
	{domainErrors.ErrConcurrentModification, http.StatusConflict, "conflict"},
	{domainErrors.ErrLockAcquisitionFailed, http.StatusConflict, "refund_in_progress"},

	{domainErrors.ErrProviderUnavailable, http.StatusServiceUnavailable, "provider_unavailable"},
	{domainErrors.ErrProviderTimeout, http.StatusServiceUnavailable, "provider_unavailable"},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Error: err.Error()}

	var validationErr *domainErrors.ValidationError
	if errors.As(err, &validationErr) {
		resp.Code = "validation_error"
		writeJSON(w, http.StatusBadRequest, resp)
		return
	}

	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			resp.Code = m.code
			switch m.err {
			case domainErrors.ErrConcurrentModification:
				resp.Error = "concurrent modification, please retry"
			case domainErrors.ErrProviderUnavailable, domainErrors.ErrProviderTimeout:
				resp.Error = "payment provider unavailable, please retry"
			}
			writeJSON(w, m.status, resp)
			return
		}
	}

	var domainErr *domainErrors.DomainError
	if errors.As(err, &domainErr) {
		resp.Code = domainErr.Code
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}

	log.Error().Err(err).Msg("unhandled error in handler")
	resp.Code = "internal_error"
	resp.Error = "internal server error"
	writeJSON(w, http.StatusInternalServerError, resp)
}

func decodeAndValidate(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return domainErrors.NewValidationError("body", "invalid JSON: "+err.Error())
	}
	if err := validate.Struct(dst); err != nil {
		if ve, ok := err.(validator.ValidationErrors); ok && len(ve) > 0 {
			return domainErrors.NewValidationError(ve[0].Field(), ve[0].Tag()+" validation failed")
		}
		return domainErrors.NewValidationError("body", err.Error())
	}
	return nil
}

func parseIDParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, domainErrors.NewValidationError(name, "must be a UUID")
	}
	return id, nil
}

// parsePage reads limit and offset query parameters, clamping limit to
// (0, maxPageSize].
func parsePage(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()
	limit = defaultPageSize
	if s := q.Get("limit"); s != "" {
		if limit, err = strconv.Atoi(s); err != nil || limit <= 0 {
			return 0, 0, domainErrors.NewValidationError("limit", "must be a positive integer")
		}
		limit = min(limit, maxPageSize)
	}
	if s := q.Get("offset"); s != "" {
		if offset, err = strconv.Atoi(s); err != nil || offset < 0 {
			return 0, 0, domainErrors.NewValidationError("offset", "must be a non-negative integer")
		}
	}
	return limit, offset, nil
}

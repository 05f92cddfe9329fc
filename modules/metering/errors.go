package metering

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/dmitrymomot/usagegate/core"
	"github.com/dmitrymomot/usagegate/pkg/logger"
	"github.com/dmitrymomot/usagegate/pkg/subscription"
	"github.com/dmitrymomot/usagegate/pkg/textai"
)

var errMalformedBody = core.ErrBadRequest.WithMessage("malformed JSON body")

// httpError maps domain errors to HTTP errors.
func httpError(err error) core.HTTPError {
	var httpErr core.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr
	}

	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return core.ErrRequestEntityTooLarge
	case errors.Is(err, subscription.ErrWebhookVerificationFailed):
		return core.ErrInvalidSignature.WithMessage("webhook signature verification failed")
	case errors.Is(err, subscription.ErrInvalidWebhookPayload):
		return core.ErrBadRequest.WithMessage("invalid webhook payload")
	case errors.Is(err, subscription.ErrUnauthorized):
		return core.ErrUnauthorized.WithMessage("invalid api key")
	case errors.Is(err, subscription.ErrInvalidUserID):
		return core.ErrBadRequest.WithMessage("userId is required")
	case errors.Is(err, subscription.ErrInvalidFeature):
		return core.ErrBadRequest.WithMessage("type must be one of: detection, humanization")
	case errors.Is(err, subscription.ErrInvalidPlanType):
		return core.ErrBadRequest.WithMessage("planType must be one of: monthly, yearly")
	case errors.Is(err, subscription.ErrMissingProviderCustomerID):
		return core.ErrNotFound.WithMessage("no billing customer for user")
	case errors.Is(err, subscription.ErrInvalidInput):
		return core.ErrBadRequest
	case errors.Is(err, textai.ErrEmptyText):
		return core.ErrBadRequest.WithMessage("text is required")
	case errors.Is(err, textai.ErrTextTooLong):
		return core.ErrRequestEntityTooLarge.WithMessage("text is too long")
	case errors.Is(err, textai.ErrBackend), errors.Is(err, textai.ErrMalformedResponse):
		return core.ErrBadGateway
	}
	return core.ErrInternalServerError
}

// fail logs server-side errors and renders the mapped response.
func (m *Module) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	httpErr := httpError(err)
	if httpErr.Code >= http.StatusInternalServerError {
		m.log.ErrorContext(r.Context(), msg, logger.Error(err))
	} else {
		m.log.DebugContext(r.Context(), msg, logger.Error(err))
	}
	core.Render(w, r, core.JSONError(httpErr))
}

// decode reads a JSON body of at most limit bytes into v.
func decode(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return err
		}
		if errors.Is(err, io.EOF) {
			return errMalformedBody.WithMessage("request body is empty")
		}
		return errMalformedBody
	}
	return nil
}

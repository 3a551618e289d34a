package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	apperrors "github.com/bidlink/marketplace-core/internal/errors"
)

func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// ErrorResponse is the standard error response format
type ErrorResponse struct {
	Error   string              `json:"error"`
	Code    apperrors.ErrorCode `json:"code"`
	Details any                 `json:"details,omitempty"`
}

// WriteError writes an AppError as an HTTP response with appropriate status code
func WriteError(w http.ResponseWriter, err error) {
	appErr, ok := apperrors.AsAppError(err)
	if !ok {
		log.Error().Err(err).Msg("unexpected error")
		appErr = apperrors.Internal("An unexpected error occurred")
	}

	WriteJSON(w, StatusFromError(appErr), ErrorResponse{
		Error:   appErr.Message,
		Code:    appErr.Code,
		Details: appErr.Details,
	})
}

// DecodeJSON reads a JSON request body into out.
func DecodeJSON(r *http.Request, out any) error {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return apperrors.ValidationError("Request body too large")
		case errors.Is(err, io.EOF):
			return apperrors.ValidationError("Request body is required")
		default:
			return apperrors.ValidationError("Invalid JSON body").WithCause(err)
		}
	}
	return nil
}

// StatusFromError maps an AppError to the status the bridge answers with.
func StatusFromError(appErr *apperrors.AppError) int {
	switch appErr.Code {
	// 400 Bad Request
	case apperrors.ErrCodeValidation:
		return http.StatusBadRequest

	// 401 Unauthorized
	case apperrors.ErrCodeUnauthorized,
		apperrors.ErrCodeSessionExpired:
		return http.StatusUnauthorized

	// 402 Payment Required
	case apperrors.ErrCodeInsufficientCredits:
		return http.StatusPaymentRequired

	// 404 Not Found
	case apperrors.ErrCodeNotFound:
		return http.StatusNotFound

	// 409 Conflict
	case apperrors.ErrCodeContactExists:
		return http.StatusConflict

	// 410 Gone
	case apperrors.ErrCodeEngineClosed:
		return http.StatusGone

	// upstream rejected the request; pass client errors through
	case apperrors.ErrCodeRequestFailed:
		if appErr.Status >= 400 && appErr.Status < 500 {
			return appErr.Status
		}
		return http.StatusBadGateway

	// 502 Bad Gateway
	case apperrors.ErrCodeNetwork,
		apperrors.ErrCodeServer,
		apperrors.ErrCodeRefreshFailed,
		apperrors.ErrCodeSendFailed:
		return http.StatusBadGateway

	default:
		return http.StatusInternalServerError
	}
}

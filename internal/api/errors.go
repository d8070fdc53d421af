package api

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/czcorpus/wag-sub001/internal/errors"
)

// ErrorResponse represents an HTTP error response
type ErrorResponse struct {
	Error   string      `json:"error"`
	Code    string      `json:"code"`
	TileID  *int        `json:"tileId,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

// WriteError writes an error response to the HTTP response writer
func WriteError(w http.ResponseWriter, err error, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := ErrorResponse{
		Error: err.Error(),
		Code:  string(errors.InternalError),
	}

	var wagErr *errors.WagError
	if stderrors.As(err, &wagErr) {
		resp.Error = wagErr.Message
		resp.Code = string(wagErr.Code)
		resp.Details = wagErr.Details
		if wagErr.TileID != 0 {
			id := wagErr.TileID
			resp.TileID = &id
		}
	}

	_ = json.NewEncoder(w).Encode(resp)
}

// WriteWagError writes err with the status mapped from its code
func WriteWagError(w http.ResponseWriter, err error) {
	WriteError(w, err, MapErrorToStatus(errors.Code(err)))
}

// MapErrorToStatus maps WaG error codes to HTTP status codes
func MapErrorToStatus(code errors.ErrorCode) int {
	switch code {
	case errors.ArgsMapping:
		return http.StatusBadRequest // 400
	case errors.NotFound:
		return http.StatusNotFound // 404
	case errors.ConfigInvalid:
		return http.StatusUnprocessableEntity // 422
	case errors.RateLimited:
		return http.StatusTooManyRequests // 429
	case errors.AdapterError, errors.HTTPStatus, errors.MalformedResponse, errors.DependencyFailed:
		return http.StatusBadGateway // 502
	case errors.DependencyTimeout:
		return http.StatusGatewayTimeout // 504
	case errors.InternalError:
		return http.StatusInternalServerError // 500
	default:
		return http.StatusInternalServerError // 500
	}
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// BadRequest writes a 400 Bad Request error
func BadRequest(w http.ResponseWriter, message string) {
	WriteError(w, errors.New(errors.ArgsMapping, message, nil), http.StatusBadRequest)
}

// InternalError writes a 500 Internal Server Error
func InternalError(w http.ResponseWriter, message string, err error) {
	WriteError(w, errors.New(errors.InternalError, message, err), http.StatusInternalServerError)
}

// NotFound writes a 404 Not Found error
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, errors.New(errors.NotFound, message, nil), http.StatusNotFound)
}

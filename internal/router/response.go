package router

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
)

// ErrorType represents the type of error that occurred
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeInternal   ErrorType = "internal"
	ErrorTypeExternal   ErrorType = "external"
	ErrorTypeMethod     ErrorType = "method_not_allowed"
)

// ValidationError represents a field validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   string `json:"value,omitempty"`
}

// APIError represents a detailed API error
type APIError struct {
	Type       ErrorType         `json:"type"`
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Details    interface{}       `json:"details,omitempty"`
	Validation []ValidationError `json:"validation,omitempty"`
	InternalID string            `json:"internal_id,omitempty"`
}

// StandardResponse is the envelope of every API response
type StandardResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message"`
	Payload interface{} `json:"payload,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
}

// Response builds standardized responses
type Response struct {
	writer http.ResponseWriter
}

// NewResponse creates a new response wrapper
func NewResponse(w http.ResponseWriter) *Response {
	return &Response{writer: w}
}

// Success sends a successful response (200)
func (res *Response) Success(message string, payload interface{}) {
	res.sendResponse(http.StatusOK, "success", message, payload, nil)
}

// Created sends a created response (201)
func (res *Response) Created(message string, payload interface{}) {
	res.sendResponse(http.StatusCreated, "success", message, payload, nil)
}

// Error sends a server error response (500)
func (res *Response) Error(message string, payload interface{}) {
	res.sendResponse(http.StatusInternalServerError, "error", message, payload, nil)
}

// Custom allows sending a response with custom status code
func (res *Response) Custom(statusCode int, status, message string, payload interface{}) {
	res.sendResponse(statusCode, status, message, payload, nil)
}

// BadRequest sends a bad request error (400)
func (res *Response) BadRequest(message string, details interface{}) {
	res.ErrorWithCode(http.StatusBadRequest, ErrorTypeValidation, "BAD_REQUEST", message, details)
}

// NotFound sends a not found error (404)
func (res *Response) NotFound(message string, details interface{}) {
	res.ErrorWithCode(http.StatusNotFound, ErrorTypeNotFound, "NOT_FOUND", message, details)
}

// Conflict sends a conflict error response (409)
func (res *Response) Conflict(message string, details interface{}) {
	res.ErrorWithCode(http.StatusConflict, ErrorTypeConflict, "CONFLICT", message, details)
}

// ValidationErrorSingle sends a single field validation error (422)
func (res *Response) ValidationErrorSingle(field, message string) {
	apiError := &APIError{
		Type:       ErrorTypeValidation,
		Code:       "VALIDATION_ERROR",
		Message:    "Validation failed",
		Validation: []ValidationError{{Field: field, Message: message}},
	}
	res.sendResponse(http.StatusUnprocessableEntity, "fail", "Validation failed", nil, apiError)
}

// ExternalError sends an upstream failure (502). retryAfter > 0 sets Retry-After in seconds.
func (res *Response) ExternalError(message string, details interface{}, retryAfter int) {
	if retryAfter > 0 {
		res.writer.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	}
	res.ErrorWithCode(http.StatusBadGateway, ErrorTypeExternal, "EXTERNAL_SERVICE_ERROR", message, details)
}

// MethodNotAllowed sends a 405 with the allowed methods, if known, in the Allow header
func (res *Response) MethodNotAllowed(message string, allowed ...string) {
	if len(allowed) > 0 {
		res.writer.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	res.ErrorWithCode(http.StatusMethodNotAllowed, ErrorTypeMethod, "METHOD_NOT_ALLOWED", message, nil)
}

// InternalError sends an internal server error with an id for tracking
func (res *Response) InternalError(message string, internalID string, details interface{}) {
	apiError := &APIError{
		Type:       ErrorTypeInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Details:    details,
		InternalID: internalID,
	}
	res.sendResponse(http.StatusInternalServerError, "error", message, nil, apiError)
}

// ErrorWithCode sends an error response with custom error code and type
func (res *Response) ErrorWithCode(statusCode int, errorType ErrorType, code, message string, details interface{}) {
	apiError := &APIError{
		Type:    errorType,
		Code:    code,
		Message: message,
		Details: details,
	}
	res.sendResponse(statusCode, "fail", message, nil, apiError)
}

func (res *Response) sendResponse(statusCode int, status, message string, payload interface{}, apiError *APIError) {
	response := StandardResponse{
		Status:  status,
		Message: message,
		Payload: payload,
		Error:   apiError,
	}

	body, err := json.Marshal(response)
	if err != nil {
		res.writer.Header().Set("Content-Type", "application/json")
		res.writer.WriteHeader(http.StatusInternalServerError)
		res.writer.Write([]byte(`{"status":"error","message":"Failed to encode response"}`))
		return
	}

	res.writer.Header().Set("Content-Type", "application/json")
	res.writer.WriteHeader(statusCode)
	res.writer.Write(append(body, '\n'))
}

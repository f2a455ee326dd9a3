package models

// Error codes returned by the HTTP surface.
const (
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeAuthFailed     = "AUTH_FAILED"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeAPIError       = "API_ERROR"
	ErrCodeInternal       = "INTERNAL_ERROR"
)

// ErrorInfo describes a failed request.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Response is the JSON envelope for every handler.
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	RequestID string     `json:"request_id,omitempty"`
}

// SuccessResponse wraps data in a success envelope.
func SuccessResponse(data any, requestID string) Response {
	return Response{Success: true, Data: data, RequestID: requestID}
}

// ErrorResponse wraps an error code and message.
func ErrorResponse(code, message, requestID string) Response {
	return Response{
		Success:   false,
		Error:     &ErrorInfo{Code: code, Message: message},
		RequestID: requestID,
	}
}

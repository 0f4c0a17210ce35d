// Package apperr implements the gateway's error taxonomy: every fallible
// operation returns (or attaches to the gin context) one of these typed
// errors instead of an ad-hoc string or sentinel.
package apperr

import (
	"fmt"
	"net/http"
)

// Error is a taxonomy member: a stable name, numeric code, the HTTP status
// it maps to, and a human-readable message.
type Error struct {
	Name    string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`

	httpStatus int
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Name, e.Code, e.Message)
}

// HTTPStatus returns the status code this error maps to.
func (e *Error) HTTPStatus() int {
	return e.httpStatus
}

// WithDetail returns a copy of e with message replaced by a formatted
// detail string, e.g. ProductLimitExceeded(40) or DuplicateTask(<hash>).
func (e *Error) WithDetail(format string, args ...interface{}) *Error {
	cp := *e
	cp.Message = fmt.Sprintf(format, args...)
	return &cp
}

func newErr(name string, code, status int, message string) *Error {
	return &Error{Name: name, Code: code, Message: message, httpStatus: status}
}

// Auth class (401).
var (
	InvalidMasterToken           = newErr("InvalidMasterToken", 101, http.StatusUnauthorized, "master token does not match")
	MissingAuthorizationHeader   = newErr("MissingAuthorizationHeader", 102, http.StatusUnauthorized, "Authorization header is required")
	MalformedAuthorizationHeader = newErr("MalformedAuthorizationHeader", 103, http.StatusUnauthorized, "Authorization header must be 'Bearer <token>'")
	InvalidAccessToken           = newErr("InvalidAccessToken", 104, http.StatusUnauthorized, "access token does not exist")
	AccessTokenExpired           = newErr("AccessTokenExpired", 105, http.StatusUnauthorized, "access token has expired")
)

// Input class (400).
var (
	MissingURLQueryParameter = newErr("MissingUrlQueryParameter", 200, http.StatusBadRequest, "required query parameter missing")
	InvalidURLQueryParameter = newErr("InvalidUrlQueryParameter", 201, http.StatusBadRequest, "query parameter could not be parsed")
	InvalidOrderParameter    = newErr("InvalidOrderParameter", 202, http.StatusBadRequest, "order contains an invalid product identifier")
	InvalidOrderFormat       = newErr("InvalidOrderFormat", 203, http.StatusBadRequest, "request body is not a valid Order")
	EmptyRequestBody         = newErr("EmptyRequestBody", 204, http.StatusBadRequest, "request body is empty")
	EmptyOrder               = newErr("EmptyOrder", 205, http.StatusBadRequest, "order has no products")
)

// Quota class (409).
var (
	QueueOverflow           = newErr("QueueOverflow", 300, http.StatusConflict, "all handler queues are full")
	ProductLimitExceeded    = newErr("ProductLimitExceeded", 301, http.StatusConflict, "order exceeds the token's product limit")
	ConcurrencyLimitExceeded = newErr("ConcurrencyLimitExceeded", 302, http.StatusConflict, "token has too many tasks in flight")
	DuplicateTask           = newErr("DuplicateTask", 303, http.StatusConflict, "an identical task is already registered")
	WebSocketLimitExceeded  = newErr("WebSocketLimitExceeded", 304, http.StatusConflict, "maximum concurrent websocket connections reached")
	AccessRestricted        = newErr("AccessRestricted", 305, http.StatusConflict, "address has already claimed a test token")
)

// Not-found class (404).
var (
	TokenDoesNotExist = newErr("TokenDoesNotExist", 400, http.StatusNotFound, "token does not exist")
	TaskNotFound      = newErr("TaskNotFound", 401, http.StatusNotFound, "task not found, or already retrieved")
	PathNotFound      = newErr("PathNotFound", 404, http.StatusNotFound, "no route matches this path")
)

// Internal class (500).
var (
	TaskSendFailure   = newErr("TaskSendFailure", 500, http.StatusInternalServerError, "failed to enqueue task")
	SessionError      = newErr("ReqwestSessionError", 501, http.StatusInternalServerError, "request session failure")
	DatabaseError     = newErr("DatabaseError", 502, http.StatusInternalServerError, "database operation failed")
	SerializationError = newErr("SerializationError", 503, http.StatusInternalServerError, "failed to serialize response")
	UnknownError      = newErr("UnknownError", 0, http.StatusInternalServerError, "unknown error")
)

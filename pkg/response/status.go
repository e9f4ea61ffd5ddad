package response

import "fmt"

// Status is an HTTP status code rendered with the reason phrases this server
// has always used.
type Status int

const (
	StatusOK                  Status = 200
	StatusBadRequest          Status = 400
	StatusUnauthorized        Status = 401
	StatusForbidden           Status = 403
	StatusNotFound            Status = 404
	StatusMethodNotAllowed    Status = 405
	StatusInternalServerError Status = 500
	StatusNotImplemented      Status = 501
	StatusServiceUnavailable  Status = 503
)

var reasons = map[Status]string{
	StatusOK:                  "OK",
	StatusBadRequest:          "BAD REQUEST",
	StatusUnauthorized:        "UNAUTHORIZED",
	StatusForbidden:           "FORBIDDEN",
	StatusNotFound:            "NOT FOUND",
	StatusMethodNotAllowed:    "METHOD NOT ALLOWED",
	StatusInternalServerError: "INTERNAL SERVER ERROR",
	StatusNotImplemented:      "NOT IMPLEMENTED",
	StatusServiceUnavailable:  "SERVICE UNAVAILABLE",
}

// Code returns the numeric status code.
func (s Status) Code() int {
	return int(s)
}

// Reason returns the reason phrase, or "UNKNOWN" for codes outside the table.
func (s Status) Reason() string {
	if r, ok := reasons[s]; ok {
		return r
	}
	return "UNKNOWN"
}

// Line renders the status line without the trailing CRLF.
func (s Status) Line() string {
	return fmt.Sprintf("HTTP/1.1 %d %s", int(s), s.Reason())
}

// Package response renders hand-built HTTP/1.1 responses into wire bytes.
package response

import (
	"bytes"
	"encoding/json"
	"strconv"
)

const (
	ContentTypeHTML = "text/html; charset=UTF-8"
	ContentTypeJSON = "application/json"
	ContentTypeIcon = "image/x-icon"
)

// Options selects the deployment profile of a response.
type Options struct {
	// SecurityHeaders adds CSP, nosniff, XSS protection and a CORS wildcard.
	SecurityHeaders bool
}

type header struct {
	key   string
	value string
}

// Response is a status line, an ordered header set with unique keys, and a
// body. It is immutable once built.
type Response struct {
	status  Status
	headers []header
	body    []byte
}

// New builds a response. Content-Length is the byte length of body.
//
// Every response carries Connection: close, since the connection is always
// closed after one exchange.
func New(status Status, contentType string, body []byte, opts Options) *Response {
	r := &Response{
		status: status,
		body:   append([]byte(nil), body...),
	}

	r.set("Connection", "close")
	r.set("Content-Type", contentType)
	if opts.SecurityHeaders {
		r.set("Access-Control-Allow-Origin", "*")
		r.set("X-Content-Type-Options", "nosniff")
		r.set("X-XSS-Protection", "1; mode=block")
		r.set("Content-Security-Policy", "default-src 'self'")
	}
	r.set("Content-Length", strconv.Itoa(len(r.body)))

	return r
}

// set inserts key or replaces its value in place, keeping first-insertion order.
func (r *Response) set(key, value string) {
	for i := range r.headers {
		if r.headers[i].key == key {
			r.headers[i].value = value
			return
		}
	}
	r.headers = append(r.headers, header{key: key, value: value})
}

// LoginSuccess is the fixed JSON body returned on a successful login.
func LoginSuccess(opts Options) *Response {
	body, _ := json.Marshal(struct {
		Success bool `json:"success"`
	}{Success: true})
	return New(StatusOK, ContentTypeJSON, body, opts)
}

// Status returns the response status.
func (r *Response) Status() Status {
	return r.status
}

// Header returns the value for key and whether it is present.
func (r *Response) Header(key string) (string, bool) {
	for _, h := range r.headers {
		if h.key == key {
			return h.value, true
		}
	}
	return "", false
}

// Headers returns the header keys in insertion order.
func (r *Response) Headers() []string {
	keys := make([]string, len(r.headers))
	for i, h := range r.headers {
		keys[i] = h.key
	}
	return keys
}

// Body returns a copy of the body.
func (r *Response) Body() []byte {
	return append([]byte(nil), r.body...)
}

// Bytes renders status-line CRLF headers CRLFCRLF body. Text and binary bodies
// are both written verbatim.
func (r *Response) Bytes() []byte {
	var buf bytes.Buffer
	buf.Grow(64 + len(r.body) + 32*len(r.headers))

	buf.WriteString(r.status.Line())
	buf.WriteString("\r\n")
	for i, h := range r.headers {
		if i > 0 {
			buf.WriteString("\r\n")
		}
		buf.WriteString(h.key)
		buf.WriteString(": ")
		buf.WriteString(h.value)
	}
	buf.WriteString("\r\n\r\n")
	buf.Write(r.body)

	return buf.Bytes()
}
